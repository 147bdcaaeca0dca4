package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"

	appconfig "github.com/banmdev/ccxtbots/internal/modules/config"
	"github.com/banmdev/ccxtbots/internal/modules/health/service"
	"github.com/banmdev/ccxtbots/internal/notify"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Module поставляет notify.Notifier. Без токена — заглушка в лог, с
// токеном — телеграм плюс обработчик команд /positions и /pnl.
func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(cfg *appconfig.Config) (notify.Notifier, error) {
				if cfg.Telegram.Token == "" {
					logger.Warn("[NOTIFY] no telegram token, notifications go to the log")
					return notify.NewStdout(), nil
				}
				return notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
			},
		),
		fx.Invoke(
			func(lc fx.Lifecycle, n notify.Notifier, state *service.State) {
				tg, ok := n.(*notify.Telegram)
				if !ok {
					return
				}

				runCtx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(_ context.Context) error {
						go serveCommands(runCtx, tg, state)
						return nil
					},
					OnStop: func(_ context.Context) error {
						cancel()
						tg.API().StopReceivingUpdates()
						return nil
					},
				})
			},
		),
	)
}

func serveCommands(ctx context.Context, tg *notify.Telegram, state *service.State) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := tg.API().GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return
		case update, open := <-updates:
			if !open {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if tg.ChatID() != 0 && update.Message.Chat.ID != tg.ChatID() {
				continue
			}

			switch update.Message.Command() {
			case "positions", "pnl":
				_ = tg.Send(ctx, formatStatus(state))
			case "ping":
				_ = tg.Send(ctx, "pong")
			}
		}
	}
}

func formatStatus(state *service.State) string {
	pnls := state.CumPnls()
	if len(pnls) == 0 {
		return "no bots registered"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("uptime %s\n", state.Uptime().Round(time.Second)))
	ticks := state.LastTicks()
	for symbol, pnl := range pnls {
		alive := "stale"
		if ticks[symbol] != 0 {
			alive = "alive"
		}
		sb.WriteString(fmt.Sprintf("%s: pnl %.4f (%s)\n", symbol, pnl, alive))
	}
	return sb.String()
}
