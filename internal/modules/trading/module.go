package trading

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"github.com/banmdev/ccxtbots/internal/bot"
	"github.com/banmdev/ccxtbots/internal/exchange"
	"github.com/banmdev/ccxtbots/internal/ladderstore"
	"github.com/banmdev/ccxtbots/internal/models"
	"github.com/banmdev/ccxtbots/internal/modules/config"
	"github.com/banmdev/ccxtbots/internal/modules/health/service"
	"github.com/banmdev/ccxtbots/internal/modules/metrics"
	"github.com/banmdev/ccxtbots/internal/notify"
	"github.com/banmdev/ccxtbots/internal/ordermodel"
	"github.com/banmdev/ccxtbots/internal/signal"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Module собирает по экземпляру бота на символ и гоняет их в отдельных
// горутинах через lifecycle.
func Module() fx.Option {
	return fx.Module("trading",
		fx.Provide(
			func(cfg *config.Config) *exchange.OKXClient {
				return exchange.NewOKXClient(exchange.OKXConfig{
					APIKey:     cfg.Exchange.APIKey,
					APISecret:  cfg.Exchange.APISecret,
					Passphrase: cfg.Exchange.Passphrase,
					MakerFee:   cfg.Exchange.MakerFee,
					TakerFee:   cfg.Exchange.TakerFee,
				})
			},
			func(c *exchange.OKXClient) exchange.Gateway { return c },
			NewFleet,
		),
		fx.Invoke(
			func(lc fx.Lifecycle, fleet *Fleet, state *service.State) {
				for _, b := range fleet.Bots {
					state.Register(b.Symbol(), b)
				}

				runCtx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(_ context.Context) error {
						fleet.Start(runCtx)
						return nil
					},
					OnStop: func(_ context.Context) error {
						cancel()
						fleet.Wait()
						return nil
					},
				})
			},
		),
	)
}

// Fleet — все боты процесса плюс их источники сигналов.
type Fleet struct {
	Bots []*bot.Bot

	feeds []func(ctx context.Context)
	done  chan struct{}
}

func NewFleet(cfg *config.Config, client *exchange.OKXClient, gw exchange.Gateway, store ladderstore.Store, notifier notify.Notifier, mtr *metrics.Metrics) (*Fleet, error) {
	fleet := &Fleet{done: make(chan struct{})}

	for _, symbol := range cfg.Symbols {
		src, feed, err := buildSource(cfg, client, symbol)
		if err != nil {
			return nil, err
		}
		if feed != nil {
			fleet.feeds = append(fleet.feeds, feed)
		}

		long, short, err := buildModels(cfg, gw, store, symbol)
		if err != nil {
			return nil, err
		}

		botCfg := cfg.Bot
		botCfg.Symbol = symbol
		fleet.Bots = append(fleet.Bots, bot.New(botCfg, gw, src, long, short, notifier, mtr))
	}

	return fleet, nil
}

func buildSource(cfg *config.Config, client *exchange.OKXClient, symbol string) (signal.Source, func(ctx context.Context), error) {
	switch cfg.Signal.Type {
	case "emarsi":
		src := signal.NewEMARSI(symbol, cfg.Signal.EMARSI)
		feed := func(ctx context.Context) {
			src.Run(ctx, client.StreamCandles(ctx, symbol, cfg.Signal.EMARSI.Timeframe))
		}
		return src, feed, nil
	case "static":
		// источник без собственных сигналов, управление ордерами руками
		return signal.NewStatic(), nil, nil
	default:
		return nil, nil, errors.Errorf("trading: unknown signal source %q", cfg.Signal.Type)
	}
}

func buildModels(cfg *config.Config, gw exchange.Gateway, store ladderstore.Store, symbol string) (ordermodel.Model, ordermodel.Model, error) {
	switch cfg.Model.Type {
	case "dca":
		long, err := ordermodel.NewDCA(gw, store, symbol, models.DirectionLong, cfg.Model.DCA)
		if err != nil {
			return nil, nil, err
		}
		short, err := ordermodel.NewDCA(gw, store, symbol, models.DirectionShort, cfg.Model.DCA)
		if err != nil {
			return nil, nil, err
		}
		return long, short, nil
	case "fixed":
		long, err := ordermodel.NewFixed(gw, symbol, models.DirectionLong, cfg.Model.Fixed)
		if err != nil {
			return nil, nil, err
		}
		short, err := ordermodel.NewFixed(gw, symbol, models.DirectionShort, cfg.Model.Fixed)
		if err != nil {
			return nil, nil, err
		}
		return long, short, nil
	default:
		return nil, nil, errors.Errorf("trading: unknown order model %q", cfg.Model.Type)
	}
}

// Start запускает фиды сигналов и циклы ботов.
func (f *Fleet) Start(ctx context.Context) {
	for _, feed := range f.feeds {
		go feed(ctx)
	}

	remaining := make(chan struct{}, len(f.Bots))
	for _, b := range f.Bots {
		b := b
		go func() {
			if err := b.Run(ctx); err != nil {
				logger.Error("[BOT] %s loop exited: %v", b.Symbol(), err)
			}
			remaining <- struct{}{}
		}()
	}

	go func() {
		for i := 0; i < len(f.Bots); i++ {
			<-remaining
		}
		close(f.done)
	}()
}

// Wait блокируется до выхода всех ботов.
func (f *Fleet) Wait() { <-f.done }
