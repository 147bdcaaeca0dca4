package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram шлёт уведомления в один чат.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram init: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

// API отдаёт клиент модулю телеграма для обработки команд.
func (t *Telegram) API() *tgbot.BotAPI { return t.bot }

func (t *Telegram) ChatID() int64 { return t.chatID }

func (t *Telegram) Send(_ context.Context, text string) error {
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, text))
	return err
}

func (t *Telegram) Sendf(ctx context.Context, format string, args ...any) error {
	return t.Send(ctx, fmt.Sprintf(format, args...))
}
