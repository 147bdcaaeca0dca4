package notify

import (
	"context"
	"fmt"

	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Notifier — канал уведомлений о торговых событиях (вход, выход, pnl).
type Notifier interface {
	Send(ctx context.Context, text string) error
	Sendf(ctx context.Context, format string, args ...any) error
}

// Stdout пишет уведомления в лог. Используется, когда телеграм не настроен.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(_ context.Context, text string) error {
	logger.Info("[NOTIFY] %s", text)
	return nil
}

func (s *Stdout) Sendf(ctx context.Context, format string, args ...any) error {
	return s.Send(ctx, fmt.Sprintf(format, args...))
}
