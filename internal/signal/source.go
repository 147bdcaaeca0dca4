package signal

import (
	"context"
	"sync"

	"github.com/banmdev/ccxtbots/internal/models"
)

// Capabilities — что именно умеет генерировать источник сигналов.
type Capabilities struct {
	GeneratesSignal bool
	GeneratesLimit  bool // предлагает цену входа вместе с сигналом
	GeneratesStop   bool
	GeneratesTP     bool
}

// Source — источник торговых сигналов. Отсутствие стороны в SignalSet
// означает «сигнала в эту сторону нет».
type Source interface {
	// Signal — входные сигналы, опрашивается вне позиции.
	Signal(ctx context.Context, ask, bid float64) (models.SignalSet, error)

	// ExitSignal — сигналы на выход, опрашивается только в позиции.
	ExitSignal(ctx context.Context, ask, bid float64) (models.SignalSet, error)

	Capabilities() Capabilities
}

// Static — источник с заранее заданным ответом, для dry-run и тестов.
type Static struct {
	mu   sync.Mutex
	next models.SignalSet
	exit models.SignalSet
}

func NewStatic() *Static { return &Static{} }

func (s *Static) Set(next models.SignalSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

func (s *Static) SetExit(exit models.SignalSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exit = exit
}

func (s *Static) Signal(_ context.Context, _, _ float64) (models.SignalSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, nil
}

func (s *Static) ExitSignal(_ context.Context, _, _ float64) (models.SignalSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit, nil
}

func (s *Static) Capabilities() Capabilities {
	return Capabilities{GeneratesSignal: true}
}
