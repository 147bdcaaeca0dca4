package service

import (
	"sync"
	"time"
)

// TickSource — то, что умеет сказать, когда оно в последний раз делало
// полезную работу. Боты регистрируются под именем символа.
type TickSource interface {
	LastTick() time.Time
	CumPnl() float64
}

type State struct {
	mu        sync.RWMutex
	startedAt time.Time
	sources   map[string]TickSource

	// staleAfter — сколько можно не тикать, оставаясь ready
	staleAfter time.Duration
}

func NewState() *State {
	return &State{
		startedAt:  time.Now(),
		sources:    make(map[string]TickSource),
		staleAfter: 30 * time.Second,
	}
}

func (s *State) Register(name string, src TickSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = src
}

// Ready — все зарегистрированные боты тикали недавно.
func (s *State) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sources) == 0 {
		return false
	}
	for _, src := range s.sources {
		t := src.LastTick()
		if t.IsZero() || time.Since(t) > s.staleAfter {
			return false
		}
	}
	return true
}

// LastTicks — снимок последних тиков по символам, unix seconds.
func (s *State) LastTicks() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.sources))
	for name, src := range s.sources {
		t := src.LastTick()
		if t.IsZero() {
			out[name] = 0
			continue
		}
		out[name] = t.Unix()
	}
	return out
}

// CumPnls — накопленный pnl по символам.
func (s *State) CumPnls() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.sources))
	for name, src := range s.sources {
		out[name] = src.CumPnl()
	}
	return out
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
