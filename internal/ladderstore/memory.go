package ladderstore

import (
	"context"
	"sync"

	"github.com/banmdev/ccxtbots/internal/models"
)

// MemoryStore — хранилище в памяти: для dry-run и запуска без базы.
// Рестарт процесса, понятно, ничего не восстановит.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, key string, rows []models.LadderRow) error {
	payload, err := encodeRows(rows)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = payload
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]models.LadderRow, error) {
	s.mu.Lock()
	payload, ok := s.records[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRows(payload)
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
