package store

import (
	"context"
	"sync"

	"github.com/invtrack/tracker-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	lots map[string]*model.Lot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots: make(map[string]*model.Lot),
	}
}

// copyLot returns a deep copy so callers can't mutate stored state.
func copyLot(l *model.Lot) *model.Lot {
	cp := *l
	cp.Sold.History = append([]model.Sale(nil), l.Sold.History...)
	return &cp
}

func (s *MemoryStore) CreateLot(_ context.Context, lot *model.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := KeyOf(lot).String()
	if _, exists := s.lots[k]; exists {
		return ErrConflict
	}

	lot.Version = 1
	s.lots[k] = copyLot(lot)
	return nil
}

func (s *MemoryStore) GetLot(_ context.Context, key Key) (*model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lots[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLot(l), nil
}

func (s *MemoryStore) UpdateLot(_ context.Context, lot *model.Lot, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := KeyOf(lot).String()
	stored, ok := s.lots[k]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}

	lot.Version = expectedVersion + 1
	s.lots[k] = copyLot(lot)
	return nil
}

func (s *MemoryStore) ListLotsByUser(_ context.Context, userID string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lots []model.Lot
	for _, l := range s.lots {
		if l.UserID == userID {
			lots = append(lots, *copyLot(l))
		}
	}
	return lots, nil
}
