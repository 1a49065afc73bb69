package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/invtrack/tracker-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
//
// Conditional-update semantics stay with the primary: the cache only
// serves reads, so a stale cached lot can at worst cause one extra
// ErrConflict round-trip.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) CreateLot(ctx context.Context, lot *model.Lot) error {
	if err := s.primary.CreateLot(ctx, lot); err != nil {
		return err
	}
	s.cacheLot(ctx, lot)
	s.rdb.Del(ctx, userLotsKey(lot.UserID))
	return nil
}

func (s *CachedStore) UpdateLot(ctx context.Context, lot *model.Lot, expectedVersion int64) error {
	if err := s.primary.UpdateLot(ctx, lot, expectedVersion); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, lotKey(KeyOf(lot)), userLotsKey(lot.UserID))
	return nil
}

func (s *CachedStore) GetLot(ctx context.Context, key Key) (*model.Lot, error) {
	data, err := s.rdb.Get(ctx, lotKey(key)).Bytes()
	if err == nil {
		var lot model.Lot
		if json.Unmarshal(data, &lot) == nil {
			return &lot, nil
		}
	}

	lot, err := s.primary.GetLot(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cacheLot(ctx, lot)
	return lot, nil
}

func (s *CachedStore) ListLotsByUser(ctx context.Context, userID string) ([]model.Lot, error) {
	data, err := s.rdb.Get(ctx, userLotsKey(userID)).Bytes()
	if err == nil {
		var lots []model.Lot
		if json.Unmarshal(data, &lots) == nil {
			return lots, nil
		}
	}

	lots, err := s.primary.ListLotsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(lots); err == nil {
		s.rdb.Set(ctx, userLotsKey(userID), data, s.ttl)
	}
	return lots, nil
}

func (s *CachedStore) cacheLot(ctx context.Context, lot *model.Lot) {
	if data, err := json.Marshal(lot); err == nil {
		s.rdb.Set(ctx, lotKey(KeyOf(lot)), data, s.ttl)
	}
}

func lotKey(k Key) string        { return fmt.Sprintf("lot:%s", k) }
func userLotsKey(uid string) string { return fmt.Sprintf("lots:%s", uid) }
