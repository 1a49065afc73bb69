// Package store defines the persistence interface for the tax-lot
// ledger. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/invtrack/tracker-engine/internal/model"
)

var (
	// ErrNotFound is returned when no lot exists under a key.
	ErrNotFound = errors.New("store: lot not found")

	// ErrConflict is returned when a create hits an existing key, or a
	// conditional update finds the stored lot changed since it was read.
	ErrConflict = errors.New("store: lot conflict")
)

// Key identifies a lot: one purchase of one security by one user on
// one calendar date.
type Key struct {
	UserID       string
	Security     string
	PurchaseDate string // YYYY-MM-DD
}

// KeyOf derives the storage key for a lot.
func KeyOf(lot *model.Lot) Key {
	return Key{
		UserID:       lot.UserID,
		Security:     lot.Security,
		PurchaseDate: model.FormatDate(lot.PurchaseDate),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.Security, k.PurchaseDate)
}

// Store is the persistence interface for lots. Each lot is an
// independent unit of consistency; no cross-lot transactions exist.
type Store interface {
	// CreateLot persists a new lot if and only if its key is absent,
	// returning ErrConflict otherwise. On success the stored lot has
	// Version 1 (reflected back on the argument).
	CreateLot(ctx context.Context, lot *model.Lot) error

	// GetLot retrieves a lot by key, or ErrNotFound.
	GetLot(ctx context.Context, key Key) (*model.Lot, error)

	// UpdateLot persists lot if the stored version still equals
	// expectedVersion, returning ErrConflict otherwise. On success the
	// stored version is expectedVersion+1 (reflected back on the
	// argument).
	UpdateLot(ctx context.Context, lot *model.Lot, expectedVersion int64) error

	// ListLotsByUser returns all lots owned by a user, in store-defined
	// order. Callers must not depend on the ordering.
	ListLotsByUser(ctx context.Context, userID string) ([]model.Lot, error)
}
