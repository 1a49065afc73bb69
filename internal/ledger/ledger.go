// Package ledger implements the tax-lot ledger: recording purchase
// lots, applying sells against specific lots, and classifying each
// disposal as short- or long-term by holding period.
//
// All share counts and proceeds use shopspring/decimal — never float64
// for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/metrics"
	"github.com/invtrack/tracker-engine/internal/model"
	"github.com/invtrack/tracker-engine/internal/store"
)

var (
	// ErrLotConflict is returned when a buy hits an existing lot key, or
	// a sell loses the conditional write because the lot changed since it
	// was read. Sell conflicts are retryable after a fresh read; buy
	// conflicts indicate a genuine duplicate and are not.
	ErrLotConflict = errors.New("ledger: lot conflict")

	// ErrLotNotFound is returned when a sell references a nonexistent lot.
	ErrLotNotFound = errors.New("ledger: lot not found")

	// ErrOverSell is returned when a sell would dispose of more shares
	// than the lot holds. The stored lot is left untouched.
	ErrOverSell = errors.New("ledger: sell exceeds shares owned")

	// ErrInvalidOrder is returned for orders that fail basic validation
	// before any store round-trip.
	ErrInvalidOrder = errors.New("ledger: invalid order")
)

// Service provides buy/sell/list over a lot store. Concurrency safety
// comes from the store's primitives: create-if-absent for buys and
// version-conditioned updates for sells. The service itself holds no
// mutable state.
type Service struct {
	store store.Store
}

// NewService creates a ledger service backed by st.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// BuyOrder describes a purchase to record.
type BuyOrder struct {
	UserID            string
	Security          string
	NShares           decimal.Decimal
	Price             decimal.Decimal // total amount paid
	PurchaseDate      time.Time
	FirstDividendDate time.Time // zero value defaults to PurchaseDate
	Reinvest          bool
}

// SellOrder describes a disposal against an existing lot.
type SellOrder struct {
	UserID       string
	Security     string
	PurchaseDate time.Time
	NShares      decimal.Decimal
	Price        decimal.Decimal // total proceeds
	SellDate     time.Time
}

// Buy records a new purchase lot. The lot key (user, security,
// purchase date) must be unused; a duplicate fails with ErrLotConflict
// and writes nothing.
func (s *Service) Buy(ctx context.Context, order BuyOrder) (*model.Lot, error) {
	if err := validateBuy(order); err != nil {
		metrics.LotOpsTotal.WithLabelValues("buy", "invalid").Inc()
		return nil, err
	}

	firstDividend := order.FirstDividendDate
	if firstDividend.IsZero() {
		firstDividend = order.PurchaseDate
	}

	lot := &model.Lot{
		UserID:            order.UserID,
		Security:          order.Security,
		PurchaseDate:      model.Day(order.PurchaseDate),
		NShares:           order.NShares,
		Price:             order.Price,
		FirstDividendDate: model.Day(firstDividend),
		Reinvest:          order.Reinvest,
		Sold: model.Disposal{
			ShortTermShares: decimal.Zero,
			LongTermShares:  decimal.Zero,
			TotalPriceShort: decimal.Zero,
			TotalPriceLong:  decimal.Zero,
			History:         []model.Sale{},
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateLot(ctx, lot); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.LotOpsTotal.WithLabelValues("buy", "conflict").Inc()
			return nil, fmt.Errorf("%w: lot %s already exists", ErrLotConflict, store.KeyOf(lot))
		}
		metrics.LotOpsTotal.WithLabelValues("buy", "error").Inc()
		return nil, err
	}

	metrics.LotOpsTotal.WithLabelValues("buy", "ok").Inc()
	return lot, nil
}

// Sell applies a disposal to the lot identified by (user, security,
// purchase date). The disposal is classified by holding period, the
// sale is appended to the lot's history, and the whole operation
// aborts without writing if the updated totals would exceed the shares
// bought. The persisted write is conditioned on the lot being
// unchanged since it was read; a lost race returns ErrLotConflict and
// the caller may retry with a fresh read.
func (s *Service) Sell(ctx context.Context, order SellOrder) (*model.Lot, error) {
	if err := validateSell(order); err != nil {
		metrics.LotOpsTotal.WithLabelValues("sell", "invalid").Inc()
		return nil, err
	}

	key := store.Key{
		UserID:       order.UserID,
		Security:     order.Security,
		PurchaseDate: model.FormatDate(order.PurchaseDate),
	}

	lot, err := s.store.GetLot(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.LotOpsTotal.WithLabelValues("sell", "not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrLotNotFound, key)
		}
		metrics.LotOpsTotal.WithLabelValues("sell", "error").Inc()
		return nil, err
	}

	sellDate := model.Day(order.SellDate)
	cutoff := LongTermCutoff(lot.PurchaseDate)
	if sellDate.After(cutoff) {
		lot.Sold.LongTermShares = lot.Sold.LongTermShares.Add(order.NShares)
		lot.Sold.TotalPriceLong = lot.Sold.TotalPriceLong.Add(order.Price)
	} else {
		// Exactly one year to the day is still short-term.
		lot.Sold.ShortTermShares = lot.Sold.ShortTermShares.Add(order.NShares)
		lot.Sold.TotalPriceShort = lot.Sold.TotalPriceShort.Add(order.Price)
	}

	if lot.SoldShares().GreaterThan(lot.NShares) {
		metrics.LotOpsTotal.WithLabelValues("sell", "oversell").Inc()
		return nil, fmt.Errorf("%w: sold %s of %s bought",
			ErrOverSell, lot.SoldShares(), lot.NShares)
	}

	lot.Sold.History = append(lot.Sold.History, model.Sale{
		ID:      uuid.New().String(),
		Date:    sellDate,
		NShares: order.NShares,
		Price:   order.Price,
	})

	if err := s.store.UpdateLot(ctx, lot, lot.Version); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.LotOpsTotal.WithLabelValues("sell", "conflict").Inc()
			return nil, fmt.Errorf("%w: lot %s changed since read", ErrLotConflict, key)
		}
		metrics.LotOpsTotal.WithLabelValues("sell", "error").Inc()
		return nil, err
	}

	metrics.LotOpsTotal.WithLabelValues("sell", "ok").Inc()
	return lot, nil
}

// ListAll returns all lots owned by a user, in store-defined order.
func (s *Service) ListAll(ctx context.Context, userID string) ([]model.Lot, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidOrder)
	}
	return s.store.ListLotsByUser(ctx, userID)
}

// LongTermCutoff returns the last calendar date on which a disposal of
// a lot purchased on purchase still classifies as short-term. Sells
// strictly after the cutoff are long-term.
//
// The cutoff is the same month and day one year ahead, computed with
// time.Date normalization: a Feb 29 purchase rolls to Mar 1 of the
// next year.
func LongTermCutoff(purchase time.Time) time.Time {
	p := model.Day(purchase)
	return time.Date(p.Year()+1, p.Month(), p.Day(), 0, 0, 0, 0, time.UTC)
}

func validateBuy(order BuyOrder) error {
	switch {
	case order.UserID == "":
		return fmt.Errorf("%w: user id required", ErrInvalidOrder)
	case order.Security == "":
		return fmt.Errorf("%w: security required", ErrInvalidOrder)
	case order.NShares.LessThanOrEqual(decimal.Zero):
		return fmt.Errorf("%w: n_shares must be positive", ErrInvalidOrder)
	case order.Price.LessThanOrEqual(decimal.Zero):
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	case order.PurchaseDate.IsZero():
		return fmt.Errorf("%w: purchase date required", ErrInvalidOrder)
	}
	return nil
}

func validateSell(order SellOrder) error {
	switch {
	case order.UserID == "":
		return fmt.Errorf("%w: user id required", ErrInvalidOrder)
	case order.Security == "":
		return fmt.Errorf("%w: security required", ErrInvalidOrder)
	case order.NShares.LessThanOrEqual(decimal.Zero):
		return fmt.Errorf("%w: n_shares must be positive", ErrInvalidOrder)
	case order.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidOrder)
	case order.PurchaseDate.IsZero():
		return fmt.Errorf("%w: purchase date required", ErrInvalidOrder)
	case order.SellDate.IsZero():
		return fmt.Errorf("%w: sell date required", ErrInvalidOrder)
	}
	return nil
}
