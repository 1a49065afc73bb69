// Package model defines the core domain types shared across the tracker.
// All share counts and monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date wire format used throughout the tracker.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders a time as a YYYY-MM-DD calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day truncates a time to its UTC calendar date. Lot keys and price
// records compare at day granularity only.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PriceRecord is one day of a security's adjusted price history.
// SplitCoefficient is the multiplier applied to share counts on Date
// (1 means no split); DividendAmount is the cash dividend per share
// paid on Date (0 if none).
type PriceRecord struct {
	Date             time.Time       `json:"date"`
	Close            decimal.Decimal `json:"close"`
	DividendAmount   decimal.Decimal `json:"dividend_amount"`
	SplitCoefficient decimal.Decimal `json:"split_coefficient"`
}

// Quote is a point-in-time snapshot of a security's trading state.
type Quote struct {
	Symbol           string          `json:"symbol"`
	Open             decimal.Decimal `json:"open"`
	High             decimal.Decimal `json:"high"`
	Low              decimal.Decimal `json:"low"`
	Price            decimal.Decimal `json:"price"`
	Volume           int64           `json:"volume"`
	LatestTradingDay time.Time       `json:"latest_trading_day"`
	PreviousClose    decimal.Decimal `json:"previous_close"`
	Change           decimal.Decimal `json:"change"`
	ChangePercent    decimal.Decimal `json:"change_percent"` // 0.88 means +0.88%
}

// Sale is one disposal event recorded against a lot. History preserves
// execution order, which is not necessarily calendar order.
type Sale struct {
	ID      string          `json:"id"`
	Date    time.Time       `json:"date"`
	NShares decimal.Decimal `json:"n_shares"`
	Price   decimal.Decimal `json:"price"` // total proceeds for this sale
}

// Disposal accumulates a lot's sold shares and proceeds, bucketed by
// capital-gains classification.
type Disposal struct {
	ShortTermShares decimal.Decimal `json:"short_term_shares"`
	LongTermShares  decimal.Decimal `json:"long_term_shares"`
	TotalPriceShort decimal.Decimal `json:"total_price_short"`
	TotalPriceLong  decimal.Decimal `json:"total_price_long"`
	History         []Sale          `json:"full_history"`
}

// SoldShares returns the total shares disposed of across both buckets.
func (d Disposal) SoldShares() decimal.Decimal {
	return d.ShortTermShares.Add(d.LongTermShares)
}

// LotState is the lifecycle position of a lot. A lot only ever moves
// toward FullySold; there is no transition back.
type LotState string

const (
	LotOpen          LotState = "open"
	LotPartiallySold LotState = "partially_sold"
	LotFullySold     LotState = "fully_sold"
)

// Lot is a single purchase event, keyed by (user, security, purchase
// date). It is created once by a buy and mutated only by sells.
// Version supports conditional updates in the store; it starts at 1 on
// creation and increments on every persisted sell.
type Lot struct {
	UserID            string          `json:"user_id" db:"user_id"`
	Security          string          `json:"security" db:"security"`
	PurchaseDate      time.Time       `json:"purchase_date" db:"purchase_date"`
	NShares           decimal.Decimal `json:"n_shares" db:"n_shares"`
	Price             decimal.Decimal `json:"price" db:"price"` // total amount paid
	FirstDividendDate time.Time       `json:"first_dividend_date" db:"first_dividend_date"`
	Reinvest          bool            `json:"reinvest" db:"reinvest"`
	Sold              Disposal        `json:"sold" db:"sold"`
	Version           int64           `json:"version" db:"version"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// SoldShares returns the total shares sold out of this lot.
func (l *Lot) SoldShares() decimal.Decimal {
	return l.Sold.SoldShares()
}

// RemainingShares returns the shares still held in this lot.
func (l *Lot) RemainingShares() decimal.Decimal {
	return l.NShares.Sub(l.SoldShares())
}

// State derives the lifecycle state from the sold totals.
func (l *Lot) State() LotState {
	sold := l.SoldShares()
	switch {
	case sold.IsZero():
		return LotOpen
	case sold.GreaterThanOrEqual(l.NShares):
		return LotFullySold
	default:
		return LotPartiallySold
	}
}
