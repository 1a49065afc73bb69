// Package valuation computes the current value of a position from a
// security's daily price history, simulating stock splits and dividend
// payouts (with or without reinvestment).
//
// All arithmetic uses shopspring/decimal. Reinvestment division runs at
// the package default precision (16 digits), so repeated fractional
// reinvestments carry sub-cent tolerance, never cent-level drift.
package valuation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/model"
)

var (
	// ErrNoData is returned when the series holds no record on or after
	// the start date.
	ErrNoData = errors.New("valuation: no price records on or after start date")

	// ErrNonPositiveShares is returned when the starting share count is
	// zero or negative.
	ErrNonPositiveShares = errors.New("valuation: start shares must be positive")

	// ErrInvalidClose is returned when a dividend reinvestment requires
	// dividing by a close price that is missing or non-positive.
	ErrInvalidClose = errors.New("valuation: non-positive close price")
)

// CalculateValue values a position of startShares shares held since
// startDate, given the security's daily price history.
//
// Records are filtered to date >= startDate and re-sorted ascending
// (defensively, even for pre-sorted input). Each day applies the split
// multiplier first, then computes the dividend on the post-split share
// count; that ordering changes the result when both land on one date
// and must not be swapped. With reinvest the dividend buys fractional
// shares at that day's close; otherwise it accumulates as cash payout.
// The last record's close values the remaining shares, and the payout
// (zero when reinvesting) is added on top.
//
// The input series is never mutated and the function has no side
// effects, so concurrent calls are safe.
func CalculateValue(series []model.PriceRecord, startDate time.Time, startShares decimal.Decimal, reinvest bool) (decimal.Decimal, error) {
	if startShares.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNonPositiveShares
	}

	start := model.Day(startDate)
	window := make([]model.PriceRecord, 0, len(series))
	for _, rec := range series {
		if !model.Day(rec.Date).Before(start) {
			window = append(window, rec)
		}
	}
	if len(window) == 0 {
		return decimal.Zero, ErrNoData
	}
	sort.Slice(window, func(i, j int) bool {
		return window[i].Date.Before(window[j].Date)
	})

	currentShares := startShares
	currentPayout := decimal.Zero

	for _, day := range window {
		currentShares = currentShares.Mul(day.SplitCoefficient)

		dividendPayout := day.DividendAmount.Mul(currentShares)
		if dividendPayout.IsZero() {
			continue
		}
		if reinvest {
			if day.Close.LessThanOrEqual(decimal.Zero) {
				return decimal.Zero, fmt.Errorf("%w on %s", ErrInvalidClose, model.FormatDate(day.Date))
			}
			currentShares = currentShares.Add(dividendPayout.Div(day.Close))
		} else {
			currentPayout = currentPayout.Add(dividendPayout)
		}
	}

	last := window[len(window)-1]
	finalValue := last.Close.Mul(currentShares)
	return finalValue.Add(currentPayout), nil
}

// PercentChange returns (value - startValue) / startValue, the fraction
// used by the returns endpoints.
func PercentChange(value, startValue decimal.Decimal) decimal.Decimal {
	if startValue.IsZero() {
		return decimal.Zero
	}
	return value.Sub(startValue).Div(startValue)
}

// CloseOn returns the closing price recorded exactly on date. It is
// used to size hypothetical baseline purchases; a missing date (market
// holiday, short series) is an error rather than a nearest match.
func CloseOn(series []model.PriceRecord, date time.Time) (decimal.Decimal, error) {
	day := model.Day(date)
	for _, rec := range series {
		if model.Day(rec.Date).Equal(day) {
			return rec.Close, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: no close on %s", ErrNoData, model.FormatDate(date))
}
