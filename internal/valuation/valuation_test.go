package valuation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/model"
	"github.com/invtrack/tracker-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(s string) time.Time {
	t, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// rec builds a PriceRecord with explicit close, dividend, and split.
func rec(date string, close, dividend, split float64) model.PriceRecord {
	return model.PriceRecord{
		Date:             day(date),
		Close:            d(close),
		DividendAmount:   d(dividend),
		SplitCoefficient: d(split),
	}
}

func wantEqual(t *testing.T, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestCalculateValueNoEvents(t *testing.T) {
	// With no splits and no dividends the reinvest flag is irrelevant:
	// both paths reduce to startShares * last close.
	series := []model.PriceRecord{
		rec("2020-01-02", 100, 0, 1),
		rec("2020-01-03", 102, 0, 1),
		rec("2020-01-06", 97.5, 0, 1),
	}

	for _, reinvest := range []bool{true, false} {
		got, err := valuation.CalculateValue(series, day("2020-01-01"), d(10), reinvest)
		if err != nil {
			t.Fatalf("reinvest=%v: %v", reinvest, err)
		}
		wantEqual(t, got, d(975))
	}
}

func TestCalculateValueSplit(t *testing.T) {
	series := []model.PriceRecord{
		rec("2020-03-02", 100, 0, 1),
		rec("2020-03-03", 50, 0, 2),
		rec("2020-03-04", 55, 0, 1),
	}

	got, err := valuation.CalculateValue(series, day("2020-03-02"), d(10), false)
	if err != nil {
		t.Fatal(err)
	}
	// 10 shares doubled on day 2, valued at the final close: 20 * 55.
	wantEqual(t, got, d(1100))
}

func TestCalculateValueDividend(t *testing.T) {
	oneDay := []model.PriceRecord{
		rec("2020-06-01", 50, 2, 1),
	}

	// Single-step case: reinvesting and cashing out coincide at 520.
	reinvested, err := valuation.CalculateValue(oneDay, day("2020-06-01"), d(10), true)
	if err != nil {
		t.Fatal(err)
	}
	wantEqual(t, reinvested, d(520)) // 10.4 shares * 50

	paidOut, err := valuation.CalculateValue(oneDay, day("2020-06-01"), d(10), false)
	if err != nil {
		t.Fatal(err)
	}
	wantEqual(t, paidOut, d(520)) // 10 * 50 + 20 payout

	// A second day distinguishes the paths: reinvested shares keep
	// compounding, a cash payout does not.
	twoDay := append(oneDay, rec("2020-06-02", 60, 0, 1))

	reinvested, err = valuation.CalculateValue(twoDay, day("2020-06-01"), d(10), true)
	if err != nil {
		t.Fatal(err)
	}
	wantEqual(t, reinvested, d(624)) // 10.4 * 60

	paidOut, err = valuation.CalculateValue(twoDay, day("2020-06-01"), d(10), false)
	if err != nil {
		t.Fatal(err)
	}
	wantEqual(t, paidOut, d(620)) // 10 * 60 + 20
}

func TestCalculateValueSplitBeforeDividendSameDay(t *testing.T) {
	// Split and dividend on the same date: the dividend pays on the
	// post-split share count.
	series := []model.PriceRecord{
		rec("2020-09-01", 40, 1, 2),
	}

	got, err := valuation.CalculateValue(series, day("2020-09-01"), d(10), false)
	if err != nil {
		t.Fatal(err)
	}
	// 20 shares * 40 close + 20 shares * 1 dividend.
	wantEqual(t, got, d(820))
}

func TestCalculateValueFiltersAndSorts(t *testing.T) {
	// Records before the start date are ignored, and out-of-order input
	// is re-sorted before simulation.
	series := []model.PriceRecord{
		rec("2020-01-10", 30, 0, 1),
		rec("2019-12-31", 500, 10, 3), // before start, must not count
		rec("2020-01-08", 25, 0, 1),
	}

	got, err := valuation.CalculateValue(series, day("2020-01-01"), d(4), false)
	if err != nil {
		t.Fatal(err)
	}
	wantEqual(t, got, d(120)) // 4 * 30
}

func TestCalculateValueErrors(t *testing.T) {
	series := []model.PriceRecord{rec("2020-01-02", 100, 0, 1)}

	if _, err := valuation.CalculateValue(series, day("2020-02-01"), d(10), false); !errors.Is(err, valuation.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := valuation.CalculateValue(nil, day("2020-01-01"), d(10), false); !errors.Is(err, valuation.ErrNoData) {
		t.Fatalf("expected ErrNoData for empty series, got %v", err)
	}
	if _, err := valuation.CalculateValue(series, day("2020-01-01"), decimal.Zero, false); !errors.Is(err, valuation.ErrNonPositiveShares) {
		t.Fatalf("expected ErrNonPositiveShares, got %v", err)
	}

	badClose := []model.PriceRecord{rec("2020-01-02", 0, 2, 1)}
	if _, err := valuation.CalculateValue(badClose, day("2020-01-01"), d(10), true); !errors.Is(err, valuation.ErrInvalidClose) {
		t.Fatalf("expected ErrInvalidClose, got %v", err)
	}
	// Without reinvestment no division happens, so a zero close on a
	// dividend day is tolerated.
	if _, err := valuation.CalculateValue(badClose, day("2020-01-01"), d(10), false); err != nil {
		t.Fatalf("payout path should not divide by close: %v", err)
	}
}

func TestCalculateValueDoesNotMutateInput(t *testing.T) {
	series := []model.PriceRecord{
		rec("2020-01-03", 20, 0, 1),
		rec("2020-01-02", 10, 0, 1),
	}

	if _, err := valuation.CalculateValue(series, day("2020-01-01"), d(1), false); err != nil {
		t.Fatal(err)
	}
	if !series[0].Date.Equal(day("2020-01-03")) {
		t.Fatal("input series was reordered")
	}
}

func TestPercentChange(t *testing.T) {
	wantEqual(t, valuation.PercentChange(d(110), d(100)), d(0.1))
	wantEqual(t, valuation.PercentChange(d(90), d(100)), d(-0.1))
	wantEqual(t, valuation.PercentChange(d(50), decimal.Zero), decimal.Zero)
}

func TestCloseOn(t *testing.T) {
	series := []model.PriceRecord{
		rec("2020-01-02", 100, 0, 1),
		rec("2020-01-03", 105, 0, 1),
	}

	got, err := valuation.CloseOn(series, day("2020-01-03"))
	if err != nil {
		t.Fatal(err)
	}
	wantEqual(t, got, d(105))

	if _, err := valuation.CloseOn(series, day("2020-01-04")); !errors.Is(err, valuation.ErrNoData) {
		t.Fatalf("expected ErrNoData for missing date, got %v", err)
	}
}
