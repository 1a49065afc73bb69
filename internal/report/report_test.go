package report_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/ledger"
	"github.com/invtrack/tracker-engine/internal/model"
	"github.com/invtrack/tracker-engine/internal/quotes"
	"github.com/invtrack/tracker-engine/internal/report"
	"github.com/invtrack/tracker-engine/internal/store"
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

func rec(date string, close float64) model.PriceRecord {
	return model.PriceRecord{
		Date:             day(date),
		Close:            d(close),
		DividendAmount:   decimal.Zero,
		SplitCoefficient: decimal.NewFromInt(1),
	}
}

// stubProvider serves canned series and counts upstream fetches.
type stubProvider struct {
	series map[string][]model.PriceRecord
	calls  map[string]int
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		series: make(map[string][]model.PriceRecord),
		calls:  make(map[string]int),
	}
}

func (p *stubProvider) DailySeries(_ context.Context, symbol string) ([]model.PriceRecord, error) {
	p.calls[symbol]++
	s, ok := p.series[symbol]
	if !ok {
		return nil, quotes.ErrDataUnavailable
	}
	return s, nil
}

func newTestReporter(t *testing.T) (*report.Reporter, *ledger.Service, *stubProvider) {
	t.Helper()
	svc := ledger.NewService(store.NewMemoryStore())
	provider := newStubProvider()
	return report.NewReporter(svc, provider, "FXAIX"), svc, provider
}

func buy(t *testing.T, svc *ledger.Service, security, purchase string, shares, price float64) {
	t.Helper()
	_, err := svc.Buy(context.Background(), ledger.BuyOrder{
		UserID:       "user-0",
		Security:     security,
		NShares:      d(shares),
		Price:        d(price),
		PurchaseDate: day(purchase),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func sell(t *testing.T, svc *ledger.Service, security, purchase string, shares, price float64) {
	t.Helper()
	_, err := svc.Sell(context.Background(), ledger.SellOrder{
		UserID:       "user-0",
		Security:     security,
		PurchaseDate: day(purchase),
		NShares:      d(shares),
		Price:        d(price),
		SellDate:     day("2020-03-01"),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBuildReportNumbers(t *testing.T) {
	reporter, svc, provider := newTestReporter(t)

	// 10 shares for 1000; half sold, so the reported cost basis is 500.
	buy(t, svc, "SBUX", "2020-01-02", 10, 1000)
	sell(t, svc, "SBUX", "2020-01-02", 5, 550)

	provider.series["SBUX"] = []model.PriceRecord{
		rec("2020-01-02", 100),
		rec("2020-06-01", 120),
	}
	provider.series["FXAIX"] = []model.PriceRecord{
		rec("2020-01-02", 50),
		rec("2020-06-01", 55),
	}

	rep, err := reporter.Build(context.Background(), "user-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rep.Rows))
	}

	row := rep.Rows[0]
	if row.Err != "" {
		t.Fatalf("unexpected row error: %s", row.Err)
	}
	// 5 remaining shares at 120 = 600; the baseline's 10 hypothetical
	// shares (500/50) end at 550.
	if !row.StartValue.Equal(d(500)) {
		t.Fatalf("start = %s, want 500", row.StartValue)
	}
	if !row.CurrentValue.Equal(d(600)) {
		t.Fatalf("current = %s, want 600", row.CurrentValue)
	}
	if !row.NetReturns.Equal(d(100)) {
		t.Fatalf("net = %s, want 100", row.NetReturns)
	}
	if !row.PercentReturns.Equal(d(20)) {
		t.Fatalf("percent = %s, want 20", row.PercentReturns)
	}
	if !row.BaselineBeat.Equal(d(10)) {
		t.Fatalf("beat = %s, want 10", row.BaselineBeat)
	}
}

func TestBuildSkipsFullySoldLots(t *testing.T) {
	reporter, svc, provider := newTestReporter(t)

	buy(t, svc, "SBUX", "2020-01-02", 10, 1000)
	sell(t, svc, "SBUX", "2020-01-02", 10, 1200)

	rep, err := reporter.Build(context.Background(), "user-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Rows) != 0 {
		t.Fatalf("closed lots produced rows: %+v", rep.Rows)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("closed lots triggered fetches: %v", provider.calls)
	}
}

func TestBuildIsolatesPerSecurityFailures(t *testing.T) {
	reporter, svc, provider := newTestReporter(t)

	buy(t, svc, "SBUX", "2020-01-02", 10, 1000)
	buy(t, svc, "AMD", "2020-01-02", 10, 500) // no series available

	provider.series["SBUX"] = []model.PriceRecord{rec("2020-01-02", 100)}
	provider.series["FXAIX"] = []model.PriceRecord{rec("2020-01-02", 50)}

	rep, err := reporter.Build(context.Background(), "user-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rep.Rows))
	}

	// Rows sort by security: AMD first.
	if rep.Rows[0].Security != "AMD" || rep.Rows[0].Err == "" {
		t.Fatalf("expected AMD error row, got %+v", rep.Rows[0])
	}
	if rep.Rows[1].Security != "SBUX" || rep.Rows[1].Err != "" {
		t.Fatalf("SBUX row should be unaffected, got %+v", rep.Rows[1])
	}
}

func TestBuildFetchesEachSymbolOncePerPass(t *testing.T) {
	reporter, svc, provider := newTestReporter(t)

	buy(t, svc, "SBUX", "2020-01-02", 10, 1000)
	buy(t, svc, "SBUX", "2020-02-03", 4, 400)

	provider.series["SBUX"] = []model.PriceRecord{
		rec("2020-01-02", 100),
		rec("2020-02-03", 100),
		rec("2020-06-01", 120),
	}
	provider.series["FXAIX"] = []model.PriceRecord{
		rec("2020-01-02", 50),
		rec("2020-02-03", 50),
		rec("2020-06-01", 55),
	}

	if _, err := reporter.Build(context.Background(), "user-0"); err != nil {
		t.Fatal(err)
	}
	if provider.calls["SBUX"] != 1 || provider.calls["FXAIX"] != 1 {
		t.Fatalf("fetch counts = %v, want one per symbol", provider.calls)
	}
}

func TestReportTable(t *testing.T) {
	reporter, svc, provider := newTestReporter(t)

	buy(t, svc, "SBUX", "2020-01-02", 10, 1000)
	provider.series["SBUX"] = []model.PriceRecord{
		rec("2020-01-02", 100),
		rec("2020-06-01", 120),
	}
	provider.series["FXAIX"] = []model.PriceRecord{
		rec("2020-01-02", 50),
		rec("2020-06-01", 55),
	}

	rep, err := reporter.Build(context.Background(), "user-0")
	if err != nil {
		t.Fatal(err)
	}

	table := rep.Table()
	if !strings.HasPrefix(table, "Stock | Current Value |  Net Returns  | Percent Returns | FXAIX Beat") {
		t.Fatalf("unexpected header:\n%s", table)
	}
	if !strings.Contains(table, "SBUX") || !strings.Contains(table, "1200.00") {
		t.Fatalf("row missing from table:\n%s", table)
	}
}
