// Package report aggregates a user's open lots into a per-security
// portfolio report: current value, net and percent returns, and the
// beat over a baseline instrument valued the same way.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/metrics"
	"github.com/invtrack/tracker-engine/internal/model"
	"github.com/invtrack/tracker-engine/internal/valuation"
)

// LotLister supplies the lots to report on.
type LotLister interface {
	ListAll(ctx context.Context, userID string) ([]model.Lot, error)
}

// SeriesProvider supplies daily price history per symbol.
type SeriesProvider interface {
	DailySeries(ctx context.Context, symbol string) ([]model.PriceRecord, error)
}

// Row is one security's aggregated position. A row with Err set had no
// usable valuation; its numeric fields are zero.
type Row struct {
	Security       string          `json:"security"`
	StartValue     decimal.Decimal `json:"start_value"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	NetReturns     decimal.Decimal `json:"net_returns"`
	PercentReturns decimal.Decimal `json:"percent_returns"`
	BaselineBeat   decimal.Decimal `json:"baseline_beat"`
	Err            string          `json:"error,omitempty"`
}

// Report is a user's portfolio snapshot as of Date.
type Report struct {
	UserID   string    `json:"user_id"`
	Baseline string    `json:"baseline"`
	Date     time.Time `json:"date"`
	Rows     []Row     `json:"rows"`
}

// Reporter builds portfolio reports. One reporter instance may serve
// concurrent Build calls; the per-pass series cache is local to each
// call.
type Reporter struct {
	lots     LotLister
	provider SeriesProvider
	baseline string
}

// NewReporter creates a reporter valuing positions against provider
// and comparing against the baseline symbol.
func NewReporter(lots LotLister, provider SeriesProvider, baseline string) *Reporter {
	return &Reporter{lots: lots, provider: provider, baseline: baseline}
}

// securityAgg accumulates one security's lots during a pass.
type securityAgg struct {
	start       decimal.Decimal
	end         decimal.Decimal
	baselineEnd decimal.Decimal
	err         error
}

// passCache memoizes series fetches within one report computation so
// each symbol hits the upstream provider at most once per pass.
type passCache struct {
	provider SeriesProvider
	series   map[string][]model.PriceRecord
	errs     map[string]error
}

func (c *passCache) get(ctx context.Context, symbol string) ([]model.PriceRecord, error) {
	if s, ok := c.series[symbol]; ok {
		return s, nil
	}
	if err, ok := c.errs[symbol]; ok {
		return nil, err
	}
	s, err := c.provider.DailySeries(ctx, symbol)
	if err != nil {
		c.errs[symbol] = err
		return nil, err
	}
	c.series[symbol] = s
	return s, nil
}

// Build computes the portfolio report for a user. Valuation failures
// are recorded per security, never failing the whole report; only a
// failing lot listing aborts the build.
func (r *Reporter) Build(ctx context.Context, userID string) (*Report, error) {
	lots, err := r.lots.ListAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list lots for %s: %w", userID, err)
	}

	cache := &passCache{
		provider: r.provider,
		series:   make(map[string][]model.PriceRecord),
		errs:     make(map[string]error),
	}
	aggs := make(map[string]*securityAgg)

	for _, lot := range lots {
		remaining := lot.RemainingShares()
		if remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}

		agg, ok := aggs[lot.Security]
		if !ok {
			agg = &securityAgg{
				start:       decimal.Zero,
				end:         decimal.Zero,
				baselineEnd: decimal.Zero,
			}
			aggs[lot.Security] = agg
		}
		if agg.err != nil {
			continue
		}

		// Scale the cost basis down for partially sold lots so returns
		// reflect only the shares still held.
		startValue := lot.Price.Mul(remaining).Div(lot.NShares)

		current, err := r.valueLot(ctx, cache, &lot, remaining)
		if err != nil {
			agg.err = err
			slog.Warn("lot valuation failed",
				"user", userID,
				"security", lot.Security,
				"purchase_date", model.FormatDate(lot.PurchaseDate),
				"err", err,
			)
			continue
		}

		baseline, err := r.valueBaseline(ctx, cache, &lot, startValue)
		if err != nil {
			agg.err = err
			slog.Warn("baseline valuation failed",
				"user", userID,
				"security", lot.Security,
				"baseline", r.baseline,
				"err", err,
			)
			continue
		}

		agg.start = agg.start.Add(startValue)
		agg.end = agg.end.Add(current)
		agg.baselineEnd = agg.baselineEnd.Add(baseline)
	}

	report := &Report{
		UserID:   userID,
		Baseline: r.baseline,
		Date:     time.Now().UTC(),
		Rows:     make([]Row, 0, len(aggs)),
	}

	hundred := decimal.NewFromInt(100)
	for security, agg := range aggs {
		if agg.err != nil {
			report.Rows = append(report.Rows, Row{Security: security, Err: agg.err.Error()})
			continue
		}

		net := agg.end.Sub(agg.start)
		percent := hundred.Mul(valuation.PercentChange(agg.end, agg.start))
		baselinePercent := hundred.Mul(valuation.PercentChange(agg.baselineEnd, agg.start))

		report.Rows = append(report.Rows, Row{
			Security:       security,
			StartValue:     agg.start,
			CurrentValue:   agg.end,
			NetReturns:     net,
			PercentReturns: percent,
			BaselineBeat:   percent.Sub(baselinePercent),
		})
	}

	// Store order is not guaranteed; sort for stable output.
	sort.Slice(report.Rows, func(i, j int) bool {
		return report.Rows[i].Security < report.Rows[j].Security
	})

	metrics.ReportsTotal.Inc()
	return report, nil
}

// valueLot values the still-held shares of a lot. Dividends accrue
// from the lot's first dividend date, not the purchase date.
func (r *Reporter) valueLot(ctx context.Context, cache *passCache, lot *model.Lot, remaining decimal.Decimal) (decimal.Decimal, error) {
	series, err := cache.get(ctx, lot.Security)
	if err != nil {
		return decimal.Zero, err
	}
	value, err := valuation.CalculateValue(series, lot.FirstDividendDate, remaining, lot.Reinvest)
	if err != nil {
		metrics.ValuationsTotal.WithLabelValues("error").Inc()
		return decimal.Zero, err
	}
	metrics.ValuationsTotal.WithLabelValues("ok").Inc()
	return value, nil
}

// valueBaseline values the hypothetical purchase of the baseline on
// the lot's purchase date with the same cost basis, dividends
// reinvested.
func (r *Reporter) valueBaseline(ctx context.Context, cache *passCache, lot *model.Lot, startValue decimal.Decimal) (decimal.Decimal, error) {
	series, err := cache.get(ctx, r.baseline)
	if err != nil {
		return decimal.Zero, err
	}
	cost, err := valuation.CloseOn(series, lot.PurchaseDate)
	if err != nil {
		return decimal.Zero, err
	}
	if cost.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w on %s", valuation.ErrInvalidClose, model.FormatDate(lot.PurchaseDate))
	}
	shares := startValue.Div(cost)
	value, err := valuation.CalculateValue(series, lot.PurchaseDate, shares, true)
	if err != nil {
		metrics.ValuationsTotal.WithLabelValues("error").Inc()
		return decimal.Zero, err
	}
	metrics.ValuationsTotal.WithLabelValues("ok").Inc()
	return value, nil
}

// Table renders the report as the fixed-width text block used in the
// notification email.
func (r *Report) Table() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock | Current Value |  Net Returns  | Percent Returns | %s Beat\n", r.Baseline)
	for _, row := range r.Rows {
		if row.Err != "" {
			fmt.Fprintf(&b, "%-5s | unavailable: %s\n", row.Security, row.Err)
			continue
		}
		fmt.Fprintf(&b, "%-5s | %13s | %13s | %15s | %15s\n",
			row.Security,
			row.CurrentValue.StringFixed(2),
			row.NetReturns.StringFixed(2),
			row.PercentReturns.StringFixed(3),
			row.BaselineBeat.StringFixed(3),
		)
	}
	return b.String()
}
