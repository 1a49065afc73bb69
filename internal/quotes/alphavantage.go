// Package quotes fetches daily price history and point-in-time quotes
// from the Alpha Vantage API. It is the tracker's PriceSeriesProvider:
// the core depends only on the shape of its output, never on the wire
// format.
//
// Alpha Vantage is heavily rate limited, so responses are cached with
// a TTL; callers that need at-most-once fetching within a single
// report pass layer their own pass-local cache on top. The client
// never retries — backoff policy belongs to the caller's scheduler.
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/metrics"
	"github.com/invtrack/tracker-engine/internal/model"
)

var (
	// ErrDataUnavailable is returned for any non-success response or
	// structurally invalid payload. The core does not retry on it.
	ErrDataUnavailable = errors.New("quotes: data unavailable")

	// ErrRateLimited is the rate-limit flavor of ErrDataUnavailable,
	// signalled by Alpha Vantage's Note/Information payloads.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrDataUnavailable)

	// ErrInvalidSymbol is returned for ticker symbols that fail
	// validation before any request is made.
	ErrInvalidSymbol = errors.New("quotes: invalid ticker symbol")
)

// symbolRegex matches normalized ticker symbols: letters, digits, dots
// and dashes, e.g. SBUX, BRK.B, BHP-AX.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// NormalizeSymbol uppercases and validates a ticker symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

const defaultBaseURL = "https://www.alphavantage.co/query"

// Client is an Alpha Vantage API client with a TTL response cache.
type Client struct {
	apiKey  string
	baseURL string
	cli     *http.Client
	cache   *gocache.Cache
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) { c.cli = cli }
}

// WithCacheTTL overrides the response cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache = gocache.New(ttl, 2*ttl) }
}

// NewClient creates an Alpha Vantage client. The default cache TTL of
// five minutes keeps a daily report pass well under the API's request
// budget.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		cli:     &http.Client{Timeout: 30 * time.Second},
		cache:   gocache.New(5*time.Minute, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DailySeries returns the full adjusted daily price history for a
// symbol, sorted ascending by date with no duplicate dates.
func (c *Client) DailySeries(ctx context.Context, symbol string) ([]model.PriceRecord, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	cacheKey := "series:" + sym
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]model.PriceRecord), nil
	}

	var payload struct {
		Note        string                       `json:"Note"`
		Information string                       `json:"Information"`
		ErrorMsg    string                       `json:"Error Message"`
		Series      map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if err := c.get(ctx, "TIME_SERIES_DAILY_ADJUSTED", sym, url.Values{"outputsize": {"full"}}, &payload); err != nil {
		return nil, err
	}
	if err := apiError(payload.Note, payload.Information, payload.ErrorMsg, sym); err != nil {
		return nil, err
	}
	if len(payload.Series) == 0 {
		return nil, fmt.Errorf("%w: empty daily series for %s", ErrDataUnavailable, sym)
	}

	series := make([]model.PriceRecord, 0, len(payload.Series))
	for dateStr, fields := range payload.Series {
		date, err := model.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q for %s", ErrDataUnavailable, dateStr, sym)
		}

		rec := model.PriceRecord{Date: date}
		if rec.Close, err = decimalField(fields, "4. close"); err != nil {
			return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
		}
		if rec.DividendAmount, err = decimalField(fields, "7. dividend amount"); err != nil {
			return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
		}
		if rec.SplitCoefficient, err = decimalField(fields, "8. split coefficient"); err != nil {
			return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
		}
		series = append(series, rec)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date)
	})

	c.cache.Set(cacheKey, series, gocache.DefaultExpiration)
	return series, nil
}

// CurrentQuote returns the latest trading snapshot for a symbol.
func (c *Client) CurrentQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	cacheKey := "quote:" + sym
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*model.Quote), nil
	}

	var payload struct {
		Note        string            `json:"Note"`
		Information string            `json:"Information"`
		ErrorMsg    string            `json:"Error Message"`
		Quote       map[string]string `json:"Global Quote"`
	}
	if err := c.get(ctx, "GLOBAL_QUOTE", sym, nil, &payload); err != nil {
		return nil, err
	}
	if err := apiError(payload.Note, payload.Information, payload.ErrorMsg, sym); err != nil {
		return nil, err
	}
	if len(payload.Quote) == 0 {
		return nil, fmt.Errorf("%w: empty quote for %s", ErrDataUnavailable, sym)
	}

	quote := &model.Quote{Symbol: sym}
	fields := payload.Quote
	if quote.Open, err = decimalField(fields, "02. open"); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
	}
	if quote.High, err = decimalField(fields, "03. high"); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
	}
	if quote.Low, err = decimalField(fields, "04. low"); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
	}
	if quote.Price, err = decimalField(fields, "05. price"); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
	}
	if quote.PreviousClose, err = decimalField(fields, "08. previous close"); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
	}
	if quote.Change, err = decimalField(fields, "09. change"); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, sym, err)
	}

	if v, err := strconv.ParseInt(fields["06. volume"], 10, 64); err == nil {
		quote.Volume = v
	}
	if t, err := model.ParseDate(fields["07. latest trading day"]); err == nil {
		quote.LatestTradingDay = t
	}
	// "1.23%" → 1.23
	pct := strings.TrimSuffix(strings.TrimSpace(fields["10. change percent"]), "%")
	if quote.ChangePercent, err = decimal.NewFromString(pct); err != nil {
		return nil, fmt.Errorf("%w: %s bad change percent %q", ErrDataUnavailable, sym, pct)
	}

	c.cache.Set(cacheKey, quote, gocache.DefaultExpiration)
	return quote, nil
}

func (c *Client) get(ctx context.Context, function, symbol string, extra url.Values, out any) error {
	q := url.Values{
		"function": {function},
		"symbol":   {symbol},
		"apikey":   {c.apiKey},
	}
	for k, vs := range extra {
		q[k] = vs
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "tracker-engine/1.0")

	start := time.Now()
	resp, err := c.cli.Do(req)
	metrics.UpstreamLatency.WithLabelValues(function).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(function, "error").Inc()
		return fmt.Errorf("%w: %s", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequestsTotal.WithLabelValues(function, strconv.Itoa(resp.StatusCode)).Inc()
		return fmt.Errorf("%w: http %d for %s", ErrDataUnavailable, resp.StatusCode, symbol)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(function, "ok").Inc()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed payload for %s: %s", ErrDataUnavailable, symbol, err)
	}
	return nil
}

func apiError(note, information, errorMsg, symbol string) error {
	if note != "" || information != "" {
		return fmt.Errorf("%w: %s", ErrRateLimited, symbol)
	}
	if errorMsg != "" {
		return fmt.Errorf("%w: %s: %s", ErrDataUnavailable, symbol, errorMsg)
	}
	return nil
}

func decimalField(fields map[string]string, key string) (decimal.Decimal, error) {
	raw, ok := fields[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("missing field %q", key)
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad field %q: %q", key, raw)
	}
	return v, nil
}
