package quotes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/quotes"
)

const dailyPayload = `{
	"Meta Data": {"2. Symbol": "SBUX"},
	"Time Series (Daily)": {
		"2020-07-22": {
			"1. open": "76.00", "2. high": "77.00", "3. low": "75.00",
			"4. close": "76.50", "5. adjusted close": "76.50",
			"6. volume": "1000", "7. dividend amount": "0.0000",
			"8. split coefficient": "1.0"
		},
		"2020-07-20": {
			"1. open": "74.00", "2. high": "75.00", "3. low": "73.00",
			"4. close": "74.25", "5. adjusted close": "74.25",
			"6. volume": "1200", "7. dividend amount": "0.4100",
			"8. split coefficient": "1.0"
		},
		"2020-07-21": {
			"1. open": "75.00", "2. high": "76.00", "3. low": "74.00",
			"4. close": "75.10", "5. adjusted close": "75.10",
			"6. volume": "900", "7. dividend amount": "0.0000",
			"8. split coefficient": "2.0"
		}
	}
}`

const quotePayload = `{
	"Global Quote": {
		"01. symbol": "SBUX",
		"02. open": "76.00",
		"03. high": "77.00",
		"04. low": "75.00",
		"05. price": "76.50",
		"06. volume": "12345",
		"07. latest trading day": "2020-07-22",
		"08. previous close": "75.10",
		"09. change": "1.40",
		"10. change percent": "1.8642%"
	}
}`

// newTestClient points a Client at a stub Alpha Vantage server.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*quotes.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return quotes.NewClient("test-key", quotes.WithBaseURL(srv.URL)), srv
}

func TestDailySeriesParsesAndSorts(t *testing.T) {
	var gotFunction string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotFunction = r.URL.Query().Get("function")
		w.Write([]byte(dailyPayload))
	})

	series, err := client.DailySeries(context.Background(), "sbux")
	if err != nil {
		t.Fatal(err)
	}
	if gotFunction != "TIME_SERIES_DAILY_ADJUSTED" {
		t.Fatalf("function = %s", gotFunction)
	}
	if len(series) != 3 {
		t.Fatalf("got %d records, want 3", len(series))
	}
	for i := 1; i < len(series); i++ {
		if !series[i-1].Date.Before(series[i].Date) {
			t.Fatalf("series not strictly ascending at %d", i)
		}
	}

	first := series[0]
	if !first.Close.Equal(decimal.NewFromFloat(74.25)) {
		t.Fatalf("close = %s, want 74.25", first.Close)
	}
	if !first.DividendAmount.Equal(decimal.NewFromFloat(0.41)) {
		t.Fatalf("dividend = %s, want 0.41", first.DividendAmount)
	}
	if !series[1].SplitCoefficient.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("split = %s, want 2", series[1].SplitCoefficient)
	}
}

func TestDailySeriesCachesResponses(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(dailyPayload))
	})

	for i := 0; i < 3; i++ {
		if _, err := client.DailySeries(context.Background(), "SBUX"); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("upstream called %d times, want 1", calls)
	}
}

func TestDailySeriesRateLimitNote(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	_, err := client.DailySeries(context.Background(), "SBUX")
	if !errors.Is(err, quotes.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !errors.Is(err, quotes.ErrDataUnavailable) {
		t.Fatal("rate-limit errors must also match ErrDataUnavailable")
	}
}

func TestDailySeriesUnusablePayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"error message", `{"Error Message": "Invalid API call."}`, http.StatusOK},
		{"empty series", `{"Time Series (Daily)": {}}`, http.StatusOK},
		{"missing close", `{"Time Series (Daily)": {"2020-07-20": {"7. dividend amount": "0", "8. split coefficient": "1"}}}`, http.StatusOK},
		{"not json", `<html>maintenance</html>`, http.StatusOK},
		{"http error", `{}`, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			})
			if _, err := client.DailySeries(context.Background(), "SBUX"); !errors.Is(err, quotes.ErrDataUnavailable) {
				t.Fatalf("expected ErrDataUnavailable, got %v", err)
			}
		})
	}
}

func TestCurrentQuote(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "GLOBAL_QUOTE" {
			t.Errorf("function = %s", got)
		}
		w.Write([]byte(quotePayload))
	})

	quote, err := client.CurrentQuote(context.Background(), "SBUX")
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Price.Equal(decimal.NewFromFloat(76.50)) {
		t.Fatalf("price = %s, want 76.50", quote.Price)
	}
	if !quote.ChangePercent.Equal(decimal.NewFromFloat(1.8642)) {
		t.Fatalf("change percent = %s, want 1.8642", quote.ChangePercent)
	}
	if quote.Volume != 12345 {
		t.Fatalf("volume = %d", quote.Volume)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"sbux", "SBUX", false},
		{" VOO ", "VOO", false},
		{"BRK.B", "BRK.B", false},
		{"", "", true},
		{"9GAG", "", true},
		{"WAY-TOO-LONG-SYMBOL", "", true},
		{"A B", "", true},
	}
	for _, tc := range cases {
		got, err := quotes.NormalizeSymbol(tc.in)
		if tc.wantErr {
			if !errors.Is(err, quotes.ErrInvalidSymbol) {
				t.Fatalf("%q: expected ErrInvalidSymbol, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got (%q, %v), want %q", tc.in, got, err, tc.want)
		}
	}
}
