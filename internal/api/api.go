// Package api provides the HTTP handlers for valuation requests, the
// tax-lot ledger, and portfolio reports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/ledger"
	"github.com/invtrack/tracker-engine/internal/model"
	"github.com/invtrack/tracker-engine/internal/quotes"
	"github.com/invtrack/tracker-engine/internal/report"
	"github.com/invtrack/tracker-engine/internal/valuation"
)

// SeriesProvider supplies daily price history per symbol.
type SeriesProvider interface {
	DailySeries(ctx context.Context, symbol string) ([]model.PriceRecord, error)
}

// Service wires the HTTP surface to the ledger, the price provider,
// and the reporter.
type Service struct {
	ledger   *ledger.Service
	provider SeriesProvider
	reporter *report.Reporter
	baseline string
}

// NewService creates the HTTP service. baseline is the instrument the
// returns-baseline endpoint and portfolio reports compare against.
func NewService(lg *ledger.Service, provider SeriesProvider, reporter *report.Reporter, baseline string) *Service {
	return &Service{
		ledger:   lg,
		provider: provider,
		reporter: reporter,
		baseline: baseline,
	}
}

// Routes mounts all API routes on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/returns", s.Returns)
	r.Post("/returns-baseline", s.ReturnsBaseline)
	r.Post("/lots", s.BuyLot)
	r.Post("/lots/sell", s.SellLot)
	r.Get("/lots/{userID}", s.ListLots)
	r.Get("/portfolio/{userID}/report", s.PortfolioReport)
}

// --- Request/Response types ---

// ReturnsRequest is the JSON body for POST /returns.
type ReturnsRequest struct {
	Ticker      string          `json:"ticker"`
	StartValue  decimal.Decimal `json:"start_value"`
	StartShares decimal.Decimal `json:"start_shares"`
	StartDate   string          `json:"start_date"` // YYYY-MM-DD
	Reinvest    bool            `json:"reinvest"`
}

// BaselineReturnsRequest is the JSON body for POST /returns-baseline.
type BaselineReturnsRequest struct {
	StartValue decimal.Decimal `json:"start_value"`
	StartDate  string          `json:"start_date"` // YYYY-MM-DD
}

// ReturnsResponse is the JSON body returned by both returns endpoints.
type ReturnsResponse struct {
	Ticker        string          `json:"ticker"`
	Value         decimal.Decimal `json:"value"`
	PercentChange decimal.Decimal `json:"percent_change"`
}

// BuyRequest is the JSON body for POST /lots.
type BuyRequest struct {
	UserID            string          `json:"user_id"`
	Security          string          `json:"security"`
	NShares           decimal.Decimal `json:"n_shares"`
	Price             decimal.Decimal `json:"price"`
	PurchaseDate      string          `json:"purchase_date"`
	FirstDividendDate string          `json:"first_dividend_date,omitempty"`
	Reinvest          bool            `json:"reinvest"`
}

// SellRequest is the JSON body for POST /lots/sell.
type SellRequest struct {
	UserID       string          `json:"user_id"`
	Security     string          `json:"security"`
	PurchaseDate string          `json:"purchase_date"`
	NShares      decimal.Decimal `json:"n_shares"`
	Price        decimal.Decimal `json:"price"`
	SellDate     string          `json:"sell_date"`
}

// --- HTTP Handlers ---

// Returns handles POST /api/v1/returns
// Values a position held since start_date against the ticker's price
// history.
func (s *Service) Returns(w http.ResponseWriter, r *http.Request) {
	var req ReturnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sym, err := quotes.NormalizeSymbol(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	startDate, err := model.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	series, err := s.provider.DailySeries(r.Context(), sym)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	value, err := valuation.CalculateValue(series, startDate, req.StartShares, req.Reinvest)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	slog.Info("returns calculated",
		"ticker", sym,
		"start_date", req.StartDate,
		"reinvest", req.Reinvest,
		"value", value.String(),
	)

	writeJSON(w, http.StatusOK, ReturnsResponse{
		Ticker:        sym,
		Value:         value,
		PercentChange: valuation.PercentChange(value, req.StartValue),
	})
}

// ReturnsBaseline handles POST /api/v1/returns-baseline
// Values the hypothetical purchase of the configured baseline on
// start_date: shares = start_value / close(start_date), dividends
// reinvested.
func (s *Service) ReturnsBaseline(w http.ResponseWriter, r *http.Request) {
	var req BaselineReturnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	startDate, err := model.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if req.StartValue.LessThanOrEqual(decimal.Zero) {
		writeError(w, "start_value must be positive", http.StatusBadRequest)
		return
	}

	series, err := s.provider.DailySeries(r.Context(), s.baseline)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	cost, err := valuation.CloseOn(series, startDate)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	if cost.LessThanOrEqual(decimal.Zero) {
		writeError(w, "baseline close is not positive on "+req.StartDate, http.StatusBadGateway)
		return
	}

	shares := req.StartValue.Div(cost)
	value, err := valuation.CalculateValue(series, startDate, shares, true)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, http.StatusOK, ReturnsResponse{
		Ticker:        s.baseline,
		Value:         value,
		PercentChange: valuation.PercentChange(value, req.StartValue),
	})
}

// BuyLot handles POST /api/v1/lots
func (s *Service) BuyLot(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sym, err := quotes.NormalizeSymbol(req.Security)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	purchaseDate, err := model.ParseDate(req.PurchaseDate)
	if err != nil {
		writeError(w, "purchase_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	order := ledger.BuyOrder{
		UserID:       req.UserID,
		Security:     sym,
		NShares:      req.NShares,
		Price:        req.Price,
		PurchaseDate: purchaseDate,
		Reinvest:     req.Reinvest,
	}
	if req.FirstDividendDate != "" {
		if order.FirstDividendDate, err = model.ParseDate(req.FirstDividendDate); err != nil {
			writeError(w, "first_dividend_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	lot, err := s.ledger.Buy(r.Context(), order)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	slog.Info("lot created",
		"user", lot.UserID,
		"security", lot.Security,
		"purchase_date", model.FormatDate(lot.PurchaseDate),
		"n_shares", lot.NShares.String(),
	)

	writeJSON(w, http.StatusCreated, lot)
}

// SellLot handles POST /api/v1/lots/sell
func (s *Service) SellLot(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sym, err := quotes.NormalizeSymbol(req.Security)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	purchaseDate, err := model.ParseDate(req.PurchaseDate)
	if err != nil {
		writeError(w, "purchase_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	sellDate, err := model.ParseDate(req.SellDate)
	if err != nil {
		writeError(w, "sell_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	lot, err := s.ledger.Sell(r.Context(), ledger.SellOrder{
		UserID:       req.UserID,
		Security:     sym,
		PurchaseDate: purchaseDate,
		NShares:      req.NShares,
		Price:        req.Price,
		SellDate:     sellDate,
	})
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	slog.Info("lot sold against",
		"user", lot.UserID,
		"security", lot.Security,
		"purchase_date", model.FormatDate(lot.PurchaseDate),
		"state", string(lot.State()),
	)

	writeJSON(w, http.StatusOK, lot)
}

// ListLots handles GET /api/v1/lots/{userID}
func (s *Service) ListLots(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	lots, err := s.ledger.ListAll(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	if lots == nil {
		lots = []model.Lot{}
	}

	writeJSON(w, http.StatusOK, lots)
}

// PortfolioReport handles GET /api/v1/portfolio/{userID}/report
func (s *Service) PortfolioReport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rep, err := s.reporter.Build(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidOrder),
		errors.Is(err, quotes.ErrInvalidSymbol),
		errors.Is(err, valuation.ErrNonPositiveShares):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrLotNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrLotConflict),
		errors.Is(err, ledger.ErrOverSell):
		return http.StatusConflict
	case errors.Is(err, quotes.ErrDataUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, valuation.ErrNoData),
		errors.Is(err, valuation.ErrInvalidClose):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
