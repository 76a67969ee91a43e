// Package journal provides the HTTP handlers for the trade-journal API.
// Mutations are not applied directly: each handler builds a trade-event
// envelope and hands it to the relay producer; the relay consumer applies it
// to the store asynchronously. Reads go straight to the store.
//
// All monetary values use shopspring/decimal — never float64 for money.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/auth"
	"github.com/tradevault/journal-engine/internal/event"
	"github.com/tradevault/journal-engine/internal/model"
	"github.com/tradevault/journal-engine/internal/store"
)

// Publisher is the producer-side contract: encode-and-send an envelope,
// retried internally, error on exhaustion.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// Service handles trade journal operations.
type Service struct {
	store    store.TradeStore
	producer Publisher
}

// NewService creates a new journal service. st serves reads; producer
// carries all mutations.
func NewService(st store.TradeStore, producer Publisher) *Service {
	return &Service{store: st, producer: producer}
}

// --- Request types ---

// CreateTradeRequest is the JSON body for POST /trades.
type CreateTradeRequest struct {
	Symbol             string          `json:"symbol"`
	EntryPrice         decimal.Decimal `json:"entryPrice"`
	TradeType          string          `json:"tradeType"`
	Size               string          `json:"size"`
	Qty                decimal.Decimal `json:"qty"`
	StopLossPercentage decimal.Decimal `json:"slPercentage"`
}

// CloseTradeRequest is the JSON body for POST /trades/{tradeID}/close.
type CloseTradeRequest struct {
	ExitPrice decimal.Decimal  `json:"exitPrice"`
	Fees      *decimal.Decimal `json:"fees,omitempty"`
}

// --- HTTP Handlers ---

// CreateTrade handles POST /api/v1/trades
// The trade id is generated here, before publish, not by the store. The
// envelope is queued durably; 202 means "accepted for apply", not "applied".
func (s *Service) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req CreateTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.EntryPrice.LessThanOrEqual(decimal.Zero) {
		writeError(w, "entryPrice must be positive", http.StatusBadRequest)
		return
	}
	if req.Qty.LessThanOrEqual(decimal.Zero) {
		writeError(w, "qty must be positive", http.StatusBadRequest)
		return
	}

	trade := &model.LiveTrade{
		ID:                 uuid.New().String(),
		AccountID:          auth.AccountID(r.Context()),
		Symbol:             req.Symbol,
		EntryPrice:         req.EntryPrice,
		TradeType:          req.TradeType,
		Size:               req.Size,
		Qty:                req.Qty,
		StopLossPercentage: req.StopLossPercentage,
		EntryDate:          time.Now().UTC(),
	}

	if err := s.producer.Publish(r.Context(), event.NewCreated(trade)); err != nil {
		// The mutation did not happen; say so, never a silent 2xx.
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	slog.Info("trade create accepted",
		"trade_id", trade.ID, "account", trade.AccountID, "symbol", trade.Symbol)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(trade)
}

// UpdateTrade handles PATCH /api/v1/trades/{tradeID}
func (s *Service) UpdateTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var upd model.TradeUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if upd.IsZero() {
		writeError(w, "no updatable fields provided", http.StatusBadRequest)
		return
	}
	if err := s.requireOwned(w, r, tradeID); err != nil {
		return
	}

	if err := s.producer.Publish(r.Context(), event.NewUpdated(tradeID, upd)); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	slog.Info("trade update accepted", "trade_id", tradeID)
	w.WriteHeader(http.StatusAccepted)
}

// DeleteTrade handles DELETE /api/v1/trades/{tradeID}
func (s *Service) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")
	if err := s.requireOwned(w, r, tradeID); err != nil {
		return
	}

	if err := s.producer.Publish(r.Context(), event.NewDeleted(tradeID)); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	slog.Info("trade delete accepted", "trade_id", tradeID)
	w.WriteHeader(http.StatusAccepted)
}

// CloseTrade handles POST /api/v1/trades/{tradeID}/close
func (s *Service) CloseTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var req CloseTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExitPrice.LessThanOrEqual(decimal.Zero) {
		writeError(w, "exitPrice must be positive", http.StatusBadRequest)
		return
	}
	if req.Fees != nil && req.Fees.IsNegative() {
		writeError(w, "fees must not be negative", http.StatusBadRequest)
		return
	}
	if err := s.requireOwned(w, r, tradeID); err != nil {
		return
	}

	if err := s.producer.Publish(r.Context(), event.NewClosed(tradeID, req.ExitPrice, req.Fees)); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	slog.Info("trade close accepted", "trade_id", tradeID, "exit_price", req.ExitPrice.String())
	w.WriteHeader(http.StatusAccepted)
}

// ListTrades handles GET /api/v1/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListLive(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.LiveTrade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// ListClosedTrades handles GET /api/v1/trades/closed
func (s *Service) ListClosedTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListClosed(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		writeError(w, "failed to list closed trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.ClosedTrade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetTrade handles GET /api/v1/trades/{tradeID}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	trade, err := s.store.GetLive(r.Context(), tradeID)
	if err != nil {
		writeError(w, "trade not found", http.StatusNotFound)
		return
	}
	if acct := auth.AccountID(r.Context()); acct != "" && trade.AccountID != acct {
		writeError(w, "trade not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

// requireOwned verifies the live trade exists and belongs to the caller,
// writing the error response itself. Mutations are validated here before the
// envelope is published; the apply side still tolerates races.
func (s *Service) requireOwned(w http.ResponseWriter, r *http.Request, tradeID string) error {
	trade, err := s.store.GetLive(r.Context(), tradeID)
	if err != nil {
		writeError(w, "trade not found", http.StatusNotFound)
		return err
	}
	if acct := auth.AccountID(r.Context()); acct != "" && trade.AccountID != acct {
		writeError(w, "trade not found", http.StatusNotFound)
		return store.ErrNotFound
	}
	return nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
