package journal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/event"
	"github.com/tradevault/journal-engine/internal/journal"
	"github.com/tradevault/journal-engine/internal/model"
	"github.com/tradevault/journal-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakePublisher records published envelopes or fails with a scripted error.
type fakePublisher struct {
	published []event.Envelope
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, env event.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	return nil
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*fakePublisher, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	pub := &fakePublisher{}
	svc := journal.NewService(ms, pub)

	r := chi.NewRouter()
	r.Get("/api/v1/trades", svc.ListTrades)
	r.Post("/api/v1/trades", svc.CreateTrade)
	r.Get("/api/v1/trades/closed", svc.ListClosedTrades)
	r.Get("/api/v1/trades/{tradeID}", svc.GetTrade)
	r.Patch("/api/v1/trades/{tradeID}", svc.UpdateTrade)
	r.Delete("/api/v1/trades/{tradeID}", svc.DeleteTrade)
	r.Post("/api/v1/trades/{tradeID}/close", svc.CloseTrade)

	return pub, ms, r
}

// seedLive creates a live trade directly in the store.
func seedLive(t *testing.T, ms *store.MemoryStore, id string) *model.LiveTrade {
	t.Helper()
	trade := &model.LiveTrade{
		ID:         id,
		Symbol:     "AAPL",
		EntryPrice: d(150),
		TradeType:  "Initial",
		Size:       "Full 25%",
		Qty:        d(10),
		EntryDate:  time.Now().UTC(),
	}
	if err := ms.CreateLive(context.Background(), trade); err != nil {
		t.Fatalf("failed to seed trade: %v", err)
	}
	return trade
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Create ---

func TestCreateTrade_PublishesEnvelope(t *testing.T) {
	pub, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/trades", journal.CreateTradeRequest{
		Symbol:             "AAPL",
		EntryPrice:         d(150),
		TradeType:          "Initial",
		Size:               "Full 25%",
		Qty:                d(10),
		StopLossPercentage: d(4),
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp model.LiveTrade
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ID == "" {
		t.Error("expected a generated trade id in the response")
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published envelope, got %d", len(pub.published))
	}
	env := pub.published[0]
	if env.Type != event.TradeCreated {
		t.Errorf("expected TradeCreated, got %s", env.Type)
	}
	if env.Trade.ID != resp.ID {
		t.Errorf("envelope id %s != response id %s", env.Trade.ID, resp.ID)
	}
}

func TestCreateTrade_Validation(t *testing.T) {
	pub, _, router := newTestEnv(t)

	cases := []journal.CreateTradeRequest{
		{EntryPrice: d(150), Qty: d(10)},                    // missing symbol
		{Symbol: "AAPL", EntryPrice: d(0), Qty: d(10)},      // bad entry price
		{Symbol: "AAPL", EntryPrice: d(150), Qty: d(0)},     // bad qty
		{Symbol: "AAPL", EntryPrice: d(-1), Qty: d(10)},     // negative price
	}
	for i, req := range cases {
		w := doJSON(t, router, "POST", "/api/v1/trades", req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, w.Code)
		}
	}
	if len(pub.published) != 0 {
		t.Errorf("invalid requests must not publish, got %d envelopes", len(pub.published))
	}
}

func TestCreateTrade_PublishFailureIsClientVisible(t *testing.T) {
	pub, _, router := newTestEnv(t)
	pub.err = errors.New("publish to trade-events failed after retries: broker away")

	w := doJSON(t, router, "POST", "/api/v1/trades", journal.CreateTradeRequest{
		Symbol:     "AAPL",
		EntryPrice: d(150),
		Qty:        d(10),
	})

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Error("expected the final error message in the response")
	}
}

// --- Update / Delete / Close ---

func TestUpdateTrade_PublishesPartialUpdate(t *testing.T) {
	pub, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")

	w := doJSON(t, router, "PATCH", "/api/v1/trades/t1",
		map[string]interface{}{"qty": 25, "size": "Half"})

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(pub.published))
	}
	env := pub.published[0]
	if env.Type != event.TradeUpdated {
		t.Errorf("expected TradeUpdated, got %s", env.Type)
	}
	if env.Trade.Qty == nil || !env.Trade.Qty.Equal(d(25)) {
		t.Error("expected qty=25 in the envelope")
	}
	if env.Trade.Symbol != nil {
		t.Error("unspecified fields must stay nil in the envelope")
	}
}

func TestUpdateTrade_EmptyBody(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")

	w := doJSON(t, router, "PATCH", "/api/v1/trades/t1", map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty update, got %d", w.Code)
	}
}

func TestUpdateTrade_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "PATCH", "/api/v1/trades/missing",
		map[string]interface{}{"qty": 25})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDeleteTrade_PublishesEnvelope(t *testing.T) {
	pub, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")

	w := doJSON(t, router, "DELETE", "/api/v1/trades/t1", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	if len(pub.published) != 1 || pub.published[0].Type != event.TradeDeleted {
		t.Fatalf("expected one TradeDeleted envelope")
	}
	if pub.published[0].Trade.ID != "t1" {
		t.Errorf("expected trade id t1, got %s", pub.published[0].Trade.ID)
	}
}

func TestCloseTrade_PublishesEnvelope(t *testing.T) {
	pub, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")

	w := doJSON(t, router, "POST", "/api/v1/trades/t1/close",
		map[string]interface{}{"exitPrice": 160, "fees": 5})

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(pub.published))
	}
	env := pub.published[0]
	if env.Type != event.TradeClosed {
		t.Errorf("expected TradeClosed, got %s", env.Type)
	}
	if env.Trade.ExitPrice == nil || !env.Trade.ExitPrice.Equal(d(160)) {
		t.Error("expected exitPrice=160 in the envelope")
	}
	if env.Trade.Fees == nil || !env.Trade.Fees.Equal(d(5)) {
		t.Error("expected fees=5 in the envelope")
	}
}

func TestCloseTrade_InvalidExitPrice(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")

	w := doJSON(t, router, "POST", "/api/v1/trades/t1/close",
		map[string]interface{}{"exitPrice": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- Reads ---

func TestListTrades(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")
	seedLive(t, ms, "t2")

	w := doJSON(t, router, "GET", "/api/v1/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var trades []model.LiveTrade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 2 {
		t.Errorf("expected 2 trades, got %d", len(trades))
	}
}

func TestListTrades_Empty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body == "null\n" {
		t.Error("expected empty array, got null")
	}
}

func TestGetTrade(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedLive(t, ms, "t1")

	w := doJSON(t, router, "GET", "/api/v1/trades/t1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var trade model.LiveTrade
	json.Unmarshal(w.Body.Bytes(), &trade)
	if trade.ID != "t1" {
		t.Errorf("expected id t1, got %s", trade.ID)
	}

	w = doJSON(t, router, "GET", "/api/v1/trades/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
