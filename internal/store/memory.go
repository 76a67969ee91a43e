package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/model"
)

// MemoryStore implements TradeStore with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	live   map[string]*model.LiveTrade
	closed map[string]*model.ClosedTrade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		live:   make(map[string]*model.LiveTrade),
		closed: make(map[string]*model.ClosedTrade),
	}
}

func (s *MemoryStore) CreateLive(_ context.Context, t *model.LiveTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[t.ID]; ok {
		return fmt.Errorf("live trade %s already exists", t.ID)
	}

	// Store a copy to avoid external mutation.
	cp := *t
	s.live[t.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateLive(_ context.Context, id string, u model.TradeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.live[id]
	if !ok {
		return fmt.Errorf("update live trade %s: %w", id, ErrNotFound)
	}
	if u.Symbol != nil {
		t.Symbol = *u.Symbol
	}
	if u.EntryPrice != nil {
		t.EntryPrice = *u.EntryPrice
	}
	if u.TradeType != nil {
		t.TradeType = *u.TradeType
	}
	if u.Size != nil {
		t.Size = *u.Size
	}
	if u.Qty != nil {
		t.Qty = *u.Qty
	}
	if u.StopLossPercentage != nil {
		t.StopLossPercentage = *u.StopLossPercentage
	}
	return nil
}

func (s *MemoryStore) DeleteLive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[id]; !ok {
		return fmt.Errorf("delete live trade %s: %w", id, ErrNotFound)
	}
	delete(s.live, id)
	return nil
}

// Close replaces the live trade with a closed record. If the live record is
// already gone but a closed record exists (redelivery after partial
// completion), the existing closed record is returned unchanged.
func (s *MemoryStore) Close(_ context.Context, id string, exitPrice, fees decimal.Decimal) (*model.ClosedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.live[id]
	if !ok {
		if c, done := s.closed[id]; done {
			cp := *c
			return &cp, nil
		}
		return nil, fmt.Errorf("close trade %s: %w", id, ErrNotFound)
	}

	c := t.CloseOut(exitPrice, fees, time.Now().UTC())
	delete(s.live, id)
	s.closed[id] = c

	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetLive(_ context.Context, id string) (*model.LiveTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.live[id]
	if !ok {
		return nil, fmt.Errorf("get live trade %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListLive(_ context.Context, accountID string) ([]model.LiveTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]model.LiveTrade, 0, len(s.live))
	for _, t := range s.live {
		if accountID == "" || t.AccountID == accountID {
			trades = append(trades, *t)
		}
	}
	return trades, nil
}

func (s *MemoryStore) ListClosed(_ context.Context, accountID string) ([]model.ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]model.ClosedTrade, 0, len(s.closed))
	for _, c := range s.closed {
		if accountID == "" || c.AccountID == accountID {
			trades = append(trades, *c)
		}
	}
	return trades, nil
}
