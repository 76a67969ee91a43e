// Package event defines the trade-event envelope — the unit of transport
// between the journal's HTTP handlers and the relay consumer — and its
// binary codec.
package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/model"
)

// Type tags a trade mutation event. The enumeration is closed: unknown tags
// are rejected at decode time, never silently ignored.
type Type string

const (
	TradeCreated Type = "TradeCreated"
	TradeUpdated Type = "TradeUpdated"
	TradeDeleted Type = "TradeDeleted"
	TradeClosed  Type = "TradeClosed"
)

// Valid reports whether t is one of the four recognized tags.
func (t Type) Valid() bool {
	switch t {
	case TradeCreated, TradeUpdated, TradeDeleted, TradeClosed:
		return true
	}
	return false
}

// Envelope carries one trade mutation and its payload.
// Trade.ID is present and non-empty for every event type; absence is a
// malformed-envelope error, not a store error.
type Envelope struct {
	Type  Type    `json:"eventType"`
	Trade Payload `json:"trade"`
}

// Payload is the event-dependent trade body. Which fields are set depends on
// the event type: TradeCreated carries the full record, TradeUpdated a
// partial set of mutable fields, TradeDeleted the id only, and TradeClosed
// the id plus exit price and optional fees.
type Payload struct {
	ID                 string           `json:"id"`
	AccountID          string           `json:"accountId,omitempty"`
	Symbol             *string          `json:"symbol,omitempty"`
	EntryPrice         *decimal.Decimal `json:"entryPrice,omitempty"`
	TradeType          *string          `json:"tradeType,omitempty"`
	Size               *string          `json:"size,omitempty"`
	Qty                *decimal.Decimal `json:"qty,omitempty"`
	StopLossPercentage *decimal.Decimal `json:"slPercentage,omitempty"`
	EntryDate          *time.Time       `json:"entryDate,omitempty"`
	ExitPrice          *decimal.Decimal `json:"exitPrice,omitempty"`
	Fees               *decimal.Decimal `json:"fees,omitempty"`
}

// NewCreated builds a TradeCreated envelope from a full live-trade record.
// The id is generated by the emitter before publish, not by the store.
func NewCreated(t *model.LiveTrade) Envelope {
	symbol := t.Symbol
	entryPrice := t.EntryPrice
	tradeType := t.TradeType
	size := t.Size
	qty := t.Qty
	sl := t.StopLossPercentage
	entryDate := t.EntryDate
	return Envelope{
		Type: TradeCreated,
		Trade: Payload{
			ID:                 t.ID,
			AccountID:          t.AccountID,
			Symbol:             &symbol,
			EntryPrice:         &entryPrice,
			TradeType:          &tradeType,
			Size:               &size,
			Qty:                &qty,
			StopLossPercentage: &sl,
			EntryDate:          &entryDate,
		},
	}
}

// NewUpdated builds a TradeUpdated envelope from a partial update.
func NewUpdated(id string, u model.TradeUpdate) Envelope {
	return Envelope{
		Type: TradeUpdated,
		Trade: Payload{
			ID:                 id,
			Symbol:             u.Symbol,
			EntryPrice:         u.EntryPrice,
			TradeType:          u.TradeType,
			Size:               u.Size,
			Qty:                u.Qty,
			StopLossPercentage: u.StopLossPercentage,
		},
	}
}

// NewDeleted builds a TradeDeleted envelope carrying the id only.
func NewDeleted(id string) Envelope {
	return Envelope{Type: TradeDeleted, Trade: Payload{ID: id}}
}

// NewClosed builds a TradeClosed envelope. fees may be nil.
func NewClosed(id string, exitPrice decimal.Decimal, fees *decimal.Decimal) Envelope {
	return Envelope{
		Type:  TradeClosed,
		Trade: Payload{ID: id, ExitPrice: &exitPrice, Fees: fees},
	}
}

// LiveTrade materializes the full record a TradeCreated payload must carry.
func (p Payload) LiveTrade() (*model.LiveTrade, error) {
	if p.AccountID == "" {
		return nil, fmt.Errorf("trade %s: accountId is required", p.ID)
	}
	if p.Symbol == nil || *p.Symbol == "" {
		return nil, fmt.Errorf("trade %s: symbol is required", p.ID)
	}
	if p.EntryPrice == nil {
		return nil, fmt.Errorf("trade %s: entryPrice is required", p.ID)
	}
	if p.Qty == nil {
		return nil, fmt.Errorf("trade %s: qty is required", p.ID)
	}

	t := &model.LiveTrade{
		ID:         p.ID,
		AccountID:  p.AccountID,
		Symbol:     *p.Symbol,
		EntryPrice: *p.EntryPrice,
		Qty:        *p.Qty,
	}
	if p.TradeType != nil {
		t.TradeType = *p.TradeType
	}
	if p.Size != nil {
		t.Size = *p.Size
	}
	if p.StopLossPercentage != nil {
		t.StopLossPercentage = *p.StopLossPercentage
	}
	if p.EntryDate != nil {
		t.EntryDate = *p.EntryDate
	} else {
		t.EntryDate = time.Now().UTC()
	}
	return t, nil
}

// Update extracts the partial mutation a TradeUpdated payload carries.
func (p Payload) Update() model.TradeUpdate {
	return model.TradeUpdate{
		Symbol:             p.Symbol,
		EntryPrice:         p.EntryPrice,
		TradeType:          p.TradeType,
		Size:               p.Size,
		Qty:                p.Qty,
		StopLossPercentage: p.StopLossPercentage,
	}
}
