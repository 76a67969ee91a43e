// Package model defines the core domain types shared across the journal
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiveTrade is an open position in the journal. Created by a TradeCreated
// event, mutated in place by TradeUpdated, removed by TradeDeleted, and
// replaced by a ClosedTrade on TradeClosed.
type LiveTrade struct {
	ID                 string          `json:"id" db:"id"`
	AccountID          string          `json:"accountId" db:"account_id"`
	Symbol             string          `json:"symbol" db:"symbol"`
	EntryPrice         decimal.Decimal `json:"entryPrice" db:"entry_price"`
	TradeType          string          `json:"tradeType" db:"trade_type"` // "Initial", "Add", ...
	Size               string          `json:"size" db:"size"`            // e.g. "Full 25%"
	Qty                decimal.Decimal `json:"qty" db:"qty"`
	StopLossPercentage decimal.Decimal `json:"slPercentage" db:"sl_percentage"`
	EntryDate          time.Time       `json:"entryDate" db:"entry_date"`
}

// ClosedTrade is the terminal record of a trade. A trade id is unique across
// the live set; once closed, the same id identifies the closed record and the
// live record no longer exists.
type ClosedTrade struct {
	ID                 string          `json:"id" db:"id"`
	AccountID          string          `json:"accountId" db:"account_id"`
	Symbol             string          `json:"symbol" db:"symbol"`
	EntryPrice         decimal.Decimal `json:"entryPrice" db:"entry_price"`
	ExitPrice          decimal.Decimal `json:"exitPrice" db:"exit_price"`
	TradeType          string          `json:"tradeType" db:"trade_type"`
	Size               string          `json:"size" db:"size"`
	Qty                decimal.Decimal `json:"qty" db:"qty"`
	StopLossPercentage decimal.Decimal `json:"slPercentage" db:"sl_percentage"`
	Fees               decimal.Decimal `json:"fees" db:"fees"`
	RealizedPL         decimal.Decimal `json:"realizedPL" db:"realized_pl"`
	EntryDate          time.Time       `json:"entryDate" db:"entry_date"`
	ExitDate           time.Time       `json:"exitDate" db:"exit_date"`
}

// TradeUpdate is a partial set of mutable live-trade fields. Nil pointers
// mean "leave unchanged".
type TradeUpdate struct {
	Symbol             *string          `json:"symbol,omitempty"`
	EntryPrice         *decimal.Decimal `json:"entryPrice,omitempty"`
	TradeType          *string          `json:"tradeType,omitempty"`
	Size               *string          `json:"size,omitempty"`
	Qty                *decimal.Decimal `json:"qty,omitempty"`
	StopLossPercentage *decimal.Decimal `json:"slPercentage,omitempty"`
}

// IsZero reports whether the update carries no fields at all.
func (u TradeUpdate) IsZero() bool {
	return u.Symbol == nil && u.EntryPrice == nil && u.TradeType == nil &&
		u.Size == nil && u.Qty == nil && u.StopLossPercentage == nil
}

// RealizedPL computes the realized profit/loss of a closed trade:
// (exitPrice − entryPrice) × qty − fees.
func RealizedPL(entryPrice, exitPrice, qty, fees decimal.Decimal) decimal.Decimal {
	return exitPrice.Sub(entryPrice).Mul(qty).Sub(fees)
}

// CloseOut builds the closed record for a live trade at the given exit.
func (t *LiveTrade) CloseOut(exitPrice, fees decimal.Decimal, exitDate time.Time) *ClosedTrade {
	return &ClosedTrade{
		ID:                 t.ID,
		AccountID:          t.AccountID,
		Symbol:             t.Symbol,
		EntryPrice:         t.EntryPrice,
		ExitPrice:          exitPrice,
		TradeType:          t.TradeType,
		Size:               t.Size,
		Qty:                t.Qty,
		StopLossPercentage: t.StopLossPercentage,
		Fees:               fees,
		RealizedPL:         RealizedPL(t.EntryPrice, exitPrice, t.Qty, fees),
		EntryDate:          t.EntryDate,
		ExitDate:           exitDate,
	}
}
