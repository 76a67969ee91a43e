// Package store defines the persistence interface for the trade journal.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing). The relay consumer only ever mutates trades through this
// interface.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/model"
)

// ErrNotFound is returned when a trade id has no live record (and, for
// Close, no closed record either).
var ErrNotFound = errors.New("trade not found")

// TradeStore is the durable trade persistence interface.
//
// Close is a compound operation (delete live, create closed) that must be
// idempotent: re-invoking it after partial completion tolerates "already
// deleted" and still yields the closed record deterministically. The relay
// relies on this for at-least-once redelivery.
type TradeStore interface {
	// CreateLive persists a new live trade. The id is assigned by the caller.
	CreateLive(ctx context.Context, t *model.LiveTrade) error

	// UpdateLive applies a partial mutation to a live trade by id.
	UpdateLive(ctx context.Context, id string, u model.TradeUpdate) error

	// DeleteLive removes a live trade by id.
	DeleteLive(ctx context.Context, id string) error

	// Close atomically replaces the live trade with a closed record at the
	// given exit price and fees, returning the closed record.
	Close(ctx context.Context, id string, exitPrice, fees decimal.Decimal) (*model.ClosedTrade, error)

	// --- Reads for the HTTP surface ---

	GetLive(ctx context.Context, id string) (*model.LiveTrade, error)
	ListLive(ctx context.Context, accountID string) ([]model.LiveTrade, error)
	ListClosed(ctx context.Context, accountID string) ([]model.ClosedTrade, error)
}
