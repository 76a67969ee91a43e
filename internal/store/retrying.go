package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-engine/internal/model"
	"github.com/tradevault/journal-engine/internal/retry"
)

// RetryingStore wraps a TradeStore so each mutation is retried with backoff
// (3 attempts, 500ms base, factor 2). This retry is independent of, and
// nested inside, the consumer's own apply retry. Reads pass through.
type RetryingStore struct {
	primary TradeStore
	policy  retry.Policy
}

// NewRetryingStore creates a retrying wrapper around a primary store.
func NewRetryingStore(primary TradeStore) *RetryingStore {
	return &RetryingStore{primary: primary, policy: retry.Store}
}

func (s *RetryingStore) CreateLive(ctx context.Context, t *model.LiveTrade) error {
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.primary.CreateLive(ctx, t)
	})
}

func (s *RetryingStore) UpdateLive(ctx context.Context, id string, u model.TradeUpdate) error {
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.primary.UpdateLive(ctx, id, u)
	})
}

func (s *RetryingStore) DeleteLive(ctx context.Context, id string) error {
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.primary.DeleteLive(ctx, id)
	})
}

// Close retries the compound delete-live + create-closed operation as a
// whole, never split; the primary's idempotent close makes a retry after
// partial completion safe.
func (s *RetryingStore) Close(ctx context.Context, id string, exitPrice, fees decimal.Decimal) (*model.ClosedTrade, error) {
	var closed *model.ClosedTrade
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		closed, err = s.primary.Close(ctx, id, exitPrice, fees)
		return err
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *RetryingStore) GetLive(ctx context.Context, id string) (*model.LiveTrade, error) {
	return s.primary.GetLive(ctx, id)
}

func (s *RetryingStore) ListLive(ctx context.Context, accountID string) ([]model.LiveTrade, error) {
	return s.primary.ListLive(ctx, accountID)
}

func (s *RetryingStore) ListClosed(ctx context.Context, accountID string) ([]model.ClosedTrade, error) {
	return s.primary.ListClosed(ctx, accountID)
}
