// Package retry provides an explicit retry policy value and a
// retry-with-backoff combinator, shared by broker connect, publish, and the
// store apply path.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff: the first failure waits
// BaseDelay, each subsequent failure multiplies the wait by Factor.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64

	// Sleep is the wait between attempts. Nil means a real,
	// context-aware sleep; tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Canonical policies. Connect is shared by producer session setup and
// consumer group subscription; Publish, Apply, and Store share the shorter
// budget.
var (
	Connect = Policy{MaxAttempts: 5, BaseDelay: time.Second, Factor: 2}
	Publish = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Factor: 2}
	Apply   = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Factor: 2}
	Store   = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Factor: 2}
)

// Do runs op until it succeeds or the policy's attempt budget is exhausted,
// sleeping between attempts. It returns the last error on exhaustion, or the
// context error if the context is cancelled mid-wait. Transient failures that
// eventually succeed are never surfaced.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts {
			return err
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
