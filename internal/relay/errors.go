package relay

import (
	"fmt"

	"github.com/tradevault/journal-engine/internal/event"
)

// ConnectionError means the broker stayed unreachable through the connect
// retry budget. Fatal at startup: the service must not accept traffic
// without a working producer.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection failed after retries: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError means a send failed through the publish retry budget. It is
// surfaced to the HTTP caller as a failed mutation; there is no local queue
// or dead-letter fallback.
type PublishError struct {
	Stream string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed after retries: %v", e.Stream, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ApplyError means a store apply failed through both the store adapter's and
// the consumer's retry budgets. Fatal to the consumer process: supervision
// restarts it and the broker redelivers the unacknowledged envelope.
type ApplyError struct {
	Type    event.Type
	TradeID string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s for trade %s failed after retries: %v", e.Type, e.TradeID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
