package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradevault/journal-engine/internal/event"
	"github.com/tradevault/journal-engine/internal/metrics"
	"github.com/tradevault/journal-engine/internal/retry"
	"github.com/tradevault/journal-engine/internal/store"
)

// GroupClient is the subset of redis commands the consumer needs.
// *redis.Client satisfies it; tests use a fake.
type GroupClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Consumer joins a consumer group on the trade-events stream and applies
// each envelope to the trade store, one at a time, acknowledging only after
// a successful apply.
//
// Failure policy: a malformed envelope is deterministic — redelivery can
// never fix it — so it is logged, acknowledged, and skipped. An apply that
// exhausts its retry budget is fatal; the loop returns, the process exits,
// and the broker redelivers the unacknowledged entry after restart.
type Consumer struct {
	client  GroupClient
	store   store.TradeStore
	stream  string
	group   string
	name    string
	tracer  trace.Tracer
	connect retry.Policy
	apply   retry.Policy
	block   time.Duration

	// onApplied, when set, is invoked after each successful apply.
	onApplied func(event.Envelope)
}

// NewConsumer creates a consumer-group member. name identifies this instance
// within the group; messages are competed for across instances.
func NewConsumer(client GroupClient, st store.TradeStore, stream, group, name string, tracer trace.Tracer) *Consumer {
	return &Consumer{
		client:  client,
		store:   st,
		stream:  stream,
		group:   group,
		name:    name,
		tracer:  tracer,
		connect: retry.Connect,
		apply:   retry.Apply,
		block:   5 * time.Second,
	}
}

// OnApplied registers a hook invoked after each successful apply. Used to
// broadcast applied mutations to WebSocket subscribers.
func (c *Consumer) OnApplied(fn func(event.Envelope)) { c.onApplied = fn }

// Run subscribes from the earliest retained entry and processes envelopes
// until the context is cancelled or a fatal apply failure occurs. It first
// drains entries that were delivered to this consumer before a crash, then
// blocks on new ones.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.join(ctx); err != nil {
		return err
	}

	slog.Info("consumer joined group",
		"stream", c.stream, "group", c.group, "consumer", c.name)

	// "0" reads this consumer's pending (delivered, unacked) backlog;
	// ">" reads entries never delivered to the group.
	cursor := "0"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		args := &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, cursor},
			Count:    1,
		}
		if cursor == ">" {
			args.Block = c.block
		}

		streams, err := c.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timed out, nothing new
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient read failure: back off briefly and keep the loop alive.
			slog.Warn("stream read failed", "stream", c.stream, "err", err)
			if serr := sleepContext(ctx, time.Second); serr != nil {
				return serr
			}
			continue
		}

		var msgs []redis.XMessage
		if len(streams) > 0 {
			msgs = streams[0].Messages
		}
		if len(msgs) == 0 {
			if cursor == "0" {
				cursor = ">" // pending backlog drained
			}
			continue
		}

		for _, msg := range msgs {
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// join ensures the consumer group exists, reading from the earliest retained
// entry, under the same connect-retry policy as the producer.
func (c *Consumer) join(ctx context.Context) error {
	err := retry.Do(ctx, c.connect, func(ctx context.Context) error {
		err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			slog.Warn("group subscribe failed",
				"stream", c.stream, "group", c.group, "err", err)
			return err
		}
		return nil
	})
	if err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

// handle processes one stream entry to completion: decode, dispatch with
// retry, acknowledge. A non-nil return is fatal to the read loop.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	raw, _ := msg.Values[envelopeField].(string)
	env, err := event.Decode([]byte(raw))
	if err != nil {
		metrics.MalformedEnvelopes.Inc()
		slog.Error("malformed envelope skipped",
			"stream", c.stream, "entry_id", msg.ID, "err", err)
		return c.ack(ctx, msg.ID)
	}

	start := time.Now()
	err = retry.Do(ctx, c.apply, func(ctx context.Context) error {
		ctx, span := c.tracer.Start(ctx, string(env.Type))
		defer span.End()

		if err := c.dispatch(ctx, env); err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			metrics.ApplyRetries.Inc()
			slog.Warn("apply attempt failed",
				"event_type", string(env.Type), "trade_id", env.Trade.ID, "err", err)
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	})
	if err != nil {
		metrics.AppliesTotal.WithLabelValues(string(env.Type), "error").Inc()
		return &ApplyError{Type: env.Type, TradeID: env.Trade.ID, Err: err}
	}

	metrics.AppliesTotal.WithLabelValues(string(env.Type), "ok").Inc()
	metrics.ApplyLatency.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())
	slog.Info("envelope applied",
		"event_type", string(env.Type), "trade_id", env.Trade.ID, "entry_id", msg.ID)

	if c.onApplied != nil {
		c.onApplied(env)
	}
	return c.ack(ctx, msg.ID)
}

// dispatch applies one envelope to the trade store. The switch is
// exhaustive over the closed tag set; decode has already rejected anything
// else.
func (c *Consumer) dispatch(ctx context.Context, env event.Envelope) error {
	switch env.Type {
	case event.TradeCreated:
		t, err := env.Trade.LiveTrade()
		if err != nil {
			return err
		}
		return c.store.CreateLive(ctx, t)

	case event.TradeUpdated:
		u := env.Trade.Update()
		if u.IsZero() {
			return fmt.Errorf("trade %s: update carries no fields", env.Trade.ID)
		}
		return c.store.UpdateLive(ctx, env.Trade.ID, u)

	case event.TradeDeleted:
		return c.store.DeleteLive(ctx, env.Trade.ID)

	case event.TradeClosed:
		if env.Trade.ExitPrice == nil {
			return fmt.Errorf("trade %s: exitPrice is required to close", env.Trade.ID)
		}
		fees := decimal.Zero
		if env.Trade.Fees != nil {
			fees = *env.Trade.Fees
		}
		_, err := c.store.Close(ctx, env.Trade.ID, *env.Trade.ExitPrice, fees)
		return err

	default:
		return fmt.Errorf("unhandled event type %q", env.Type)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		// An unacked entry is redelivered after restart; the idempotent
		// store absorbs the duplicate. Not fatal.
		slog.Warn("ack failed", "stream", c.stream, "entry_id", id, "err", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
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
