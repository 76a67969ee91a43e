// Package relay publishes trade mutation commands to a Redis Stream and
// applies them to the trade store through a consumer group. Delivery is
// at-least-once; the store's idempotent apply absorbs duplicates.
package relay

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradevault/journal-engine/internal/event"
	"github.com/tradevault/journal-engine/internal/metrics"
	"github.com/tradevault/journal-engine/internal/retry"
)

// envelopeField is the stream entry field holding the encoded envelope.
// tradeIDField carries the ordering key alongside it so a future sharded
// topology can partition on trade id without re-decoding.
const (
	envelopeField = "envelope"
	tradeIDField  = "tradeId"
)

// StreamClient is the subset of redis commands the producer needs.
// *redis.Client satisfies it; tests use a fake.
type StreamClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Producer owns the broker session and publishes trade-event envelopes to a
// single stream. It never talks to the trade store.
type Producer struct {
	client  StreamClient
	stream  string
	tracer  trace.Tracer
	connect retry.Policy
	publish retry.Policy
}

// NewProducer creates a producer for the given stream.
func NewProducer(client StreamClient, stream string, tracer trace.Tracer) *Producer {
	return &Producer{
		client:  client,
		stream:  stream,
		tracer:  tracer,
		connect: retry.Connect,
		publish: retry.Publish,
	}
}

// Connect establishes the broker session, retrying with backoff (5 attempts,
// 1s base, factor 2). Exhaustion yields a *ConnectionError the caller must
// treat as fatal.
func (p *Producer) Connect(ctx context.Context) error {
	err := retry.Do(ctx, p.connect, func(ctx context.Context) error {
		if err := p.client.Ping(ctx).Err(); err != nil {
			slog.Warn("broker ping failed", "stream", p.stream, "err", err)
			return err
		}
		return nil
	})
	if err != nil {
		return &ConnectionError{Err: err}
	}
	slog.Info("producer connected", "stream", p.stream)
	return nil
}

// Publish encodes the envelope and appends it to the stream, retrying with
// backoff (3 attempts, 500ms base, factor 2). Each attempt runs in a trace
// span named after the stream. Exhaustion yields a *PublishError; the
// mutation did not happen and the caller must say so.
func (p *Producer) Publish(ctx context.Context, env event.Envelope) error {
	data, err := event.Encode(env)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, p.publish, func(ctx context.Context) error {
		ctx, span := p.tracer.Start(ctx, p.stream)
		defer span.End()

		addErr := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				envelopeField: string(data),
				tradeIDField:  env.Trade.ID,
			},
		}).Err()
		if addErr != nil {
			span.SetStatus(codes.Error, addErr.Error())
			metrics.PublishRetries.Inc()
			slog.Warn("publish attempt failed",
				"stream", p.stream, "event_type", string(env.Type),
				"trade_id", env.Trade.ID, "err", addErr)
			return addErr
		}
		span.SetStatus(codes.Ok, "")
		return nil
	})
	if err != nil {
		metrics.PublishesTotal.WithLabelValues(string(env.Type), "error").Inc()
		return &PublishError{Stream: p.stream, Err: err}
	}

	metrics.PublishesTotal.WithLabelValues(string(env.Type), "ok").Inc()
	slog.Info("envelope published",
		"stream", p.stream, "event_type", string(env.Type), "trade_id", env.Trade.ID)
	return nil
}
