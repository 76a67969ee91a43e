package event_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradevault/journal-engine/internal/event"
	"github.com/tradevault/journal-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func sampleTrade() *model.LiveTrade {
	return &model.LiveTrade{
		ID:                 "t1",
		AccountID:          "a1",
		Symbol:             "AAPL",
		EntryPrice:         d(150),
		TradeType:          "Initial",
		Size:               "Full 25%",
		Qty:                d(10),
		StopLossPercentage: d(4),
		EntryDate:          time.Date(2025, 8, 1, 14, 30, 0, 0, time.UTC),
	}
}

func TestRoundTrip(t *testing.T) {
	fees := d(5)
	envelopes := []event.Envelope{
		event.NewCreated(sampleTrade()),
		event.NewUpdated("t1", model.TradeUpdate{Qty: ptr(d(20)), Size: ptr("Half")}),
		event.NewDeleted("t1"),
		event.NewClosed("t1", d(160), &fees),
		event.NewClosed("t1", d(160), nil),
	}

	for _, env := range envelopes {
		data, err := event.Encode(env)
		require.NoError(t, err, "encode %s", env.Type)

		got, err := event.Decode(data)
		require.NoError(t, err, "decode %s", env.Type)
		assert.Equal(t, env, got, "round trip %s", env.Type)
	}
}

func TestDecode_MissingEventType(t *testing.T) {
	_, err := event.Decode([]byte(`{"trade":{"id":"t1"}}`))
	var malformed *event.MalformedError
	require.ErrorAs(t, err, &malformed)
}

func TestDecode_UnknownEventType(t *testing.T) {
	_, err := event.Decode([]byte(`{"eventType":"TradeReversed","trade":{"id":"t1"}}`))
	var malformed *event.MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Error(), "TradeReversed")
}

func TestDecode_MissingTradeID(t *testing.T) {
	for _, payload := range []string{
		`{"eventType":"TradeCreated"}`,
		`{"eventType":"TradeCreated","trade":{}}`,
		`{"eventType":"TradeDeleted","trade":{"id":""}}`,
	} {
		_, err := event.Decode([]byte(payload))
		var malformed *event.MalformedError
		require.ErrorAs(t, err, &malformed, "payload %s", payload)
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := event.Decode([]byte(`{"eventType":`))
	var malformed *event.MalformedError
	require.ErrorAs(t, err, &malformed)
}

// A well-formed envelope with a semantically empty trade body decodes
// cleanly; the dispatch layer rejects it, not the codec.
func TestDecode_EmptyBodyIsNotMalformed(t *testing.T) {
	env, err := event.Decode([]byte(`{"eventType":"TradeUpdated","trade":{"id":"t1"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.TradeUpdated, env.Type)
	assert.True(t, env.Trade.Update().IsZero())
}

func TestEncode_RejectsBadConstruction(t *testing.T) {
	_, err := event.Encode(event.Envelope{Type: "Bogus", Trade: event.Payload{ID: "t1"}})
	require.Error(t, err)

	_, err = event.Encode(event.Envelope{Type: event.TradeDeleted})
	require.Error(t, err)
}

func TestPayload_LiveTradeRequiresCoreFields(t *testing.T) {
	env := event.NewCreated(sampleTrade())
	got, err := env.Trade.LiveTrade()
	require.NoError(t, err)
	assert.Equal(t, sampleTrade(), got)

	// Strip required fields one at a time.
	missing := env
	missing.Trade.AccountID = ""
	_, err = missing.Trade.LiveTrade()
	require.Error(t, err)

	missing = env
	missing.Trade.EntryPrice = nil
	_, err = missing.Trade.LiveTrade()
	require.Error(t, err)

	missing = env
	missing.Trade.Qty = nil
	_, err = missing.Trade.LiveTrade()
	require.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
