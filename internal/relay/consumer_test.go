package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tradevault/journal-engine/internal/event"
	"github.com/tradevault/journal-engine/internal/model"
	"github.com/tradevault/journal-engine/internal/store"
)

// fakeGroup implements GroupClient, serving scripted message batches and
// cancelling the context once they run out so Run terminates.
type fakeGroup struct {
	groupErrs   []error
	batches     [][]redis.XMessage
	cursors     []string
	acked       []string
	groupCalls  int
	cancel      context.CancelFunc
}

func (f *fakeGroup) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.groupCalls++
	cmd := redis.NewStatusCmd(ctx)
	if len(f.groupErrs) > 0 {
		err := f.groupErrs[0]
		f.groupErrs = f.groupErrs[1:]
		if err != nil {
			cmd.SetErr(err)
			return cmd
		}
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeGroup) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.cursors = append(f.cursors, a.Streams[1])
	cmd := redis.NewXStreamSliceCmd(ctx)
	if len(f.batches) == 0 {
		if f.cancel != nil {
			f.cancel()
		}
		cmd.SetErr(redis.Nil)
		return cmd
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: b}})
	return cmd
}

func (f *fakeGroup) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func entry(t *testing.T, id string, env event.Envelope) redis.XMessage {
	t.Helper()
	data, err := event.Encode(env)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		envelopeField: string(data),
		tradeIDField:  env.Trade.ID,
	}}
}

func fastSleep(context.Context, time.Duration) error { return nil }

func newTestConsumer(fg *fakeGroup, st store.TradeStore) (*Consumer, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	fg.cancel = cancel

	c := NewConsumer(fg, st, "trade-events", "trade-group", "c1",
		noop.NewTracerProvider().Tracer("test"))
	c.connect.Sleep = fastSleep
	c.apply.Sleep = fastSleep
	return c, ctx
}

func TestConsumer_AppliesCreated(t *testing.T) {
	st := store.NewMemoryStore()
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{entry(t, "1-0", event.NewCreated(testTrade("t1")))},
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	got, err := st.GetLive(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccountID)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.True(t, got.EntryPrice.Equal(d(150)))
	assert.True(t, got.Qty.Equal(d(10)))

	assert.Equal(t, []string{"1-0"}, fg.acked)
}

func TestConsumer_CloseScenario(t *testing.T) {
	st := store.NewMemoryStore()
	fees := d(5)
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{entry(t, "1-0", event.NewCreated(testTrade("t1")))},
		{entry(t, "2-0", event.NewClosed("t1", d(160), &fees))},
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Live trade t1 no longer exists; closed trade t1 exists with
	// realizedPL = (160-150)*10 - 5 = 95.
	_, err = st.GetLive(context.Background(), "t1")
	require.ErrorIs(t, err, store.ErrNotFound)

	closed, err := st.ListClosed(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "t1", closed[0].ID)
	assert.True(t, closed[0].RealizedPL.Equal(d(95)), "realizedPL = %s", closed[0].RealizedPL)

	assert.Equal(t, []string{"1-0", "2-0"}, fg.acked)
}

// Redelivery of an already-applied close (at-least-once) must be absorbed
// by the idempotent store, not crash the consumer.
func TestConsumer_DuplicateCloseTolerated(t *testing.T) {
	st := store.NewMemoryStore()
	fees := d(5)
	closeEnv := event.NewClosed("t1", d(160), &fees)
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{entry(t, "1-0", event.NewCreated(testTrade("t1")))},
		{entry(t, "2-0", closeEnv)},
		{entry(t, "2-0", closeEnv)}, // redelivered
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	closed, err := st.ListClosed(context.Background(), "a1")
	require.NoError(t, err)
	assert.Len(t, closed, 1)
	assert.Equal(t, []string{"1-0", "2-0", "2-0"}, fg.acked)
}

func TestConsumer_UpdateAndDelete(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateLive(context.Background(), testTrade("t1")))
	require.NoError(t, st.CreateLive(context.Background(), testTrade("t2")))

	qty := d(25)
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{entry(t, "1-0", event.NewUpdated("t1", model.TradeUpdate{Qty: &qty}))},
		{entry(t, "2-0", event.NewDeleted("t2"))},
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	got, err := st.GetLive(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, got.Qty.Equal(d(25)))

	_, err = st.GetLive(context.Background(), "t2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// failingStore fails every mutation.
type failingStore struct {
	store.TradeStore
	calls int
}

func (f *failingStore) CreateLive(context.Context, *model.LiveTrade) error {
	f.calls++
	return errors.New("store down")
}

// Apply exhaustion terminates the read loop rather than silently advancing
// past the envelope; the entry stays unacked for redelivery.
func TestConsumer_ApplyExhaustionIsFatal(t *testing.T) {
	fs := &failingStore{TradeStore: store.NewMemoryStore()}
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{entry(t, "1-0", event.NewCreated(testTrade("t1")))},
	}}
	c, ctx := newTestConsumer(fg, fs)

	err := c.Run(ctx)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, event.TradeCreated, applyErr.Type)
	assert.Equal(t, "t1", applyErr.TradeID)

	assert.Equal(t, 3, fs.calls, "3 apply attempts before giving up")
	assert.Empty(t, fg.acked, "failed envelope must not be acknowledged")
}

// Malformed envelopes are deterministic failures: logged, acked, skipped.
func TestConsumer_MalformedSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{{ID: "1-0", Values: map[string]interface{}{envelopeField: `{"eventType":"Nope"}`}}},
		{entry(t, "2-0", event.NewCreated(testTrade("t1")))},
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The bad entry was acked and the loop moved on to the good one.
	assert.Equal(t, []string{"1-0", "2-0"}, fg.acked)
	_, err = st.GetLive(context.Background(), "t1")
	require.NoError(t, err)
}

func TestConsumer_JoinRetriesThenSucceeds(t *testing.T) {
	st := store.NewMemoryStore()
	fg := &fakeGroup{groupErrs: []error{errors.New("refused")}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, fg.groupCalls)
}

func TestConsumer_JoinBusyGroupTolerated(t *testing.T) {
	st := store.NewMemoryStore()
	fg := &fakeGroup{groupErrs: []error{errors.New("BUSYGROUP Consumer Group name already exists")}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fg.groupCalls)
}

func TestConsumer_JoinExhaustionIsFatal(t *testing.T) {
	st := store.NewMemoryStore()
	fg := &fakeGroup{groupErrs: []error{
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
		errors.New("refused"), errors.New("refused"),
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 5, fg.groupCalls)
}

// The loop drains this consumer's pending backlog ("0") before switching to
// new entries (">").
func TestConsumer_DrainsPendingBeforeNew(t *testing.T) {
	st := store.NewMemoryStore()
	fg := &fakeGroup{batches: [][]redis.XMessage{
		{entry(t, "1-0", event.NewCreated(testTrade("t1")))}, // pending redelivery
		{},                                                   // backlog drained
		{entry(t, "2-0", event.NewCreated(testTrade("t2")))}, // new entry
	}}
	c, ctx := newTestConsumer(fg, st)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.GreaterOrEqual(t, len(fg.cursors), 3)
	assert.Equal(t, "0", fg.cursors[0])
	assert.Equal(t, "0", fg.cursors[1])
	assert.Equal(t, ">", fg.cursors[2])

	_, err = st.GetLive(context.Background(), "t1")
	require.NoError(t, err)
	_, err = st.GetLive(context.Background(), "t2")
	require.NoError(t, err)
}
