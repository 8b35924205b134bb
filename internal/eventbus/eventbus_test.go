package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/protocol"
)

type collector struct {
	mu  sync.Mutex
	got []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, ev := range c.got {
		out[i] = ev.EventType
	}
	return out
}

func TestMemoryBusFilterAndOrder(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var all, frozen collector
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{"piece.frozen"}}, frozen.handle)
	require.NoError(t, err)

	for _, typ := range []string{"piece.spawned", "piece.frozen", "score.changed", "piece.frozen"} {
		require.NoError(t, bus.Publish(ctx, &Envelope{EventType: typ, Priority: 9}))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{"piece.spawned", "piece.frozen", "score.changed", "piece.frozen"}, all.types())
	assert.Equal(t, []string{"piece.frozen", "piece.frozen"}, frozen.types())

	stats := bus.Metrics()
	assert.Equal(t, uint64(4), stats.Published)
	assert.Equal(t, uint64(6), stats.Consumed)
	assert.ErrorIs(t, bus.Publish(ctx, &Envelope{}), ErrClosed)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: "x", Priority: 9}))
	require.NoError(t, bus.Close())
	assert.Empty(t, c.types())
}

func TestSinkPublishesEnvelopes(t *testing.T) {
	bus := NewMemoryBus(64)
	var c collector
	_, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	sink := NewSink(bus, "host-test", 16)
	sink.Observe(&protocol.Event{Seq: 1, Kind: protocol.KindStateChanged,
		StateChanged: &protocol.StateChanged{Old: protocol.StateWaiting, New: protocol.StatePlaying, Version: 1}})
	sink.Observe(&protocol.Event{Seq: 2, Kind: protocol.KindPieceFrozen,
		PieceFrozen: &protocol.PieceFrozen{PieceID: 7, Cubes: []grid.Cube{{ID: 3, Cell: grid.Cell{Plane: 0, Row: 1, Col: 2}}}}})
	sink.Observe(&protocol.Event{Seq: 3, Kind: protocol.KindStateChanged,
		StateChanged: &protocol.StateChanged{Old: protocol.StatePlaying, New: protocol.StateGameOver, Version: 2}})
	sink.Observe(&protocol.Event{Seq: 4, Kind: protocol.KindStateChanged,
		StateChanged: &protocol.StateChanged{Old: protocol.StateGameOver, New: protocol.StatePlaying, Version: 3}})
	sink.Observe(&protocol.Event{Seq: 5, Kind: protocol.KindFeedback, Target: 2,
		Feedback: &protocol.Feedback{Intent: "row+", Accepted: true}})
	sink.Close()
	require.NoError(t, bus.Close())

	require.Len(t, c.got, 5)
	first, frozen, over, restarted, fb := c.got[0], c.got[1], c.got[2], c.got[3], c.got[4]

	assert.Equal(t, "host-test", frozen.Source)
	assert.Equal(t, uint64(2), frozen.Seq)
	assert.NotEmpty(t, frozen.ID)
	assert.NotEqual(t, first.ID, frozen.ID)

	assert.Equal(t, first.MatchID, frozen.MatchID, "один раунд")
	assert.Equal(t, first.MatchID, over.MatchID)
	assert.NotEqual(t, over.MatchID, restarted.MatchID, "перезапуск начинает новый раунд")

	assert.Equal(t, "2", fb.Metadata["target"])
	assert.Equal(t, 1, fb.Priority)
	assert.Equal(t, 9, first.Priority)

	ev, err := DecodeEvent(frozen)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindPieceFrozen, ev.Kind)
	require.NotNil(t, ev.PieceFrozen)
	assert.Equal(t, uint64(7), ev.PieceFrozen.PieceID)
	assert.Equal(t, grid.Cell{Plane: 0, Row: 1, Col: 2}, ev.PieceFrozen.Cubes[0].Cell)
}

func TestDecodeEventRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeEvent(&Envelope{Version: 99})
	assert.Error(t, err)
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(8)
	reg := prometheus.NewRegistry()
	exp := NewMetricsExporter(bus, reg)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: "x", Priority: 9}))
	}
	require.NoError(t, bus.Close())

	exp.Collect()
	exp.Collect()
	assert.Equal(t, 3.0, testutil.ToFloat64(exp.published))
	assert.Equal(t, 0.0, testutil.ToFloat64(exp.inflight))
}

func TestGlobalPublishWithoutBus(t *testing.T) {
	assert.NoError(t, Publish(context.Background(), &Envelope{}))

	bus := NewMemoryBus(1)
	Init(bus)
	defer Init(nil)
	assert.Same(t, bus, Global())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, Publish(ctx, &Envelope{Priority: 9}))
	require.NoError(t, bus.Close())
}
