package book

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayAll feeds every recorded event into the replica.
func replayAll(t *testing.T, ab *AggregatedBook, publisher *MemoryPublisher) {
	t.Helper()
	for _, ev := range publisher.Events() {
		require.NoError(t, ab.Replay(ev))
	}
}

// assertReplicaMatchesDepth compares the replica level by level with the
// book's own aggregated depth.
func assertReplicaMatchesDepth(t *testing.T, ab *AggregatedBook, depth *Depth) {
	t.Helper()

	assert.Equal(t, len(depth.Bids), ab.Levels(Buy))
	for _, level := range depth.Bids {
		quantity, found := ab.Depth(Buy, level.Price)
		require.True(t, found, "missing bid level %s", level.Price)
		assert.True(t, quantity.Equal(level.Quantity), "bid level %s: %s != %s", level.Price, quantity, level.Quantity)
	}

	assert.Equal(t, len(depth.Asks), ab.Levels(Sell))
	for _, level := range depth.Asks {
		quantity, found := ab.Depth(Sell, level.Price)
		require.True(t, found, "missing ask level %s", level.Price)
		assert.True(t, quantity.Equal(level.Quantity), "ask level %s: %s != %s", level.Price, quantity, level.Quantity)
	}
}

func TestAggregatedBook_ReplayTracksLiveBook(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()
	b := newStartedBook(t, publisher)

	require.NoError(t, b.Insert(ctx, limitOrder("b1", Buy, 101, 100)))
	require.NoError(t, b.Insert(ctx, limitOrder("b2", Buy, 100, 50)))
	require.NoError(t, b.Insert(ctx, limitOrder("a1", Sell, 99, 70)))
	require.NoError(t, b.Insert(ctx, limitOrder("a2", Sell, 102, 30)))
	require.NoError(t, b.Insert(ctx, limitOrder("a3", Sell, 101, 20)))
	require.NoError(t, b.Cancel(ctx, "b2"))
	require.NoError(t, b.Modify(ctx, limitOrder("b1", Buy, 101, 80)))
	_, err := b.Match(ctx)
	require.NoError(t, err)

	depth, err := b.Depth(ctx, 100)
	require.NoError(t, err)

	ab := NewAggregatedBook()
	replayAll(t, ab, publisher)
	assertReplicaMatchesDepth(t, ab, depth)
}

func TestAggregatedBook_ReplayMatchOrderEvents(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()
	b := newStartedBook(t, publisher)

	require.NoError(t, b.Insert(ctx, limitOrder("a1", Sell, 100, 10)))
	require.NoError(t, b.Insert(ctx, limitOrder("a2", Sell, 101, 10)))

	// An aggressive order only removes liquidity from the resident side;
	// its rested remainder shows up as its own open event.
	_, err := b.MatchOrder(ctx, limitOrder("b1", Buy, 101, 25))
	require.NoError(t, err)

	depth, err := b.Depth(ctx, 100)
	require.NoError(t, err)

	ab := NewAggregatedBook()
	replayAll(t, ab, publisher)
	assertReplicaMatchesDepth(t, ab, depth)

	price, quantity, ok := ab.BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(101)))
	assert.True(t, quantity.Equal(decimal.NewFromInt(5)))
}

func TestAggregatedBook_AmendMovesLevel(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()
	b := newStartedBook(t, publisher)

	require.NoError(t, b.Insert(ctx, limitOrder("b1", Buy, 100, 10)))
	require.NoError(t, b.Modify(ctx, limitOrder("b1", Buy, 99, 8)))

	ab := NewAggregatedBook()
	replayAll(t, ab, publisher)

	_, found := ab.Depth(Buy, decimal.NewFromInt(100))
	assert.False(t, found)
	quantity, found := ab.Depth(Buy, decimal.NewFromInt(99))
	require.True(t, found)
	assert.True(t, quantity.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, 1, ab.Levels(Buy))
}

func TestAggregatedBook_BestLevels(t *testing.T) {
	ab := NewAggregatedBook()

	_, _, ok := ab.BestBid()
	assert.False(t, ok)
	_, _, ok = ab.BestAsk()
	assert.False(t, ok)

	ab.Rebuild(&BookSnapshot{
		SequenceID: 3,
		Bids: []Order{
			{Side: Buy, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(10)},
			{Side: Buy, Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(5)},
		},
		Asks: []Order{
			{Side: Sell, Price: decimal.NewFromInt(103), Quantity: decimal.NewFromInt(7)},
			{Side: Sell, Price: decimal.NewFromInt(102), Quantity: decimal.NewFromInt(2)},
		},
	})

	price, quantity, ok := ab.BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(101)))
	assert.True(t, quantity.Equal(decimal.NewFromInt(5)))

	price, quantity, ok = ab.BestAsk()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(102)))
	assert.True(t, quantity.Equal(decimal.NewFromInt(2)))

	assert.Equal(t, uint64(3), ab.SequenceID())
}

func TestAggregatedBook_SequenceHandling(t *testing.T) {
	ab := NewAggregatedBook()

	open := func(seq uint64, price, quantity int64) *BookEvent {
		return &BookEvent{
			SequenceID: seq,
			Type:       EventTypeOpen,
			Side:       Buy,
			Price:      decimal.NewFromInt(price),
			Quantity:   decimal.NewFromInt(quantity),
		}
	}

	require.NoError(t, ab.Replay(open(1, 100, 10)))

	// A duplicate is silently skipped, not applied twice.
	require.NoError(t, ab.Replay(open(1, 100, 10)))
	quantity, _ := ab.Depth(Buy, decimal.NewFromInt(100))
	assert.True(t, quantity.Equal(decimal.NewFromInt(10)))

	// A gap is rejected and leaves the replica untouched.
	err := ab.Replay(open(5, 100, 99))
	assert.ErrorIs(t, err, ErrSequenceGap)
	quantity, _ = ab.Depth(Buy, decimal.NewFromInt(100))
	assert.True(t, quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, uint64(1), ab.SequenceID())

	require.NoError(t, ab.Replay(open(2, 100, 5)))
	quantity, _ = ab.Depth(Buy, decimal.NewFromInt(100))
	assert.True(t, quantity.Equal(decimal.NewFromInt(15)))
}

func TestAggregatedBook_RejectEventsAreNoOps(t *testing.T) {
	ab := NewAggregatedBook()

	require.NoError(t, ab.Replay(&BookEvent{
		SequenceID:   1,
		Type:         EventTypeReject,
		RejectReason: RejectReasonDuplicateID,
	}))

	assert.Equal(t, 0, ab.Levels(Buy))
	assert.Equal(t, 0, ab.Levels(Sell))
	assert.Equal(t, uint64(1), ab.SequenceID())
}

func TestAggregatedBook_SnapshotThenReplay(t *testing.T) {
	ctx := context.Background()
	publisher := NewMemoryPublisher()
	b := newStartedBook(t, publisher)

	require.NoError(t, b.Insert(ctx, limitOrder("b1", Buy, 100, 10)))
	require.NoError(t, b.Insert(ctx, limitOrder("a1", Sell, 101, 5)))

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)

	// Events after the snapshot point.
	require.NoError(t, b.Insert(ctx, limitOrder("a2", Sell, 101, 3)))
	require.NoError(t, b.Cancel(ctx, "b1"))

	ab := NewAggregatedBook()
	ab.Rebuild(snap)
	for _, ev := range publisher.Events() {
		// Events at or before the snapshot are skipped as duplicates.
		require.NoError(t, ab.Replay(ev))
	}

	depth, err := b.Depth(ctx, 100)
	require.NoError(t, err)
	assertReplicaMatchesDepth(t, ab, depth)
}
