package book

import (
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// DepthChange represents a change in the order book depth caused by one event.
type DepthChange struct {
	Side         Side
	Price        decimal.Decimal
	QuantityDiff decimal.Decimal
}

// calculateDepthChanges derives the depth deltas implied by a book event.
// A match can touch both sides (two resting orders cross); the event's
// BidPrice/AskPrice fields say which sides were resident.
func calculateDepthChanges(ev *BookEvent) []DepthChange {
	switch ev.Type {
	case EventTypeOpen:
		return []DepthChange{{
			Side:         ev.Side,
			Price:        ev.Price,
			QuantityDiff: ev.Quantity,
		}}
	case EventTypeCancel:
		return []DepthChange{{
			Side:         ev.Side,
			Price:        ev.Price,
			QuantityDiff: ev.Quantity.Neg(),
		}}
	case EventTypeAmend:
		if !ev.OldPrice.Equal(ev.Price) {
			// The order moved levels: remove the old quantity, add the new.
			return []DepthChange{
				{Side: ev.Side, Price: ev.OldPrice, QuantityDiff: ev.OldQuantity.Neg()},
				{Side: ev.Side, Price: ev.Price, QuantityDiff: ev.Quantity},
			}
		}
		return []DepthChange{{
			Side:         ev.Side,
			Price:        ev.Price,
			QuantityDiff: ev.Quantity.Sub(ev.OldQuantity),
		}}
	case EventTypeMatch:
		changes := make([]DepthChange, 0, 2)
		if ev.BidPrice.Sign() > 0 {
			changes = append(changes, DepthChange{
				Side:         Buy,
				Price:        ev.BidPrice,
				QuantityDiff: ev.Quantity.Neg(),
			})
		}
		if ev.AskPrice.Sign() > 0 {
			changes = append(changes, DepthChange{
				Side:         Sell,
				Price:        ev.AskPrice,
				QuantityDiff: ev.Quantity.Neg(),
			})
		}
		return changes
	case EventTypeReject:
		// Rejected commands never entered the book, so no depth change.
		return nil
	}

	return nil
}

// AggregatedBook maintains a depth-only replica of one book, tracking price
// levels and their aggregated quantities. It is designed for downstream
// consumers that rebuild book state from the BookEvent stream.
type AggregatedBook struct {
	mu    sync.RWMutex
	seqID uint64
	bids  *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	asks  *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

// NewAggregatedBook creates an empty aggregated book.
func NewAggregatedBook() *AggregatedBook {
	less := func(a, b decimal.Decimal) bool {
		return a.LessThan(b)
	}
	return &AggregatedBook{
		bids: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](less),
		asks: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](less),
	}
}

// SequenceID returns the last applied event sequence ID, used for
// synchronization and gap detection during rebuild.
func (ab *AggregatedBook) SequenceID() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.seqID
}

// Replay applies a BookEvent to the replica. Events at or below the current
// sequence are duplicates and are skipped; a sequence jump beyond the next
// expected ID returns ErrSequenceGap and leaves the replica unchanged.
func (ab *AggregatedBook) Replay(ev *BookEvent) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ev.SequenceID <= ab.seqID {
		return nil
	}
	if ev.SequenceID != ab.seqID+1 {
		return ErrSequenceGap
	}

	for _, change := range calculateDepthChanges(ev) {
		ab.applyChange(change)
	}
	ab.seqID = ev.SequenceID
	return nil
}

// Rebuild resets the replica from a snapshot. Call before replaying events
// newer than the snapshot.
func (ab *AggregatedBook) Rebuild(snap *BookSnapshot) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.bids.Clear()
	ab.asks.Clear()
	for i := range snap.Bids {
		ab.applyChange(DepthChange{Side: Buy, Price: snap.Bids[i].Price, QuantityDiff: snap.Bids[i].Quantity})
	}
	for i := range snap.Asks {
		ab.applyChange(DepthChange{Side: Sell, Price: snap.Asks[i].Price, QuantityDiff: snap.Asks[i].Quantity})
	}
	ab.seqID = snap.SequenceID
}

// Depth returns the aggregated quantity at a price level, or false if the
// level does not exist.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) (decimal.Decimal, bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	quantity, ok := ab.tree(side).Get(price)
	return quantity, ok
}

// BestBid returns the highest bid level.
func (ab *AggregatedBook) BestBid() (price, quantity decimal.Decimal, ok bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	it := ab.bids.Reverse()
	if !it.Valid() {
		return decimal.Zero, decimal.Zero, false
	}
	return it.Key(), it.Value(), true
}

// BestAsk returns the lowest ask level.
func (ab *AggregatedBook) BestAsk() (price, quantity decimal.Decimal, ok bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	it := ab.asks.Iterator()
	if !it.Valid() {
		return decimal.Zero, decimal.Zero, false
	}
	return it.Key(), it.Value(), true
}

// Levels returns the number of price levels on a side.
func (ab *AggregatedBook) Levels(side Side) int {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.tree(side).Len()
}

func (ab *AggregatedBook) tree(side Side) *treemap.TreeMap[decimal.Decimal, decimal.Decimal] {
	if side == Buy {
		return ab.bids
	}
	return ab.asks
}

func (ab *AggregatedBook) applyChange(change DepthChange) {
	if change.QuantityDiff.IsZero() {
		return
	}
	tree := ab.tree(change.Side)
	current, _ := tree.Get(change.Price)
	updated := current.Add(change.QuantityDiff)
	if updated.Sign() <= 0 {
		tree.Del(change.Price)
		return
	}
	tree.Set(change.Price, updated)
}
