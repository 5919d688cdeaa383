package book

// BookSnapshot is a consistent in-memory copy of a single book's resident
// orders, in priority order (best level first, FIFO within a level). It backs
// read-side replicas and rebuilds; the book itself is never persisted.
type BookSnapshot struct {
	Symbol     string  `json:"symbol"`
	SequenceID uint64  `json:"seq_id"`
	Bids       []Order `json:"bids"`
	Asks       []Order `json:"asks"`
}

// toSnapshot captures the current book state. Called from the book loop, so
// it is consistent with respect to command processing.
func (b *OrderBook) toSnapshot() *BookSnapshot {
	return &BookSnapshot{
		Symbol:     b.symbol,
		SequenceID: b.seqID.Load(),
		Bids:       b.bids.toSnapshot(),
		Asks:       b.asks.toSnapshot(),
	}
}

// Restore rebuilds the book from a snapshot, replacing any current state.
// Orders are re-queued in snapshot order with their original arrival
// sequences, so FIFO priority within each level is exactly reproduced.
// Restore must be called before Start.
func (b *OrderBook) Restore(snap *BookSnapshot) {
	b.seqID.Store(snap.SequenceID)
	b.bids = newBidQueue()
	b.asks = newAskQueue()
	b.locations = make(map[string]*Order, len(snap.Bids)+len(snap.Asks))

	restore := func(orders []Order, q *levelQueue) {
		for i := range orders {
			order := new(Order)
			*order = orders[i]
			order.next = nil
			order.prev = nil
			q.insert(order, false)
			b.locations[order.ID] = order
			if order.Sequence > b.seqID.Load() {
				b.seqID.Store(order.Sequence)
			}
		}
	}

	restore(snap.Bids, b.bids)
	restore(snap.Asks, b.asks)
}
