package book

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// commandType identifies commands processed by the book's actor loop.
type commandType int

const (
	cmdInsert commandType = iota
	cmdCancel
	cmdModify
	cmdMatch
	cmdMatchOrder
	cmdDepth
	cmdStats
	cmdSnapshot
)

type response struct {
	err  error
	data any
}

// command is the unified carrier for all operations entering the book loop.
// Using a single channel keeps command ordering deterministic.
type command struct {
	typ   commandType
	order Order
	id    string
	limit uint32
	resp  chan response
}

// DepthLevel is one aggregated price level of a depth view.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Count    int64           `json:"count"`
}

// Depth is a consistent aggregated view of both sides, best prices first.
type Depth struct {
	UpdateID uint64       `json:"update_id"`
	Bids     []DepthLevel `json:"bids"`
	Asks     []DepthLevel `json:"asks"`
}

// BookStats contains usage statistics about the order book.
type BookStats struct {
	BidDepthCount int64
	BidOrderCount int64
	AskDepthCount int64
	AskOrderCount int64
}

// OrderBook is a single-instrument limit order book with price-time priority.
//
// All mutating and reading operations are serialized through one command
// channel consumed by Start: the book is a single-writer actor, so the
// internal apply functions never need locks. Different symbols are fully
// independent books.
type OrderBook struct {
	symbol           string
	seqID            atomic.Uint64 // per-book event/arrival sequence
	isShutdown       atomic.Bool
	bids             *levelQueue
	asks             *levelQueue
	locations        map[string]*Order // order ID -> resident order (side, level and queue position follow from it)
	cmdChan          chan command
	done             chan struct{}
	shutdownComplete chan struct{}
	publisher        EventPublisher
	now              func() time.Time
}

// OrderBookOption configures an OrderBook.
type OrderBookOption func(*OrderBook)

// WithCommandBuffer sets the capacity of the command channel.
func WithCommandBuffer(size int) OrderBookOption {
	return func(b *OrderBook) {
		if size > 0 {
			b.cmdChan = make(chan command, size)
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) OrderBookOption {
	return func(b *OrderBook) {
		b.now = now
	}
}

// NewOrderBook creates a new order book for one symbol. A nil publisher
// discards events.
func NewOrderBook(symbol string, publisher EventPublisher, opts ...OrderBookOption) *OrderBook {
	if publisher == nil {
		publisher = NewDiscardPublisher()
	}

	b := &OrderBook{
		symbol:           symbol,
		bids:             newBidQueue(),
		asks:             newAskQueue(),
		locations:        make(map[string]*Order),
		cmdChan:          make(chan command, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publisher:        publisher,
		now:              func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Symbol returns the instrument this book serves.
func (b *OrderBook) Symbol() string {
	return b.symbol
}

// Insert places a resting order into the book. It does not trigger matching;
// callers decide when to invoke Match. Returns ErrDuplicateOrderID if the ID
// is already resident; the book is left unchanged on any error.
func (b *OrderBook) Insert(ctx context.Context, order Order) error {
	res, err := b.submit(ctx, command{typ: cmdInsert, order: order})
	if err != nil {
		return err
	}
	return res.err
}

// Cancel removes the order with the given ID from the book. Cancellation is
// all-or-nothing on the full remaining quantity.
func (b *OrderBook) Cancel(ctx context.Context, id string) error {
	if len(id) == 0 {
		return ErrInvalidParam
	}
	res, err := b.submit(ctx, command{typ: cmdCancel, id: id})
	if err != nil {
		return err
	}
	return res.err
}

// Modify amends the resident order with the same ID. A quantity-only change
// keeps the order's FIFO position; a price change re-queues it at the back of
// the new level, forfeiting time priority.
func (b *OrderBook) Modify(ctx context.Context, order Order) error {
	res, err := b.submit(ctx, command{typ: cmdModify, order: order})
	if err != nil {
		return err
	}
	return res.err
}

// Match crosses resting bids against resting asks while the best bid price is
// at or above the best ask price, returning the fills produced. Trades price
// at the resting ask level.
func (b *OrderBook) Match(ctx context.Context) ([]TradeReport, error) {
	res, err := b.submit(ctx, command{typ: cmdMatch})
	if err != nil {
		return nil, err
	}
	trades, _ := res.data.([]TradeReport)
	return trades, nil
}

// MatchOrder executes an aggressive incoming order directly against the
// resting book without resting it first. Trades price at the resting order's
// level. A limit-priced order rests any unfilled remainder at the back of its
// own side; a zero-priced (market) order cannot rest and its remainder is
// reported back in MatchResult.Remaining.
func (b *OrderBook) MatchOrder(ctx context.Context, order Order) (*MatchResult, error) {
	res, err := b.submit(ctx, command{typ: cmdMatchOrder, order: order})
	if err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	result, _ := res.data.(*MatchResult)
	return result, nil
}

// Depth returns the aggregated depth of both sides up to limit levels each.
func (b *OrderBook) Depth(ctx context.Context, limit uint32) (*Depth, error) {
	if limit == 0 {
		return nil, ErrInvalidParam
	}
	res, err := b.submit(ctx, command{typ: cmdDepth, limit: limit})
	if err != nil {
		return nil, err
	}
	depth, _ := res.data.(*Depth)
	return depth, nil
}

// BestBid returns the best bid level, or nil if the bid side is empty.
func (b *OrderBook) BestBid(ctx context.Context) (*DepthLevel, error) {
	depth, err := b.Depth(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(depth.Bids) == 0 {
		return nil, nil
	}
	return &depth.Bids[0], nil
}

// BestAsk returns the best ask level, or nil if the ask side is empty.
func (b *OrderBook) BestAsk(ctx context.Context) (*DepthLevel, error) {
	depth, err := b.Depth(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(depth.Asks) == 0 {
		return nil, nil
	}
	return &depth.Asks[0], nil
}

// Stats returns usage statistics for the order book.
func (b *OrderBook) Stats(ctx context.Context) (*BookStats, error) {
	res, err := b.submit(ctx, command{typ: cmdStats})
	if err != nil {
		return nil, err
	}
	stats, _ := res.data.(*BookStats)
	return stats, nil
}

// Snapshot captures a consistent copy of all resident orders in priority
// order. The snapshot is an in-memory value; the book itself is never
// persisted.
func (b *OrderBook) Snapshot(ctx context.Context) (*BookSnapshot, error) {
	res, err := b.submit(ctx, command{typ: cmdSnapshot})
	if err != nil {
		return nil, err
	}
	snap, _ := res.data.(*BookSnapshot)
	return snap, nil
}

// submit enqueues a command and waits for the loop's response. The caller's
// context bounds the whole serialized operation.
func (b *OrderBook) submit(ctx context.Context, cmd command) (response, error) {
	if b.isShutdown.Load() {
		return response{}, ErrShutdown
	}

	cmd.resp = make(chan response, 1)

	select {
	case b.cmdChan <- cmd:
	case <-b.done:
		return response{}, ErrShutdown
	case <-ctx.Done():
		return response{}, ErrTimeout
	}

	select {
	case res := <-cmd.resp:
		return res, nil
	case <-ctx.Done():
		return response{}, ErrTimeout
	}
}

// Start runs the order book loop, applying commands in arrival order.
// Returns nil when Shutdown is called and all pending commands are drained.
func (b *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-b.done:
			return b.drain()
		case cmd := <-b.cmdChan:
			b.apply(cmd)
		}
	}
}

// Shutdown signals the book to stop accepting commands and waits until the
// loop has drained. Returns ctx.Err() if the context expires first.
func (b *OrderBook) Shutdown(ctx context.Context) error {
	if b.isShutdown.CompareAndSwap(false, true) {
		close(b.done)
	}

	select {
	case <-b.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain applies all remaining queued commands before returning.
func (b *OrderBook) drain() error {
	defer close(b.shutdownComplete)

	for {
		select {
		case cmd := <-b.cmdChan:
			b.apply(cmd)
		default:
			return nil
		}
	}
}

// apply executes one command against book state and answers the caller.
func (b *OrderBook) apply(cmd command) {
	var res response

	switch cmd.typ {
	case cmdInsert:
		res.err = b.insert(cmd.order)
		if res.err != nil {
			b.reject(cmd.order.ID, res.err)
		}
	case cmdCancel:
		res.err = b.cancel(cmd.id)
		if res.err != nil {
			b.reject(cmd.id, res.err)
		}
	case cmdModify:
		res.err = b.modify(cmd.order)
		if res.err != nil {
			b.reject(cmd.order.ID, res.err)
		}
	case cmdMatch:
		res.data = b.match()
	case cmdMatchOrder:
		remaining, trades, err := b.matchIncoming(cmd.order)
		if err != nil {
			b.reject(cmd.order.ID, err)
			res.err = err
		} else {
			res.data = &MatchResult{Remaining: remaining, Trades: trades}
		}
	case cmdDepth:
		res.data = b.depth(cmd.limit)
	case cmdStats:
		res.data = &BookStats{
			BidDepthCount: b.bids.depthCount(),
			BidOrderCount: b.bids.orderCount(),
			AskDepthCount: b.asks.depthCount(),
			AskOrderCount: b.asks.orderCount(),
		}
	case cmdSnapshot:
		res.data = b.toSnapshot()
	}

	if cmd.resp != nil {
		select {
		case cmd.resp <- res:
		default:
		}
	}
}

// publish hands the event to the publisher and recycles it.
func (b *OrderBook) publish(ev *BookEvent) {
	b.publisher.Publish(ev)
	releaseEvent(ev)
}

// reject publishes a reject event for a command that failed validation.
// Rejects never mutate book state.
func (b *OrderBook) reject(orderID string, err error) {
	reason := rejectReasonFor(err)
	logger.Debug().
		Str("symbol", b.symbol).
		Str("order_id", orderID).
		Str("reason", string(reason)).
		Msg("command rejected")
	b.publish(newRejectEvent(b.seqID.Add(1), b.symbol, orderID, reason, b.now()))
}

func (b *OrderBook) queueFor(side Side) *levelQueue {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) validate(order Order) error {
	if order.Side != Buy && order.Side != Sell {
		return ErrInvalidSide
	}
	if len(order.ID) == 0 || order.Quantity.Sign() <= 0 {
		return ErrInvalidParam
	}
	return nil
}

// insert validates and places a resting copy of the order at the back of its
// price level's FIFO queue. No matching happens here.
func (b *OrderBook) insert(incoming Order) error {
	if err := b.validate(incoming); err != nil {
		return err
	}
	if incoming.Price.Sign() <= 0 {
		return ErrInvalidParam
	}
	if _, exists := b.locations[incoming.ID]; exists {
		return ErrDuplicateOrderID
	}

	order := new(Order)
	*order = incoming
	order.next = nil
	order.prev = nil

	seq := b.seqID.Add(1)
	order.Sequence = seq

	b.queueFor(order.Side).insert(order, false)
	b.locations[order.ID] = order

	b.publish(newOpenEvent(seq, b.symbol, order, b.now()))
	return nil
}

// cancel removes the order in O(1) via its stored location. The price level
// is dropped the instant it empties.
func (b *OrderBook) cancel(id string) error {
	order, ok := b.locations[id]
	if !ok {
		return ErrOrderNotFound
	}

	b.queueFor(order.Side).remove(order)
	delete(b.locations, id)

	b.publish(newCancelEvent(b.seqID.Add(1), b.symbol, order, b.now()))
	return nil
}

// modify amends the resident order. Identity fields (ID, side, symbol) must
// match the resident order; mismatches guard against misrouted updates.
func (b *OrderBook) modify(incoming Order) error {
	if err := b.validate(incoming); err != nil {
		return err
	}
	if incoming.Price.Sign() <= 0 {
		return ErrInvalidParam
	}

	order, ok := b.locations[incoming.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Side != incoming.Side || order.Symbol != incoming.Symbol {
		return ErrOrderMismatch
	}

	oldPrice := order.Price
	oldQuantity := order.Quantity
	seq := b.seqID.Add(1)

	if order.Price.Equal(incoming.Price) {
		// Amend without losing priority: quantity-only change, FIFO position kept.
		b.queueFor(order.Side).setQuantity(order, incoming.Quantity)
	} else {
		// Price changes always forfeit priority: remove and re-queue at the
		// back of the new level with a fresh arrival sequence.
		q := b.queueFor(order.Side)
		q.remove(order)
		order.Price = incoming.Price
		order.Quantity = incoming.Quantity
		order.Sequence = seq
		q.insert(order, false)
	}

	b.publish(newAmendEvent(seq, b.symbol, order, oldPrice, oldQuantity, b.now()))
	return nil
}

// match drains crossed price levels with price-time priority:
//
//  1. Stop when either side is empty or best bid < best ask.
//  2. Walk both best levels' FIFO queues from the front; each pair fills
//     min(bid, ask) quantity at the resting ask level's price.
//  3. A filled order is removed and its queue advances; a partially filled
//     order stays at the front while the counterpart side advances.
//  4. Empty levels are removed and the best levels re-evaluated.
func (b *OrderBook) match() []TradeReport {
	var trades []TradeReport

	for {
		bidLevel := b.bids.front()
		askLevel := b.asks.front()
		if bidLevel == nil || askLevel == nil {
			break
		}
		if bidLevel.price.LessThan(askLevel.price) {
			break
		}

		bidPrice := bidLevel.price
		askPrice := askLevel.price
		bid := bidLevel.head
		ask := askLevel.head

		for bid != nil && ask != nil {
			matched := decimal.Min(bid.Quantity, ask.Quantity)
			b.bids.reduce(bid, matched)
			b.asks.reduce(ask, matched)

			trades = append(trades, b.execute(bid.ID, ask.ID, askPrice, matched, bidPrice, askPrice))

			bid = b.settle(b.bids, bid)
			ask = b.settle(b.asks, ask)
		}
		// Empty levels were removed by settle; re-evaluate the new best pair.
	}

	return trades
}

// settle is the per-iteration state transition of the matching loop:
// filled -> remove and advance to the next order in the level,
// partial -> the order stays at the front of its queue.
func (b *OrderBook) settle(q *levelQueue, order *Order) *Order {
	if order.Quantity.Sign() > 0 {
		return order
	}
	next := order.next
	q.remove(order)
	delete(b.locations, order.ID)
	return next
}

// execute emits the trade report and match event for one fill.
func (b *OrderBook) execute(bidOrderID, askOrderID string, price, quantity, bidPrice, askPrice decimal.Decimal) TradeReport {
	now := b.now()
	trade := TradeReport{
		TradeID:    uuid.NewString(),
		SequenceID: b.seqID.Add(1),
		Symbol:     b.symbol,
		BidOrderID: bidOrderID,
		AskOrderID: askOrderID,
		Price:      price,
		Quantity:   quantity,
		CreatedAt:  now,
	}

	b.publish(newMatchEvent(trade.SequenceID, trade.TradeID, b.symbol,
		bidOrderID, askOrderID, price, quantity, bidPrice, askPrice, now))

	return trade
}

// matchIncoming executes an aggressive order against the resting book. The
// incoming order never rests first: it repeatedly takes the best opposite
// order, fills min quantity at the resting order's price, and stops when
// fully filled, when the opposite side is exhausted, or when its limit price
// no longer crosses. A limit-priced remainder is rested at the back of its
// own side; a market (zero-price) remainder is returned to the caller.
func (b *OrderBook) matchIncoming(incoming Order) (decimal.Decimal, []TradeReport, error) {
	if err := b.validate(incoming); err != nil {
		return decimal.Zero, nil, err
	}
	if incoming.Price.Sign() < 0 {
		return decimal.Zero, nil, ErrInvalidParam
	}
	if _, exists := b.locations[incoming.ID]; exists {
		return decimal.Zero, nil, ErrDuplicateOrderID
	}

	order := incoming
	order.next = nil
	order.prev = nil
	isLimit := order.Price.Sign() > 0
	opposite := b.queueFor(order.Side.Opposite())

	var trades []TradeReport

	for order.Quantity.Sign() > 0 {
		resting := opposite.peekFront()
		if resting == nil {
			break
		}

		if isLimit {
			if order.Side == Buy && order.Price.LessThan(resting.Price) ||
				order.Side == Sell && order.Price.GreaterThan(resting.Price) {
				break
			}
		}

		matched := decimal.Min(order.Quantity, resting.Quantity)
		order.Quantity = order.Quantity.Sub(matched)
		opposite.reduce(resting, matched)

		// The maker is always the resting order; the trade prices at its level.
		bidOrderID, askOrderID := order.ID, resting.ID
		bidPrice, askPrice := decimal.Zero, resting.Price
		if order.Side == Sell {
			bidOrderID, askOrderID = resting.ID, order.ID
			bidPrice, askPrice = resting.Price, decimal.Zero
		}
		trades = append(trades, b.execute(bidOrderID, askOrderID, resting.Price, matched, bidPrice, askPrice))

		b.settle(opposite, resting)
	}

	if order.Quantity.Sign() > 0 && isLimit {
		// Rest the remainder rather than silently discarding it.
		if err := b.insert(order); err != nil {
			return order.Quantity, trades, err
		}
	}

	return order.Quantity, trades, nil
}

// depth builds the aggregated view of both sides, best prices first.
func (b *OrderBook) depth(limit uint32) *Depth {
	collect := func(q *levelQueue) []DepthLevel {
		result := make([]DepthLevel, 0, limit)
		q.ascend(func(level *priceLevel) bool {
			result = append(result, DepthLevel{
				Price:    level.price,
				Quantity: level.totalQuantity,
				Count:    level.count,
			})
			return uint32(len(result)) < limit
		})
		return result
	}

	return &Depth{
		UpdateID: b.seqID.Load(),
		Bids:     collect(b.bids),
		Asks:     collect(b.asks),
	}
}
