package book

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeOpen   EventType = "open"
	EventTypeMatch  EventType = "match"
	EventTypeCancel EventType = "cancel"
	EventTypeAmend  EventType = "amend"
	EventTypeReject EventType = "reject"
)

// RejectReason explains why a command was rejected without mutating the book.
type RejectReason string

const (
	RejectReasonNone          RejectReason = ""
	RejectReasonDuplicateID   RejectReason = "duplicate_order_id"
	RejectReasonOrderNotFound RejectReason = "order_not_found"
	RejectReasonOrderMismatch RejectReason = "order_mismatch"
	RejectReasonInvalidSide   RejectReason = "invalid_side"
	RejectReasonInvalidParam  RejectReason = "invalid_param"
)

// BookEvent represents an event in the order book.
// SequenceID is a per-book increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use Type to determine if the event affects order book state:
// - Open, Match, Cancel, Amend: affect order book state
// - Reject: does not affect order book state
type BookEvent struct {
	SequenceID  uint64          `json:"seq_id"`
	TradeID     string          `json:"trade_id,omitempty"` // only set for Match events
	Type        EventType       `json:"type"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	OldPrice    decimal.Decimal `json:"old_price,omitempty"` // only set for Amend events
	OldQuantity decimal.Decimal `json:"old_quantity,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	BidOrderID  string          `json:"bid_order_id,omitempty"` // only set for Match events
	AskOrderID  string          `json:"ask_order_id,omitempty"`
	// BidPrice/AskPrice are the resident level prices of the matched orders.
	// A zero value means that side was the aggressive (non-resident) order.
	BidPrice     decimal.Decimal `json:"bid_price,omitempty"`
	AskPrice     decimal.Decimal `json:"ask_price,omitempty"`
	RejectReason RejectReason    `json:"reject_reason,omitempty"` // only set for Reject events
	CreatedAt    time.Time       `json:"created_at"`
}

var eventPool = sync.Pool{
	New: func() any {
		return new(BookEvent)
	},
}

func acquireEvent() *BookEvent {
	return eventPool.Get().(*BookEvent)
}

func releaseEvent(ev *BookEvent) {
	// Reset to zero values. For decimal.Decimal the zero value represents 0,
	// which is valid.
	*ev = BookEvent{}
	eventPool.Put(ev)
}

func newOpenEvent(seqID uint64, symbol string, order *Order, now time.Time) *BookEvent {
	ev := acquireEvent()
	ev.SequenceID = seqID
	ev.Type = EventTypeOpen
	ev.Symbol = symbol
	ev.Side = order.Side
	ev.Price = order.Price
	ev.Quantity = order.Quantity
	ev.OrderID = order.ID
	ev.CreatedAt = now
	return ev
}

func newCancelEvent(seqID uint64, symbol string, order *Order, now time.Time) *BookEvent {
	ev := acquireEvent()
	ev.SequenceID = seqID
	ev.Type = EventTypeCancel
	ev.Symbol = symbol
	ev.Side = order.Side
	ev.Price = order.Price
	ev.Quantity = order.Quantity
	ev.OrderID = order.ID
	ev.CreatedAt = now
	return ev
}

func newAmendEvent(seqID uint64, symbol string, order *Order, oldPrice, oldQuantity decimal.Decimal, now time.Time) *BookEvent {
	ev := acquireEvent()
	ev.SequenceID = seqID
	ev.Type = EventTypeAmend
	ev.Symbol = symbol
	ev.Side = order.Side
	ev.Price = order.Price
	ev.Quantity = order.Quantity
	ev.OldPrice = oldPrice
	ev.OldQuantity = oldQuantity
	ev.OrderID = order.ID
	ev.CreatedAt = now
	return ev
}

// newMatchEvent records one fill. bidPrice and askPrice carry the resident
// level prices so downstream depth replicas can subtract liquidity from the
// right levels; the aggressive side of an incoming-order match passes zero.
func newMatchEvent(seqID uint64, tradeID string, symbol string, bidOrderID, askOrderID string, price, quantity, bidPrice, askPrice decimal.Decimal, now time.Time) *BookEvent {
	ev := acquireEvent()
	ev.SequenceID = seqID
	ev.TradeID = tradeID
	ev.Type = EventTypeMatch
	ev.Symbol = symbol
	ev.Price = price
	ev.Quantity = quantity
	ev.BidOrderID = bidOrderID
	ev.AskOrderID = askOrderID
	ev.BidPrice = bidPrice
	ev.AskPrice = askPrice
	ev.CreatedAt = now
	return ev
}

func newRejectEvent(seqID uint64, symbol string, orderID string, reason RejectReason, now time.Time) *BookEvent {
	ev := acquireEvent()
	ev.SequenceID = seqID
	ev.Type = EventTypeReject
	ev.Symbol = symbol
	ev.OrderID = orderID
	ev.RejectReason = reason
	ev.CreatedAt = now
	return ev
}

// rejectReasonFor maps a validation error to its published reject reason.
func rejectReasonFor(err error) RejectReason {
	switch {
	case err == nil:
		return RejectReasonNone
	case errors.Is(err, ErrDuplicateOrderID):
		return RejectReasonDuplicateID
	case errors.Is(err, ErrOrderNotFound):
		return RejectReasonOrderNotFound
	case errors.Is(err, ErrOrderMismatch):
		return RejectReasonOrderMismatch
	case errors.Is(err, ErrInvalidSide):
		return RejectReasonInvalidSide
	default:
		return RejectReasonInvalidParam
	}
}
