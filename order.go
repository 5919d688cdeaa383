package book

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is the record callers submit. The book copies it on insert and is the
// sole owner of the resident copy; callers never hold a reference into the book.
type Order struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"` // remaining quantity while resident

	// Sequence is the per-book arrival number stamped on insert. FIFO priority
	// within a price level is structural, but the sequence survives snapshot
	// restores so priority is reproducible after a rebuild. A price-changing
	// modify is assigned a fresh sequence.
	Sequence uint64 `json:"sequence,omitempty"`

	// Intrusive linked list pointers (ignored by JSON)
	next *Order
	prev *Order
}

// TradeReport describes a single fill produced by matching.
type TradeReport struct {
	TradeID    string          `json:"trade_id"`
	SequenceID uint64          `json:"seq_id"`
	Symbol     string          `json:"symbol"`
	BidOrderID string          `json:"bid_order_id"`
	AskOrderID string          `json:"ask_order_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MatchResult is the outcome of matching an aggressive incoming order.
// Remaining is the incoming quantity left unexecuted; for a limit-priced
// order that remainder now rests in the book.
type MatchResult struct {
	Remaining decimal.Decimal `json:"remaining"`
	Trades    []TradeReport   `json:"trades"`
}
