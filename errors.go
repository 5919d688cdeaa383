package book

import "errors"

var (
	// ErrDuplicateOrderID is returned when inserting an order whose ID is already resident.
	ErrDuplicateOrderID = errors.New("order id already exists in the book")
	// ErrOrderNotFound is returned when cancelling or modifying an absent order.
	ErrOrderNotFound = errors.New("order not found in the book")
	// ErrOrderMismatch is returned when a modify's identity fields disagree with the resident order.
	ErrOrderMismatch = errors.New("order identity does not match the resident order")
	// ErrInvalidSide is returned when an order carries an unrecognized side value.
	ErrInvalidSide = errors.New("order side is invalid")

	ErrInvalidParam = errors.New("the param is invalid")
	ErrTimeout      = errors.New("timeout")
	ErrShutdown     = errors.New("order book is shutting down")
	ErrSequenceGap  = errors.New("event sequence gap detected")
)
