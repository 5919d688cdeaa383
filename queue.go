package book

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceLevel holds all resting orders sharing one price on one side of the
// book, in FIFO order. A priceLevel is never retained empty: it is removed
// from its side's index the instant its queue empties.
type priceLevel struct {
	price         decimal.Decimal
	totalQuantity decimal.Decimal
	head          *Order
	tail          *Order
	count         int64
}

// levelQueue is one side of the book: price levels kept sorted by a skiplist
// (best price first) with an O(1) map from price to its skiplist element.
// Order position within a level is an intrusive doubly linked list, so
// removal by order pointer never scans.
//
// Map keys are Decimal.String() because shopspring decimals are not
// comparable by value (equal decimals may differ in representation).
type levelQueue struct {
	side        Side
	totalOrders int64
	depths      int64
	levelList   *skiplist.SkipList
	levels      map[string]*skiplist.Element
}

// newBidQueue creates the buy side. Levels are sorted by price in descending
// order (highest bid first).
func newBidQueue() *levelQueue {
	return &levelQueue{
		side: Buy,
		levelList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)
			return d2.Cmp(d1)
		})),
		levels: make(map[string]*skiplist.Element),
	}
}

// newAskQueue creates the sell side. Levels are sorted by price in ascending
// order (lowest ask first).
func newAskQueue() *levelQueue {
	return &levelQueue{
		side: Sell,
		levelList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)
			return d1.Cmp(d2)
		})),
		levels: make(map[string]*skiplist.Element),
	}
}

// insert appends the order to its price level, creating the level if needed.
// front pushes the order to the head of the level instead; it exists for
// restoring a partially filled resting order without losing its priority.
func (q *levelQueue) insert(order *Order, front bool) {
	key := order.Price.String()
	el, ok := q.levels[key]
	if ok {
		level, _ := el.Value.(*priceLevel)
		if front {
			order.next = level.head
			order.prev = nil
			if level.head != nil {
				level.head.prev = order
			}
			level.head = order
			if level.tail == nil {
				level.tail = order
			}
		} else {
			order.prev = level.tail
			order.next = nil
			if level.tail != nil {
				level.tail.next = order
			}
			level.tail = order
			if level.head == nil {
				level.head = order
			}
		}

		level.totalQuantity = level.totalQuantity.Add(order.Quantity)
		level.count++
		q.totalOrders++
	} else {
		level := &priceLevel{
			price:         order.Price,
			totalQuantity: order.Quantity,
			head:          order,
			tail:          order,
			count:         1,
		}
		order.next = nil
		order.prev = nil

		el := q.levelList.Set(order.Price, level)
		q.levels[key] = el

		q.totalOrders++
		q.depths++
	}
}

// remove unlinks the order from its level in O(1) and drops the level if it
// becomes empty.
func (q *levelQueue) remove(order *Order) {
	key := order.Price.String()
	el, ok := q.levels[key]
	if !ok {
		return
	}
	level, _ := el.Value.(*priceLevel)

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		level.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		level.tail = order.prev
	}

	// Clear pointers to avoid leaks
	order.next = nil
	order.prev = nil

	level.totalQuantity = level.totalQuantity.Sub(order.Quantity)
	level.count--
	q.totalOrders--

	if level.count == 0 {
		q.levelList.RemoveElement(el)
		delete(q.levels, key)
		q.depths--
	}
}

// setQuantity updates the order's quantity in place, keeping the level total
// consistent. The order keeps its FIFO position.
func (q *levelQueue) setQuantity(order *Order, quantity decimal.Decimal) {
	el, ok := q.levels[order.Price.String()]
	if !ok {
		return
	}
	level, _ := el.Value.(*priceLevel)
	level.totalQuantity = level.totalQuantity.Add(quantity.Sub(order.Quantity))
	order.Quantity = quantity
}

// reduce subtracts a fill from the order and its level total.
func (q *levelQueue) reduce(order *Order, quantity decimal.Decimal) {
	q.setQuantity(order, order.Quantity.Sub(quantity))
}

// front returns the best price level, or nil if the side is empty.
func (q *levelQueue) front() *priceLevel {
	el := q.levelList.Front()
	if el == nil {
		return nil
	}

	level, _ := el.Value.(*priceLevel)
	return level
}

// peekFront returns the order at the front of the best level without removing it.
func (q *levelQueue) peekFront() *Order {
	level := q.front()
	if level == nil {
		return nil
	}
	return level.head
}

// orderCount returns the total number of resting orders on this side.
func (q *levelQueue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels on this side.
func (q *levelQueue) depthCount() int64 {
	return q.depths
}

// ascend walks the levels from best price outward until fn returns false.
func (q *levelQueue) ascend(fn func(*priceLevel) bool) {
	el := q.levelList.Front()
	for el != nil {
		level, _ := el.Value.(*priceLevel)
		if !fn(level) {
			return
		}
		el = el.Next()
	}
}

// toSnapshot serializes the side into a slice of orders in priority order
// (best level first, FIFO within a level).
func (q *levelQueue) toSnapshot() []Order {
	snapshot := make([]Order, 0, q.totalOrders)

	q.ascend(func(level *priceLevel) bool {
		for order := level.head; order != nil; order = order.next {
			snapshot = append(snapshot, Order{
				ID:       order.ID,
				Symbol:   order.Symbol,
				Side:     order.Side,
				Price:    order.Price,
				Quantity: order.Quantity,
				Sequence: order.Sequence,
			})
		}
		return true
	})

	return snapshot
}
