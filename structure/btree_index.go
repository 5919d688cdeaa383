// Package structure holds alternative price-level index implementations and
// the benchmarks comparing them against the skiplist used by the book.
package structure

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// PriceIndex is a B-tree backed index of price levels for one side of a book.
// The comparator is fixed at construction so Min() is always the best price:
// highest first for the bid side, lowest first for the ask side.
//
// It tracks aggregated quantity per level, enough to evaluate the structure
// as a drop-in replacement for the skiplist level index.
type PriceIndex struct {
	tree *btree.BTreeG[priceEntry]
}

type priceEntry struct {
	price    decimal.Decimal
	quantity decimal.Decimal
}

const btreeDegree = 32

// NewBidIndex creates an index sorted descending by price (highest bid first).
func NewBidIndex() *PriceIndex {
	return &PriceIndex{
		tree: btree.NewG(btreeDegree, func(a, b priceEntry) bool {
			return a.price.GreaterThan(b.price)
		}),
	}
}

// NewAskIndex creates an index sorted ascending by price (lowest ask first).
func NewAskIndex() *PriceIndex {
	return &PriceIndex{
		tree: btree.NewG(btreeDegree, func(a, b priceEntry) bool {
			return a.price.LessThan(b.price)
		}),
	}
}

// Add accumulates quantity at a price level, creating the level if needed.
func (idx *PriceIndex) Add(price, quantity decimal.Decimal) {
	entry, found := idx.tree.Get(priceEntry{price: price})
	if found {
		entry.quantity = entry.quantity.Add(quantity)
		idx.tree.ReplaceOrInsert(entry)
		return
	}
	idx.tree.ReplaceOrInsert(priceEntry{price: price, quantity: quantity})
}

// Reduce subtracts quantity from a price level, deleting the level when it
// reaches zero. Returns false if the level does not exist.
func (idx *PriceIndex) Reduce(price, quantity decimal.Decimal) bool {
	entry, found := idx.tree.Get(priceEntry{price: price})
	if !found {
		return false
	}
	entry.quantity = entry.quantity.Sub(quantity)
	if entry.quantity.Sign() <= 0 {
		idx.tree.Delete(entry)
		return true
	}
	idx.tree.ReplaceOrInsert(entry)
	return true
}

// Delete removes a price level outright. Returns false if absent.
func (idx *PriceIndex) Delete(price decimal.Decimal) bool {
	_, found := idx.tree.Delete(priceEntry{price: price})
	return found
}

// Quantity returns the aggregated quantity at a price level.
func (idx *PriceIndex) Quantity(price decimal.Decimal) (decimal.Decimal, bool) {
	entry, found := idx.tree.Get(priceEntry{price: price})
	if !found {
		return decimal.Zero, false
	}
	return entry.quantity, true
}

// Best returns the best price level on this side, or false if empty.
func (idx *PriceIndex) Best() (price, quantity decimal.Decimal, ok bool) {
	entry, found := idx.tree.Min()
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	return entry.price, entry.quantity, true
}

// Len returns the number of price levels.
func (idx *PriceIndex) Len() int {
	return idx.tree.Len()
}

// Ascend walks levels from best price outward until fn returns false.
func (idx *PriceIndex) Ascend(fn func(price, quantity decimal.Decimal) bool) {
	idx.tree.Ascend(func(entry priceEntry) bool {
		return fn(entry.price, entry.quantity)
	})
}
