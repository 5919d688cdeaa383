package structure

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPriceIndex_BasicOperations(t *testing.T) {
	idx := NewAskIndex()

	_, _, ok := idx.Best()
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())

	idx.Add(decimal.NewFromInt(100), decimal.NewFromInt(10))
	idx.Add(decimal.NewFromInt(50), decimal.NewFromInt(5))
	idx.Add(decimal.NewFromInt(150), decimal.NewFromInt(15))
	assert.Equal(t, 3, idx.Len())

	// Adding at an existing level accumulates, no new level.
	idx.Add(decimal.NewFromInt(100), decimal.NewFromInt(3))
	assert.Equal(t, 3, idx.Len())

	quantity, found := idx.Quantity(decimal.NewFromInt(100))
	assert.True(t, found)
	assert.True(t, quantity.Equal(decimal.NewFromInt(13)))

	_, found = idx.Quantity(decimal.NewFromInt(999))
	assert.False(t, found)

	price, quantity, ok := idx.Best()
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(50)))
	assert.True(t, quantity.Equal(decimal.NewFromInt(5)))
}

func TestPriceIndex_BidOrdering(t *testing.T) {
	idx := NewBidIndex()

	idx.Add(decimal.NewFromInt(100), decimal.NewFromInt(1))
	idx.Add(decimal.NewFromInt(101), decimal.NewFromInt(1))
	idx.Add(decimal.NewFromInt(99), decimal.NewFromInt(1))

	price, _, ok := idx.Best()
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(101)))

	var walked []string
	idx.Ascend(func(price, _ decimal.Decimal) bool {
		walked = append(walked, price.String())
		return true
	})
	assert.Equal(t, []string{"101", "100", "99"}, walked)
}

func TestPriceIndex_Reduce(t *testing.T) {
	idx := NewAskIndex()
	idx.Add(decimal.NewFromInt(100), decimal.NewFromInt(10))

	assert.True(t, idx.Reduce(decimal.NewFromInt(100), decimal.NewFromInt(4)))
	quantity, found := idx.Quantity(decimal.NewFromInt(100))
	assert.True(t, found)
	assert.True(t, quantity.Equal(decimal.NewFromInt(6)))

	// Reducing to zero drops the level.
	assert.True(t, idx.Reduce(decimal.NewFromInt(100), decimal.NewFromInt(6)))
	assert.Equal(t, 0, idx.Len())

	assert.False(t, idx.Reduce(decimal.NewFromInt(100), decimal.NewFromInt(1)))
}

func TestPriceIndex_Delete(t *testing.T) {
	idx := NewAskIndex()
	idx.Add(decimal.NewFromInt(100), decimal.NewFromInt(10))
	idx.Add(decimal.NewFromInt(101), decimal.NewFromInt(10))

	assert.True(t, idx.Delete(decimal.NewFromInt(100)))
	assert.False(t, idx.Delete(decimal.NewFromInt(100)))
	assert.Equal(t, 1, idx.Len())
}

func TestPriceIndex_RandomOrdering(t *testing.T) {
	idx := NewAskIndex()
	rng := rand.New(rand.NewSource(42))

	prices := make([]int, 200)
	for i := range prices {
		prices[i] = i + 1
	}
	rng.Shuffle(len(prices), func(i, j int) {
		prices[i], prices[j] = prices[j], prices[i]
	})

	for _, p := range prices {
		idx.Add(decimal.NewFromInt(int64(p)), decimal.NewFromInt(1))
	}

	var walked []int
	idx.Ascend(func(price, _ decimal.Decimal) bool {
		walked = append(walked, int(price.IntPart()))
		return true
	})

	assert.Equal(t, len(prices), len(walked))
	assert.True(t, sort.IntsAreSorted(walked))
}
