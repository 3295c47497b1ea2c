package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/coredomain"
)

func newOrder(side coredomain.Side, price, qty string) *coredomain.Order {
	return &coredomain.Order{
		ID:       uuid.New(),
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     coredomain.OrderTypeLimit,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
	}
}

func TestPriceKeyOrdersNumerically(t *testing.T) {
	small := priceKey(decimal.RequireFromString("9"))
	big := priceKey(decimal.RequireFromString("10"))
	assert.Less(t, small, big, "priceKey must sort 9 before 10 lexicographically")
}

func TestBestBidIsHighestPrice(t *testing.T) {
	b := New("BTCUSDT")
	b.Insert(newOrder(coredomain.SideBuy, "100", "1"))
	b.Insert(newOrder(coredomain.SideBuy, "105", "1"))
	b.Insert(newOrder(coredomain.SideBuy, "99", "1"))

	price, ok := b.BestPrice(coredomain.SideBuy)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("105")))
}

func TestBestAskIsLowestPrice(t *testing.T) {
	b := New("BTCUSDT")
	b.Insert(newOrder(coredomain.SideSell, "100", "1"))
	b.Insert(newOrder(coredomain.SideSell, "95", "1"))
	b.Insert(newOrder(coredomain.SideSell, "110", "1"))

	price, ok := b.BestPrice(coredomain.SideSell)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("95")))
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New("BTCUSDT")
	first := newOrder(coredomain.SideBuy, "100", "1")
	second := newOrder(coredomain.SideBuy, "100", "1")
	b.Insert(first)
	b.Insert(second)

	front, ok := b.FrontOrder(coredomain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, first.ID, front.ID)

	b.PopFront(coredomain.SideBuy)
	front, ok = b.FrontOrder(coredomain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, second.ID, front.ID)
}

func TestRemoveOrderDeletesEmptyLevel(t *testing.T) {
	b := New("BTCUSDT")
	o := newOrder(coredomain.SideSell, "50", "2")
	b.Insert(o)
	assert.Equal(t, 1, b.Levels())

	removed, ok := b.RemoveOrder(o.ID)
	require.True(t, ok)
	assert.Equal(t, o.ID, removed.ID)
	assert.Equal(t, 0, b.Levels())

	_, ok = b.GetOrder(o.ID)
	assert.False(t, ok)
}

func TestDepthAggregatesLevelQuantity(t *testing.T) {
	b := New("BTCUSDT")
	b.Insert(newOrder(coredomain.SideBuy, "100", "1"))
	b.Insert(newOrder(coredomain.SideBuy, "100", "2"))
	b.Insert(newOrder(coredomain.SideBuy, "99", "5"))

	bids, _, _ := b.Depth(10)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(decimal.RequireFromString("100")))
	assert.True(t, bids[0].Qty.Equal(decimal.RequireFromString("3")))
	assert.True(t, bids[1].Price.Equal(decimal.RequireFromString("99")))
}

func TestLastUpdateIDIncreasesOnMutation(t *testing.T) {
	b := New("BTCUSDT")
	before := b.LastUpdateID()
	b.Insert(newOrder(coredomain.SideBuy, "100", "1"))
	after := b.LastUpdateID()
	assert.Greater(t, after, before)
}
