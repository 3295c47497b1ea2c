// Package orderbook implements the price-time-priority limit order book:
// two price ladders (bids descending, asks ascending) of FIFO queues.
// Modeled on the teacher's internal/trading/orderbook.DeadlockSafeOrderBook
// (tidwall/btree.Map price ladder, per-book RWMutex, O(1) order lookup by
// ID) but trimmed of the circuit-breaker/admin-state concerns that belong
// to the matching engine, not the book, in this design, and with a
// lexicographically-sortable fixed-width price key replacing the teacher's
// raw decimal.String() key (which sorts "10" before "9").
package orderbook

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/qtexchange/vexchange/internal/coredomain"
)

// Level is the FIFO queue of resting orders at one price.
type Level struct {
	Price  decimal.Decimal
	orders []*coredomain.Order
}

// TotalQty sums the remaining quantity of every order resting at this level.
func (l *Level) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Remaining())
	}
	return total
}

// Orders returns a snapshot slice of the resting orders, oldest first.
func (l *Level) Orders() []*coredomain.Order {
	out := make([]*coredomain.Order, len(l.orders))
	copy(out, l.orders)
	return out
}

func (l *Level) front() *coredomain.Order {
	if len(l.orders) == 0 {
		return nil
	}
	return l.orders[0]
}

func (l *Level) popFront() {
	if len(l.orders) == 0 {
		return
	}
	l.orders = l.orders[1:]
}

func (l *Level) push(o *coredomain.Order) {
	l.orders = append(l.orders, o)
}

func (l *Level) removeByID(id uuid.UUID) (*coredomain.Order, bool) {
	for i, o := range l.orders {
		if o.ID == id {
			removed := o
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return removed, true
		}
	}
	return nil, false
}

type orderLoc struct {
	side coredomain.Side
	key  string
}

// DepthLevel is one row of an aggregated depth snapshot.
type DepthLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Book is a single symbol's limit order book.
type Book struct {
	mu sync.RWMutex

	Symbol string
	bids   *btree.Map[string, *Level]
	asks   *btree.Map[string, *Level]

	orderIndex map[uuid.UUID]orderLoc

	seq          uint64
	lastUpdateID uint64
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		Symbol:     symbol,
		bids:       btree.NewMap[string, *Level](32),
		asks:       btree.NewMap[string, *Level](32),
		orderIndex: make(map[uuid.UUID]orderLoc),
	}
}

// priceKey renders price as a fixed-width, zero-padded decimal string so
// plain string comparison matches numeric comparison, unlike the teacher's
// raw decimal.String() key which sorts "10" before "9". Prices in this
// domain are never negative.
func priceKey(price decimal.Decimal) string {
	s := price.Round(18).String()
	s = strings.TrimPrefix(s, "-")
	intPart, fracPart, _ := strings.Cut(s, ".")
	for len(fracPart) < 18 {
		fracPart += "0"
	}
	for len(intPart) < 40 {
		intPart = "0" + intPart
	}
	return intPart + "." + fracPart
}

func ladder(b *Book, side coredomain.Side) *btree.Map[string, *Level] {
	if side == coredomain.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) touch() uint64 {
	b.seq++
	b.lastUpdateID = b.seq
	return b.lastUpdateID
}

// LastUpdateID returns the book's current revision counter.
func (b *Book) LastUpdateID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// Insert places order on the book as a resting order on its own side,
// assigning it the next FIFO sequence number.
func (b *Book) Insert(order *coredomain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	order.SetInsertSeq(b.seq)

	key := priceKey(order.Price)
	tree := ladder(b, order.Side)
	level, ok := tree.Get(key)
	if !ok {
		level = &Level{Price: order.Price}
		tree.Set(key, level)
	}
	level.push(order)
	b.orderIndex[order.ID] = orderLoc{side: order.Side, key: key}
	b.touch()
}

// RemoveOrder cancels a resting order by ID, removing its level if it
// becomes empty. Returns the removed order, or ok=false if not resting.
func (b *Book) RemoveOrder(id uuid.UUID) (*coredomain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeOrderLocked(id)
}

func (b *Book) removeOrderLocked(id uuid.UUID) (*coredomain.Order, bool) {
	loc, ok := b.orderIndex[id]
	if !ok {
		return nil, false
	}
	tree := ladder(b, loc.side)
	level, ok := tree.Get(loc.key)
	if !ok {
		delete(b.orderIndex, id)
		return nil, false
	}
	removed, ok := level.removeByID(id)
	if !ok {
		return nil, false
	}
	delete(b.orderIndex, id)
	if len(level.orders) == 0 {
		tree.Delete(loc.key)
	}
	b.touch()
	return removed, true
}

// BestLevel returns the best (highest bid / lowest ask) level on side,
// or ok=false if that side is empty.
func (b *Book) BestLevel(side coredomain.Side) (*Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestLevelLocked(side)
}

func (b *Book) bestLevelLocked(side coredomain.Side) (*Level, bool) {
	tree := ladder(b, side)
	var level *Level
	found := false
	if side == coredomain.SideBuy {
		tree.Reverse(func(_ string, v *Level) bool {
			level, found = v, true
			return false
		})
	} else {
		tree.Scan(func(_ string, v *Level) bool {
			level, found = v, true
			return false
		})
	}
	return level, found
}

// BestPrice returns the best price on side.
func (b *Book) BestPrice(side coredomain.Side) (decimal.Decimal, bool) {
	level, ok := b.BestLevel(side)
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// FrontOrder returns the oldest resting order at the best level on side,
// the next one the matching engine should try to fill.
func (b *Book) FrontOrder(side coredomain.Side) (*coredomain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	level, ok := b.bestLevelLocked(side)
	if !ok {
		return nil, false
	}
	o := level.front()
	return o, o != nil
}

// PopFront removes the oldest resting order at the best level on side
// (after the matching engine has fully filled it), cleaning up the level
// if it becomes empty. The caller is responsible for the order's own
// filled/status bookkeeping.
func (b *Book) PopFront(side coredomain.Side) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tree := ladder(b, side)
	level, ok := b.bestLevelLocked(side)
	if !ok {
		return
	}
	front := level.front()
	if front == nil {
		return
	}
	level.popFront()
	delete(b.orderIndex, front.ID)
	if len(level.orders) == 0 {
		tree.Delete(priceKey(level.Price))
	}
	b.touch()
}

// Touch bumps the revision counter without a structural change, used by
// the matching engine after a partial fill that left an order resting.
func (b *Book) Touch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
}

// Levels returns the number of distinct price levels across both sides.
func (b *Book) Levels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len() + b.asks.Len()
}

// Depth returns up to limit aggregated levels per side, best first, along
// with the book's current revision counter. limit<=0 means unlimited.
func (b *Book) Depth(limit int) (bids, asks []DepthLevel, lastUpdateID uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	collect := func(tree *btree.Map[string, *Level], descending bool) []DepthLevel {
		out := make([]DepthLevel, 0, 16)
		visit := func(_ string, level *Level) bool {
			out = append(out, DepthLevel{Price: level.Price, Qty: level.TotalQty()})
			return limit <= 0 || len(out) < limit
		}
		if descending {
			tree.Reverse(visit)
		} else {
			tree.Scan(visit)
		}
		return out
	}

	return collect(b.bids, true), collect(b.asks, false), b.lastUpdateID
}

// GetOrder looks up a resting order by ID without removing it.
func (b *Book) GetOrder(id uuid.UUID) (*coredomain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	loc, ok := b.orderIndex[id]
	if !ok {
		return nil, false
	}
	tree := ladder(b, loc.side)
	level, ok := tree.Get(loc.key)
	if !ok {
		return nil, false
	}
	for _, o := range level.orders {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}
