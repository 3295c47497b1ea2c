package coreengine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/orderbook"
	"github.com/qtexchange/vexchange/internal/platform/xerrors"
)

// CancelOrder removes a resting (or parked stop) order from the book,
// releases its residual reservation, and marks it CANCELED (spec.md §4.1
// cancel_order).
func (e *Engine) CancelOrder(userID uuid.UUID, symbol string, orderID uuid.UUID) (*coredomain.Order, error) {
	st, ok := e.symbolState(symbol)
	if !ok {
		return nil, xerrors.UnknownSymbol(symbol)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e.ordersMu.RLock()
	order, live := e.orders[orderID]
	e.ordersMu.RUnlock()
	if !live {
		return nil, xerrors.NotFound("unknown order")
	}
	if order.Symbol != symbol {
		return nil, xerrors.NotFound("unknown order")
	}
	if order.UserID != userID {
		return nil, xerrors.New(xerrors.KindUnauthorized, "unauthorized")
	}
	if order.Status.IsTerminal() {
		return nil, xerrors.NotFound("unknown order")
	}

	if order.Type.IsStopType() {
		st.stops.remove(order.ID)
	} else {
		st.book.RemoveOrder(order.ID)
	}

	order.Status = coredomain.StatusCanceled
	order.UpdateTime = e.clock.NowMs()
	e.release(order)
	e.untrackLive(order)
	e.emit(Event{Type: coredomain.EventCanceled, Order: order})
	return order, nil
}

// CancelByClientOrderID resolves orderID from a client order ID before
// cancelling.
func (e *Engine) CancelByClientOrderID(userID uuid.UUID, clientOrderID string) (*coredomain.Order, error) {
	e.ordersMu.RLock()
	id, ok := e.byClient[clientKey(userID, clientOrderID)]
	e.ordersMu.RUnlock()
	if !ok {
		return nil, xerrors.NotFound("unknown order")
	}
	e.ordersMu.RLock()
	order := e.orders[id]
	e.ordersMu.RUnlock()
	return e.CancelOrder(userID, order.Symbol, id)
}

// QueryOrder looks up a live order by ID. Terminal orders are not kept
// here; internal/archive stores them, and the REST allOrders handler reads
// the archive alongside this live set.
func (e *Engine) QueryOrder(userID uuid.UUID, orderID uuid.UUID) (*coredomain.Order, bool) {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	order, ok := e.orders[orderID]
	if !ok || order.UserID != userID {
		return nil, false
	}
	return order, true
}

// QueryByClientOrderID looks up a live order by client order ID.
func (e *Engine) QueryByClientOrderID(userID uuid.UUID, clientOrderID string) (*coredomain.Order, bool) {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	id, ok := e.byClient[clientKey(userID, clientOrderID)]
	if !ok {
		return nil, false
	}
	order := e.orders[id]
	return order, true
}

// OpenOrders returns every live order for userID, optionally filtered to
// one symbol.
func (e *Engine) OpenOrders(userID uuid.UUID, symbol string) []*coredomain.Order {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	out := make([]*coredomain.Order, 0)
	for _, o := range e.orders {
		if o.UserID != userID {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

// LastPrice returns the most recent trade price for symbol.
func (e *Engine) LastPrice(symbol string) (decimal.Decimal, bool) {
	st, ok := e.symbolState(symbol)
	if !ok {
		return decimal.Zero, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastPx.IsZero() {
		return decimal.Zero, false
	}
	return st.lastPx, true
}

// Depth returns the aggregated order book depth for symbol.
func (e *Engine) Depth(symbol string, limit int) (bids, asks []orderbook.DepthLevel, lastUpdateID uint64, ok bool) {
	st, found := e.symbolState(symbol)
	if !found {
		return nil, nil, 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	bids, asks, lastUpdateID = st.book.Depth(limit)
	return bids, asks, lastUpdateID, true
}
