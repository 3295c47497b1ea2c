package coreengine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/coredomain"
)

// triggerSet parks STOP_LOSS/STOP_LOSS_LIMIT/TAKE_PROFIT/TAKE_PROFIT_LIMIT
// orders until the last trade price touches their stop_price. Grounded on
// the original's per-symbol stop-order bookkeeping in matching_engine.py
// for the parking/resubmission shape; the original only carries a
// stop_price field and STOP/STOP_LIMIT type constants with no touch
// comparison logic of its own (rest_server.py even has an open
// "further validation for stopPrice conditions" TODO), so the trigger
// direction below is this module's own resolution, following standard
// Binance semantics: STOP_LOSS/STOP_LOSS_LIMIT fire when the market moves
// against the stop side (last price has fallen to or below stop_price for
// a SELL stop, risen to or above for a BUY stop); TAKE_PROFIT/
// TAKE_PROFIT_LIMIT fire on the opposite direction.
type triggerSet struct {
	orders map[uuid.UUID]*coredomain.Order
}

func newTriggerSet() *triggerSet {
	return &triggerSet{orders: make(map[uuid.UUID]*coredomain.Order)}
}

func (t *triggerSet) add(o *coredomain.Order) {
	t.orders[o.ID] = o
}

func (t *triggerSet) remove(id uuid.UUID) {
	delete(t.orders, id)
}

// triggered reports whether stop order o fires given the last trade price.
func triggered(o *coredomain.Order, lastPrice decimal.Decimal) bool {
	switch o.Type {
	case coredomain.OrderTypeStopLoss, coredomain.OrderTypeStopLossLimit:
		if o.Side == coredomain.SideSell {
			return lastPrice.LessThanOrEqual(o.StopPrice)
		}
		return lastPrice.GreaterThanOrEqual(o.StopPrice)
	case coredomain.OrderTypeTakeProfit, coredomain.OrderTypeTakeProfitLimit:
		if o.Side == coredomain.SideSell {
			return lastPrice.GreaterThanOrEqual(o.StopPrice)
		}
		return lastPrice.LessThanOrEqual(o.StopPrice)
	default:
		return false
	}
}

// checkTriggers is called after every trade. Any stop order whose
// condition is now met is pulled out of the parked set and resubmitted
// as its corresponding non-stop type (spec.md §4.1 step 6, §5.1).
func (e *Engine) checkTriggers(st *symbolState) {
	if len(st.stops.orders) == 0 {
		return
	}
	var fired []*coredomain.Order
	for _, o := range st.stops.orders {
		if triggered(o, st.lastPx) {
			fired = append(fired, o)
		}
	}
	for _, o := range fired {
		st.stops.remove(o.ID)
		e.untrackLive(o)
		e.fireTrigger(st, o)
	}
}

// fireTrigger resubmits a triggered stop order as its market/limit
// equivalent, reusing the reservation already taken at parking time.
func (e *Engine) fireTrigger(st *symbolState, o *coredomain.Order) {
	o.Type = o.Type.TriggeredType()
	o.Status = coredomain.StatusNew

	trades := e.match(st, o)
	e.disposition(st, o)
	_ = trades
}
