package coreengine

import (
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/orderbook"
)

// validate implements spec.md §4.1 step 1. It returns a non-empty reject
// reason on failure, or "" if the order may proceed.
func (e *Engine) validate(st *symbolState, order *coredomain.Order) string {
	if order.Quantity.Sign() <= 0 {
		return "quantity must be positive"
	}

	switch order.Type {
	case coredomain.OrderTypeLimit, coredomain.OrderTypeLimitMaker, coredomain.OrderTypeStopLossLimit, coredomain.OrderTypeTakeProfitLimit:
		priceMatched := order.Type == coredomain.OrderTypeLimit && order.PriceMatch != coredomain.PriceMatchNone
		if order.Price.Sign() <= 0 && !priceMatched {
			return "price must be positive"
		}
	}
	if order.Type.IsStopType() && order.StopPrice.Sign() <= 0 {
		return "stop_price must be positive"
	}

	priceForFilters := order.Price
	if priceForFilters.Sign() > 0 && order.PriceMatch == coredomain.PriceMatchNone {
		if !st.spec.ValidatePrice(priceForFilters) {
			return "price outside tick filter"
		}
	}
	if !st.spec.ValidateQuantity(order.Quantity) {
		return "quantity outside lot filter"
	}
	if order.Type == coredomain.OrderTypeLimit && priceForFilters.Sign() > 0 {
		if !st.spec.ValidateNotional(priceForFilters, order.Quantity) {
			return "notional below minimum"
		}
	}

	if order.ClientOrderID != "" {
		e.ordersMu.RLock()
		_, active := e.byClient[clientKey(order.UserID, order.ClientOrderID)]
		e.ordersMu.RUnlock()
		if active {
			return "client_order_id already active"
		}
	}

	return ""
}

// reserve implements spec.md §4.1 step 3. It returns a non-empty reject
// reason on insufficient balance.
func (e *Engine) reserve(st *symbolState, order *coredomain.Order) string {
	var asset string
	var amount decimal.Decimal

	switch order.Side {
	case coredomain.SideSell:
		asset = st.spec.BaseAsset
		amount = order.Quantity
	case coredomain.SideBuy:
		asset = st.spec.QuoteAsset
		switch order.Type {
		case coredomain.OrderTypeMarket, coredomain.OrderTypeStopLoss, coredomain.OrderTypeTakeProfit:
			// Pure stop types (no Price, fires as a market order) reserve
			// against a reference price the same way MARKET does: they
			// would otherwise park with ReservedAmount=0 and have nothing
			// to settle against once triggers.go fires them.
			if order.QuoteOrderQty.Sign() > 0 {
				amount = order.QuoteOrderQty
			} else {
				ref, ok := st.book.BestPrice(coredomain.SideSell)
				if !ok {
					return "no reference price for order"
				}
				amount = ref.Mul(order.Quantity).Mul(decimal.NewFromInt(1).Add(slippageBuffer))
			}
		default:
			amount = order.Price.Mul(order.Quantity)
		}
	}

	if err := e.accounts.Reserve(order.UserID, asset, amount); err != nil {
		return "insufficient balance"
	}
	order.ReservedAsset = asset
	order.ReservedAmount = amount
	return ""
}

// resolvePriceMatch implements spec.md §4.1 step 2.
func resolvePriceMatch(book *orderbook.Book, side coredomain.Side, mode coredomain.PriceMatch) (decimal.Decimal, bool) {
	switch mode {
	case coredomain.PriceMatchOpponent:
		opposite := coredomain.SideSell
		if side == coredomain.SideSell {
			opposite = coredomain.SideBuy
		}
		return book.BestPrice(opposite)
	case coredomain.PriceMatchQueue:
		return book.BestPrice(side)
	default:
		return decimal.Zero, false
	}
}

// wouldCross reports whether order (a LIMIT_MAKER) would immediately match
// against the resting book at submission.
func wouldCross(book *orderbook.Book, order *coredomain.Order) bool {
	opposite := coredomain.SideSell
	if order.Side == coredomain.SideSell {
		opposite = coredomain.SideBuy
	}
	best, ok := book.BestPrice(opposite)
	if !ok {
		return false
	}
	if order.Side == coredomain.SideBuy {
		return best.LessThanOrEqual(order.Price)
	}
	return best.GreaterThanOrEqual(order.Price)
}

// canFillCompletely simulates the match against the current book snapshot
// without mutating it, for FOK pre-checks (spec.md §4.1 step 6).
func canFillCompletely(book *orderbook.Book, order *coredomain.Order) bool {
	bids, asks, _ := book.Depth(0)
	levels := asks
	if order.Side == coredomain.SideSell {
		levels = bids
	}

	remaining := order.Quantity
	for _, level := range levels {
		if order.Side == coredomain.SideBuy && level.Price.GreaterThan(order.Price) {
			break
		}
		if order.Side == coredomain.SideSell && level.Price.LessThan(order.Price) {
			break
		}
		remaining = remaining.Sub(level.Qty)
		if remaining.Sign() <= 0 {
			return true
		}
	}
	return false
}
