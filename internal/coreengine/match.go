package coreengine

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/account"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/platform/metrics"
)

// match runs the price-time-priority matching loop for taker against the
// resting book, settling each trade through AccountManager and returning
// every trade it produced. Grounded on the original's _match_order/
// _match_with_orders; self-trade prevention mirrors
// _handle_self_trade_prevention's precedence (EXPIRE_TAKER, then
// EXPIRE_MAKER, then EXPIRE_BOTH, first match wins) since spec.md §4.1
// leaves mixed-mode precedence undefined.
func (e *Engine) match(st *symbolState, taker *coredomain.Order) []*coredomain.Trade {
	opposite := coredomain.SideSell
	if taker.Side == coredomain.SideSell {
		opposite = coredomain.SideBuy
	}

	var trades []*coredomain.Trade

	for taker.Remaining().Sign() > 0 {
		maker, ok := st.book.FrontOrder(opposite)
		if !ok {
			break
		}
		if taker.Type == coredomain.OrderTypeLimit || taker.Type == coredomain.OrderTypeLimitMaker {
			if !priceCrosses(taker, maker) {
				break
			}
		}

		if maker.UserID == taker.UserID {
			takerExpired, makerExpired := e.applySTP(st, taker, maker)
			if takerExpired {
				// EXPIRE_TAKER or EXPIRE_BOTH: taker stops matching even
				// though EXPIRE_BOTH also expired this maker.
				break
			}
			if makerExpired {
				continue // EXPIRE_MAKER: retry taker against the next front order
			}
			// NONE on both sides: fall through and trade normally.
		}

		fillQty := decimal.Min(taker.Remaining(), maker.Remaining())
		price := maker.Price

		taker.FilledQty = taker.FilledQty.Add(fillQty)
		maker.FilledQty = maker.FilledQty.Add(fillQty)
		quote := price.Mul(fillQty)
		taker.FilledQuoteQty = taker.FilledQuoteQty.Add(quote)
		maker.FilledQuoteQty = maker.FilledQuoteQty.Add(quote)

		st.tradeSq++
		trade := &coredomain.Trade{
			ID:            st.tradeSq,
			Symbol:        st.spec.Symbol,
			Price:         price,
			Quantity:      fillQty,
			QuoteQuantity: quote,
			Timestamp:     e.clock.NowMs(),
			MakerSide:     maker.Side,
		}
		if taker.Side == coredomain.SideBuy {
			trade.BuyOrderID, trade.SellOrderID = taker.ID, maker.ID
			trade.BuyUserID, trade.SellUserID = taker.UserID, maker.UserID
		} else {
			trade.BuyOrderID, trade.SellOrderID = maker.ID, taker.ID
			trade.BuyUserID, trade.SellUserID = maker.UserID, taker.UserID
		}

		e.settle(st, trade, taker, maker)
		trades = append(trades, trade)
		metrics.TradesExecuted.WithLabelValues(st.spec.Symbol).Inc()
		st.lastPx = price

		e.emit(Event{Type: coredomain.EventTrade, Order: taker, Trade: trade})
		e.emit(Event{Type: coredomain.EventTrade, Order: maker, Trade: trade})

		if maker.Remaining().Sign() == 0 {
			maker.Status = coredomain.StatusFilled
			maker.UpdateTime = e.clock.NowMs()
			st.book.PopFront(opposite)
			e.untrackLive(maker)
			e.emit(Event{Type: coredomain.EventNew, Order: maker})
		} else {
			maker.Status = coredomain.StatusPartiallyFilled
			maker.UpdateTime = e.clock.NowMs()
			st.book.Touch()
		}
		if taker.Remaining().Sign() == 0 {
			taker.Status = coredomain.StatusFilled
		} else {
			taker.Status = coredomain.StatusPartiallyFilled
		}

		e.checkTriggers(st)
	}

	return trades
}

func priceCrosses(taker, maker *coredomain.Order) bool {
	if taker.Side == coredomain.SideBuy {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

// applySTP implements spec.md §4.1 "Self-trade prevention". Returns
// whether the taker and/or maker were expired.
func (e *Engine) applySTP(st *symbolState, taker, maker *coredomain.Order) (takerExpired, makerExpired bool) {
	if taker.STP == coredomain.STPNone && maker.STP == coredomain.STPNone {
		return false, false
	}

	expireTaker := taker.STP == coredomain.STPExpireTaker || maker.STP == coredomain.STPExpireTaker
	expireMaker := taker.STP == coredomain.STPExpireMaker || maker.STP == coredomain.STPExpireMaker
	expireBoth := taker.STP == coredomain.STPExpireBoth || maker.STP == coredomain.STPExpireBoth

	metrics.SelfTradesPrevented.WithLabelValues(st.spec.Symbol, string(taker.STP)).Inc()

	switch {
	case expireTaker:
		e.expireInMatch(st, taker, true)
		return true, false
	case expireMaker:
		e.expireInMatch(st, maker, false)
		return false, true
	case expireBoth:
		e.expireInMatch(st, taker, true)
		e.expireInMatch(st, maker, false)
		return true, true
	default:
		return false, false
	}
}

// expireInMatch cancels order with EXPIRED_IN_MATCH, removing it from the
// book (if resting) and releasing its reservation.
func (e *Engine) expireInMatch(st *symbolState, order *coredomain.Order, isTaker bool) {
	order.Status = coredomain.StatusExpiredInMatch
	order.RejectReason = "STP triggered"
	order.UpdateTime = e.clock.NowMs()
	if !isTaker {
		st.book.PopFront(order.Side)
	}
	e.release(order)
	e.untrackLive(order)
	e.emit(Event{Type: coredomain.EventExpiredInMatch, Order: order})
}

// settle applies the trade's balance movement through AccountManager.
// Buyer gives up locked quote, receives free base net of taker/maker fee;
// seller gives up locked base, receives free quote net of fee. The maker
// leg always pays Maker rate, the taker leg always pays Taker rate
// (spec.md §9 Open Question #1).
func (e *Engine) settle(st *symbolState, trade *coredomain.Trade, taker, maker *coredomain.Order) {
	buyOrder, sellOrder := taker, maker
	if taker.Side == coredomain.SideSell {
		buyOrder, sellOrder = maker, taker
	}
	buyIsMaker := buyOrder == maker

	buyRate := e.fees.Taker
	sellRate := e.fees.Taker
	if buyIsMaker {
		buyRate = e.fees.Maker
	} else {
		sellRate = e.fees.Maker
	}

	baseQty := trade.Quantity
	quoteQty := trade.QuoteQuantity

	buyCommission := baseQty.Mul(buyRate)
	sellCommission := quoteQty.Mul(sellRate)

	buyLeg := account.FillLeg{
		UserID:       buyOrder.UserID,
		DebitAsset:   st.spec.QuoteAsset,
		DebitAmount:  quoteQty,
		CreditAsset:  st.spec.BaseAsset,
		CreditAmount: baseQty,
		FeeAsset:     st.spec.BaseAsset,
		FeeAmount:    buyCommission,
	}
	sellLeg := account.FillLeg{
		UserID:       sellOrder.UserID,
		DebitAsset:   st.spec.BaseAsset,
		DebitAmount:  baseQty,
		CreditAsset:  st.spec.QuoteAsset,
		CreditAmount: quoteQty,
		FeeAsset:     st.spec.QuoteAsset,
		FeeAmount:    sellCommission,
	}

	if err := e.accounts.SettleFill(buyLeg, sellLeg); err != nil {
		e.log.Error("settlement failed", zap.Error(err), zap.String("symbol", st.spec.Symbol))
	}

	trade.BuyCommission = buyCommission
	trade.SellCommission = sellCommission
	trade.CommissionAsset = st.spec.BaseAsset // buy side convention; sell side commission is in quote
}
