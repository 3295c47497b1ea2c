// Package coreengine is the matching engine: validates orders, resolves
// price-match, reserves funds, matches against the book, settles trades,
// and applies post-match disposition by order type and time-in-force.
// Grounded on qte/exchange/matching/matching_engine.py's place_order/
// _match_order/_match_with_orders/_handle_self_trade_prevention/
// _apply_price_match, reimplemented with real decimal arithmetic and
// against the teacher's orderbook.DeadlockSafeOrderBook locking style
// (one mutex per symbol, held for the whole matching loop — spec.md §7
// calls this acceptable since a match step is bounded in-memory work).
package coreengine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/account"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/orderbook"
	"github.com/qtexchange/vexchange/internal/platform/metrics"
	"github.com/qtexchange/vexchange/internal/platform/xerrors"
	"github.com/qtexchange/vexchange/internal/vtime"
)

// Commissions holds the maker/taker commission rates applied at settlement.
// The resting side of every trade always pays the maker rate, the
// incoming side always pays the taker rate, regardless of BUY/SELL
// (spec.md §9 Open Question #1 resolution).
type Commissions struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// EventListener receives order-update and trade notifications. Delivery
// failures (a panicking listener) are recovered and logged, never fatal
// to the matching loop (spec.md §4.1 "Failure semantics").
type EventListener func(Event)

// Event is the single notification shape for both order updates and
// trades, mirroring coredomain.EventType.
type Event struct {
	Type  coredomain.EventType
	Order *coredomain.Order
	Trade *coredomain.Trade
}

type symbolState struct {
	mu      sync.Mutex
	book    *orderbook.Book
	spec    coredomain.SymbolSpec
	tradeSq int64
	lastPx  decimal.Decimal
	stops   *triggerSet
}

// Engine is the MatchingEngine façade, one per VirtualExchange instance.
type Engine struct {
	clock    *vtime.Manager
	accounts *account.Manager
	log      *zap.Logger
	fees     Commissions

	mu      sync.RWMutex
	symbols map[string]*symbolState

	ordersMu  sync.RWMutex
	orders    map[uuid.UUID]*coredomain.Order // live orders only, keyed by ID
	byClient  map[string]uuid.UUID            // userID.String()+clientOrderID -> order ID

	listenersMu sync.RWMutex
	listeners   []EventListener
}

// New builds an Engine against clock and accounts, charging fees on every
// settled trade.
func New(clock *vtime.Manager, accounts *account.Manager, fees Commissions, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		clock:    clock,
		accounts: accounts,
		log:      log,
		fees:     fees,
		symbols:  make(map[string]*symbolState),
		orders:   make(map[uuid.UUID]*coredomain.Order),
		byClient: make(map[string]uuid.UUID),
	}
}

// RegisterSymbol adds a tradable symbol to the engine.
func (e *Engine) RegisterSymbol(spec coredomain.SymbolSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols[spec.Symbol] = &symbolState{
		book:   orderbook.New(spec.Symbol),
		spec:   spec,
		lastPx: decimal.Zero,
		stops:  newTriggerSet(),
	}
}

func (e *Engine) symbolState(symbol string) (*symbolState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.symbols[symbol]
	return s, ok
}

// AddListener subscribes to every order-update/trade event the engine emits.
func (e *Engine) AddListener(l EventListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) emit(ev Event) {
	e.listenersMu.RLock()
	ls := make([]EventListener, len(e.listeners))
	copy(ls, e.listeners)
	e.listenersMu.RUnlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("event listener panicked", zap.Any("recover", r))
				}
			}()
			l(ev)
		}()
	}
}

func (e *Engine) trackLive(o *coredomain.Order) {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	e.orders[o.ID] = o
	if o.ClientOrderID != "" {
		e.byClient[clientKey(o.UserID, o.ClientOrderID)] = o.ID
	}
}

func (e *Engine) untrackLive(o *coredomain.Order) {
	e.ordersMu.Lock()
	defer e.ordersMu.Unlock()
	delete(e.orders, o.ID)
	if o.ClientOrderID != "" {
		delete(e.byClient, clientKey(o.UserID, o.ClientOrderID))
	}
}

func clientKey(userID uuid.UUID, clientOrderID string) string {
	return userID.String() + "|" + clientOrderID
}

// SubmitRequest carries every field an incoming order needs.
type SubmitRequest struct {
	Symbol        string
	UserID        uuid.UUID
	ClientOrderID string
	Side          coredomain.Side
	Type          coredomain.OrderType
	TimeInForce   coredomain.TimeInForce
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	QuoteOrderQty decimal.Decimal
	Quantity      decimal.Decimal
	STP           coredomain.SelfTradePrevention
	PriceMatch    coredomain.PriceMatch
}

// slippageBuffer bounds the up-front reservation for a MARKET BUY ordered
// by base quantity rather than quote_order_qty (spec.md §4.1 step 3).
var slippageBuffer = decimal.NewFromFloat(0.05)

// SubmitOrder runs the full submit pipeline: validate, resolve price-match,
// reserve funds, assign identity, match, settle, and apply post-match
// disposition. It never returns an error for business rejections — those
// come back as a REJECTED/EXPIRED order with no trades, per spec.md's
// "Failure semantics". A non-nil error means the symbol is unknown or the
// request is structurally unusable.
func (e *Engine) SubmitOrder(req SubmitRequest) (*coredomain.Order, []*coredomain.Trade, error) {
	start := time.Now()
	st, ok := e.symbolState(req.Symbol)
	if !ok {
		return nil, nil, xerrors.UnknownSymbol(req.Symbol)
	}
	defer metrics.ObserveMatch(req.Symbol, start)

	st.mu.Lock()
	defer st.mu.Unlock()

	order := &coredomain.Order{
		ID:            uuid.New(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		UserID:        req.UserID,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		QuoteOrderQty: req.QuoteOrderQty,
		Quantity:      req.Quantity,
		FilledQty:     decimal.Zero,
		STP:           req.STP,
		PriceMatch:    req.PriceMatch,
		Timestamp:     e.clock.NowMs(),
		Status:        coredomain.StatusNew,
	}
	if order.TimeInForce == "" {
		order.TimeInForce = coredomain.TimeInForceGTC
	}
	if order.PriceMatch == "" {
		order.PriceMatch = coredomain.PriceMatchNone
	}
	if order.STP == "" {
		order.STP = coredomain.STPNone
	}

	if reject := e.validate(st, order); reject != "" {
		order.Status = coredomain.StatusRejected
		order.RejectReason = reject
		metrics.OrdersRejected.WithLabelValues(req.Symbol, reject).Inc()
		e.emit(Event{Type: coredomain.EventRejected, Order: order})
		return order, nil, nil
	}
	metrics.OrdersSubmitted.WithLabelValues(req.Symbol, string(req.Side), string(req.Type)).Inc()

	if order.Type.IsStopType() {
		// Parked orders reserve funds up front (the reservation must still
		// hold when they later trigger) but never touch the book yet.
		if reject := e.reserve(st, order); reject != "" {
			order.Status = coredomain.StatusRejected
			order.RejectReason = reject
			e.emit(Event{Type: coredomain.EventRejected, Order: order})
			return order, nil, nil
		}
		st.stops.add(order)
		e.trackLive(order)
		e.emit(Event{Type: coredomain.EventNew, Order: order})
		return order, nil, nil
	}

	if order.Type == coredomain.OrderTypeLimit && order.PriceMatch != coredomain.PriceMatchNone {
		resolved, ok := resolvePriceMatch(st.book, order.Side, order.PriceMatch)
		if !ok {
			order.Status = coredomain.StatusRejected
			order.RejectReason = "no reference price"
			e.emit(Event{Type: coredomain.EventRejected, Order: order})
			return order, nil, nil
		}
		order.Price = resolved
	}

	if order.Type == coredomain.OrderTypeLimitMaker && wouldCross(st.book, order) {
		order.Status = coredomain.StatusRejected
		order.RejectReason = "would take liquidity"
		e.emit(Event{Type: coredomain.EventRejected, Order: order})
		return order, nil, nil
	}

	if order.Type == coredomain.OrderTypeLimit && order.TimeInForce == coredomain.TimeInForceFOK {
		if !canFillCompletely(st.book, order) {
			if reject := e.reserve(st, order); reject != "" {
				order.Status = coredomain.StatusRejected
				order.RejectReason = reject
				e.emit(Event{Type: coredomain.EventRejected, Order: order})
				return order, nil, nil
			}
			order.Status = coredomain.StatusExpired
			e.release(order)
			e.emit(Event{Type: coredomain.EventExpired, Order: order})
			return order, nil, nil
		}
	}

	if reject := e.reserve(st, order); reject != "" {
		order.Status = coredomain.StatusRejected
		order.RejectReason = reject
		e.emit(Event{Type: coredomain.EventRejected, Order: order})
		return order, nil, nil
	}

	trades := e.match(st, order)

	e.disposition(st, order)

	return order, trades, nil
}

// disposition applies spec.md §4.1 step 6 once matching has finished. A
// taker already expired in-match by self-trade prevention is terminal and
// skips the normal type/TIF disposition entirely.
func (e *Engine) disposition(st *symbolState, order *coredomain.Order) {
	if order.Status == coredomain.StatusExpiredInMatch {
		return
	}
	remaining := order.Remaining()

	switch order.Type {
	case coredomain.OrderTypeLimit:
		switch order.TimeInForce {
		case coredomain.TimeInForceGTC:
			if remaining.Sign() > 0 {
				st.book.Insert(order)
				e.trackLive(order)
				return
			}
			order.Status = coredomain.StatusFilled
		case coredomain.TimeInForceIOC:
			if remaining.Sign() > 0 {
				e.releaseResidual(st, order, remaining)
			}
			order.Status = coredomain.StatusCanceled
		case coredomain.TimeInForceFOK:
			order.Status = coredomain.StatusFilled
		}
	case coredomain.OrderTypeLimitMaker:
		if remaining.Sign() > 0 {
			st.book.Insert(order)
			e.trackLive(order)
			return
		}
		order.Status = coredomain.StatusFilled
	case coredomain.OrderTypeMarket:
		if remaining.Sign() > 0 {
			e.releaseResidual(st, order, remaining)
			order.Status = coredomain.StatusExpired
		} else {
			order.Status = coredomain.StatusFilled
		}
	}

	order.UpdateTime = e.clock.NowMs()
	e.emit(Event{Type: terminalEventFor(order.Status), Order: order})
}

func terminalEventFor(status coredomain.OrderStatus) coredomain.EventType {
	switch status {
	case coredomain.StatusCanceled:
		return coredomain.EventCanceled
	case coredomain.StatusExpired:
		return coredomain.EventExpired
	case coredomain.StatusExpiredInMatch:
		return coredomain.EventExpiredInMatch
	default:
		return coredomain.EventNew
	}
}

// releaseResidual releases whatever portion of the original reservation
// the filled quantity didn't consume. BUY LIMIT/MARKET reserved quote;
// SELL reserved base, already debited 1:1 with filled base quantity by
// settlement, so only BUY orders can carry an un-consumed quote residual
// beyond what matched (SELL's reservation always equals remaining exactly).
func (e *Engine) releaseResidual(st *symbolState, order *coredomain.Order, remaining decimal.Decimal) {
	if order.ReservedAmount.IsZero() {
		return
	}
	var unused decimal.Decimal
	if order.Side == coredomain.SideSell {
		unused = remaining
	} else {
		switch order.Type {
		case coredomain.OrderTypeLimit, coredomain.OrderTypeLimitMaker:
			unused = remaining.Mul(order.Price)
		default:
			// MARKET BUY: release whatever of the locked quote the fills
			// didn't actually spend.
			spent := order.FilledQuoteQty
			unused = order.ReservedAmount.Sub(spent)
		}
	}
	if unused.Sign() <= 0 {
		return
	}
	if unused.GreaterThan(order.ReservedAmount) {
		unused = order.ReservedAmount
	}
	_ = e.accounts.Release(order.UserID, order.ReservedAsset, unused)
	order.ReservedAmount = order.ReservedAmount.Sub(unused)
}

// release returns the part of order's reservation that its fills have not
// consumed: settlement already debited the quote spent (BUY) or the base
// sold (SELL) from the locked balance.
func (e *Engine) release(order *coredomain.Order) {
	consumed := order.FilledQty
	if order.Side == coredomain.SideBuy {
		consumed = order.FilledQuoteQty
	}
	residual := order.ReservedAmount.Sub(consumed)
	if residual.Sign() <= 0 {
		return
	}
	_ = e.accounts.Release(order.UserID, order.ReservedAsset, residual)
	order.ReservedAmount = consumed
}
