// Package coredomain holds the entities shared by every core component:
// Order, Trade, SymbolSpec and their enums. Modeled on the teacher's
// internal/trading/model.Order — string constants rather than iota enums,
// since every wire format (Binance REST/WS) round-trips these as strings.
package coredomain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates the order types spec.md §4.1 supports.
type OrderType string

const (
	OrderTypeLimit               OrderType = "LIMIT"
	OrderTypeMarket              OrderType = "MARKET"
	OrderTypeStopLoss            OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit       OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit          OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit     OrderType = "TAKE_PROFIT_LIMIT"
	OrderTypeLimitMaker          OrderType = "LIMIT_MAKER"
)

// TimeInForce applies to LIMIT orders only.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	// StatusExpiredInMatch is the self-trade-prevention terminal state.
	// Kept distinct from StatusCanceled per spec.md §9 design note so
	// downstream consumers can tell STP expiry apart from a user cancel.
	StatusExpiredInMatch OrderStatus = "EXPIRED_IN_MATCH"
)

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired, StatusExpiredInMatch:
		return true
	default:
		return false
	}
}

// SelfTradePrevention controls behavior when a match would cross two
// orders from the same user.
type SelfTradePrevention string

const (
	STPNone         SelfTradePrevention = "NONE"
	STPExpireTaker  SelfTradePrevention = "EXPIRE_TAKER"
	STPExpireMaker  SelfTradePrevention = "EXPIRE_MAKER"
	STPExpireBoth   SelfTradePrevention = "EXPIRE_BOTH"
)

// PriceMatch derives a LIMIT order's price from the book instead of an
// absolute value.
type PriceMatch string

const (
	PriceMatchNone     PriceMatch = "NONE"
	PriceMatchOpponent PriceMatch = "OPPONENT"
	PriceMatchQueue    PriceMatch = "QUEUE"
)

// EventType is the single unified change-type enum used for both
// order-update and trade notifications (spec.md §9 forbids re-introducing
// the original's duplicate enumeration).
type EventType string

const (
	EventNew             EventType = "NEW"
	EventTrade           EventType = "TRADE"
	EventCanceled        EventType = "CANCELED"
	EventExpired         EventType = "EXPIRED"
	EventExpiredInMatch  EventType = "EXPIRED_IN_MATCH"
	EventRejected        EventType = "REJECTED"
)

// Order is a single order in the book or archive.
type Order struct {
	ID             uuid.UUID
	ClientOrderID  string
	Symbol         string
	UserID         uuid.UUID
	Side           Side
	Type           OrderType
	TimeInForce    TimeInForce
	Price          decimal.Decimal // zero/invalid for MARKET
	StopPrice      decimal.Decimal
	QuoteOrderQty  decimal.Decimal // MARKET by quote
	Quantity       decimal.Decimal
	FilledQty      decimal.Decimal
	FilledQuoteQty decimal.Decimal
	Status         OrderStatus
	STP            SelfTradePrevention
	PriceMatch     PriceMatch
	RejectReason   string
	Timestamp      int64 // unix ms, from vtime.Manager at submit
	UpdateTime     int64

	// Reservation bookkeeping: exact amount+asset locked for this order so
	// cancellation/expiry releases precisely what was reserved, never a
	// recomputed estimate.
	ReservedAsset  string
	ReservedAmount decimal.Decimal

	insertSeq uint64 // FIFO tiebreak within a price level, set by the book
}

// Remaining returns the quantity not yet filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// InsertSeq returns the book-assigned FIFO sequence number.
func (o *Order) InsertSeq() uint64 { return o.insertSeq }

// SetInsertSeq is called by the order book on insertion.
func (o *Order) SetInsertSeq(seq uint64) { o.insertSeq = seq }

// IsStopType reports whether this order type is parked until triggered.
func (t OrderType) IsStopType() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLossLimit, OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
		return true
	default:
		return false
	}
}

// TriggeredType returns the non-stop order type this stop type resolves to
// once triggered (spec.md §4.1 "re-submitted as the corresponding non-stop
// type").
func (t OrderType) TriggeredType() OrderType {
	switch t {
	case OrderTypeStopLoss, OrderTypeTakeProfit:
		return OrderTypeMarket
	case OrderTypeStopLossLimit, OrderTypeTakeProfitLimit:
		return OrderTypeLimit
	default:
		return t
	}
}

// Trade is an immutable execution record.
type Trade struct {
	ID             int64 // monotonically increasing per symbol
	Symbol         string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	QuoteQuantity  decimal.Decimal
	Timestamp      int64
	BuyOrderID     uuid.UUID
	SellOrderID    uuid.UUID
	BuyUserID      uuid.UUID
	SellUserID     uuid.UUID
	MakerSide      Side
	BuyCommission  decimal.Decimal
	SellCommission decimal.Decimal
	CommissionAsset string
}

// CreatedAt is a convenience accessor used by REST/WS formatters.
func (t *Trade) CreatedAt() time.Time { return time.UnixMilli(t.Timestamp) }
