package eventbus

import (
	"encoding/json"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
)

// TradeEnvelope is the Kafka wire shape for a trade, independent of the
// Binance-facing REST/WS DTOs so this internal bus can evolve separately.
type TradeEnvelope struct {
	TradeID        int64  `json:"trade_id"`
	Symbol         string `json:"symbol"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	QuoteQuantity  string `json:"quote_quantity"`
	Timestamp      int64  `json:"timestamp"`
	BuyOrderID     string `json:"buy_order_id"`
	SellOrderID    string `json:"sell_order_id"`
	BuyUserID      string `json:"buy_user_id"`
	SellUserID     string `json:"sell_user_id"`
	MakerSide      string `json:"maker_side"`
	BuyCommission  string `json:"buy_commission"`
	SellCommission string `json:"sell_commission"`
}

func marshalTrade(t *coredomain.Trade) ([]byte, error) {
	return json.Marshal(TradeEnvelope{
		TradeID: t.ID, Symbol: t.Symbol, Price: t.Price.String(), Quantity: t.Quantity.String(),
		QuoteQuantity: t.QuoteQuantity.String(), Timestamp: t.Timestamp,
		BuyOrderID: t.BuyOrderID.String(), SellOrderID: t.SellOrderID.String(),
		BuyUserID: t.BuyUserID.String(), SellUserID: t.SellUserID.String(),
		MakerSide: string(t.MakerSide), BuyCommission: t.BuyCommission.String(), SellCommission: t.SellCommission.String(),
	})
}

// OrderUpdateEnvelope is the Kafka wire shape for an order-update event.
type OrderUpdateEnvelope struct {
	EventType     string `json:"event_type"`
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	UserID        string `json:"user_id"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	FilledQty     string `json:"filled_qty"`
	UpdateTime    int64  `json:"update_time"`
}

func marshalOrderUpdate(ev coreengine.Event) ([]byte, error) {
	o := ev.Order
	return json.Marshal(OrderUpdateEnvelope{
		EventType: string(ev.Type), OrderID: o.ID.String(), ClientOrderID: o.ClientOrderID,
		Symbol: o.Symbol, UserID: o.UserID.String(), Side: string(o.Side), Type: string(o.Type),
		Status: string(o.Status), Price: o.Price.String(), Quantity: o.Quantity.String(),
		FilledQty: o.FilledQty.String(), UpdateTime: o.UpdateTime,
	})
}
