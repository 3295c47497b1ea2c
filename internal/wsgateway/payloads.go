package wsgateway

import (
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/orderbook"
)

// tradePayload mirrors Binance's <symbol>@trade stream.
type tradePayload struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyOrderID   string `json:"b"`
	SellOrderID  string `json:"a"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func newTradePayload(t *coredomain.Trade) tradePayload {
	return tradePayload{
		EventType: "trade", EventTime: t.Timestamp, Symbol: t.Symbol, TradeID: t.ID,
		Price: t.Price.String(), Quantity: t.Quantity.String(),
		BuyOrderID: t.BuyOrderID.String(), SellOrderID: t.SellOrderID.String(),
		TradeTime: t.Timestamp, IsBuyerMaker: t.MakerSide == coredomain.SideBuy,
	}
}

// depthPayload mirrors Binance's <symbol>@depth update event; each bid and
// ask level is a [price, qty] pair.
type depthPayload struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func newDepthPayload(symbol string, eventTime int64, bids, asks []orderbook.DepthLevel, lastUpdateID uint64) depthPayload {
	p := depthPayload{
		EventType: "depthUpdate", EventTime: eventTime, Symbol: symbol,
		FirstUpdateID: lastUpdateID, FinalUpdateID: lastUpdateID,
		Bids: make([][]string, len(bids)), Asks: make([][]string, len(asks)),
	}
	for i, b := range bids {
		p.Bids[i] = []string{b.Price.String(), b.Qty.String()}
	}
	for i, a := range asks {
		p.Asks[i] = []string{a.Price.String(), a.Qty.String()}
	}
	return p
}

// orderUpdatePayload mirrors a private order-update event, carrying every
// order field plus the c_t change-type enum (spec.md §6.2).
type orderUpdatePayload struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	Type          string `json:"o"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	Price         string `json:"p"`
	StopPrice     string `json:"P"`
	OrderID       string `json:"i"`
	FilledQty     string `json:"z"`
	FilledQuote   string `json:"Z"`
	Status        string `json:"X"`
	ChangeType    string `json:"c_t"`
	TransactTime  int64  `json:"T"`
}

func newOrderUpdatePayload(ev coredomain.EventType, o *coredomain.Order) orderUpdatePayload {
	return orderUpdatePayload{
		EventType: "executionReport", EventTime: o.UpdateTime, Symbol: o.Symbol,
		ClientOrderID: o.ClientOrderID, Side: string(o.Side), Type: string(o.Type),
		TimeInForce: string(o.TimeInForce), Quantity: o.Quantity.String(), Price: o.Price.String(),
		StopPrice: o.StopPrice.String(), OrderID: o.ID.String(), FilledQty: o.FilledQty.String(),
		FilledQuote: o.FilledQuoteQty.String(), Status: string(o.Status), ChangeType: string(ev),
		TransactTime: o.UpdateTime,
	}
}

// tickerPayload mirrors <symbol>@ticker.
type tickerPayload struct {
	EventType          string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	LastPrice          string `json:"c"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

// avgPricePayload mirrors <symbol>@avgPrice.
type avgPricePayload struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Price     string `json:"w"`
}

// klinePayload mirrors <symbol>@kline_<interval>.
type klinePayload struct {
	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineBody `json:"k"`
}

type klineBody struct {
	OpenTime   int64  `json:"t"`
	CloseTime  int64  `json:"T"`
	Symbol     string `json:"s"`
	Interval   string `json:"i"`
	Open       string `json:"o"`
	Close      string `json:"c"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Volume     string `json:"v"`
	TradeCount int    `json:"n"`
	Closed     bool   `json:"x"`
}
