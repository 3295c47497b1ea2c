package rest

import (
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/account"
	"github.com/qtexchange/vexchange/internal/archive"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/exchange"
	"github.com/qtexchange/vexchange/internal/orderbook"
)

func str(d decimal.Decimal) string { return d.String() }

type symbolFilterDTO struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice,omitempty"`
	MaxPrice    string `json:"maxPrice,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

type symbolInfoDTO struct {
	Symbol              string            `json:"symbol"`
	BaseAsset           string            `json:"baseAsset"`
	BaseAssetPrecision  int32             `json:"baseAssetPrecision"`
	QuoteAsset          string            `json:"quoteAsset"`
	QuotePrecision      int32             `json:"quotePrecision"`
	OrderTypes          []string          `json:"orderTypes"`
	Filters             []symbolFilterDTO `json:"filters"`
}

func toSymbolInfoDTO(s coredomain.SymbolSpec) symbolInfoDTO {
	return symbolInfoDTO{
		Symbol: s.Symbol, BaseAsset: s.BaseAsset, BaseAssetPrecision: s.BasePrecision,
		QuoteAsset: s.QuoteAsset, QuotePrecision: s.QuotePrecision,
		OrderTypes: []string{
			string(coredomain.OrderTypeLimit), string(coredomain.OrderTypeMarket),
			string(coredomain.OrderTypeStopLoss), string(coredomain.OrderTypeStopLossLimit),
			string(coredomain.OrderTypeTakeProfit), string(coredomain.OrderTypeTakeProfitLimit),
			string(coredomain.OrderTypeLimitMaker),
		},
		Filters: []symbolFilterDTO{
			{FilterType: "PRICE_FILTER", MinPrice: str(s.Filters.Price.Min), MaxPrice: str(s.Filters.Price.Max), TickSize: str(s.Filters.Price.Tick)},
			{FilterType: "LOT_SIZE", MinQty: str(s.Filters.Lot.Min), MaxQty: str(s.Filters.Lot.Max), StepSize: str(s.Filters.Lot.Step)},
			{FilterType: "MIN_NOTIONAL", MinNotional: str(s.Filters.MinNotional)},
		},
	}
}

type depthDTO struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func toDepthDTO(bids, asks []orderbook.DepthLevel, lastUpdateID uint64) depthDTO {
	out := depthDTO{LastUpdateID: lastUpdateID, Bids: make([][]string, len(bids)), Asks: make([][]string, len(asks))}
	for i, b := range bids {
		out.Bids[i] = []string{str(b.Price), str(b.Qty)}
	}
	for i, a := range asks {
		out.Asks[i] = []string{str(a.Price), str(a.Qty)}
	}
	return out
}

type tradeDTO struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	QuoteQty     string `json:"quoteQty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func toTradeDTO(t *coredomain.Trade) tradeDTO {
	return tradeDTO{
		ID: t.ID, Price: str(t.Price), Qty: str(t.Quantity), QuoteQty: str(t.QuoteQuantity),
		Time: t.Timestamp, IsBuyerMaker: t.MakerSide == coredomain.SideBuy,
	}
}

type tickerPriceDTO struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type ticker24hDTO struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

func toTicker24hDTO(t exchange.Ticker24h) ticker24hDTO {
	return ticker24hDTO{
		Symbol: t.Symbol, PriceChange: str(t.PriceChange), PriceChangePercent: str(t.PriceChangePercent),
		LastPrice: str(t.LastPrice), OpenPrice: str(t.OpenPrice), HighPrice: str(t.HighPrice), LowPrice: str(t.LowPrice),
		Volume: str(t.Volume), QuoteVolume: str(t.QuoteVolume),
	}
}

type avgPriceDTO struct {
	Mins  int    `json:"mins"`
	Price string `json:"price"`
}

// klineRow marshals as Binance's standard 12-field array via MarshalJSON.
type klineRow exchange.Kline

func toKlineRows(ks []exchange.Kline) []klineRow {
	out := make([]klineRow, len(ks))
	for i, k := range ks {
		out[i] = klineRow(k)
	}
	return out
}

type orderDTO struct {
	Symbol              string `json:"symbol"`
	OrderID             string `json:"orderId"`
	OrderListID         int    `json:"orderListId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	StopPrice           string `json:"stopPrice"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
	IsWorking           bool   `json:"isWorking"`
}

func toOrderDTO(o *coredomain.Order) orderDTO {
	return orderDTO{
		Symbol: o.Symbol, OrderID: o.ID.String(), OrderListID: -1, ClientOrderID: o.ClientOrderID,
		Price: str(o.Price), OrigQty: str(o.Quantity), ExecutedQty: str(o.FilledQty),
		CummulativeQuoteQty: str(o.FilledQuoteQty), Status: string(o.Status), TimeInForce: string(o.TimeInForce),
		Type: string(o.Type), Side: string(o.Side), StopPrice: str(o.StopPrice),
		Time: o.Timestamp, UpdateTime: o.UpdateTime, IsWorking: !o.Status.IsTerminal(),
	}
}

// toOrderDTOFromRecord renders an archived (terminal) order the same shape
// as a live order, so allOrders can merge both sources transparently.
func toOrderDTOFromRecord(r archive.OrderRecord) orderDTO {
	return orderDTO{
		Symbol: r.Symbol, OrderID: r.ID, OrderListID: -1, ClientOrderID: r.ClientOrderID,
		Price: r.Price, OrigQty: r.Quantity, ExecutedQty: r.FilledQty,
		CummulativeQuoteQty: r.FilledQuoteQty, Status: r.Status, TimeInForce: r.TimeInForce,
		Type: r.Type, Side: r.Side, StopPrice: r.StopPrice,
		Time: r.Timestamp, UpdateTime: r.UpdateTime, IsWorking: false,
	}
}

type fillDTO struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

type orderResultDTO struct {
	orderDTO
	TransactTime int64     `json:"transactTime"`
	Fills        []fillDTO `json:"fills"`
}

func toFillDTOs(trades []*coredomain.Trade, side coredomain.Side) []fillDTO {
	out := make([]fillDTO, 0, len(trades))
	for _, t := range trades {
		var commission decimal.Decimal
		if side == coredomain.SideBuy {
			commission = t.BuyCommission
		} else {
			commission = t.SellCommission
		}
		out = append(out, fillDTO{Price: str(t.Price), Qty: str(t.Quantity), Commission: str(commission), CommissionAsset: t.CommissionAsset, TradeID: t.ID})
	}
	return out
}

type balanceDTO struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountDTO struct {
	Balances []balanceDTO `json:"balances"`
}

func toAccountDTO(s account.Snapshot) accountDTO {
	out := accountDTO{Balances: make([]balanceDTO, 0, len(s.Balances))}
	for asset, b := range s.Balances {
		out.Balances = append(out.Balances, balanceDTO{Asset: asset, Free: str(b.Free), Locked: str(b.Locked)})
	}
	return out
}
