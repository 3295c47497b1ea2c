package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/platform/xerrors"
)

func userIDFromCtx(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ctxUserID)
	id, _ := v.(uuid.UUID)
	return id
}

func (s *Server) exchangeInfo(c *gin.Context) {
	specs := s.exchange.ExchangeInfo()
	out := make([]symbolInfoDTO, len(specs))
	for i, spec := range specs {
		out[i] = toSymbolInfoDTO(spec)
	}
	c.JSON(http.StatusOK, gin.H{"serverTime": s.clock.NowMs(), "symbols": out})
}

func (s *Server) tickerPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		writeJSONError(c, xerrors.Validation("symbol is required"))
		return
	}
	price, ok := s.exchange.Engine.LastPrice(symbol)
	if !ok {
		writeJSONError(c, xerrors.UnknownSymbol(symbol))
		return
	}
	c.JSON(http.StatusOK, tickerPriceDTO{Symbol: symbol, Price: str(price)})
}

func (s *Server) ticker24h(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		writeJSONError(c, xerrors.Validation("symbol is required"))
		return
	}
	t, ok := s.exchange.Ticker(symbol)
	if !ok {
		writeJSONError(c, xerrors.UnknownSymbol(symbol))
		return
	}
	c.JSON(http.StatusOK, toTicker24hDTO(t))
}

func (s *Server) depth(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		writeJSONError(c, xerrors.Validation("symbol is required"))
		return
	}
	limit := queryInt(c, "limit", 100)
	bids, asks, lastUpdateID, err := s.exchange.MarketDepth(symbol, limit)
	if err != nil {
		writeJSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDepthDTO(bids, asks, lastUpdateID))
}

func (s *Server) trades(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		writeJSONError(c, xerrors.Validation("symbol is required"))
		return
	}
	limit := queryInt(c, "limit", 500)
	trades := s.exchange.RecentTrades(symbol, limit)
	out := make([]tradeDTO, len(trades))
	for i, t := range trades {
		out[i] = toTradeDTO(t)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) klines(c *gin.Context) {
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		writeJSONError(c, xerrors.Validation("symbol and interval are required"))
		return
	}
	intervalMs, ok := intervalToMs(interval)
	if !ok {
		writeJSONError(c, xerrors.Validation("unsupported interval").WithField("interval", interval))
		return
	}
	limit := queryInt(c, "limit", 500)
	ks := s.exchange.Klines(symbol, intervalMs, limit)
	c.JSON(http.StatusOK, toKlineRows(ks))
}

func (s *Server) avgPrice(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		writeJSONError(c, xerrors.Validation("symbol is required"))
		return
	}
	price, ok := s.exchange.AvgPrice(symbol)
	if !ok {
		writeJSONError(c, xerrors.UnknownSymbol(symbol))
		return
	}
	c.JSON(http.StatusOK, avgPriceDTO{Mins: 5, Price: str(price)})
}

func (s *Server) account(c *gin.Context) {
	snap := s.exchange.AccountInfo(userIDFromCtx(c))
	c.JSON(http.StatusOK, toAccountDTO(snap))
}

type orderRequest struct {
	Symbol           string `json:"symbol" form:"symbol" binding:"required"`
	Side             string `json:"side" form:"side" binding:"required"`
	Type             string `json:"type" form:"type" binding:"required"`
	TimeInForce      string `json:"timeInForce" form:"timeInForce"`
	Quantity         string `json:"quantity" form:"quantity"`
	QuoteOrderQty    string `json:"quoteOrderQty" form:"quoteOrderQty"`
	Price            string `json:"price" form:"price"`
	StopPrice        string `json:"stopPrice" form:"stopPrice"`
	NewClientOrderID string `json:"newClientOrderId" form:"newClientOrderId"`
	SelfTradePrevMode string `json:"selfTradePreventionMode" form:"selfTradePreventionMode"`
	PriceMatch       string `json:"priceMatch" form:"priceMatch"`
}

func parseDecimalField(c *gin.Context, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (s *Server) placeOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBind(&req); err != nil {
		writeJSONError(c, xerrors.Validation(err.Error()))
		return
	}

	tif := coredomain.TimeInForceGTC
	if req.TimeInForce != "" {
		tif = coredomain.TimeInForce(req.TimeInForce)
	}
	stp := coredomain.STPNone
	if req.SelfTradePrevMode != "" {
		stp = coredomain.SelfTradePrevention(req.SelfTradePrevMode)
	}
	pm := coredomain.PriceMatchNone
	if req.PriceMatch != "" {
		pm = coredomain.PriceMatch(req.PriceMatch)
	}

	sr := coreengine.SubmitRequest{
		Symbol: req.Symbol, UserID: userIDFromCtx(c), ClientOrderID: req.NewClientOrderID,
		Side: coredomain.Side(req.Side), Type: coredomain.OrderType(req.Type), TimeInForce: tif,
		Price: parseDecimalField(c, req.Price), StopPrice: parseDecimalField(c, req.StopPrice),
		QuoteOrderQty: parseDecimalField(c, req.QuoteOrderQty), Quantity: parseDecimalField(c, req.Quantity),
		STP: stp, PriceMatch: pm,
	}

	order, trades, err := s.exchange.SubmitOrder(sr)
	if err != nil {
		writeJSONError(c, err)
		return
	}

	result := orderResultDTO{orderDTO: toOrderDTO(order), TransactTime: order.Timestamp, Fills: toFillDTOs(trades, order.Side)}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getOrder(c *gin.Context) {
	userID := userIDFromCtx(c)
	if cid := c.Query("origClientOrderId"); cid != "" {
		o, ok := s.exchange.Engine.QueryByClientOrderID(userID, cid)
		if !ok {
			writeJSONError(c, xerrors.NotFound("order not found"))
			return
		}
		c.JSON(http.StatusOK, toOrderDTO(o))
		return
	}
	orderID, err := uuid.Parse(c.Query("orderId"))
	if err != nil {
		writeJSONError(c, xerrors.Validation("orderId is required"))
		return
	}
	o, ok := s.exchange.QueryOrder(userID, orderID)
	if !ok {
		writeJSONError(c, xerrors.NotFound("order not found"))
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(o))
}

func (s *Server) cancelOrder(c *gin.Context) {
	userID := userIDFromCtx(c)
	symbol := c.Query("symbol")
	if cid := c.Query("origClientOrderId"); cid != "" {
		o, err := s.exchange.Engine.CancelByClientOrderID(userID, cid)
		if err != nil {
			writeJSONError(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderDTO(o))
		return
	}
	orderID, err := uuid.Parse(c.Query("orderId"))
	if err != nil {
		writeJSONError(c, xerrors.Validation("orderId is required"))
		return
	}
	o, err := s.exchange.CancelOrder(userID, symbol, orderID)
	if err != nil {
		writeJSONError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderDTO(o))
}

func (s *Server) openOrders(c *gin.Context) {
	userID := userIDFromCtx(c)
	symbol := c.Query("symbol")
	orders := s.exchange.OpenOrders(userID, symbol)
	out := make([]orderDTO, len(orders))
	for i, o := range orders {
		out[i] = toOrderDTO(o)
	}
	c.JSON(http.StatusOK, out)
}

// allOrders implements spec.md §4.1's
// all_orders(user_id, symbol, from_id?, start, end, limit ≤ 1000). Orders
// carry no monotonic sequence number (IDs are UUIDs), so from_id resolves
// to that order's own timestamp and is applied as a >= bound alongside
// start/end rather than as an ID comparison.
func (s *Server) allOrders(c *gin.Context) {
	userID := userIDFromCtx(c)
	symbol := c.Query("symbol")

	limit := queryInt(c, "limit", 1000)
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	start := queryInt64(c, "startTime", 0)
	end := queryInt64(c, "endTime", 0)

	if fromID := c.Query("orderId"); fromID != "" {
		ts, ok := s.resolveFromID(c, userID, fromID)
		if !ok {
			c.JSON(http.StatusOK, []orderDTO{})
			return
		}
		if ts > start {
			start = ts
		}
	}

	live := s.exchange.OpenOrders(userID, symbol)
	liveFiltered := make([]*coredomain.Order, 0, len(live))
	for _, o := range live {
		if start > 0 && o.Timestamp < start {
			continue
		}
		if end > 0 && o.Timestamp > end {
			continue
		}
		liveFiltered = append(liveFiltered, o)
	}

	out := make([]orderDTO, 0, len(liveFiltered)+limit)
	for _, o := range liveFiltered {
		out = append(out, toOrderDTO(o))
	}

	// Historical archive is optional (spec.md §6.3); without it attached,
	// allOrders degrades to the live (time-filtered) order set.
	if s.archive != nil {
		records, err := s.archive.OrdersByUser(c.Request.Context(), userID, symbol, start, end, limit)
		if err != nil {
			writeJSONError(c, err)
			return
		}
		for _, r := range records {
			out = append(out, toOrderDTOFromRecord(r))
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	c.JSON(http.StatusOK, out)
}

// resolveFromID looks up fromID's timestamp among the user's live orders,
// falling back to the archive when attached. ok is false when fromID
// belongs to no order of userID's, in which case allOrders returns empty
// rather than erroring, matching a stale/foreign orderId being a no-match.
func (s *Server) resolveFromID(c *gin.Context, userID uuid.UUID, fromID string) (ts int64, ok bool) {
	if id, err := uuid.Parse(fromID); err == nil {
		if o, found := s.exchange.QueryOrder(userID, id); found {
			return o.Timestamp, true
		}
	}
	if s.archive == nil {
		return 0, false
	}
	ts, found, err := s.archive.OrderTimestamp(c.Request.Context(), userID, fromID)
	if err != nil || !found {
		return 0, false
	}
	return ts, true
}

func writeJSONError(c *gin.Context, err error) {
	status, body := mapError(err)
	c.JSON(status, body)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(c *gin.Context, key string, def int64) int64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func intervalToMs(interval string) (int64, bool) {
	switch interval {
	case "1m":
		return 60_000, true
	case "3m":
		return 3 * 60_000, true
	case "5m":
		return 5 * 60_000, true
	case "15m":
		return 15 * 60_000, true
	case "30m":
		return 30 * 60_000, true
	case "1h":
		return 60 * 60_000, true
	case "4h":
		return 4 * 60 * 60_000, true
	case "1d":
		return 24 * 60 * 60_000, true
	default:
		return 0, false
	}
}
