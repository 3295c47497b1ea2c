package wsgateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/exchange"
	"github.com/qtexchange/vexchange/internal/platform/apiauth"
)

// Gateway is the composition root for public/private WebSocket streams over
// one Exchange: a Hub plus the lazy wiring that subscribes to the exchange
// the first time a client asks for a given symbol or user stream.
type Gateway struct {
	hub      *Hub
	exchange *exchange.Exchange
	keys     *apiauth.KeyStore
	log      *zap.Logger

	mu         sync.Mutex
	wiredMkt   map[string]bool
	wiredUser  map[uuid.UUID]bool
}

// New builds a Gateway over ex, serving replay-buffered streams via hub.
func New(ex *exchange.Exchange, hub *Hub, keys *apiauth.KeyStore, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		hub: hub, exchange: ex, keys: keys, log: log,
		wiredMkt: make(map[string]bool), wiredUser: make(map[uuid.UUID]bool),
	}
}

// ensureMarketWired registers the exchange market-event listener for symbol
// exactly once, the moment a client first subscribes to one of its topics.
func (g *Gateway) ensureMarketWired(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wiredMkt[symbol] {
		return
	}
	g.wiredMkt[symbol] = true
	g.exchange.SubscribeMarket(symbol, func(ev coreengine.Event) { g.onMarketEvent(symbol, ev) })
}

func (g *Gateway) onMarketEvent(symbol string, ev coreengine.Event) {
	now := g.exchange.ServerTime()

	if ev.Trade != nil {
		if err := g.hub.BroadcastPriority(symbol+"@trade", newTradePayload(ev.Trade)); err != nil {
			g.log.Error("broadcast trade failed", zap.Error(err))
		}
		g.broadcastKline(symbol, now, "1m", defaultKlineIntervalMs)
	}

	bids, asks, lastUpdateID, err := g.exchange.MarketDepth(symbol, 20)
	if err == nil {
		if bcErr := g.hub.Broadcast(symbol+"@depth", newDepthPayload(symbol, now, bids, asks, lastUpdateID)); bcErr != nil {
			g.log.Error("broadcast depth failed", zap.Error(bcErr))
		}
	}

	if t, ok := g.exchange.Ticker(symbol); ok {
		payload := tickerPayload{
			EventType: "24hrTicker", EventTime: now, Symbol: symbol,
			PriceChange: t.PriceChange.String(), PriceChangePercent: t.PriceChangePercent.String(),
			LastPrice: t.LastPrice.String(), OpenPrice: t.OpenPrice.String(),
			HighPrice: t.HighPrice.String(), LowPrice: t.LowPrice.String(),
			Volume: t.Volume.String(), QuoteVolume: t.QuoteVolume.String(),
		}
		if bcErr := g.hub.Broadcast(symbol+"@ticker", payload); bcErr != nil {
			g.log.Error("broadcast ticker failed", zap.Error(bcErr))
		}
	}

	if price, ok := g.exchange.AvgPrice(symbol); ok {
		payload := avgPricePayload{EventType: "avgPrice", EventTime: now, Symbol: symbol, Interval: "5m", Price: price.String()}
		if bcErr := g.hub.Broadcast(symbol+"@avgPrice", payload); bcErr != nil {
			g.log.Error("broadcast avgPrice failed", zap.Error(bcErr))
		}
	}
}

// defaultKlineIntervalMs is the only interval streamed over
// <symbol>@kline_1m today; the REST /klines endpoint still serves every
// interval in intervalToMs on demand.
const defaultKlineIntervalMs = 60_000

// broadcastKline publishes the latest in-progress candle for symbol after
// a trade, mirroring Binance's <symbol>@kline_<interval> stream.
func (g *Gateway) broadcastKline(symbol string, now int64, interval string, intervalMs int64) {
	candles := g.exchange.Klines(symbol, intervalMs, 1)
	if len(candles) == 0 {
		return
	}
	k := candles[0]
	payload := klinePayload{
		EventType: "kline", EventTime: now, Symbol: symbol,
		Kline: klineBody{
			OpenTime: k.OpenTime, CloseTime: k.CloseTime, Symbol: symbol, Interval: interval,
			Open: k.Open.String(), Close: k.Close.String(), High: k.High.String(), Low: k.Low.String(),
			Volume: k.Volume.String(), TradeCount: k.TradeCount, Closed: now >= k.CloseTime,
		},
	}
	if err := g.hub.Broadcast(symbol+"@kline_"+interval, payload); err != nil {
		g.log.Error("broadcast kline failed", zap.Error(err))
	}
}

// ensureUserWired registers the exchange user-event listener for userID
// exactly once, the moment the authenticated client first connects.
func (g *Gateway) ensureUserWired(userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wiredUser[userID] {
		return
	}
	g.wiredUser[userID] = true
	g.exchange.SubscribeUser(userID, func(ev coreengine.Event) { g.onUserEvent(userID, ev) })
}

func (g *Gateway) onUserEvent(userID uuid.UUID, ev coreengine.Event) {
	if ev.Order == nil {
		return
	}
	topic := userTopic(userID)
	payload := newOrderUpdatePayload(ev.Type, ev.Order)
	if err := g.hub.BroadcastPriority(topic, payload); err != nil {
		g.log.Error("broadcast order update failed", zap.Error(err))
	}
}

func userTopic(userID uuid.UUID) string { return "user@" + userID.String() }

// ServePublic handles an unauthenticated upgrade for public market streams.
// The client subscribes to <symbol>@trade, <symbol>@depth, <symbol>@ticker,
// <symbol>@avgPrice, <symbol>@kline_<interval> topics after connecting.
func (g *Gateway) ServePublic(w http.ResponseWriter, r *http.Request) {
	clientID := uuid.NewString()
	onSubscribe := func(topic string) {
		if symbol, ok := symbolFromTopic(topic); ok {
			g.ensureMarketWired(symbol)
		}
	}
	if _, err := g.hub.ServeWS(w, r, clientID, onSubscribe); err != nil {
		g.log.Warn("ws upgrade failed", zap.Error(err))
	}
}

// symbolFromTopic extracts the symbol prefix from a "<symbol>@<stream>"
// topic name.
func symbolFromTopic(topic string) (string, bool) {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '@' {
			return topic[:i], i > 0
		}
	}
	return "", false
}

// ServePrivate authenticates the upgrade request the same way a signed REST
// call is authenticated (api-key header, HMAC over the query string) before
// handing the connection to the hub, then wires the user's own event
// stream so the client receives order/account/trade updates.
func (g *Gateway) ServePrivate(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-MBX-APIKEY")
	cred, ok := g.keys.Lookup(apiKey)
	if !ok {
		http.Error(w, `{"code":-2014,"msg":"bad api key"}`, http.StatusUnauthorized)
		return
	}

	sig := r.URL.Query().Get("signature")
	raw := r.URL.RawQuery
	message := stripSignatureRaw(raw)
	mac := hmac.New(sha256.New, []byte(cred.Secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))
	if sig == "" || !hmac.Equal([]byte(expected), []byte(sig)) {
		http.Error(w, `{"code":-2014,"msg":"signature invalid"}`, http.StatusUnauthorized)
		return
	}

	g.ensureUserWired(cred.UserID)

	clientID := cred.UserID.String()
	client, err := g.hub.ServeWS(w, r, clientID, nil)
	if err != nil {
		g.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	client.subscribe(userTopic(cred.UserID))
}

// WireSymbol proactively connects a symbol to the hub before any client
// subscribes, so operators can pre-warm depth/ticker streams.
func (g *Gateway) WireSymbol(symbol string) { g.ensureMarketWired(symbol) }

// stripSignatureRaw is the WS-upgrade analogue of the REST façade's
// signature-stripping helper: identical algorithm, duplicated rather than
// imported to keep wsgateway independent of internal/rest.
func stripSignatureRaw(raw string) string {
	const key = "signature="
	idx := 0
	for idx < len(raw) {
		next := idx
		for next < len(raw) && raw[next] != '&' {
			next++
		}
		segment := raw[idx:next]
		if len(segment) >= len(key) && segment[:len(key)] == key {
			if idx > 0 {
				return raw[:idx-1] + raw[next:]
			}
			if next < len(raw) {
				return raw[next+1:]
			}
			return ""
		}
		idx = next + 1
	}
	return raw
}
