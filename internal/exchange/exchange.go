// Package exchange is the VirtualExchange composition root: one
// vtime.Manager, one account.Manager, one coreengine.Engine, and
// optionally a replay.Controller, wired together and exposed as the
// single high-level surface the REST/WS façades call into (spec.md §4.6).
package exchange

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/account"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/orderbook"
	"github.com/qtexchange/vexchange/internal/platform/xerrors"
	"github.com/qtexchange/vexchange/internal/replay"
	"github.com/qtexchange/vexchange/internal/vtime"
)

// MarketCallback receives public market events (trades, depth updates).
type MarketCallback func(coreengine.Event)

// UserCallback receives order-update/trade events scoped to one user.
type UserCallback func(coreengine.Event)

// Exchange is the VirtualExchange façade.
type Exchange struct {
	Clock    *vtime.Manager
	Accounts *account.Manager
	Engine   *coreengine.Engine
	log      *zap.Logger

	avgPriceWindow time.Duration

	mu      sync.RWMutex
	symbols map[string]coredomain.SymbolSpec
	trades  map[string][]*coredomain.Trade // recent trade tape per symbol, capped

	subsMu      sync.Mutex
	marketSubs  map[string][]MarketCallback
	userSubs    map[uuid.UUID][]UserCallback

	replayMu sync.Mutex
	replay   *replay.Controller
}

const maxTapeLen = 5000

// New builds an Exchange with its own TimeManager/AccountManager/Engine.
func New(clock *vtime.Manager, fees coreengine.Commissions, avgPriceWindow time.Duration, log *zap.Logger) *Exchange {
	if log == nil {
		log = zap.NewNop()
	}
	accounts := account.New(clock)
	engine := coreengine.New(clock, accounts, fees, log)

	ex := &Exchange{
		Clock:          clock,
		Accounts:       accounts,
		Engine:         engine,
		log:            log,
		avgPriceWindow: avgPriceWindow,
		symbols:        make(map[string]coredomain.SymbolSpec),
		trades:         make(map[string][]*coredomain.Trade),
		marketSubs:     make(map[string][]MarketCallback),
		userSubs:       make(map[uuid.UUID][]UserCallback),
	}
	engine.AddListener(ex.onEngineEvent)
	return ex
}

func (ex *Exchange) onEngineEvent(ev coreengine.Event) {
	if ev.Trade != nil {
		ex.mu.Lock()
		tape := ex.trades[ev.Trade.Symbol]
		// The engine emits one TRADE event per side (taker, then maker) with
		// the same *Trade; record it on the tape only once.
		if n := len(tape); n == 0 || tape[n-1] != ev.Trade {
			tape = append(tape, ev.Trade)
			if len(tape) > maxTapeLen {
				tape = tape[len(tape)-maxTapeLen:]
			}
			ex.trades[ev.Trade.Symbol] = tape
		}
		ex.mu.Unlock()
	}

	if ev.Order != nil {
		ex.subsMu.Lock()
		userCbs := append([]UserCallback(nil), ex.userSubs[ev.Order.UserID]...)
		marketCbs := append([]MarketCallback(nil), ex.marketSubs[ev.Order.Symbol]...)
		ex.subsMu.Unlock()
		for _, cb := range userCbs {
			cb(ev)
		}
		for _, cb := range marketCbs {
			cb(ev)
		}
	}
}

// RegisterUser ensures userID has an account.
func (ex *Exchange) RegisterUser(userID uuid.UUID) { ex.Accounts.RegisterUser(userID) }

// Deposit credits asset to userID.
func (ex *Exchange) Deposit(userID uuid.UUID, asset string, amount decimal.Decimal) error {
	return ex.Accounts.Deposit(userID, asset, amount)
}

// RegisterSymbol adds a tradable symbol.
func (ex *Exchange) RegisterSymbol(spec coredomain.SymbolSpec) {
	ex.mu.Lock()
	ex.symbols[spec.Symbol] = spec
	ex.mu.Unlock()
	ex.Engine.RegisterSymbol(spec)
}

// SymbolSpec looks up a registered symbol.
func (ex *Exchange) SymbolSpec(symbol string) (coredomain.SymbolSpec, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	s, ok := ex.symbols[symbol]
	return s, ok
}

// ExchangeInfo lists every registered symbol's trading rules.
func (ex *Exchange) ExchangeInfo() []coredomain.SymbolSpec {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	out := make([]coredomain.SymbolSpec, 0, len(ex.symbols))
	for _, s := range ex.symbols {
		out = append(out, s)
	}
	return out
}

// ServerTime returns the current time from TimeManager, unix ms.
func (ex *Exchange) ServerTime() int64 { return ex.Clock.NowMs() }

// SubmitOrder places an order through the matching engine.
func (ex *Exchange) SubmitOrder(req coreengine.SubmitRequest) (*coredomain.Order, []*coredomain.Trade, error) {
	return ex.Engine.SubmitOrder(req)
}

// CancelOrder cancels a live order.
func (ex *Exchange) CancelOrder(userID uuid.UUID, symbol string, orderID uuid.UUID) (*coredomain.Order, error) {
	return ex.Engine.CancelOrder(userID, symbol, orderID)
}

// QueryOrder looks up a live order by ID. Orders that have left the live
// set are not found here; the archive is not consulted.
func (ex *Exchange) QueryOrder(userID, orderID uuid.UUID) (*coredomain.Order, bool) {
	return ex.Engine.QueryOrder(userID, orderID)
}

// OpenOrders lists userID's live orders, optionally scoped to symbol.
func (ex *Exchange) OpenOrders(userID uuid.UUID, symbol string) []*coredomain.Order {
	return ex.Engine.OpenOrders(userID, symbol)
}

// AccountInfo returns userID's balance snapshot.
func (ex *Exchange) AccountInfo(userID uuid.UUID) account.Snapshot {
	return ex.Accounts.AccountInfo(userID)
}

// MarketDepth returns the aggregated order book for symbol.
func (ex *Exchange) MarketDepth(symbol string, limit int) (bids, asks []orderbook.DepthLevel, lastUpdateID uint64, err error) {
	b, a, id, ok := ex.Engine.Depth(symbol, limit)
	if !ok {
		return nil, nil, 0, xerrors.UnknownSymbol(symbol)
	}
	return b, a, id, nil
}

// RecentTrades returns up to limit of the most recent trades for symbol,
// newest last.
func (ex *Exchange) RecentTrades(symbol string, limit int) []*coredomain.Trade {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	tape := ex.trades[symbol]
	if limit <= 0 || limit > len(tape) {
		limit = len(tape)
	}
	start := len(tape) - limit
	out := make([]*coredomain.Trade, limit)
	copy(out, tape[start:])
	return out
}

// Ticker24h is a 24h rolling-window summary for one symbol.
type Ticker24h struct {
	Symbol             string
	PriceChange        decimal.Decimal
	PriceChangePercent decimal.Decimal
	LastPrice          decimal.Decimal
	OpenPrice          decimal.Decimal
	HighPrice          decimal.Decimal
	LowPrice           decimal.Decimal
	Volume             decimal.Decimal
	QuoteVolume        decimal.Decimal
}

// Ticker computes the 24h summary from the in-memory trade tape.
func (ex *Exchange) Ticker(symbol string) (Ticker24h, bool) {
	ex.mu.RLock()
	tape := append([]*coredomain.Trade(nil), ex.trades[symbol]...)
	ex.mu.RUnlock()
	if len(tape) == 0 {
		return Ticker24h{}, false
	}

	cutoff := ex.Clock.NowMs() - 24*60*60*1000
	var window []*coredomain.Trade
	for _, t := range tape {
		if t.Timestamp >= cutoff {
			window = append(window, t)
		}
	}
	if len(window) == 0 {
		window = tape[len(tape)-1:]
	}

	open := window[0].Price
	last := window[len(window)-1].Price
	high, low := open, open
	volume := decimal.Zero
	quoteVolume := decimal.Zero
	for _, t := range window {
		if t.Price.GreaterThan(high) {
			high = t.Price
		}
		if t.Price.LessThan(low) {
			low = t.Price
		}
		volume = volume.Add(t.Quantity)
		quoteVolume = quoteVolume.Add(t.QuoteQuantity)
	}

	change := last.Sub(open)
	changePct := decimal.Zero
	if !open.IsZero() {
		changePct = change.Div(open).Mul(decimal.NewFromInt(100))
	}

	return Ticker24h{
		Symbol: symbol, PriceChange: change, PriceChangePercent: changePct,
		LastPrice: last, OpenPrice: open, HighPrice: high, LowPrice: low,
		Volume: volume, QuoteVolume: quoteVolume,
	}, true
}

// AvgPrice returns the volume-weighted average trade price over the
// configured window (spec.md §9 Open Question #3, default 5 minutes).
func (ex *Exchange) AvgPrice(symbol string) (decimal.Decimal, bool) {
	ex.mu.RLock()
	tape := ex.trades[symbol]
	ex.mu.RUnlock()
	if len(tape) == 0 {
		return decimal.Zero, false
	}

	cutoff := ex.Clock.NowMs() - ex.avgPriceWindow.Milliseconds()
	sumNotional := decimal.Zero
	sumQty := decimal.Zero
	for i := len(tape) - 1; i >= 0; i-- {
		t := tape[i]
		if t.Timestamp < cutoff {
			break
		}
		sumNotional = sumNotional.Add(t.QuoteQuantity)
		sumQty = sumQty.Add(t.Quantity)
	}
	if sumQty.IsZero() {
		last := tape[len(tape)-1]
		return last.Price, true
	}
	return sumNotional.Div(sumQty), true
}

// Kline is one OHLCV bucket.
type Kline struct {
	OpenTime                 int64
	Open, High, Low, Close   decimal.Decimal
	Volume                   decimal.Decimal
	CloseTime                int64
	QuoteVolume              decimal.Decimal
	TradeCount               int
}

// Klines buckets the in-memory trade tape into intervalMs-wide OHLCV
// candles, standard aggregation over the trade tape.
func (ex *Exchange) Klines(symbol string, intervalMs int64, limit int) []Kline {
	ex.mu.RLock()
	tape := append([]*coredomain.Trade(nil), ex.trades[symbol]...)
	ex.mu.RUnlock()
	if len(tape) == 0 || intervalMs <= 0 {
		return nil
	}

	buckets := make(map[int64]*Kline)
	var order []int64
	for _, t := range tape {
		bucketStart := (t.Timestamp / intervalMs) * intervalMs
		k, ok := buckets[bucketStart]
		if !ok {
			k = &Kline{OpenTime: bucketStart, Open: t.Price, High: t.Price, Low: t.Price, CloseTime: bucketStart + intervalMs - 1}
			buckets[bucketStart] = k
			order = append(order, bucketStart)
		}
		if t.Price.GreaterThan(k.High) {
			k.High = t.Price
		}
		if t.Price.LessThan(k.Low) {
			k.Low = t.Price
		}
		k.Close = t.Price
		k.Volume = k.Volume.Add(t.Quantity)
		k.QuoteVolume = k.QuoteVolume.Add(t.QuoteQuantity)
		k.TradeCount++
	}

	out := make([]Kline, 0, len(order))
	for _, start := range order {
		out = append(out, *buckets[start])
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SubscribeMarket registers cb for every public event on symbol.
func (ex *Exchange) SubscribeMarket(symbol string, cb MarketCallback) {
	ex.subsMu.Lock()
	defer ex.subsMu.Unlock()
	ex.marketSubs[symbol] = append(ex.marketSubs[symbol], cb)
}

// SubscribeUser registers cb for every private event scoped to userID.
func (ex *Exchange) SubscribeUser(userID uuid.UUID, cb UserCallback) {
	ex.subsMu.Lock()
	defer ex.subsMu.Unlock()
	ex.userSubs[userID] = append(ex.userSubs[userID], cb)
}

// AttachReplay switches the exchange clock to BACKTEST mode and records c
// as this exchange's replay controller. It registers no payload callback:
// callers register their own with c.RegisterCallback, and the controller
// advances the virtual clock through SetBacktestTimeMs during
// Step/ProcessAllSync/runLoop.
func (ex *Exchange) AttachReplay(c *replay.Controller) {
	ex.replayMu.Lock()
	defer ex.replayMu.Unlock()
	ex.Clock.SetMode(vtime.Backtest)
	ex.replay = c
}
