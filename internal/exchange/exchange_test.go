package exchange

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/vtime"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestExchange(t *testing.T) (*Exchange, uuid.UUID, uuid.UUID) {
	t.Helper()
	clock := vtime.NewBacktest(1_700_000_000_000)
	ex := New(clock, coreengine.Commissions{Maker: d("0.001"), Taker: d("0.001")}, 5*time.Minute, nil)

	ex.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
		BasePrecision: 8, QuotePrecision: 8,
		Filters: coredomain.Filters{
			Price: coredomain.PriceFilter{Min: d("0.01"), Tick: d("0.01")},
			Lot:   coredomain.LotFilter{Min: d("0.0001"), Step: d("0.0001")},
		},
	})

	buyer := uuid.New()
	seller := uuid.New()
	ex.RegisterUser(buyer)
	ex.RegisterUser(seller)
	require.NoError(t, ex.Deposit(buyer, "USDT", d("100000")))
	require.NoError(t, ex.Deposit(seller, "BTC", d("10")))
	return ex, buyer, seller
}

func TestSubmitOrderMatchesAndUpdatesTape(t *testing.T) {
	ex, buyer, seller := newTestExchange(t)

	_, _, err := ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: seller, Side: coredomain.SideSell,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)

	_, trades, err := ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: buyer, Side: coredomain.SideBuy,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	tape := ex.RecentTrades("BTCUSDT", 10)
	require.Len(t, tape, 1)
	assert.True(t, tape[0].Price.Equal(d("50000")))
}

func TestAccountInfoReflectsReservation(t *testing.T) {
	ex, buyer, _ := newTestExchange(t)
	_, _, err := ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: buyer, Side: coredomain.SideBuy,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)

	snap := ex.AccountInfo(buyer)
	bal, ok := snap.Balances["USDT"]
	require.True(t, ok)
	assert.True(t, bal.Locked.Equal(d("50000")))
	assert.True(t, bal.Free.Equal(d("50000")))
}

func TestAvgPriceUsesRecentTrades(t *testing.T) {
	ex, buyer, seller := newTestExchange(t)
	_, _, err := ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: seller, Side: coredomain.SideSell,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("2"),
	})
	require.NoError(t, err)
	_, _, err = ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: buyer, Side: coredomain.SideBuy,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("2"),
	})
	require.NoError(t, err)

	avg, ok := ex.AvgPrice("BTCUSDT")
	require.True(t, ok)
	assert.True(t, avg.Equal(d("50000")))
}

func TestMarketDepthReturnsRestingOrders(t *testing.T) {
	ex, _, seller := newTestExchange(t)
	_, _, err := ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: seller, Side: coredomain.SideSell,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)

	_, asks, lastUpdateID, err := ex.MarketDepth("BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Qty.Equal(d("1")))
	assert.Greater(t, lastUpdateID, uint64(0))
}

func TestMarketDepthUnknownSymbolErrors(t *testing.T) {
	ex, _, _ := newTestExchange(t)
	_, _, _, err := ex.MarketDepth("ETHUSDT", 10)
	require.Error(t, err)
}

func TestSubscribeUserReceivesOwnOrderEvents(t *testing.T) {
	ex, buyer, seller := newTestExchange(t)

	var got []coreengine.Event
	ex.SubscribeUser(buyer, func(ev coreengine.Event) {
		got = append(got, ev)
	})

	_, _, err := ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: seller, Side: coredomain.SideSell,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)
	_, _, err = ex.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: buyer, Side: coredomain.SideBuy,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)

	require.NotEmpty(t, got)
	for _, ev := range got {
		assert.Equal(t, buyer, ev.Order.UserID)
	}
}
