package coreengine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/account"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/vtime"
)

func dd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T) (*Engine, *account.Manager, uuid.UUID, uuid.UUID) {
	t.Helper()
	clock := vtime.New()
	accounts := account.New(clock)
	engine := New(clock, accounts, Commissions{Maker: dd("0"), Taker: dd("0")}, nil)
	engine.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
		BasePrecision: 8, QuotePrecision: 2,
		Filters: coredomain.Filters{
			Price: coredomain.PriceFilter{Min: dd("0.01"), Tick: dd("0.01")},
			Lot:   coredomain.LotFilter{Min: dd("0.0001"), Step: dd("0.0001")},
		},
	})

	u1, u2 := uuid.New(), uuid.New()
	require.NoError(t, accounts.Deposit(u1, "USDT", dd("1000000")))
	require.NoError(t, accounts.Deposit(u2, "BTC", dd("1000")))
	return engine, accounts, u1, u2
}

func TestPartialThenFullFill(t *testing.T) {
	engine, _, u1, u2 := newTestEngine(t)

	sellOrder, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u2, Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, coredomain.StatusNew, sellOrder.Status)

	buyOrder, trades, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(dd("50000")))
	assert.Equal(t, coredomain.StatusFilled, buyOrder.Status)

	refetchedSell, ok := engine.QueryOrder(u2, sellOrder.ID)
	require.True(t, ok)
	assert.Equal(t, coredomain.StatusPartiallyFilled, refetchedSell.Status)

	buyOrder2, trades2, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
	})
	require.NoError(t, err)
	require.Len(t, trades2, 1)
	assert.Equal(t, coredomain.StatusFilled, buyOrder2.Status)

	_, ok = engine.QueryOrder(u2, sellOrder.ID)
	assert.False(t, ok, "fully filled sell order should no longer be live")
}

func TestIOCPartialCancelsRemainder(t *testing.T) {
	engine, _, u1, u2 := newTestEngine(t)

	_, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u2, Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
	})
	require.NoError(t, err)

	buyOrder, trades, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceIOC, Price: dd("50000"), Quantity: dd("2"),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, coredomain.StatusCanceled, buyOrder.Status)
	assert.True(t, buyOrder.FilledQty.Equal(dd("1")))
}

func TestFOKExpiresWhenCannotFillFully(t *testing.T) {
	engine, accounts, u1, u2 := newTestEngine(t)

	_, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u2, Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
	})
	require.NoError(t, err)

	before := accounts.AccountInfo(u1).Balances["USDT"]

	buyOrder, trades, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceFOK, Price: dd("50000"), Quantity: dd("2"),
	})
	require.NoError(t, err)
	assert.Len(t, trades, 0)
	assert.Equal(t, coredomain.StatusExpired, buyOrder.Status)

	after := accounts.AccountInfo(u1).Balances["USDT"]
	assert.True(t, before.Free.Equal(after.Free), "FOK expiry must not move balances")
}

func TestSelfTradeExpireTakerCancelsIncomingOrder(t *testing.T) {
	engine, accounts, u1, _ := newTestEngine(t)
	require.NoError(t, accounts.Deposit(u1, "BTC", dd("5")))

	sellOrder, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
		STP: coredomain.STPExpireTaker,
	})
	require.NoError(t, err)
	require.Equal(t, coredomain.StatusNew, sellOrder.Status)

	buyOrder, trades, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
		STP: coredomain.STPExpireTaker,
	})
	require.NoError(t, err)
	assert.Len(t, trades, 0)
	assert.Equal(t, coredomain.StatusExpiredInMatch, buyOrder.Status)

	restingSell, ok := engine.QueryOrder(u1, sellOrder.ID)
	require.True(t, ok)
	assert.Equal(t, coredomain.StatusNew, restingSell.Status, "maker survives under EXPIRE_TAKER")
}

func TestPriceMatchOpponentUsesBestOppositePrice(t *testing.T) {
	engine, _, u1, u2 := newTestEngine(t)

	_, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u2, Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("51000"), Quantity: dd("1"),
	})
	require.NoError(t, err)

	buyOrder, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Quantity: dd("1"),
		PriceMatch: coredomain.PriceMatchOpponent,
	})
	require.NoError(t, err)
	assert.True(t, buyOrder.Price.Equal(dd("51000")))
}

func TestCancelOrderReleasesReservation(t *testing.T) {
	engine, accounts, u1, _ := newTestEngine(t)

	order, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
	})
	require.NoError(t, err)

	before := accounts.AccountInfo(u1).Balances["USDT"]
	assert.True(t, before.Locked.Equal(dd("50000")))

	_, err = engine.CancelOrder(u1, "BTCUSDT", order.ID)
	require.NoError(t, err)

	after := accounts.AccountInfo(u1).Balances["USDT"]
	assert.True(t, after.Locked.IsZero())
	assert.True(t, after.Free.Equal(dd("1000000")))
}

func TestCancelOrderRejectsWrongSymbol(t *testing.T) {
	engine, _, u1, _ := newTestEngine(t)
	engine.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT",
		BasePrecision: 8, QuotePrecision: 2,
		Filters: coredomain.Filters{
			Price: coredomain.PriceFilter{Min: dd("0.01"), Tick: dd("0.01")},
			Lot:   coredomain.LotFilter{Min: dd("0.0001"), Step: dd("0.0001")},
		},
	})

	order, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("1"),
	})
	require.NoError(t, err)

	_, err = engine.CancelOrder(u1, "ETHUSDT", order.ID)
	require.Error(t, err, "cancelling a BTCUSDT order through the ETHUSDT book must fail")

	// the order must still be live and cancellable through its real symbol.
	_, err = engine.CancelOrder(u1, "BTCUSDT", order.ID)
	require.NoError(t, err)
}

func TestStopLossBuyReservesAgainstReferencePrice(t *testing.T) {
	engine, accounts, u1, u2 := newTestEngine(t)

	_, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u2, Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit,
		TimeInForce: coredomain.TimeInForceGTC, Price: dd("50000"), Quantity: dd("10"),
	})
	require.NoError(t, err)

	order, _, err := engine.SubmitOrder(SubmitRequest{
		Symbol: "BTCUSDT", UserID: u1, Side: coredomain.SideBuy, Type: coredomain.OrderTypeStopLoss,
		StopPrice: dd("51000"), Quantity: dd("1"),
	})
	require.NoError(t, err)
	assert.True(t, order.ReservedAmount.IsPositive(), "parked stop-loss BUY must reserve against a reference price")

	locked := accounts.AccountInfo(u1).Balances["USDT"].Locked
	assert.True(t, locked.Equal(order.ReservedAmount))
}
