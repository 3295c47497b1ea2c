package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/account"
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

func newTestEngine(t *testing.T) (*coreengine.Engine, *vtime.Manager) {
	t.Helper()
	clock := vtime.NewBacktest(1_700_000_000_000)
	accounts := account.New(clock)
	engine := coreengine.New(clock, accounts, coreengine.Commissions{Maker: d("0.001"), Taker: d("0.001")}, nil)
	engine.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", BasePrecision: 8, QuotePrecision: 8,
		Filters: coredomain.Filters{
			Price: coredomain.PriceFilter{Min: d("0.01"), Tick: d("0.01")},
			Lot:   coredomain.LotFilter{Min: d("0.0001"), Step: d("0.0001")},
		},
	})
	return engine, clock
}

func TestArchiveRecordsTerminalOrderOnly(t *testing.T) {
	store, err := Open(":memory:", 90*24*time.Hour, nil)
	require.NoError(t, err)
	defer store.Close()

	engine, _ := newTestEngine(t)
	store.ListenEngine(engine)

	userID := uuid.New()
	// no funds registered: SubmitOrder should reject for insufficient funds,
	// a terminal status, and the archive should record exactly that row.
	order, _, err := engine.SubmitOrder(coreengine.SubmitRequest{
		Symbol: "BTCUSDT", UserID: userID, Side: coredomain.SideBuy,
		Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("50000"), Quantity: d("1"),
	})
	require.NoError(t, err)
	require.NotNil(t, order)
	require.True(t, order.Status.IsTerminal())
	require.Equal(t, coredomain.StatusRejected, order.Status)

	recs, err := store.OrdersByUser(context.Background(), userID, "", 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, order.ID.String(), recs[0].ID)
	require.Equal(t, string(order.Status), recs[0].Status)
}

func TestSweepDeletesOrdersOlderThanRetention(t *testing.T) {
	store, err := Open(":memory:", time.Hour, nil)
	require.NoError(t, err)
	defer store.Close()

	old := &coredomain.Order{
		ID: uuid.New(), UserID: uuid.New(), Symbol: "BTCUSDT", Status: coredomain.StatusFilled,
		Price: d("1"), Quantity: d("1"), FilledQty: d("1"), Timestamp: 1_000_000_000_000,
	}
	recent := &coredomain.Order{
		ID: uuid.New(), UserID: uuid.New(), Symbol: "BTCUSDT", Status: coredomain.StatusFilled,
		Price: d("1"), Quantity: d("1"), FilledQty: d("1"), Timestamp: 1_700_000_000_000,
	}
	require.NoError(t, store.Archive(old))
	require.NoError(t, store.Archive(recent))

	deleted, err := store.Sweep(context.Background(), 1_700_000_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	recs, err := store.OrdersByUser(context.Background(), recent.UserID, "", 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, recent.ID.String(), recs[0].ID)
}
