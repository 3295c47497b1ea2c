package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestMarshalTradeRoundTripsDecimalFields(t *testing.T) {
	trade := &coredomain.Trade{
		ID: 42, Symbol: "BTCUSDT", Price: d("50000"), Quantity: d("1"), QuoteQuantity: d("50000"),
		Timestamp: 1_700_000_000_000, BuyOrderID: uuid.New(), SellOrderID: uuid.New(),
		BuyUserID: uuid.New(), SellUserID: uuid.New(), MakerSide: coredomain.SideSell,
		BuyCommission: d("0.001"), SellCommission: d("0.0005"),
	}

	raw, err := marshalTrade(trade)
	require.NoError(t, err)

	var env TradeEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, int64(42), env.TradeID)
	require.Equal(t, "50000", env.Price)
	require.Equal(t, "SELL", env.MakerSide)
}

func TestMarshalOrderUpdateCarriesEventType(t *testing.T) {
	order := &coredomain.Order{
		ID: uuid.New(), ClientOrderID: "abc", Symbol: "BTCUSDT", UserID: uuid.New(),
		Side: coredomain.SideBuy, Type: coredomain.OrderTypeLimit, Status: coredomain.StatusFilled,
		Price: d("50000"), Quantity: d("1"), FilledQty: d("1"), UpdateTime: 1_700_000_000_001,
	}
	ev := coreengine.Event{Type: coredomain.EventTrade, Order: order}

	raw, err := marshalOrderUpdate(ev)
	require.NoError(t, err)

	var env OrderUpdateEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "TRADE", env.EventType)
	require.Equal(t, order.ID.String(), env.OrderID)
	require.Equal(t, "FILLED", env.Status)
}
