package wsgateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/exchange"
	"github.com/qtexchange/vexchange/internal/platform/apiauth"
	"github.com/qtexchange/vexchange/internal/vtime"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestGateway(t *testing.T) (*Gateway, *exchange.Exchange) {
	t.Helper()
	clock := vtime.NewBacktest(1_700_000_000_000)
	ex := exchange.New(clock, coreengine.Commissions{Maker: d("0.001"), Taker: d("0.001")}, 5*time.Minute, nil)
	ex.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", BasePrecision: 8, QuotePrecision: 8,
		Filters: coredomain.Filters{
			Price: coredomain.PriceFilter{Min: d("0.01"), Tick: d("0.01")},
			Lot:   coredomain.LotFilter{Min: d("0.0001"), Step: d("0.0001")},
		},
	})
	hub := NewHub(2, 100)
	gw := New(ex, hub, apiauth.NewKeyStore(), nil)
	return gw, ex
}

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestPublicStreamReceivesTradeAfterMatch(t *testing.T) {
	gw, ex := newTestGateway(t)
	server := httptest.NewServer(http.HandlerFunc(gw.ServePublic))
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"method": "SUBSCRIBE", "params": []string{"BTCUSDT@trade"}}))
	time.Sleep(50 * time.Millisecond) // allow hub.register/subscribe to land

	seller := uuid.New()
	buyer := uuid.New()
	ex.RegisterUser(seller)
	ex.RegisterUser(buyer)
	require.NoError(t, ex.Deposit(seller, "BTC", d("10")))
	require.NoError(t, ex.Deposit(buyer, "USDT", d("100000")))

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

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	// writePump sends each payload as-is: a Binance-style trade event object.
	var payload tradePayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, "BTCUSDT", payload.Symbol)
	require.Equal(t, "trade", payload.EventType)
	require.Equal(t, "50000", payload.Price)
}

func TestPrivateStreamRejectsUnknownAPIKey(t *testing.T) {
	gw, _ := newTestGateway(t)
	server := httptest.NewServer(http.HandlerFunc(gw.ServePrivate))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-MBX-APIKEY", "nonexistent")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSymbolFromTopicParsesPrefix(t *testing.T) {
	symbol, ok := symbolFromTopic("BTCUSDT@depth")
	require.True(t, ok)
	require.Equal(t, "BTCUSDT", symbol)

	_, ok = symbolFromTopic("no-at-sign")
	require.False(t, ok)
}
