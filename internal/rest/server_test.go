package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/archive"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/exchange"
	"github.com/qtexchange/vexchange/internal/platform/apiauth"
	"github.com/qtexchange/vexchange/internal/vtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestServer(t *testing.T) (*Server, uuid.UUID, string, string) {
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

	userID := uuid.New()
	ex.RegisterUser(userID)
	require.NoError(t, ex.Deposit(userID, "USDT", d("100000")))

	keys := apiauth.NewKeyStore()
	apiKey, secret := keys.Issue(userID)

	s := New(ex, clock, keys, nil, 10_000)
	return s, userID, apiKey, secret
}

func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPingReturnsEmptyObject(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v3/ping", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
}

func TestExchangeInfoListsRegisteredSymbol(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v3/exchangeInfo", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Symbols []symbolInfoDTO `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Symbols, 1)
	assert.Equal(t, "BTCUSDT", body.Symbols[0].Symbol)
}

func TestSignedEndpointRejectsBadSignature(t *testing.T) {
	s, _, apiKey, _ := newTestServer(t)
	q := url.Values{}
	q.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	q.Set("signature", "deadbeef")

	req := httptest.NewRequest(http.MethodGet, "/api/v3/account?"+q.Encode(), nil)
	req.Header.Set(headerAPIKey, apiKey)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignedEndpointAcceptsValidSignature(t *testing.T) {
	s, _, apiKey, secret := newTestServer(t)
	q := url.Values{}
	q.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	sig := sign(secret, q.Encode())
	q.Set("signature", sig)

	req := httptest.NewRequest(http.MethodGet, "/api/v3/account?"+q.Encode(), nil)
	req.Header.Set(headerAPIKey, apiKey)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignedEndpointRejectsStaleTimestamp(t *testing.T) {
	s, _, apiKey, secret := newTestServer(t)
	q := url.Values{}
	q.Set("timestamp", strconv.FormatInt(1_000_000_000_000, 10)) // far in the past
	sig := sign(secret, q.Encode())
	q.Set("signature", sig)

	req := httptest.NewRequest(http.MethodGet, "/api/v3/account?"+q.Encode(), nil)
	req.Header.Set(headerAPIKey, apiKey)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body binanceError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, codeInvalidTimestamp, body.Code)
}

func TestPlaceOrderThenQueryRoundTrips(t *testing.T) {
	s, _, apiKey, secret := newTestServer(t)

	form := url.Values{}
	form.Set("symbol", "BTCUSDT")
	form.Set("side", "BUY")
	form.Set("type", "LIMIT")
	form.Set("timeInForce", "GTC")
	form.Set("price", "50000")
	form.Set("quantity", "1")
	form.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	sig := sign(secret, form.Encode())
	form.Set("signature", sig)

	req := httptest.NewRequest(http.MethodPost, "/api/v3/order?"+form.Encode(), nil)
	req.Header.Set(headerAPIKey, apiKey)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result orderResultDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "NEW", result.Status)
	assert.NotEmpty(t, result.OrderID)

	q := url.Values{}
	q.Set("orderId", result.OrderID)
	q.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	q.Set("signature", sign(secret, q.Encode()))

	req2 := httptest.NewRequest(http.MethodGet, "/api/v3/order?"+q.Encode(), nil)
	req2.Header.Set(headerAPIKey, apiKey)
	w2 := httptest.NewRecorder()
	s.Router().ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())

	var queried orderDTO
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &queried))
	assert.Equal(t, result.OrderID, queried.OrderID)
}

func TestAllOrdersMergesArchivedAndLiveOrders(t *testing.T) {
	s, userID, apiKey, secret := newTestServer(t)

	store, err := archive.Open(":memory:", 90*24*time.Hour, nil)
	require.NoError(t, err)
	defer store.Close()

	archived := &coredomain.Order{
		ID: uuid.New(), ClientOrderID: "old-1", Symbol: "BTCUSDT", UserID: userID,
		Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("49000"), Quantity: d("1"), FilledQty: d("1"), FilledQuoteQty: d("49000"),
		Status: coredomain.StatusFilled, Timestamp: 1_600_000_000_000, UpdateTime: 1_600_000_000_000,
	}
	require.NoError(t, store.Archive(archived))
	s.AttachArchive(store)

	form := url.Values{}
	form.Set("symbol", "BTCUSDT")
	form.Set("side", "BUY")
	form.Set("type", "LIMIT")
	form.Set("timeInForce", "GTC")
	form.Set("price", "50000")
	form.Set("quantity", "1")
	form.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	form.Set("signature", sign(secret, form.Encode()))
	req := httptest.NewRequest(http.MethodPost, "/api/v3/order?"+form.Encode(), nil)
	req.Header.Set(headerAPIKey, apiKey)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := url.Values{}
	q.Set("symbol", "BTCUSDT")
	q.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	q.Set("signature", sign(secret, q.Encode()))
	req2 := httptest.NewRequest(http.MethodGet, "/api/v3/allOrders?"+q.Encode(), nil)
	req2.Header.Set(headerAPIKey, apiKey)
	w2 := httptest.NewRecorder()
	s.Router().ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())

	var orders []orderDTO
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &orders))
	require.Len(t, orders, 2)

	var sawArchived, sawLive bool
	for _, o := range orders {
		if o.ClientOrderID == "old-1" {
			sawArchived = true
			assert.Equal(t, "FILLED", o.Status)
		} else {
			sawLive = true
		}
	}
	assert.True(t, sawArchived, "expected archived order in allOrders result")
	assert.True(t, sawLive, "expected live order in allOrders result")
}

func TestAllOrdersFiltersByStartTimeAndFromID(t *testing.T) {
	s, userID, apiKey, secret := newTestServer(t)

	store, err := archive.Open(":memory:", 90*24*time.Hour, nil)
	require.NoError(t, err)
	defer store.Close()
	s.AttachArchive(store)

	older := &coredomain.Order{
		ID: uuid.New(), ClientOrderID: "older", Symbol: "BTCUSDT", UserID: userID,
		Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("49000"), Quantity: d("1"), FilledQty: d("1"), FilledQuoteQty: d("49000"),
		Status: coredomain.StatusFilled, Timestamp: 1_000_000_000_000, UpdateTime: 1_000_000_000_000,
	}
	newer := &coredomain.Order{
		ID: uuid.New(), ClientOrderID: "newer", Symbol: "BTCUSDT", UserID: userID,
		Side: coredomain.SideSell, Type: coredomain.OrderTypeLimit, TimeInForce: coredomain.TimeInForceGTC,
		Price: d("49500"), Quantity: d("1"), FilledQty: d("1"), FilledQuoteQty: d("49500"),
		Status: coredomain.StatusFilled, Timestamp: 2_000_000_000_000, UpdateTime: 2_000_000_000_000,
	}
	require.NoError(t, store.Archive(older))
	require.NoError(t, store.Archive(newer))

	q := url.Values{}
	q.Set("symbol", "BTCUSDT")
	q.Set("orderId", newer.ID.String())
	q.Set("timestamp", strconv.FormatInt(1_700_000_000_000, 10))
	q.Set("signature", sign(secret, q.Encode()))
	req := httptest.NewRequest(http.MethodGet, "/api/v3/allOrders?"+q.Encode(), nil)
	req.Header.Set(headerAPIKey, apiKey)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var orders []orderDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "newer", orders[0].ClientOrderID)
}
