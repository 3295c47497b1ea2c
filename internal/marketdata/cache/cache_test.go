package cache

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/orderbook"
)

func TestDepthSnapshotRoundTripsJSON(t *testing.T) {
	snap := DepthSnapshot{
		Symbol: "BTCUSDT",
		Bids:   []orderbook.DepthLevel{{Price: decimal.RequireFromString("50000"), Qty: decimal.RequireFromString("1")}},
		Asks:   []orderbook.DepthLevel{{Price: decimal.RequireFromString("50010"), Qty: decimal.RequireFromString("2")}},
		LastUpdateID: 7, CapturedAtMs: 1_700_000_000_000,
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var out DepthSnapshot
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, snap.Symbol, out.Symbol)
	require.Equal(t, uint64(7), out.LastUpdateID)
	require.Len(t, out.Bids, 1)
	require.True(t, out.Bids[0].Price.Equal(snap.Bids[0].Price))
}

func TestDepthKeyAndChannelNaming(t *testing.T) {
	require.Equal(t, "depth:BTCUSDT", depthKey("BTCUSDT"))
	require.Equal(t, "depth-updates:BTCUSDT", depthChannel("BTCUSDT"))
}
