package replay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/coreengine"
)

func TestCSVSourceParsesRowsInOrder(t *testing.T) {
	const csvData = "timestamp_ms,symbol,user_id,side,type,time_in_force,price,quantity\n" +
		"100,BTCUSDT,11111111-1111-1111-1111-111111111111,SELL,LIMIT,GTC,50000,1\n" +
		"200,BTCUSDT,22222222-2222-2222-2222-222222222222,BUY,LIMIT,GTC,50000,1\n"

	src, err := NewCSVSource(strings.NewReader(csvData))
	require.NoError(t, err)

	dp1, ok, err := src.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), dp1.TimestampMs)
	req1 := dp1.Payload.(coreengine.SubmitRequest)
	require.Equal(t, "BTCUSDT", req1.Symbol)
	require.Equal(t, "50000", req1.Price.String())

	dp2, ok, err := src.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(200), dp2.TimestampMs)

	_, ok, err = src.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCSVSourceRejectsBadPrice(t *testing.T) {
	const csvData = "timestamp_ms,symbol,user_id,side,type,time_in_force,price,quantity\n" +
		"100,BTCUSDT,11111111-1111-1111-1111-111111111111,SELL,LIMIT,GTC,notanumber,1\n"

	src, err := NewCSVSource(strings.NewReader(csvData))
	require.NoError(t, err)

	_, _, err = src.Next(context.Background())
	require.Error(t, err)
}
