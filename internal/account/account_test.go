package account

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qtexchange/vexchange/internal/vtime"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDepositThenReserveMovesFreeToLocked(t *testing.T) {
	m := New(vtime.New())
	user := uuid.New()

	require.NoError(t, m.Deposit(user, "USDT", d("100")))
	require.NoError(t, m.Reserve(user, "USDT", d("40")))

	snap := m.AccountInfo(user)
	bal := snap.Balances["USDT"]
	assert.True(t, bal.Free.Equal(d("60")))
	assert.True(t, bal.Locked.Equal(d("40")))
}

func TestReserveRejectsInsufficientFree(t *testing.T) {
	m := New(vtime.New())
	user := uuid.New()
	require.NoError(t, m.Deposit(user, "USDT", d("10")))

	err := m.Reserve(user, "USDT", d("50"))
	assert.Error(t, err)
}

func TestReleaseReturnsLockedToFree(t *testing.T) {
	m := New(vtime.New())
	user := uuid.New()
	require.NoError(t, m.Deposit(user, "USDT", d("100")))
	require.NoError(t, m.Reserve(user, "USDT", d("40")))
	require.NoError(t, m.Release(user, "USDT", d("40")))

	snap := m.AccountInfo(user)
	bal := snap.Balances["USDT"]
	assert.True(t, bal.Free.Equal(d("100")))
	assert.True(t, bal.Locked.IsZero())
}

func TestSettleFillBetweenTwoUsers(t *testing.T) {
	m := New(vtime.New())
	buyer := uuid.New()
	seller := uuid.New()

	require.NoError(t, m.Deposit(buyer, "USDT", d("1000")))
	require.NoError(t, m.Deposit(seller, "BTC", d("5")))
	require.NoError(t, m.Reserve(buyer, "USDT", d("500")))
	require.NoError(t, m.Reserve(seller, "BTC", d("1")))

	err := m.SettleFill(
		FillLeg{UserID: buyer, DebitAsset: "USDT", DebitAmount: d("500"), CreditAsset: "BTC", CreditAmount: d("1")},
		FillLeg{UserID: seller, DebitAsset: "BTC", DebitAmount: d("1"), CreditAsset: "USDT", CreditAmount: d("500")},
	)
	require.NoError(t, err)

	buyerSnap := m.AccountInfo(buyer)
	assert.True(t, buyerSnap.Balances["BTC"].Free.Equal(d("1")))
	assert.True(t, buyerSnap.Balances["USDT"].Locked.IsZero())

	sellerSnap := m.AccountInfo(seller)
	assert.True(t, sellerSnap.Balances["USDT"].Free.Equal(d("500")))
	assert.True(t, sellerSnap.Balances["BTC"].Locked.IsZero())
}

func TestSettleFillDeductsFeeFromCreditSide(t *testing.T) {
	m := New(vtime.New())
	buyer := uuid.New()
	seller := uuid.New()
	require.NoError(t, m.Deposit(buyer, "USDT", d("500")))
	require.NoError(t, m.Deposit(seller, "BTC", d("1")))
	require.NoError(t, m.Reserve(buyer, "USDT", d("500")))
	require.NoError(t, m.Reserve(seller, "BTC", d("1")))

	err := m.SettleFill(
		FillLeg{UserID: buyer, DebitAsset: "USDT", DebitAmount: d("500"), CreditAsset: "BTC", CreditAmount: d("1"), FeeAsset: "BTC", FeeAmount: d("0.001")},
		FillLeg{UserID: seller, DebitAsset: "BTC", DebitAmount: d("1"), CreditAsset: "USDT", CreditAmount: d("500"), FeeAsset: "USDT", FeeAmount: d("0.5")},
	)
	require.NoError(t, err)

	buyerSnap := m.AccountInfo(buyer)
	assert.True(t, buyerSnap.Balances["BTC"].Free.Equal(d("0.999")))

	sellerSnap := m.AccountInfo(seller)
	assert.True(t, sellerSnap.Balances["USDT"].Free.Equal(d("499.5")))
}

func TestHistoryFiltersByAsset(t *testing.T) {
	m := New(vtime.New())
	user := uuid.New()
	require.NoError(t, m.Deposit(user, "USDT", d("100")))
	require.NoError(t, m.Deposit(user, "BTC", d("1")))

	txns := m.History(user, "USDT")
	require.Len(t, txns, 1)
	assert.Equal(t, "USDT", txns[0].Asset)
}
