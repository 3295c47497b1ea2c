// Package account implements per-user balance bookkeeping with reserve /
// release / settle semantics. Grounded on the original implementation's
// UserAccount/AccountManager (qte/exchange/account/account_manager.py:
// deposit/withdraw/lock_asset/unlock_asset/settle_trade) and on the
// teacher's bookkeeper.Service (LockFunds/UnlockFunds/TransferFunds) for
// Go method naming, but kept purely in-memory and mutex-protected instead
// of gorm-transactional: the hot path never touches a database.
package account

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/platform/xerrors"
	"github.com/qtexchange/vexchange/internal/vtime"
)

// Balance is one asset's free/locked split for a user.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns Free+Locked.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// TxnType classifies a Transaction entry.
type TxnType string

const (
	TxnDeposit  TxnType = "DEPOSIT"
	TxnWithdraw TxnType = "WITHDRAW"
	TxnReserve  TxnType = "RESERVE"
	TxnRelease  TxnType = "RELEASE"
	TxnFill     TxnType = "FILL"
	TxnFee      TxnType = "FEE"
)

// Transaction is an immutable ledger entry, the Go analogue of the
// original's TransactionRecord.
type Transaction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      TxnType
	Asset     string
	Amount    decimal.Decimal // signed: positive credits, negative debits
	Timestamp int64
}

// userAccount holds one user's balances and ledger, guarded by its own
// mutex so unrelated users never contend.
type userAccount struct {
	mu           sync.Mutex
	userID       uuid.UUID
	balances     map[string]*Balance
	transactions []Transaction
}

func newUserAccount(userID uuid.UUID) *userAccount {
	return &userAccount{userID: userID, balances: make(map[string]*Balance)}
}

func (a *userAccount) balance(asset string) *Balance {
	b, ok := a.balances[asset]
	if !ok {
		b = &Balance{Free: decimal.Zero, Locked: decimal.Zero}
		a.balances[asset] = b
	}
	return b
}

// Manager is the process-wide account ledger, one userAccount per user ID.
// Two-user settlement always locks the lower user ID first (canonical
// ordering) so concurrent trades between the same pair of users can never
// deadlock.
type Manager struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*userAccount
	clock    *vtime.Manager
}

// New creates an empty Manager driven by clock for transaction timestamps.
func New(clock *vtime.Manager) *Manager {
	return &Manager{accounts: make(map[uuid.UUID]*userAccount), clock: clock}
}

func (m *Manager) getOrCreate(userID uuid.UUID) *userAccount {
	m.mu.RLock()
	acct, ok := m.accounts[userID]
	m.mu.RUnlock()
	if ok {
		return acct
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok = m.accounts[userID]; ok {
		return acct
	}
	acct = newUserAccount(userID)
	m.accounts[userID] = acct
	return acct
}

// RegisterUser ensures a (possibly empty) account exists for userID.
func (m *Manager) RegisterUser(userID uuid.UUID) {
	m.getOrCreate(userID)
}

func (m *Manager) record(a *userAccount, typ TxnType, asset string, amount decimal.Decimal) {
	a.transactions = append(a.transactions, Transaction{
		ID:        uuid.New(),
		UserID:    a.userID,
		Type:      typ,
		Asset:     asset,
		Amount:    amount,
		Timestamp: m.clock.NowMs(),
	})
}

// Deposit credits asset to userID's free balance.
func (m *Manager) Deposit(userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return xerrors.Validation("deposit amount must be positive").WithField("amount", amount.String())
	}
	acct := m.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	bal := acct.balance(asset)
	bal.Free = bal.Free.Add(amount)
	m.record(acct, TxnDeposit, asset, amount)
	return nil
}

// Withdraw debits asset from userID's free balance.
func (m *Manager) Withdraw(userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return xerrors.Validation("withdraw amount must be positive").WithField("amount", amount.String())
	}
	acct := m.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	bal := acct.balance(asset)
	if bal.Free.LessThan(amount) {
		return xerrors.InsufficientFunds(fmt.Sprintf("insufficient free %s", asset))
	}
	bal.Free = bal.Free.Sub(amount)
	m.record(acct, TxnWithdraw, asset, amount.Neg())
	return nil
}

// Reserve moves amount of asset from free to locked for an order being
// placed. The exact amount reserved is what the caller must later Release
// or SettleFill against — callers (coreengine) store it on the Order.
func (m *Manager) Reserve(userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return nil // MARKET orders with no up-front reservation call Reserve(0) from shared code paths
	}
	acct := m.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	bal := acct.balance(asset)
	if bal.Free.LessThan(amount) {
		return xerrors.InsufficientFunds(fmt.Sprintf("insufficient free %s to reserve", asset))
	}
	bal.Free = bal.Free.Sub(amount)
	bal.Locked = bal.Locked.Add(amount)
	m.record(acct, TxnReserve, asset, amount.Neg())
	return nil
}

// Release returns amount of asset from locked back to free, the
// counterpart to Reserve, used on cancel/expiry/reject-after-partial-lock
// and to return any unused remainder of a reservation after a fill.
func (m *Manager) Release(userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return nil
	}
	acct := m.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	bal := acct.balance(asset)
	if bal.Locked.LessThan(amount) {
		return xerrors.InsufficientFunds(fmt.Sprintf("insufficient locked %s to release", asset))
	}
	bal.Locked = bal.Locked.Sub(amount)
	bal.Free = bal.Free.Add(amount)
	m.record(acct, TxnRelease, asset, amount)
	return nil
}

// FillLeg is one side's settlement instruction for a single trade.
type FillLeg struct {
	UserID        uuid.UUID
	DebitAsset    string // asset released from locked (what this side gave up)
	DebitAmount   decimal.Decimal
	CreditAsset   string // asset credited to free (what this side received)
	CreditAmount  decimal.Decimal
	FeeAsset      string
	FeeAmount     decimal.Decimal
}

// SettleFill atomically applies both sides of a trade: each side's locked
// debit asset is consumed, the credit asset is added to free, and the fee
// is deducted from the credit side (commission is paid out of what you
// received, never out of a separately-reserved balance). Locks are taken
// in ascending user-ID order regardless of buy/sell side so two users
// trading repeatedly can never deadlock against each other.
func (m *Manager) SettleFill(buy, sell FillLeg) error {
	buyAcct := m.getOrCreate(buy.UserID)
	sellAcct := m.getOrCreate(sell.UserID)

	first, second := buyAcct, sellAcct
	firstLeg, secondLeg := buy, sell
	if bytesLess(sellAcct.userID, buyAcct.userID) {
		first, second = sellAcct, buyAcct
		firstLeg, secondLeg = sell, buy
	}

	first.mu.Lock()
	defer first.mu.Unlock()
	if first != second {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	if err := settleLegLocked(m, first, firstLeg); err != nil {
		return err
	}
	if first == second {
		// self-trade settling against one's own account: apply sequentially,
		// the mutex is already held once.
		return settleLegLocked(m, second, secondLeg)
	}
	return settleLegLocked(m, second, secondLeg)
}

func settleLegLocked(m *Manager, acct *userAccount, leg FillLeg) error {
	debit := acct.balance(leg.DebitAsset)
	if debit.Locked.LessThan(leg.DebitAmount) {
		return xerrors.InsufficientFunds(fmt.Sprintf("settlement: insufficient locked %s for user %s", leg.DebitAsset, leg.UserID))
	}
	debit.Locked = debit.Locked.Sub(leg.DebitAmount)
	m.record(acct, TxnFill, leg.DebitAsset, leg.DebitAmount.Neg())

	credit := acct.balance(leg.CreditAsset)
	credit.Free = credit.Free.Add(leg.CreditAmount)
	m.record(acct, TxnFill, leg.CreditAsset, leg.CreditAmount)

	if leg.FeeAmount.Sign() > 0 {
		fee := acct.balance(leg.FeeAsset)
		// Fees are paid out of proceeds already credited above; a shortfall
		// here would mean CreditAmount was computed wrong upstream.
		fee.Free = fee.Free.Sub(leg.FeeAmount)
		m.record(acct, TxnFee, leg.FeeAsset, leg.FeeAmount.Neg())
	}
	return nil
}

func bytesLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Snapshot is a point-in-time view of every non-zero balance for a user.
type Snapshot struct {
	UserID   uuid.UUID
	Balances map[string]Balance
}

// AccountInfo returns a snapshot of userID's balances.
func (m *Manager) AccountInfo(userID uuid.UUID) Snapshot {
	acct := m.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	out := make(map[string]Balance, len(acct.balances))
	for asset, b := range acct.balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		out[asset] = *b
	}
	return Snapshot{UserID: userID, Balances: out}
}

// History returns userID's transaction ledger for asset, oldest first. An
// empty asset returns the full ledger across all assets.
func (m *Manager) History(userID uuid.UUID, asset string) []Transaction {
	acct := m.getOrCreate(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if asset == "" {
		out := make([]Transaction, len(acct.transactions))
		copy(out, acct.transactions)
		return out
	}
	out := make([]Transaction, 0, len(acct.transactions))
	for _, t := range acct.transactions {
		if t.Asset == asset {
			out = append(out, t)
		}
	}
	return out
}
