package test

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/ledger"
)

// Ledger is an in-memory ledger.Store with the same status rules and balance checks.
type Ledger struct {
	mu          sync.Mutex
	wallets     map[int64]*ledger.Wallet
	withdrawals map[int64]*ledger.Withdrawal
	deposits    map[string]ledger.DepositEvent
	nextWallet  int64
	nextRequest int64

	// Errors maps a method name to the error it returns instead of running.
	Errors map[string]error
}

func NewLedger() *Ledger {
	return &Ledger{
		wallets:     map[int64]*ledger.Wallet{},
		withdrawals: map[int64]*ledger.Withdrawal{},
		deposits:    map[string]ledger.DepositEvent{},
		Errors:      map[string]error{},
	}
}

func (l *Ledger) fault(method string) error {
	return l.Errors[method]
}

// AddWallet inserts a deposit wallet and returns a copy of it.
func (l *Ledger) AddWallet(address, encryptedKey string, balance decimal.Decimal) *ledger.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextWallet++
	w := &ledger.Wallet{
		ID:           l.nextWallet,
		Address:      strings.ToLower(address),
		EncryptedKey: encryptedKey,
		Balance:      balance,
		CreatedAt:    time.Now(),
	}
	l.wallets[w.ID] = w

	c := *w
	return &c
}

// AddWithdrawal inserts a request without any balance checks.
func (l *Ledger) AddWithdrawal(walletID int64, amount decimal.Decimal, to string, status ledger.Status) *ledger.Withdrawal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.insertWithdrawal(walletID, amount, to, status)
}

func (l *Ledger) insertWithdrawal(walletID int64, amount decimal.Decimal, to string, status ledger.Status) *ledger.Withdrawal {
	l.nextRequest++
	w := &ledger.Withdrawal{
		ID:        l.nextRequest,
		WalletID:  null.Int64From(walletID),
		Amount:    amount.String(),
		ToAddress: to,
		Status:    status,
		CreatedAt: time.Now(),
	}
	l.withdrawals[w.ID] = w

	c := *w
	return &c
}

func (l *Ledger) GetWallet(_ context.Context, id int64) (*ledger.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("GetWallet"); err != nil {
		return nil, err
	}

	w, ok := l.wallets[id]
	if !ok {
		return nil, errors.Wrapf(ledger.ErrWalletNotFound, "wallet %d", id)
	}

	c := *w
	return &c, nil
}

func (l *Ledger) GetWalletByAddress(_ context.Context, address string) (*ledger.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, w := range l.wallets {
		if w.Address == strings.ToLower(address) {
			c := *w
			return &c, nil
		}
	}

	return nil, errors.Wrapf(ledger.ErrWalletNotFound, "wallet %s", address)
}

func (l *Ledger) ListWallets(_ context.Context) ([]*ledger.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("ListWallets"); err != nil {
		return nil, err
	}

	res := make([]*ledger.Wallet, 0, len(l.wallets))
	for _, w := range l.wallets {
		c := *w
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

func (l *Ledger) SetFrozen(_ context.Context, id int64, frozen bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[id]
	if !ok {
		return errors.Wrapf(ledger.ErrWalletNotFound, "wallet %d", id)
	}
	w.Frozen = frozen

	return nil
}

// reserved sums withdrawals in any of statuses, optionally for one wallet only.
func (l *Ledger) reserved(walletID *int64, statuses ...ledger.Status) decimal.Decimal {
	total := decimal.Zero
	for _, w := range l.withdrawals {
		if !slices.Contains(statuses, w.Status) {
			continue
		}
		if walletID != nil && w.WalletID.Int64 != *walletID {
			continue
		}
		total = total.Add(decimal.RequireFromString(w.Amount))
	}

	return total
}

func (l *Ledger) AvailableBalance(_ context.Context, id int64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[id]
	if !ok {
		return decimal.Zero, errors.Wrapf(ledger.ErrWalletNotFound, "wallet %d", id)
	}

	return w.Balance.Sub(l.reserved(&id, ledger.StatusPending, ledger.StatusProcessing)), nil
}

func (l *Ledger) TotalBalance(_ context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("TotalBalance"); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, w := range l.wallets {
		total = total.Add(w.Balance)
	}

	return total, nil
}

func (l *Ledger) ReservedTotal(_ context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("ReservedTotal"); err != nil {
		return decimal.Zero, err
	}

	return l.reserved(nil, ledger.StatusProcessing), nil
}

func (l *Ledger) CreateWithdrawal(
	_ context.Context,
	walletID int64,
	amount decimal.Decimal,
	toAddress string,
	status ledger.Status,
) (*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !amount.IsPositive() {
		return nil, errors.Wrapf(ledger.ErrInvalidAmount, "%s is not positive", amount)
	}

	w, ok := l.wallets[walletID]
	if !ok {
		return nil, errors.Wrapf(ledger.ErrWalletNotFound, "wallet %d", walletID)
	}
	if w.Frozen {
		return nil, errors.Wrapf(ledger.ErrWalletFrozen, "wallet %d", walletID)
	}

	available := w.Balance.Sub(l.reserved(&walletID, ledger.StatusPending, ledger.StatusProcessing))
	if amount.GreaterThan(available) {
		return nil, errors.Wrapf(ledger.ErrInsufficientBalance, "wallet %d: requested %s, available %s", walletID, amount, available)
	}

	return l.insertWithdrawal(walletID, amount, toAddress, status), nil
}

func (l *Ledger) GetWithdrawal(_ context.Context, id int64) (*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.withdrawals[id]
	if !ok {
		return nil, errors.Wrapf(ledger.ErrWithdrawalNotFound, "withdrawal %d", id)
	}

	c := *w
	return &c, nil
}

func (l *Ledger) list(limit int, match func(*ledger.Withdrawal) bool) []*ledger.Withdrawal {
	res := make([]*ledger.Withdrawal, 0)
	for _, w := range l.withdrawals {
		if match(w) {
			c := *w
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res
}

func (l *Ledger) ListWithdrawalsByStatus(_ context.Context, status ledger.Status, limit int) ([]*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("ListWithdrawalsByStatus"); err != nil {
		return nil, err
	}

	return l.list(limit, func(w *ledger.Withdrawal) bool { return w.Status == status }), nil
}

func (l *Ledger) ListExecutableWithdrawals(_ context.Context, limit int) ([]*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("ListExecutableWithdrawals"); err != nil {
		return nil, err
	}

	return l.list(limit, func(w *ledger.Withdrawal) bool {
		return w.Status == ledger.StatusProcessing && !w.TxHash.Valid
	}), nil
}

func (l *Ledger) ListInFlightWithdrawals(_ context.Context) ([]*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("ListInFlightWithdrawals"); err != nil {
		return nil, err
	}

	return l.list(0, func(w *ledger.Withdrawal) bool {
		return w.Status == ledger.StatusProcessing && w.TxHash.Valid
	}), nil
}

func (l *Ledger) ListWithdrawalsByWallet(_ context.Context, walletID int64) ([]*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.list(0, func(w *ledger.Withdrawal) bool { return w.WalletID.Int64 == walletID }), nil
}

func (l *Ledger) TransitionWithdrawal(_ context.Context, id int64, next ledger.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("TransitionWithdrawal"); err != nil {
		return err
	}

	return l.transition(id, next)
}

func (l *Ledger) transition(id int64, next ledger.Status) error {
	w, ok := l.withdrawals[id]
	if !ok || !w.Status.CanTransition(next) {
		return errors.Wrapf(ledger.ErrInvalidTransition, "withdrawal %d to %s", id, next)
	}
	w.Status = next

	return nil
}

func (l *Ledger) AttachTxHash(_ context.Context, id int64, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("AttachTxHash"); err != nil {
		return err
	}

	w, ok := l.withdrawals[id]
	if !ok || w.Status != ledger.StatusProcessing || w.TxHash.Valid {
		return errors.Wrapf(ledger.ErrInvalidTransition, "withdrawal %d already broadcast or not processing", id)
	}
	w.TxHash = null.StringFrom(hash)

	return nil
}

func (l *Ledger) CompleteWithdrawal(_ context.Context, id int64, processedAt time.Time) (*ledger.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("CompleteWithdrawal"); err != nil {
		return nil, err
	}

	w, ok := l.withdrawals[id]
	if !ok || w.Status != ledger.StatusProcessing {
		return nil, errors.Wrapf(ledger.ErrInvalidTransition, "withdrawal %d is not processing", id)
	}

	if wallet, ok := l.wallets[w.WalletID.Int64]; ok {
		wallet.Balance = wallet.Balance.Sub(decimal.RequireFromString(w.Amount))
	}

	w.Status = ledger.StatusProcessed
	w.ProcessedAt = null.TimeFrom(processedAt)

	c := *w
	return &c, nil
}

func (l *Ledger) FailWithdrawal(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("FailWithdrawal"); err != nil {
		return err
	}

	return l.transition(id, ledger.StatusFailed)
}

func (l *Ledger) RecordDeposit(_ context.Context, event ledger.DepositEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("RecordDeposit"); err != nil {
		return false, err
	}

	key := fmt.Sprintf("%s:%d", strings.ToLower(event.TxHash), event.LogIndex)
	if _, ok := l.deposits[key]; ok {
		return false, nil
	}

	w, ok := l.wallets[event.WalletID]
	if !ok {
		return false, errors.Wrapf(ledger.ErrWalletNotFound, "wallet %d", event.WalletID)
	}

	l.deposits[key] = event
	w.Balance = w.Balance.Add(event.Amount)

	return true, nil
}

func (l *Ledger) LastDepositBlock(_ context.Context) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fault("LastDepositBlock"); err != nil {
		return 0, false, err
	}

	var (
		last  uint64
		found bool
	)
	for _, d := range l.deposits {
		if !found || d.BlockNumber > last {
			last = d.BlockNumber
			found = true
		}
	}

	return last, found, nil
}

// Deposits returns the number of credited transfer logs.
func (l *Ledger) Deposits() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.deposits)
}

func (l *Ledger) Ping(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.fault("Ping")
}
