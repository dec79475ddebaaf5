package ledger

import (
	"time"

	"github.com/aarondl/null/v8"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransition   = errors.New("invalid withdrawal status transition")
)

// Status of a withdrawal request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a request in status s may move to next.
// failed -> processing is only taken by an explicit replenishment or operator action.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessed || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessing
	case StatusProcessed:
		return false
	}
	return false
}

// sourcesOf returns every status allowed to move to next.
func sourcesOf(next Status) []string {
	res := make([]string, 0, 2)
	for _, s := range []Status{StatusPending, StatusProcessing, StatusProcessed, StatusFailed} {
		if s.CanTransition(next) {
			res = append(res, string(s))
		}
	}
	return res
}

// Wallet is a deposit wallet row.
type Wallet struct {
	ID           int64           `boil:"id" json:"id"`
	Address      string          `boil:"address" json:"address"`
	Frozen       bool            `boil:"frozen" json:"frozen"`
	EncryptedKey string          `boil:"encrypted_key" json:"-"`
	Balance      decimal.Decimal `boil:"balance" json:"balance"`
	CreatedAt    time.Time       `boil:"created_at" json:"createdAt"`
}

// Withdrawal is a withdrawal_queue row.
type Withdrawal struct {
	ID          int64       `boil:"id" json:"id"`
	WalletID    null.Int64  `boil:"wallet_id" json:"walletId"`
	Amount      string      `boil:"amount" json:"amount"`
	ToAddress   string      `boil:"to_address" json:"toAddress"`
	Status      Status      `boil:"status" json:"status"`
	TxHash      null.String `boil:"tx_hash" json:"txHash"`
	CreatedAt   time.Time   `boil:"created_at" json:"createdAt"`
	ProcessedAt null.Time   `boil:"processed_at" json:"processedAt"`
}

// AmountDecimal parses the stored amount text.
func (w *Withdrawal) AmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "withdrawal %d: %q", w.ID, w.Amount)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "withdrawal %d: %s is not positive", w.ID, d)
	}

	return d, nil
}

// DepositEvent is one stablecoin transfer log credited to a deposit wallet.
type DepositEvent struct {
	TxHash      string
	LogIndex    uint
	WalletID    int64
	Amount      decimal.Decimal
	BlockNumber uint64
}
