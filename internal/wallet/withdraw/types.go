package withdraw

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/ledger"
)

const ReasonWithdrawalFailed = "withdrawal_failed"

var ErrInvalidAddress = errors.New("invalid destination address")

// Store is the part of the ledger the withdrawal controller works on.
type Store interface {
	GetWallet(ctx context.Context, id int64) (*ledger.Wallet, error)
	ReservedTotal(ctx context.Context) (decimal.Decimal, error)

	CreateWithdrawal(ctx context.Context, walletID int64, amount decimal.Decimal, toAddress string, status ledger.Status) (*ledger.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id int64) (*ledger.Withdrawal, error)
	ListWithdrawalsByStatus(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Withdrawal, error)
	ListExecutableWithdrawals(ctx context.Context, limit int) ([]*ledger.Withdrawal, error)

	TransitionWithdrawal(ctx context.Context, id int64, next ledger.Status) error
	AttachTxHash(ctx context.Context, id int64, hash string) error
	CompleteWithdrawal(ctx context.Context, id int64, processedAt time.Time) (*ledger.Withdrawal, error)
	FailWithdrawal(ctx context.Context, id int64) error
}
