package deposit

import (
	"context"

	"github.com/pkg/errors"

	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/wallet/chain"
)

// ErrSweepNotRequested marks a credited deposit whose sweep request could not be published.
var ErrSweepNotRequested = errors.New("deposit sweep not requested")

// Service credits inbound stablecoin transfers to deposit wallets.
type Service interface {
	// Run watches the chain until ctx is done, restarting the subscription after failures.
	Run(ctx context.Context) error
	// HandleTransfer credits one transfer log and requests a sweep once the wallet holds enough.
	HandleTransfer(ctx context.Context, l chain.TransferLog) error
}

type Store interface {
	GetWalletByAddress(ctx context.Context, address string) (*ledger.Wallet, error)
	ListWallets(ctx context.Context) ([]*ledger.Wallet, error)
	RecordDeposit(ctx context.Context, event ledger.DepositEvent) (bool, error)
	LastDepositBlock(ctx context.Context) (uint64, bool, error)
}
