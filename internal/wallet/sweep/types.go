package sweep

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/wallet/chain"
)

const (
	TriggerSignal  = "signal"
	TriggerMonitor = "automatic-monitoring"

	ReasonSweepFailed = "sweep_failed"
)

var ErrInsufficientSource = errors.New("source wallet balance too low")

type WalletStore interface {
	GetWallet(ctx context.Context, id int64) (*ledger.Wallet, error)
}

// route is one directed stablecoin transfer between wallets.
type route struct {
	name    string
	from    *chain.Account
	to      common.Address
	lockKey string
}
