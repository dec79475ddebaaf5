package gas

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

const (
	TriggerSignal  = "signal"
	TriggerMonitor = "automatic-monitoring"
)

// WalletStore resolves deposit wallets named by gas:low signals.
type WalletStore interface {
	GetWallet(ctx context.Context, id int64) (*ledger.Wallet, error)
}

// target is a wallet whose native balance should cover buffer transactions.
type target struct {
	walletType tier.Type
	walletID   *int64
	address    common.Address
	buffer     int64
	label      string
}
