package gas_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/test"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/gas"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

var gwei = big.NewInt(1_000_000_000)

type fixture struct {
	cfg    config.Server
	ledger *test.Ledger
	chain  *test.Chain
	bus    *test.Bus
	locker *lock.LocalLocker
	svc    gas.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cfg:    test.Config(t),
		ledger: test.NewLedger(),
		chain:  test.NewChain(),
		bus:    test.NewBus(),
		locker: lock.NewLocalLocker(),
	}

	f.chain.SetGasPrice(gwei)
	f.chain.SetNative(common.HexToAddress(f.cfg.Wallets.Gas.Address), chain.EtherToWei(decimal.NewFromInt(100)))

	svc, err := gas.NewService(f.cfg, f.ledger, f.chain, f.bus, f.locker, nil)
	require.NoError(t, err)
	f.svc = svc

	return f
}

func TestRequiredGas(t *testing.T) {
	t.Parallel()

	// 10 txs * 70000 gas * 1 gwei = 0.0007 ETH
	required := gas.RequiredGas(10, 70000, gwei)
	assert.Equal(t, "700000000000000", required.String())

	assert.Equal(t, big.NewInt(300), gas.RefillAmount(big.NewInt(1000), big.NewInt(700)))
	assert.Equal(t, big.NewInt(0), gas.RefillAmount(big.NewInt(1000), big.NewInt(1700)))
}

func TestHandleGasLowRefillsHotWallet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hot := common.HexToAddress(f.cfg.Wallets.Hot.Address)

	// required 0.0007 ETH, threshold 0.00035, current 0.0001
	f.chain.SetNative(hot, big.NewInt(100_000_000_000_000))

	require.NoError(t, f.svc.HandleGasLow(context.Background(), &events.GasLow{WalletType: tier.Hot}))

	transfers := f.chain.Transfers()
	require.Len(t, transfers, 1)
	assert.True(t, transfers[0].Native)
	assert.Equal(t, common.HexToAddress(f.cfg.Wallets.Gas.Address), transfers[0].From)
	assert.Equal(t, hot, transfers[0].To)
	assert.Equal(t, "600000000000000", transfers[0].Amount.String())
	assert.Equal(t, "700000000000000", f.chain.Native(hot).String())

	refills := f.bus.On(events.ChannelGasRefill)
	require.Len(t, refills, 1)
	refill := refills[0].(*events.GasRefill)
	assert.Equal(t, "hot", refill.Wallet)
	assert.Equal(t, tier.Hot, refill.WalletType)
	assert.True(t, decimal.RequireFromString("0.0006").Equal(refill.Amount))
	assert.Equal(t, transfers[0].Hash.Hex(), refill.Hash)
	assert.Equal(t, int64(10), refill.TransactionBuffer)
	assert.Equal(t, gas.TriggerSignal, refill.Trigger)
}

func TestHandleGasLowAboveThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hot := common.HexToAddress(f.cfg.Wallets.Hot.Address)

	// exactly at the 50% threshold is enough
	f.chain.SetNative(hot, big.NewInt(350_000_000_000_000))

	require.NoError(t, f.svc.HandleGasLow(context.Background(), &events.GasLow{WalletType: tier.Hot}))
	assert.Empty(t, f.chain.Transfers())
	assert.Empty(t, f.bus.Published())
}

func TestHandleGasLowDepositWallet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, test.Vault(t), decimal.Zero)

	require.NoError(t, f.svc.HandleGasLow(context.Background(), &events.GasLow{WalletType: tier.Deposit, WalletID: &id}))

	transfers := f.chain.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, address, transfers[0].To)
	// deposit buffer is a single transaction
	assert.Equal(t, "70000000000000", transfers[0].Amount.String())

	refill := f.bus.On(events.ChannelGasRefill)[0].(*events.GasRefill)
	require.NotNil(t, refill.WalletID)
	assert.Equal(t, id, *refill.WalletID)
	assert.Equal(t, tier.Deposit, refill.WalletType)
}

func TestHandleGasLowNoAction(t *testing.T) {
	t.Parallel()

	missing := int64(404)

	tests := []struct {
		name string
		sig  *events.GasLow
	}{
		{"cold wallet has no buffer", &events.GasLow{WalletType: tier.Cold}},
		{"gas wallet never refills itself", &events.GasLow{WalletType: tier.Gas}},
		{"unknown deposit wallet", &events.GasLow{WalletType: tier.Deposit, WalletID: &missing}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			require.NoError(t, f.svc.HandleGasLow(context.Background(), tt.sig))
			assert.Empty(t, f.chain.Transfers())
			assert.Empty(t, f.bus.Published())
		})
	}
}

func TestHandleGasLowTransferFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.chain.TransferErr = &chain.TransferError{Kind: chain.KindUnknown, Op: "native transfer", Err: errors.New("nonce too low")}

	err := f.svc.HandleGasLow(context.Background(), &events.GasLow{WalletType: tier.Warm})
	require.Error(t, err)
	assert.Empty(t, f.bus.Published())
}

func TestHandleGasLowSkipsWhileLocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	release, ok, err := f.locker.TryLock(context.Background(), lock.GasKey(f.cfg.Wallets.Hot.Address))
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	require.NoError(t, f.svc.HandleGasLow(context.Background(), &events.GasLow{WalletType: tier.Hot}))
	assert.Empty(t, f.chain.Transfers())
}

func TestCheckSystemWallets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.svc.CheckSystemWallets(context.Background()))

	transfers := f.chain.Transfers()
	require.Len(t, transfers, 2)
	assert.Equal(t, common.HexToAddress(f.cfg.Wallets.Hot.Address), transfers[0].To)
	assert.Equal(t, common.HexToAddress(f.cfg.Wallets.Warm.Address), transfers[1].To)

	for _, sig := range f.bus.On(events.ChannelGasRefill) {
		assert.Equal(t, gas.TriggerMonitor, sig.(*events.GasRefill).Trigger)
	}

	// topped up, second pass is a no-op
	require.NoError(t, f.svc.CheckSystemWallets(context.Background()))
	assert.Len(t, f.chain.Transfers(), 2)
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.Equal(t, []events.Channel{events.ChannelGasLow}, f.svc.Channels())

	require.NoError(t, f.svc.Dispatch(context.Background(), &events.GasLow{WalletType: tier.Hot}))
	assert.Len(t, f.chain.Transfers(), 1)

	require.Error(t, f.svc.Dispatch(context.Background(), &events.WarmWalletSweepable{Amount: decimal.NewFromInt(1)}))
}
