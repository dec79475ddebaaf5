package deposit_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/test"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/deposit"
	"github/chapool/tiered-custody/internal/wallet/keystore"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

type fixture struct {
	cfg    config.Server
	ledger *test.Ledger
	chain  *test.Chain
	bus    *test.Bus
	vault  *keystore.Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return &fixture{
		cfg:    test.Config(t),
		ledger: test.NewLedger(),
		chain:  test.NewChain(),
		bus:    test.NewBus(),
		vault:  test.Vault(t),
	}
}

func (f *fixture) service() deposit.Service {
	return deposit.NewService(f.cfg, f.ledger, f.chain, f.bus, nil)
}

func (f *fixture) walletBalance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()

	w, err := f.ledger.GetWallet(context.Background(), id)
	require.NoError(t, err)

	return w.Balance
}

func transferLog(to common.Address, amount string, hash byte, block uint64) chain.TransferLog {
	return chain.TransferLog{
		From:        common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72"),
		To:          to,
		Value:       test.Units(amount),
		TxHash:      common.BytesToHash([]byte{hash}),
		LogIndex:    0,
		BlockNumber: block,
	}
}

// deposit simulates the on-chain side of a transfer before its log is handled.
func (f *fixture) deposit(to common.Address, amount string) {
	f.chain.SetToken(to, new(big.Int).Add(f.chain.Token(to), test.Units(amount)))
}

func waitSubscribed(t *testing.T, c *test.Chain) {
	t.Helper()

	select {
	case <-c.Subscribed():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription")
	}
}

func TestHandleTransferAboveThreshold(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)

	f.deposit(address, "150")
	require.NoError(t, f.service().HandleTransfer(context.Background(), transferLog(address, "150", 1, 10)))

	assert.True(t, decimal.NewFromInt(150).Equal(f.walletBalance(t, id)))

	published := f.bus.Published()
	require.Len(t, published, 2)

	gas, ok := published[0].(*events.GasLow)
	require.True(t, ok)
	assert.Equal(t, tier.Deposit, gas.WalletType)
	require.NotNil(t, gas.WalletID)
	assert.Equal(t, id, *gas.WalletID)

	sweepable, ok := published[1].(*events.DepositWalletSweepable)
	require.True(t, ok)
	assert.Equal(t, id, sweepable.Wallet)
	assert.True(t, decimal.NewFromInt(150).Equal(sweepable.Amount))
}

func TestHandleTransferBelowThreshold(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)

	f.deposit(address, "50")
	require.NoError(t, f.service().HandleTransfer(context.Background(), transferLog(address, "50", 1, 10)))

	assert.True(t, decimal.NewFromInt(50).Equal(f.walletBalance(t, id)))
	assert.Empty(t, f.bus.Published())
}

func TestHandleTransferSweepsTotalBalance(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.NewFromInt(80))
	f.chain.SetToken(address, test.Units("80"))

	f.deposit(address, "50")
	require.NoError(t, f.service().HandleTransfer(context.Background(), transferLog(address, "50", 1, 10)))

	assert.True(t, decimal.NewFromInt(130).Equal(f.walletBalance(t, id)))

	sigs := f.bus.On(events.ChannelDepositWalletSweepable)
	require.Len(t, sigs, 1)
	assert.True(t, decimal.NewFromInt(130).Equal(sigs[0].(*events.DepositWalletSweepable).Amount))
}

func TestHandleTransferCreditsOnce(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	svc := f.service()

	f.deposit(address, "150")
	l := transferLog(address, "150", 1, 10)

	require.NoError(t, svc.HandleTransfer(context.Background(), l))
	require.NoError(t, svc.HandleTransfer(context.Background(), l))

	assert.True(t, decimal.NewFromInt(150).Equal(f.walletBalance(t, id)))
	assert.Equal(t, 1, f.ledger.Deposits())
	assert.Len(t, f.bus.On(events.ChannelDepositWalletSweepable), 1)
}

func TestHandleTransferIgnored(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	svc := f.service()

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, svc.HandleTransfer(context.Background(), transferLog(unknown, "500", 1, 10)))

	removed := transferLog(address, "500", 2, 10)
	removed.Removed = true
	require.NoError(t, svc.HandleTransfer(context.Background(), removed))

	assert.Equal(t, 0, f.ledger.Deposits())
	assert.True(t, f.walletBalance(t, id).IsZero())
	assert.Empty(t, f.bus.Published())
}

func TestHandleTransferFrozenWalletNotSwept(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	require.NoError(t, f.ledger.SetFrozen(context.Background(), id, true))

	f.deposit(address, "150")
	require.NoError(t, f.service().HandleTransfer(context.Background(), transferLog(address, "150", 1, 10)))

	assert.True(t, decimal.NewFromInt(150).Equal(f.walletBalance(t, id)))
	assert.Empty(t, f.bus.Published())
}

func TestHandleTransferLedgerError(t *testing.T) {
	f := newFixture(t)
	_, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	f.ledger.Errors["RecordDeposit"] = errors.New("db down")

	require.Error(t, f.service().HandleTransfer(context.Background(), transferLog(address, "150", 1, 10)))
	assert.Empty(t, f.bus.Published())
}

func TestRunResumesAfterSubscriptionFailure(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.service().Run(ctx) }()

	waitSubscribed(t, f.chain)
	assert.True(t, f.chain.Recipients()[address])
	assert.Nil(t, f.chain.FromBlocks()[0])

	require.True(t, f.chain.Emit(transferLog(address, "20", 1, 42)))
	require.Eventually(t, func() bool { return f.ledger.Deposits() == 1 }, time.Second, 5*time.Millisecond)

	f.chain.FailSubscription(errors.New("websocket closed"))
	waitSubscribed(t, f.chain)

	from := f.chain.FromBlocks()
	require.Len(t, from, 2)
	require.NotNil(t, from[1])
	assert.EqualValues(t, 42, *from[1])

	cancel()
	require.NoError(t, <-done)

	assert.True(t, decimal.NewFromInt(20).Equal(f.walletBalance(t, id)))
}

func TestRunRereadsBlockAfterFailedCredit(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	f.ledger.Errors["RecordDeposit"] = errors.New("db down")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.service().Run(ctx) }()

	waitSubscribed(t, f.chain)
	require.True(t, f.chain.Emit(transferLog(address, "150", 1, 10)))

	// the failed credit ends the subscription and the next one starts at its block
	waitSubscribed(t, f.chain)
	from := f.chain.FromBlocks()
	require.Len(t, from, 2)
	require.NotNil(t, from[1])
	assert.EqualValues(t, 10, *from[1])
	assert.Zero(t, f.ledger.Deposits())

	delete(f.ledger.Errors, "RecordDeposit")

	// backfill from block 10 delivers the log again, followed by a later deposit
	require.True(t, f.chain.Emit(transferLog(address, "150", 1, 10)))
	require.True(t, f.chain.Emit(transferLog(address, "20", 2, 20)))
	require.Eventually(t, func() bool { return f.ledger.Deposits() == 2 }, time.Second, 5*time.Millisecond)

	f.chain.FailSubscription(errors.New("websocket closed"))
	waitSubscribed(t, f.chain)

	from = f.chain.FromBlocks()
	require.Len(t, from, 3)
	require.NotNil(t, from[2])
	assert.EqualValues(t, 20, *from[2])

	cancel()
	require.NoError(t, <-done)

	assert.True(t, decimal.NewFromInt(170).Equal(f.walletBalance(t, id)))
}

func TestHandleTransferSweepRequestFailure(t *testing.T) {
	f := newFixture(t)
	id, address := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	f.deposit(address, "150")
	f.bus.PublishErr = errors.New("redis down")

	err := f.service().HandleTransfer(context.Background(), transferLog(address, "150", 1, 10))
	assert.ErrorIs(t, err, deposit.ErrSweepNotRequested)
	assert.True(t, decimal.NewFromInt(150).Equal(f.walletBalance(t, id)))
}

func TestRunRetriesSubscribeErrors(t *testing.T) {
	f := newFixture(t)
	test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	f.chain.SubscribeErr = errors.New("dial tcp: connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.service().Run(ctx) }()

	waitSubscribed(t, f.chain)
	waitSubscribed(t, f.chain)

	cancel()
	require.NoError(t, <-done)
}

func TestRunWatchesNewWallets(t *testing.T) {
	f := newFixture(t)
	f.cfg.Deposit.ResyncInterval = 10 * time.Millisecond
	_, first := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.service().Run(ctx) }()

	waitSubscribed(t, f.chain)
	assert.Len(t, f.chain.Recipients(), 1)

	_, second := test.DepositWallet(t, f.ledger, f.vault, decimal.Zero)
	waitSubscribed(t, f.chain)

	recipients := f.chain.Recipients()
	assert.True(t, recipients[first])
	assert.True(t, recipients[second])

	cancel()
	require.NoError(t, <-done)
}
