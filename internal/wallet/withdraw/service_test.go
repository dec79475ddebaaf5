package withdraw_test

import (
	"context"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/test"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/tier"
	"github/chapool/tiered-custody/internal/wallet/withdraw"
)

const destination = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	cfg    config.Server
	ledger *test.Ledger
	chain  *test.Chain
	bus    *test.Bus
	locker *lock.LocalLocker
	svc    withdraw.Service

	hot    common.Address
	wallet int64
}

func newFixture(t *testing.T, walletBalance string) *fixture {
	t.Helper()

	f := &fixture{
		cfg:    test.Config(t),
		ledger: test.NewLedger(),
		chain:  test.NewChain(),
		bus:    test.NewBus(),
		locker: lock.NewLocalLocker(),
	}
	f.hot = common.HexToAddress(f.cfg.Wallets.Hot.Address)
	f.wallet, _ = test.DepositWallet(t, f.ledger, test.Vault(t), decimal.RequireFromString(walletBalance))

	svc, err := withdraw.NewService(f.cfg, f.ledger, f.chain, f.bus, f.locker, time2.NewMockClock(now), nil)
	require.NoError(t, err)
	f.svc = svc

	return f
}

func (f *fixture) withdrawal(t *testing.T, id int64) *ledger.Withdrawal {
	t.Helper()

	w, err := f.ledger.GetWithdrawal(context.Background(), id)
	require.NoError(t, err)

	return w
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()

	w, err := f.ledger.GetWallet(context.Background(), f.wallet)
	require.NoError(t, err)

	return w.Balance
}

func TestRequestWithdrawalCoveredByHotWallet(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	w, err := f.svc.RequestWithdrawal(context.Background(), f.wallet, decimal.NewFromInt(500), destination)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusProcessing, w.Status)
	assert.Empty(t, f.bus.Published())
}

func TestRequestWithdrawalHotWalletShort(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("300"))

	w, err := f.svc.RequestWithdrawal(context.Background(), f.wallet, decimal.NewFromInt(500), destination)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, w.Status)

	sigs := f.bus.On(events.ChannelHotWalletInsufficient)
	require.Len(t, sigs, 1)
	assert.True(t, decimal.NewFromInt(200).Equal(sigs[0].(*events.HotWalletInsufficient).Amount))
}

func TestRequestWithdrawalCountsReservedAmounts(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("600"))
	f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(400), destination, ledger.StatusProcessing)

	w, err := f.svc.RequestWithdrawal(context.Background(), f.wallet, decimal.NewFromInt(300), destination)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, w.Status)

	sigs := f.bus.On(events.ChannelHotWalletInsufficient)
	require.Len(t, sigs, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(sigs[0].(*events.HotWalletInsufficient).Amount))
}

func TestRequestWithdrawalPendingReservesBalance(t *testing.T) {
	f := newFixture(t, "500")
	ctx := context.Background()

	first, err := f.svc.RequestWithdrawal(ctx, f.wallet, decimal.NewFromInt(500), destination)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, first.Status)

	_, err = f.svc.RequestWithdrawal(ctx, f.wallet, decimal.NewFromInt(500), destination)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	available, err := f.ledger.AvailableBalance(ctx, f.wallet)
	require.NoError(t, err)
	assert.True(t, available.IsZero(), available.String())

	f.chain.SetToken(f.hot, test.Units("500"))
	sig := &events.HotWalletReplenished{Amount: decimal.NewFromInt(500), Hash: "0x01", Trigger: "signal"}
	require.NoError(t, f.svc.HandleHotWalletReplenished(ctx, sig))

	assert.Len(t, f.chain.Transfers(), 1)
	assert.Equal(t, ledger.StatusProcessed, f.withdrawal(t, first.ID).Status)
	assert.True(t, f.balance(t).IsZero(), f.balance(t).String())
}

func TestRequestWithdrawalRejected(t *testing.T) {
	f := newFixture(t, "100")
	f.chain.SetToken(f.hot, test.Units("2000"))

	ctx := context.Background()

	_, err := f.svc.RequestWithdrawal(ctx, f.wallet, decimal.NewFromInt(10), "not-an-address")
	assert.ErrorIs(t, err, withdraw.ErrInvalidAddress)

	_, err = f.svc.RequestWithdrawal(ctx, f.wallet, decimal.Zero, destination)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.RequestWithdrawal(ctx, f.wallet, decimal.NewFromInt(150), destination)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.NoError(t, f.ledger.SetFrozen(ctx, f.wallet, true))
	_, err = f.svc.RequestWithdrawal(ctx, f.wallet, decimal.NewFromInt(10), destination)
	assert.ErrorIs(t, err, ledger.ErrWalletFrozen)

	f.chain.BalanceErr = errors.New("rpc down")
	_, err = f.svc.RequestWithdrawal(ctx, f.wallet, decimal.NewFromInt(10), destination)
	require.Error(t, err)

	assert.Empty(t, f.bus.Published())
}

func TestProcessQueue(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(250), destination, ledger.StatusProcessing)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))

	transfers := f.chain.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, f.hot, transfers[0].From)
	assert.Equal(t, common.HexToAddress(destination), transfers[0].To)
	assert.Equal(t, test.Units("250").String(), transfers[0].Amount.String())

	got := f.withdrawal(t, w.ID)
	assert.Equal(t, ledger.StatusProcessed, got.Status)
	assert.Equal(t, transfers[0].Hash.Hex(), got.TxHash.String)
	assert.True(t, now.Equal(got.ProcessedAt.Time))
	assert.True(t, decimal.NewFromInt(750).Equal(f.balance(t)))

	sigs := f.bus.On(events.ChannelWithdrawalSucceeded)
	require.Len(t, sigs, 1)
	assert.Equal(t, w.ID, sigs[0].(*events.WithdrawalSucceeded).WithdrawalID)
	assert.Equal(t, transfers[0].Hash.Hex(), sigs[0].(*events.WithdrawalSucceeded).Hash)

	// processed rows are never sent again
	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Len(t, f.chain.Transfers(), 1)
}

func TestProcessQueueBatchSize(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	for i := 0; i < f.cfg.Withdrawal.BatchSize+2; i++ {
		f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(1), destination, ledger.StatusProcessing)
	}

	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Len(t, f.chain.Transfers(), f.cfg.Withdrawal.BatchSize)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Len(t, f.chain.Transfers(), f.cfg.Withdrawal.BatchSize+2)
}

func TestProcessQueueSkipsPendingAndInFlight(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(10), destination, ledger.StatusPending)
	inFlight := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(10), destination, ledger.StatusProcessing)
	require.NoError(t, f.ledger.AttachTxHash(context.Background(), inFlight.ID, common.HexToHash("0x01").Hex()))

	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Empty(t, f.chain.Transfers())
}

func TestProcessQueueListError(t *testing.T) {
	f := newFixture(t, "1000")
	f.ledger.Errors["ListExecutableWithdrawals"] = errors.New("db down")

	require.Error(t, f.svc.ProcessQueue(context.Background()))
}

func TestWithdrawalFailsOnGasError(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))
	f.chain.TransferErr = &chain.TransferError{Kind: chain.KindInsufficientGas, Op: "transfer", Err: errors.New("insufficient funds for gas * price + value")}

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusProcessing)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))

	got := f.withdrawal(t, w.ID)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.False(t, got.ProcessedAt.Valid)
	assert.True(t, decimal.NewFromInt(1000).Equal(f.balance(t)))

	failed := f.bus.On(events.ChannelWithdrawalFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, w.ID, failed[0].(*events.WithdrawalFailed).WithdrawalID)
	assert.Contains(t, failed[0].(*events.WithdrawalFailed).Error, "insufficient funds")

	gas := f.bus.On(events.ChannelGasLow)
	require.Len(t, gas, 1)
	low := gas[0].(*events.GasLow)
	assert.Equal(t, tier.Hot, low.WalletType)
	assert.Equal(t, withdraw.ReasonWithdrawalFailed, low.Reason)
	require.NotNil(t, low.WithdrawalID)
	assert.Equal(t, w.ID, *low.WithdrawalID)
}

func TestWithdrawalFailsOnRevert(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))
	f.chain.ConfirmErr = &chain.TransferError{Kind: chain.KindReverted, Op: "confirm", Err: errors.New("reverted")}

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusProcessing)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))

	assert.Equal(t, ledger.StatusFailed, f.withdrawal(t, w.ID).Status)
	assert.Len(t, f.bus.On(events.ChannelWithdrawalFailed), 1)
	assert.Empty(t, f.bus.On(events.ChannelGasLow))
}

func TestWithdrawalFailsForFrozenWallet(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusProcessing)
	require.NoError(t, f.ledger.SetFrozen(context.Background(), f.wallet, true))

	require.NoError(t, f.svc.ProcessQueue(context.Background()))

	assert.Equal(t, ledger.StatusFailed, f.withdrawal(t, w.ID).Status)
	assert.Empty(t, f.chain.Transfers())
}

func TestWithdrawalConfirmTimeoutLeftInFlight(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))
	f.chain.ConfirmErr = errors.Wrap(chain.ErrReceiptTimeout, "0xabc")

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusProcessing)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))

	got := f.withdrawal(t, w.ID)
	assert.Equal(t, ledger.StatusProcessing, got.Status)
	assert.True(t, got.TxHash.Valid)
	assert.Empty(t, f.bus.Published())

	// in flight rows belong to reconciliation
	f.chain.ConfirmErr = nil
	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Len(t, f.chain.Transfers(), 1)
}

func TestWithdrawalHashRecordedLate(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))
	f.chain.ConfirmErr = chain.ErrReceiptTimeout
	f.ledger.Errors["AttachTxHash"] = errors.New("db down")

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusProcessing)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.False(t, f.withdrawal(t, w.ID).TxHash.Valid)

	delete(f.ledger.Errors, "AttachTxHash")
	require.NoError(t, f.svc.ProcessQueue(context.Background()))

	transfers := f.chain.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, transfers[0].Hash.Hex(), f.withdrawal(t, w.ID).TxHash.String)
}

func TestHandleHotWalletReplenished(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	first := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusPending)
	second := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(200), destination, ledger.StatusPending)
	failed := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(50), destination, ledger.StatusFailed)

	sig := &events.HotWalletReplenished{Amount: decimal.NewFromInt(300), Hash: "0x01", Trigger: "signal"}
	require.NoError(t, f.svc.Dispatch(context.Background(), sig))

	assert.Equal(t, ledger.StatusProcessed, f.withdrawal(t, first.ID).Status)
	assert.Equal(t, ledger.StatusProcessed, f.withdrawal(t, second.ID).Status)
	assert.Equal(t, ledger.StatusFailed, f.withdrawal(t, failed.ID).Status)
	assert.Len(t, f.chain.Transfers(), 2)
	assert.True(t, decimal.NewFromInt(700).Equal(f.balance(t)))
	assert.Len(t, f.bus.On(events.ChannelWithdrawalSucceeded), 2)
}

func TestExecutionSkippedWhileLocked(t *testing.T) {
	f := newFixture(t, "1000")
	f.chain.SetToken(f.hot, test.Units("2000"))

	w := f.ledger.AddWithdrawal(f.wallet, decimal.NewFromInt(100), destination, ledger.StatusProcessing)

	release, ok, err := f.locker.TryLock(context.Background(), lock.WithdrawalKey(w.ID))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Empty(t, f.chain.Transfers())

	release()

	require.NoError(t, f.svc.ProcessQueue(context.Background()))
	assert.Len(t, f.chain.Transfers(), 1)
}

func TestDispatchUnknownSignal(t *testing.T) {
	f := newFixture(t, "1000")

	require.Error(t, f.svc.Dispatch(context.Background(), &events.ColdWalletLow{}))
	assert.Equal(t, []events.Channel{events.ChannelHotWalletReplenished}, f.svc.Channels())
}
