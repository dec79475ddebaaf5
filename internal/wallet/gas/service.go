package gas

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/schedule"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

// Service keeps native gas balances of system and deposit wallets topped up from the gas wallet.
type Service interface {
	// HandleGasLow refills the named wallet if it holds less than half of its buffer.
	HandleGasLow(ctx context.Context, sig *events.GasLow) error
	// CheckSystemWallets runs the same check for hot, warm and cold.
	CheckSystemWallets(ctx context.Context) error
	// StartMonitoring runs CheckSystemWallets every interval until ctx is done or StopMonitoring is called.
	StartMonitoring(ctx context.Context, interval time.Duration)
	// StopMonitoring cancels the monitor and waits for a running check to return.
	StopMonitoring()

	// Dispatch routes a received signal to its handler.
	Dispatch(ctx context.Context, sig events.Signal) error
	// Channels lists the channels Dispatch handles.
	Channels() []events.Channel
}

type service struct {
	wallets  config.SystemWallets
	gasPerTx uint64
	store    WalletStore
	chain    chain.Client
	bus      events.Publisher
	locker   lock.Locker
	metrics  *metrics.Service

	gasAccount *chain.Account

	mu   sync.Mutex
	task *schedule.Task
}

//nolint:ireturn
func NewService(
	cfg config.Server,
	store WalletStore,
	client chain.Client,
	bus events.Publisher,
	locker lock.Locker,
	m *metrics.Service,
) (Service, error) {
	gasAccount, err := chain.NewAccount(cfg.Wallets.Gas.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gas wallet key")
	}

	return &service{
		wallets:    cfg.Wallets,
		gasPerTx:   cfg.Chain.GasPerTx,
		store:      store,
		chain:      client,
		bus:        bus,
		locker:     locker,
		metrics:    m,
		gasAccount: gasAccount,
	}, nil
}

// RequiredGas is the wei needed to pay for buffer transactions of gasPerTx each at gasPrice.
func RequiredGas(buffer int64, gasPerTx uint64, gasPrice *big.Int) *big.Int {
	required := new(big.Int).Mul(big.NewInt(buffer), new(big.Int).SetUint64(gasPerTx))
	return required.Mul(required, gasPrice)
}

// RefillAmount tops balance up to required, never negative.
func RefillAmount(required, balance *big.Int) *big.Int {
	amount := new(big.Int).Sub(required, balance)
	if amount.Sign() < 0 {
		return big.NewInt(0)
	}

	return amount
}

func (s *service) Channels() []events.Channel {
	return []events.Channel{events.ChannelGasLow}
}

func (s *service) Dispatch(ctx context.Context, sig events.Signal) error {
	switch sig := sig.(type) {
	case *events.GasLow:
		return s.HandleGasLow(ctx, sig)
	default:
		return errors.Errorf("gas service cannot handle %s", sig.Channel())
	}
}

func (s *service) HandleGasLow(ctx context.Context, sig *events.GasLow) error {
	ctx = util.WithLogFields(ctx, map[string]string{"controller": "gas"})
	log := util.LogFromContext(ctx)

	t, ok, err := s.resolve(ctx, sig)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if sig.Reason != "" {
		log.Info().Str("wallet", t.label).Str("reason", sig.Reason).Msg("GasService: gas low reported")
	}

	return s.refill(ctx, t, TriggerSignal)
}

// resolve maps a signal to its wallet. ok is false when there is nothing to refill.
func (s *service) resolve(ctx context.Context, sig *events.GasLow) (target, bool, error) {
	log := util.LogFromContext(ctx)

	switch sig.WalletType {
	case tier.Gas:
		log.Warn().Msg("GasService: ignoring gas low for the gas wallet itself")
		return target{}, false, nil

	case tier.Deposit:
		w, err := s.store.GetWallet(ctx, *sig.WalletID)
		if err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				log.Warn().Int64("wallet_id", *sig.WalletID).Msg("GasService: deposit wallet not found")
				return target{}, false, nil
			}
			return target{}, false, err
		}

		return target{
			walletType: tier.Deposit,
			walletID:   sig.WalletID,
			address:    common.HexToAddress(w.Address),
			buffer:     s.wallets.DepositGasBuffer,
			label:      strconv.FormatInt(w.ID, 10),
		}, s.wallets.DepositGasBuffer > 0, nil

	case tier.Hot, tier.Warm, tier.Cold:
		return s.systemTarget(sig.WalletType)
	}

	return target{}, false, errors.Errorf("unknown wallet type %q", sig.WalletType)
}

func (s *service) systemTarget(t tier.Type) (target, bool, error) {
	w, ok := s.wallets.Tier(t)
	if !ok {
		return target{}, false, errors.Errorf("%s is not a system wallet", t)
	}

	return target{
		walletType: t,
		address:    common.HexToAddress(w.Address),
		buffer:     w.GasBuffer,
		label:      t.String(),
	}, w.GasBuffer > 0, nil
}

func (s *service) CheckSystemWallets(ctx context.Context) error {
	ctx = util.WithLogFields(ctx, map[string]string{"controller": "gas"})

	var (
		failed  int
		lastErr error
	)

	for _, t := range tier.System {
		target, ok, err := s.systemTarget(t)
		if err == nil && ok {
			err = s.refill(ctx, target, TriggerMonitor)
		}

		if err != nil {
			util.LogFromContext(ctx).Error().Err(err).Str("wallet", t.String()).Msg("GasService: failed to check wallet")
			failed++
			lastErr = err
		}
	}

	if lastErr != nil {
		return errors.Wrapf(lastErr, "%d of %d wallet checks failed", failed, len(tier.System))
	}

	return nil
}

func (s *service) refill(ctx context.Context, t target, trigger string) error {
	err := lock.Do(ctx, s.locker, lock.GasKey(t.address.Hex()), func(ctx context.Context) error {
		return s.refillLocked(ctx, t, trigger)
	})
	if errors.Is(err, lock.ErrLocked) {
		util.LogFromContext(ctx).Debug().Str("wallet", t.label).Msg("GasService: refill already in progress, skipping")
		return nil
	}

	return err
}

func (s *service) refillLocked(ctx context.Context, t target, trigger string) error {
	log := util.LogFromContext(ctx)

	balance, err := s.chain.NativeBalance(ctx, t.address)
	if err != nil {
		return errors.Wrapf(err, "failed to read native balance of %s wallet", t.label)
	}

	gasPrice, err := s.chain.GasPrice(ctx)
	if err != nil {
		return err
	}

	required := RequiredGas(t.buffer, s.gasPerTx, gasPrice)
	threshold := new(big.Int).Div(required, big.NewInt(2))

	log.Debug().
		Str("wallet", t.label).
		Str("address", t.address.Hex()).
		Str("balance", chain.WeiToEther(balance).String()).
		Str("required", chain.WeiToEther(required).String()).
		Str("threshold", chain.WeiToEther(threshold).String()).
		Msg("GasService: checked wallet")

	if balance.Cmp(threshold) >= 0 {
		return nil
	}

	amount := RefillAmount(required, balance)
	route := "gas_to_" + t.walletType.String()

	hash, err := s.chain.TransferNative(ctx, s.gasAccount, t.address, amount)
	if err != nil {
		s.metrics.TransferObserved(route, metrics.ResultError)
		return errors.Wrapf(err, "failed to refill %s wallet", t.label)
	}

	if err := s.chain.Confirm(ctx, hash); err != nil {
		s.metrics.TransferObserved(route, metrics.ResultError)
		return errors.Wrapf(err, "refill of %s wallet not confirmed", t.label)
	}

	s.metrics.TransferObserved(route, metrics.ResultOK)
	s.metrics.GasRefill(t.walletType.String())

	log.Info().
		Str("wallet", t.label).
		Str("amount", chain.WeiToEther(amount).String()).
		Str("tx_hash", hash.Hex()).
		Str("trigger", trigger).
		Msg("GasService: wallet refilled")

	return s.bus.Publish(ctx, &events.GasRefill{
		Wallet:            t.label,
		WalletType:        t.walletType,
		WalletID:          t.walletID,
		Amount:            chain.WeiToEther(amount),
		Hash:              hash.Hex(),
		TransactionBuffer: t.buffer,
		GasPrice:          gasPrice.String(),
		Trigger:           trigger,
	})
}

func (s *service) StartMonitoring(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil {
		return
	}

	s.task = schedule.Start(ctx, "gas-monitor", interval, true, s.CheckSystemWallets, schedule.WithMetrics(s.metrics))
}

func (s *service) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.task.Stop()
	s.task = nil
}
