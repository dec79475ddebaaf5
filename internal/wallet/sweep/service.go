package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/keystore"
	"github/chapool/tiered-custody/internal/wallet/schedule"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

// Service moves stablecoin between tiers to keep each inside its liquidity band.
type Service interface {
	// HandleHotWalletInsufficient tops the hot wallet up from warm, falling back to cold.
	HandleHotWalletInsufficient(ctx context.Context, sig *events.HotWalletInsufficient) error
	// HandleWarmWalletSweepable moves warm funds above its maximum to cold.
	HandleWarmWalletSweepable(ctx context.Context, sig *events.WarmWalletSweepable) error
	// HandleWarmWalletInsufficient tops the warm wallet up from cold.
	HandleWarmWalletInsufficient(ctx context.Context, sig *events.WarmWalletInsufficient) error
	// HandleDepositWalletSweepable moves a deposit wallet's balance into the hot wallet.
	HandleDepositWalletSweepable(ctx context.Context, sig *events.DepositWalletSweepable) error
	HandleDepositWalletInsufficient(ctx context.Context, sig *events.DepositWalletInsufficient) error

	// CheckSystemWallets compares hot, warm and cold balances with their thresholds and rebalances.
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
	thresholds config.Thresholds
	decimals   int32
	store      WalletStore
	chain      chain.Client
	vault      *keystore.Vault
	bus        events.Publisher
	locker     lock.Locker
	metrics    *metrics.Service

	hot  common.Address
	warm *chain.Account
	cold *chain.Account

	mu   sync.Mutex
	task *schedule.Task
}

//nolint:ireturn
func NewService(
	cfg config.Server,
	store WalletStore,
	client chain.Client,
	vault *keystore.Vault,
	bus events.Publisher,
	locker lock.Locker,
	m *metrics.Service,
) (Service, error) {
	warm, err := chain.NewAccount(cfg.Wallets.Warm.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid warm wallet key")
	}

	cold, err := chain.NewAccount(cfg.Wallets.Cold.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cold wallet key")
	}

	return &service{
		thresholds: cfg.Thresholds,
		decimals:   cfg.Chain.TokenDecimals,
		store:      store,
		chain:      client,
		vault:      vault,
		bus:        bus,
		locker:     locker,
		metrics:    m,
		hot:        common.HexToAddress(cfg.Wallets.Hot.Address),
		warm:       warm,
		cold:       cold,
	}, nil
}

func (s *service) warmToHot() route {
	return route{name: "warm_to_hot", from: s.warm, to: s.hot, lockKey: lock.TierKey(tier.Warm)}
}

func (s *service) warmToCold() route {
	return route{name: "warm_to_cold", from: s.warm, to: s.cold.Address, lockKey: lock.TierKey(tier.Warm)}
}

func (s *service) coldToWarm() route {
	return route{name: "cold_to_warm", from: s.cold, to: s.warm.Address, lockKey: lock.TierKey(tier.Cold)}
}

func (s *service) Channels() []events.Channel {
	return []events.Channel{
		events.ChannelHotWalletInsufficient,
		events.ChannelWarmWalletSweepable,
		events.ChannelWarmWalletInsufficient,
		events.ChannelDepositWalletSweepable,
		events.ChannelDepositWalletInsufficient,
	}
}

func (s *service) Dispatch(ctx context.Context, sig events.Signal) error {
	switch sig := sig.(type) {
	case *events.HotWalletInsufficient:
		return s.HandleHotWalletInsufficient(ctx, sig)
	case *events.WarmWalletSweepable:
		return s.HandleWarmWalletSweepable(ctx, sig)
	case *events.WarmWalletInsufficient:
		return s.HandleWarmWalletInsufficient(ctx, sig)
	case *events.DepositWalletSweepable:
		return s.HandleDepositWalletSweepable(ctx, sig)
	case *events.DepositWalletInsufficient:
		return s.HandleDepositWalletInsufficient(ctx, sig)
	default:
		return errors.Errorf("sweep service cannot handle %s", sig.Channel())
	}
}

func withController(ctx context.Context) context.Context {
	return util.WithLogFields(ctx, map[string]string{"controller": "sweep"})
}

func (s *service) HandleHotWalletInsufficient(ctx context.Context, sig *events.HotWalletInsufficient) error {
	return s.replenishHot(withController(ctx), sig.Amount, TriggerSignal)
}

func (s *service) HandleWarmWalletSweepable(ctx context.Context, sig *events.WarmWalletSweepable) error {
	return s.sweepWarm(withController(ctx), sig.Amount, TriggerSignal)
}

func (s *service) HandleWarmWalletInsufficient(ctx context.Context, sig *events.WarmWalletInsufficient) error {
	return s.replenishWarm(withController(ctx), sig.Amount, TriggerSignal)
}

func (s *service) HandleDepositWalletInsufficient(ctx context.Context, sig *events.DepositWalletInsufficient) error {
	id := sig.Wallet
	return s.bus.Publish(withController(ctx), &events.GasLow{WalletType: tier.Deposit, WalletID: &id})
}

func (s *service) replenishHot(ctx context.Context, amount decimal.Decimal, trigger string) error {
	hash, err := s.move(ctx, s.warmToHot(), amount)
	if err != nil {
		return skipLocked(ctx, err)
	}

	return s.bus.Publish(ctx, &events.HotWalletReplenished{Amount: amount, Hash: hash.Hex(), Trigger: trigger})
}

func (s *service) replenishWarm(ctx context.Context, amount decimal.Decimal, trigger string) error {
	hash, err := s.move(ctx, s.coldToWarm(), amount)
	if err != nil {
		return skipLocked(ctx, err)
	}

	return s.bus.Publish(ctx, &events.WarmWalletReplenished{Amount: amount, Hash: hash.Hex(), Trigger: trigger})
}

func (s *service) sweepWarm(ctx context.Context, amount decimal.Decimal, trigger string) error {
	hash, err := s.move(ctx, s.warmToCold(), amount)
	if err != nil {
		return skipLocked(ctx, err)
	}

	return s.bus.Publish(ctx, &events.WarmWalletSwept{Amount: amount, Hash: hash.Hex(), Trigger: trigger})
}

// skipLocked turns a held tier lock into a logged no-op; some other action already moves funds for that tier.
func skipLocked(ctx context.Context, err error) error {
	if errors.Is(err, lock.ErrLocked) {
		util.LogFromContext(ctx).Info().Err(err).Msg("SweepService: transfer already in progress, skipping")
		return nil
	}

	return err
}

// move transfers amount along r while holding r's lock. The source balance is checked first
// so an underfunded tier fails without spending gas.
func (s *service) move(ctx context.Context, r route, amount decimal.Decimal) (common.Hash, error) {
	var hash common.Hash

	err := lock.Do(ctx, s.locker, r.lockKey, func(ctx context.Context) error {
		units := chain.ToBaseUnits(amount, s.decimals)
		if units.Sign() <= 0 {
			return errors.Errorf("%s: amount %s rounds to zero", r.name, amount)
		}

		balance, err := s.chain.TokenBalance(ctx, r.from.Address)
		if err != nil {
			return errors.Wrapf(err, "%s: failed to read source balance", r.name)
		}

		if balance.Cmp(units) < 0 {
			return errors.Wrapf(ErrInsufficientSource, "%s: has %s, needs %s",
				r.name, chain.FromBaseUnits(balance, s.decimals), amount)
		}

		hash, err = s.chain.TransferToken(ctx, r.from, r.to, units)
		if err != nil {
			s.metrics.TransferObserved(r.name, metrics.ResultError)
			return errors.Wrap(err, r.name)
		}

		if err := s.chain.Confirm(ctx, hash); err != nil {
			s.metrics.TransferObserved(r.name, metrics.ResultError)
			return errors.Wrapf(err, "%s: transfer %s not confirmed", r.name, hash.Hex())
		}

		s.metrics.TransferObserved(r.name, metrics.ResultOK)
		util.LogFromContext(ctx).Info().
			Str("route", r.name).
			Str("amount", amount.String()).
			Str("tx_hash", hash.Hex()).
			Msg("SweepService: transfer confirmed")

		return nil
	})

	return hash, err
}

func (s *service) StartMonitoring(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil {
		return
	}

	s.task = schedule.Start(ctx, "sweep-monitor", interval, true, s.CheckSystemWallets, schedule.WithMetrics(s.metrics))
}

func (s *service) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.task.Stop()
	s.task = nil
}
