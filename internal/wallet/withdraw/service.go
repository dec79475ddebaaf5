package withdraw

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/schedule"
)

// Service drains the withdrawal queue from the hot wallet.
type Service interface {
	// RequestWithdrawal queues a withdrawal against a deposit wallet's available balance.
	// It is executable right away when the hot wallet covers it, otherwise it waits as pending
	// for the next hot wallet replenishment.
	RequestWithdrawal(ctx context.Context, walletID int64, amount decimal.Decimal, toAddress string) (*ledger.Withdrawal, error)
	// ProcessQueue executes one batch of processing requests.
	ProcessQueue(ctx context.Context) error
	// HandleHotWalletReplenished moves every pending request to processing and executes it inline.
	HandleHotWalletReplenished(ctx context.Context, sig *events.HotWalletReplenished) error

	// Start schedules ProcessQueue at the configured queue interval. A second call is a no-op.
	Start(ctx context.Context)
	// Stop cancels the queue schedule and waits for a running batch.
	Stop()

	// Dispatch routes a received signal to its handler.
	Dispatch(ctx context.Context, sig events.Signal) error
	// Channels lists the channels Dispatch handles.
	Channels() []events.Channel
}

type service struct {
	store    Store
	chain    chain.Client
	bus      events.Publisher
	locker   lock.Locker
	clock    time2.Clock
	metrics  *metrics.Service
	decimals int32

	hot       *chain.Account
	interval  time.Duration
	batchSize int

	// withdrawal id -> common.Hash of transfers broadcast whose hash could not be stored yet
	unrecorded sync.Map

	mu   sync.Mutex
	task *schedule.Task
}

//nolint:ireturn
func NewService(
	cfg config.Server,
	store Store,
	client chain.Client,
	bus events.Publisher,
	locker lock.Locker,
	clock time2.Clock,
	m *metrics.Service,
) (Service, error) {
	hot, err := chain.NewAccount(cfg.Wallets.Hot.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hot wallet key")
	}

	return &service{
		store:     store,
		chain:     client,
		bus:       bus,
		locker:    locker,
		clock:     clock,
		metrics:   m,
		decimals:  cfg.Chain.TokenDecimals,
		hot:       hot,
		interval:  cfg.Withdrawal.QueueInterval,
		batchSize: cfg.Withdrawal.BatchSize,
	}, nil
}

func withController(ctx context.Context) context.Context {
	return util.WithLogFields(ctx, map[string]string{"controller": "withdrawal"})
}

func (s *service) Channels() []events.Channel {
	return []events.Channel{events.ChannelHotWalletReplenished}
}

func (s *service) Dispatch(ctx context.Context, sig events.Signal) error {
	switch sig := sig.(type) {
	case *events.HotWalletReplenished:
		return s.HandleHotWalletReplenished(ctx, sig)
	default:
		return errors.Errorf("withdrawal service cannot handle %s", sig.Channel())
	}
}

func (s *service) RequestWithdrawal(ctx context.Context, walletID int64, amount decimal.Decimal, toAddress string) (*ledger.Withdrawal, error) {
	ctx = withController(ctx)

	if !common.IsHexAddress(toAddress) {
		return nil, errors.Wrap(ErrInvalidAddress, toAddress)
	}

	if !amount.IsPositive() {
		return nil, errors.Wrapf(ledger.ErrInvalidAmount, "%s is not positive", amount)
	}

	hotUnits, err := s.chain.TokenBalance(ctx, s.hot.Address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read hot wallet balance")
	}

	reserved, err := s.store.ReservedTotal(ctx)
	if err != nil {
		return nil, err
	}

	// the hot wallet must cover this request on top of everything already processing
	shortfall := reserved.Add(amount).Sub(chain.FromBaseUnits(hotUnits, s.decimals))

	status := ledger.StatusProcessing
	if shortfall.IsPositive() {
		status = ledger.StatusPending
	}

	w, err := s.store.CreateWithdrawal(ctx, walletID, amount, toAddress, status)
	if err != nil {
		return nil, err
	}

	if status == ledger.StatusPending {
		util.LogFromContext(ctx).Info().
			Int64("withdrawal_id", w.ID).
			Str("shortfall", shortfall.String()).
			Msg("WithdrawService: hot wallet insufficient, withdrawal pending")

		if err := s.bus.Publish(ctx, &events.HotWalletInsufficient{Amount: shortfall}); err != nil {
			util.LogFromContext(ctx).Error().Err(err).Msg("WithdrawService: failed to request hot wallet replenishment")
		}
	}

	return w, nil
}

func (s *service) ProcessQueue(ctx context.Context) error {
	ctx = withController(ctx)

	batch, err := s.store.ListExecutableWithdrawals(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for _, w := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.execute(ctx, w.ID); err != nil {
			util.LogFromContext(ctx).Error().Err(err).Int64("withdrawal_id", w.ID).Msg("WithdrawService: withdrawal not executed")
		}
	}

	return nil
}

func (s *service) HandleHotWalletReplenished(ctx context.Context, sig *events.HotWalletReplenished) error {
	ctx = withController(ctx)
	log := util.LogFromContext(ctx)

	pending, err := s.store.ListWithdrawalsByStatus(ctx, ledger.StatusPending, 0)
	if err != nil {
		return err
	}

	log.Info().
		Str("amount", sig.Amount.String()).
		Int("pending", len(pending)).
		Msg("WithdrawService: hot wallet replenished, releasing pending withdrawals")

	for _, w := range pending {
		if err := s.store.TransitionWithdrawal(ctx, w.ID, ledger.StatusProcessing); err != nil {
			if errors.Is(err, ledger.ErrInvalidTransition) {
				continue
			}
			log.Error().Err(err).Int64("withdrawal_id", w.ID).Msg("WithdrawService: failed to release withdrawal")
			continue
		}

		if err := s.execute(ctx, w.ID); err != nil {
			log.Error().Err(err).Int64("withdrawal_id", w.ID).Msg("WithdrawService: withdrawal not executed")
		}
	}

	return nil
}

func (s *service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil {
		return
	}

	s.task = schedule.Start(ctx, "withdrawal-queue", s.interval, false, s.ProcessQueue, schedule.WithMetrics(s.metrics))
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.task.Stop()
	s.task = nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
