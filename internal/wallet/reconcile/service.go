// Package reconcile settles withdrawals whose confirmation was not observed and checks that
// on-chain holdings cover the ledger. It only detects drift, it never moves funds.
package reconcile

import (
	"context"
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

const revertedMessage = "transaction reverted on chain"

type Store interface {
	ListWallets(ctx context.Context) ([]*ledger.Wallet, error)
	TotalBalance(ctx context.Context) (decimal.Decimal, error)
	GetWithdrawal(ctx context.Context, id int64) (*ledger.Withdrawal, error)
	ListInFlightWithdrawals(ctx context.Context) ([]*ledger.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id int64, processedAt time.Time) (*ledger.Withdrawal, error)
	FailWithdrawal(ctx context.Context, id int64) error
}

// Report is the outcome of one solvency check. Delta = Holdings - Liabilities.
type Report struct {
	Holdings    decimal.Decimal
	Liabilities decimal.Decimal
	Delta       decimal.Decimal
}

// Service matches the ledger against the chain. It reports drift and never corrects balances.
type Service interface {
	// Run resolves in-flight withdrawals, then checks solvency.
	Run(ctx context.Context) error
	// ResolveInFlight completes or fails broadcast withdrawals whose receipt is final.
	ResolveInFlight(ctx context.Context) error
	// CheckSolvency compares on-chain holdings with ledger liabilities and publishes drift when short.
	CheckSolvency(ctx context.Context) (*Report, error)

	// Start runs Run now and then every reconcile interval.
	Start(ctx context.Context)
	// Stop cancels the schedule and waits for a running pass.
	Stop()
}

type service struct {
	store    Store
	chain    chain.Client
	bus      events.Publisher
	locker   lock.Locker
	clock    time2.Clock
	metrics  *metrics.Service
	decimals int32
	interval time.Duration

	system []common.Address

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
) Service {
	return &service{
		store:    store,
		chain:    client,
		bus:      bus,
		locker:   locker,
		clock:    clock,
		metrics:  m,
		decimals: cfg.Chain.TokenDecimals,
		interval: cfg.Reconcile.Interval,
		system: []common.Address{
			common.HexToAddress(cfg.Wallets.Hot.Address),
			common.HexToAddress(cfg.Wallets.Warm.Address),
			common.HexToAddress(cfg.Wallets.Cold.Address),
		},
	}
}

func (s *service) Run(ctx context.Context) error {
	ctx = util.WithLogFields(ctx, map[string]string{"controller": "reconcile"})

	if err := s.ResolveInFlight(ctx); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Msg("ReconcileService: failed to resolve in-flight withdrawals")
	}

	_, err := s.CheckSolvency(ctx)

	return err
}

func (s *service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != nil {
		return
	}

	s.task = schedule.Start(ctx, "reconcile", s.interval, true, s.Run, schedule.WithMetrics(s.metrics))
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.task.Stop()
	s.task = nil
}

func (s *service) ResolveInFlight(ctx context.Context) error {
	rows, err := s.store.ListInFlightWithdrawals(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, w := range rows {
		err := lock.Do(ctx, s.locker, lock.WithdrawalKey(w.ID), func(ctx context.Context) error {
			return s.resolve(ctx, w.ID)
		})
		if err != nil && !errors.Is(err, lock.ErrLocked) {
			failed++
			util.LogFromContext(ctx).Error().Err(err).Int64("withdrawal_id", w.ID).Msg("ReconcileService: failed to resolve withdrawal")
		}
	}

	if failed > 0 {
		return errors.Errorf("%d of %d in-flight withdrawals unresolved", failed, len(rows))
	}

	return nil
}

func (s *service) resolve(ctx context.Context, id int64) error {
	log := util.LogFromContext(ctx).With().Int64("withdrawal_id", id).Logger()

	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}

	if w.Status != ledger.StatusProcessing || !w.TxHash.Valid {
		return nil
	}

	status, err := s.chain.Receipt(ctx, common.HexToHash(w.TxHash.String))
	if err != nil {
		return errors.Wrapf(err, "failed to read receipt of %s", w.TxHash.String)
	}

	switch status {
	case chain.ReceiptPending:
		log.Debug().Str("tx_hash", w.TxHash.String).Msg("ReconcileService: withdrawal still pending on chain")
		return nil

	case chain.ReceiptSuccess:
		if _, err := s.store.CompleteWithdrawal(ctx, id, s.clock.Now()); err != nil {
			return err
		}
		s.metrics.WithdrawalObserved(metrics.ResultOK)
		log.Info().Str("tx_hash", w.TxHash.String).Msg("ReconcileService: withdrawal confirmed late")

		return s.bus.Publish(ctx, &events.WithdrawalSucceeded{WithdrawalID: id, Hash: w.TxHash.String})

	case chain.ReceiptReverted:
		if err := s.store.FailWithdrawal(ctx, id); err != nil {
			return err
		}
		s.metrics.WithdrawalObserved(metrics.ResultError)
		log.Warn().Str("tx_hash", w.TxHash.String).Msg("ReconcileService: withdrawal reverted")

		return s.bus.Publish(ctx, &events.WithdrawalFailed{WithdrawalID: id, Error: revertedMessage})
	}

	return errors.Errorf("unexpected receipt status %s", status)
}

// CheckSolvency compares the stablecoin held by the system and deposit wallets with what the
// ledger owes. Withdrawals already broadcast but not yet completed are owed no longer.
func (s *service) CheckSolvency(ctx context.Context) (*Report, error) {
	log := util.LogFromContext(ctx)

	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	accounts := append([]common.Address(nil), s.system...)
	for _, w := range wallets {
		accounts = append(accounts, common.HexToAddress(w.Address))
	}

	holdings := decimal.Zero
	for _, a := range accounts {
		units, err := s.chain.TokenBalance(ctx, a)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read balance of %s", a.Hex())
		}
		holdings = holdings.Add(chain.FromBaseUnits(units, s.decimals))
	}

	owed, err := s.store.TotalBalance(ctx)
	if err != nil {
		return nil, err
	}

	inFlight, err := s.store.ListInFlightWithdrawals(ctx)
	if err != nil {
		return nil, err
	}

	liabilities := owed
	for _, w := range inFlight {
		amount, err := w.AmountDecimal()
		if err != nil {
			return nil, err
		}
		liabilities = liabilities.Sub(amount)
	}

	report := &Report{
		Holdings:    holdings,
		Liabilities: liabilities,
		Delta:       holdings.Sub(liabilities),
	}
	s.metrics.SetSolvencyDelta(report.Delta)

	if !report.Delta.IsNegative() {
		log.Debug().Str("delta", report.Delta.String()).Msg("ReconcileService: ledger covered")
		return report, nil
	}

	log.Error().
		Str("holdings", holdings.String()).
		Str("liabilities", liabilities.String()).
		Str("delta", report.Delta.String()).
		Msg("ReconcileService: on-chain holdings below ledger liabilities")

	if err := s.bus.Publish(ctx, &events.LedgerDrift{
		Liabilities: liabilities,
		Holdings:    holdings,
		Delta:       report.Delta,
	}); err != nil {
		return report, err
	}

	return report, nil
}
