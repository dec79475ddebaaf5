package deposit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

type service struct {
	store   Store
	chain   chain.Client
	bus     events.Publisher
	metrics *metrics.Service

	decimals       int32
	sweepThreshold decimal.Decimal
	restartDelay   time.Duration
	resyncInterval time.Duration

	// retryFrom is the lowest block holding a log whose credit failed; only Run touches it.
	retryFrom *uint64
}

//nolint:ireturn
func NewService(cfg config.Server, store Store, client chain.Client, bus events.Publisher, m *metrics.Service) Service {
	return &service{
		store:          store,
		chain:          client,
		bus:            bus,
		metrics:        m,
		decimals:       cfg.Chain.TokenDecimals,
		sweepThreshold: cfg.Thresholds.DepositSweep,
		restartDelay:   cfg.Deposit.RestartDelay,
		resyncInterval: cfg.Deposit.ResyncInterval,
	}
}

func (s *service) HandleTransfer(ctx context.Context, l chain.TransferLog) error {
	ctx = util.WithLogFields(ctx, map[string]string{
		"controller": "deposit",
		"tx_hash":    l.TxHash.Hex(),
	})
	log := util.LogFromContext(ctx)

	if l.Removed {
		// a credited log dropped by a reorg is left for reconciliation to surface
		log.Warn().Uint("log_index", l.LogIndex).Msg("DepositService: transfer log removed by reorg, skipping")
		return nil
	}

	w, err := s.store.GetWalletByAddress(ctx, l.To.Hex())
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			log.Debug().Str("to", l.To.Hex()).Msg("DepositService: transfer to unknown address, skipping")
			return nil
		}
		return err
	}

	amount := chain.FromBaseUnits(l.Value, s.decimals)

	credited, err := s.store.RecordDeposit(ctx, ledger.DepositEvent{
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.LogIndex,
		WalletID:    w.ID,
		Amount:      amount,
		BlockNumber: l.BlockNumber,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to credit deposit to wallet %d", w.ID)
	}

	if !credited {
		log.Debug().Uint("log_index", l.LogIndex).Msg("DepositService: deposit already credited")
		return nil
	}

	s.metrics.DepositCredited()

	log.Info().
		Int64("wallet_id", w.ID).
		Str("amount", amount.String()).
		Uint64("block", l.BlockNumber).
		Msg("DepositService: deposit credited")

	if err := s.requestSweep(ctx, w); err != nil {
		return errors.Wrapf(ErrSweepNotRequested, "wallet %d: %v", w.ID, err)
	}

	return nil
}

// requestSweep announces w as sweepable when its whole on-chain balance reached the threshold.
func (s *service) requestSweep(ctx context.Context, w *ledger.Wallet) error {
	if w.Frozen {
		return nil
	}

	units, err := s.chain.TokenBalance(ctx, addressOf(w.Address))
	if err != nil {
		return errors.Wrapf(err, "failed to read balance of deposit wallet %d", w.ID)
	}

	total := chain.FromBaseUnits(units, s.decimals)
	if total.LessThan(s.sweepThreshold) {
		return nil
	}

	id := w.ID
	if err := s.bus.Publish(ctx, &events.GasLow{WalletType: tier.Deposit, WalletID: &id}); err != nil {
		return err
	}

	return s.bus.Publish(ctx, &events.DepositWalletSweepable{Wallet: id, Amount: total})
}
