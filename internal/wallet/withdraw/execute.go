package withdraw

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

// execute sends one withdrawal at most once. Only processing rows without a recorded
// transaction are sent; anything else was resolved or is in flight.
func (s *service) execute(ctx context.Context, id int64) error {
	ctx = util.WithLogFields(ctx, map[string]string{"withdrawal_id": idString(id)})

	err := lock.Do(ctx, s.locker, lock.WithdrawalKey(id), func(ctx context.Context) error {
		return s.executeLocked(ctx, id)
	})
	if errors.Is(err, lock.ErrLocked) {
		util.LogFromContext(ctx).Debug().Msg("WithdrawService: withdrawal already being executed")
		return nil
	}

	return err
}

func (s *service) executeLocked(ctx context.Context, id int64) error {
	log := util.LogFromContext(ctx)

	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}

	if w.Status != ledger.StatusProcessing || w.TxHash.Valid {
		log.Debug().Str("status", string(w.Status)).Msg("WithdrawService: withdrawal not executable, skipping")
		return nil
	}

	if hash, ok := s.unrecorded.Load(id); ok {
		return s.recordHash(ctx, id, hash.(common.Hash)) //nolint:forcetypeassert
	}

	amount, err := w.AmountDecimal()
	if err != nil {
		return s.fail(ctx, w, err)
	}

	if !common.IsHexAddress(w.ToAddress) {
		return s.fail(ctx, w, errors.Wrap(ErrInvalidAddress, w.ToAddress))
	}

	if w.WalletID.Valid {
		wallet, err := s.store.GetWallet(ctx, w.WalletID.Int64)
		if err != nil {
			return err
		}
		if wallet.Frozen {
			return s.fail(ctx, w, errors.Wrapf(ledger.ErrWalletFrozen, "wallet %d", wallet.ID))
		}
	}

	hash, err := s.chain.TransferToken(ctx, s.hot, common.HexToAddress(w.ToAddress), chain.ToBaseUnits(amount, s.decimals))
	if err != nil {
		s.metrics.TransferObserved("hot_to_external", metrics.ResultError)
		return s.fail(ctx, w, err)
	}

	log.Info().Str("tx_hash", hash.Hex()).Str("amount", amount.String()).Msg("WithdrawService: withdrawal broadcast")

	if err := s.store.AttachTxHash(ctx, id, hash.Hex()); err != nil {
		// never send again from this process; retried on the next tick
		s.unrecorded.Store(id, hash)
		log.Error().Err(err).Str("tx_hash", hash.Hex()).Msg("WithdrawService: failed to record transaction hash")
	}

	if err := s.chain.Confirm(ctx, hash); err != nil {
		if chain.KindOf(err) == chain.KindReverted {
			s.metrics.TransferObserved("hot_to_external", metrics.ResultError)
			return s.fail(ctx, w, err)
		}

		log.Warn().Err(err).Str("tx_hash", hash.Hex()).Msg("WithdrawService: withdrawal unconfirmed, left for reconciliation")
		return errors.Wrapf(err, "withdrawal %d unconfirmed", id)
	}

	s.metrics.TransferObserved("hot_to_external", metrics.ResultOK)

	return s.complete(ctx, w, hash)
}

func (s *service) recordHash(ctx context.Context, id int64, hash common.Hash) error {
	if err := s.store.AttachTxHash(ctx, id, hash.Hex()); err != nil {
		return errors.Wrapf(err, "withdrawal %d was broadcast as %s but the hash is still unrecorded", id, hash.Hex())
	}

	s.unrecorded.Delete(id)
	util.LogFromContext(ctx).Info().Str("tx_hash", hash.Hex()).Msg("WithdrawService: transaction hash recorded late")

	return nil
}

// complete marks w processed, debits its wallet and announces the success.
func (s *service) complete(ctx context.Context, w *ledger.Withdrawal, hash common.Hash) error {
	if _, err := s.store.CompleteWithdrawal(ctx, w.ID, s.clock.Now()); err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			util.LogFromContext(ctx).Info().Msg("WithdrawService: withdrawal already resolved")
			return nil
		}
		return errors.Wrapf(err, "withdrawal %d confirmed as %s but not completed", w.ID, hash.Hex())
	}

	s.unrecorded.Delete(w.ID)
	s.metrics.WithdrawalObserved(metrics.ResultOK)

	util.LogFromContext(ctx).Info().Str("tx_hash", hash.Hex()).Msg("WithdrawService: withdrawal processed")

	return s.bus.Publish(ctx, &events.WithdrawalSucceeded{WithdrawalID: w.ID, Hash: hash.Hex()})
}

// fail marks w failed and announces it. Gas related causes also request a hot wallet refill.
// cause is returned so callers log it.
func (s *service) fail(ctx context.Context, w *ledger.Withdrawal, cause error) error {
	log := util.LogFromContext(ctx)

	if err := s.store.FailWithdrawal(ctx, w.ID); err != nil {
		return errors.Wrapf(err, "failed to mark withdrawal %d failed after: %v", w.ID, cause)
	}

	s.metrics.WithdrawalObserved(metrics.ResultError)

	if err := s.bus.Publish(ctx, &events.WithdrawalFailed{WithdrawalID: w.ID, Error: cause.Error()}); err != nil {
		log.Error().Err(err).Msg("WithdrawService: failed to publish withdrawal failure")
	}

	if chain.KindOf(cause).GasRelated() {
		id := w.ID
		if err := s.bus.Publish(ctx, &events.GasLow{WalletType: tier.Hot, Reason: ReasonWithdrawalFailed, WithdrawalID: &id}); err != nil {
			log.Error().Err(err).Msg("WithdrawService: failed to request gas refill")
		}
	}

	return errors.Wrapf(cause, "withdrawal %d failed", w.ID)
}
