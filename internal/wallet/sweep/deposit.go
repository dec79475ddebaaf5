package sweep

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

// HandleDepositWalletSweepable moves a deposit wallet's stablecoin to warm. A gas related failure
// asks for a gas refill and is still returned; the next sweepable signal retries the sweep.
func (s *service) HandleDepositWalletSweepable(ctx context.Context, sig *events.DepositWalletSweepable) error {
	ctx = util.WithLogFields(withController(ctx), map[string]string{"wallet_id": strconv.FormatInt(sig.Wallet, 10)})
	log := util.LogFromContext(ctx)

	w, err := s.store.GetWallet(ctx, sig.Wallet)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			log.Warn().Msg("SweepService: deposit wallet not found")
			return nil
		}
		return err
	}

	if w.Frozen {
		log.Info().Msg("SweepService: deposit wallet is frozen, not sweeping")
		return nil
	}

	account, err := s.depositAccount(w)
	if err != nil {
		return err
	}

	r := route{
		name:    "deposit_to_warm",
		from:    account,
		to:      s.warm.Address,
		lockKey: lock.DepositKey(w.ID),
	}

	hash, err := s.move(ctx, r, sig.Amount)
	if err != nil {
		if chain.KindOf(err).GasRelated() {
			id := w.ID
			if perr := s.bus.Publish(ctx, &events.GasLow{WalletType: tier.Deposit, WalletID: &id, Reason: ReasonSweepFailed}); perr != nil {
				log.Error().Err(perr).Msg("SweepService: failed to request gas refill")
			}
		}

		return skipLocked(ctx, err)
	}

	return s.bus.Publish(ctx, &events.DepositWalletSwept{Wallet: w.ID, Amount: sig.Amount, Hash: hash.Hex()})
}

func (s *service) depositAccount(w *ledger.Wallet) (*chain.Account, error) {
	key, err := s.vault.Decrypt(w.EncryptedKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decrypt key of deposit wallet %d", w.ID)
	}

	account, err := chain.NewAccount(key)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid key of deposit wallet %d", w.ID)
	}

	if !strings.EqualFold(account.Address.Hex(), w.Address) {
		return nil, errors.Errorf("key of deposit wallet %d does not match address %s", w.ID, w.Address)
	}

	return account, nil
}
