package deposit

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
)

const sinkSize = 64

var errWalletSetChanged = errors.New("deposit wallet set changed")

func addressOf(address string) common.Address {
	return common.HexToAddress(address)
}

func (s *service) Run(ctx context.Context) error {
	ctx = util.WithLogFields(ctx, map[string]string{"controller": "deposit"})
	log := util.LogFromContext(ctx)

	for {
		err := s.watch(ctx)
		if ctx.Err() != nil {
			return nil //nolint:nilerr
		}

		if errors.Is(err, errWalletSetChanged) {
			log.Info().Msg("DepositService: deposit wallets changed, resubscribing")
			continue
		}

		log.Error().Err(err).Dur("delay", s.restartDelay).Msg("DepositService: subscription failed, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.restartDelay):
		}
	}
}

// watch runs one subscription over the current wallet snapshot until it fails or the snapshot is stale.
func (s *service) watch(ctx context.Context) error {
	log := util.LogFromContext(ctx)

	watched, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	var from *uint64
	last, found, err := s.store.LastDepositBlock(ctx)
	if err != nil {
		return err
	}
	if found {
		// logs of the last block are credited at most once, so the block is read again
		from = &last
	}
	if s.retryFrom != nil && (from == nil || *s.retryFrom < *from) {
		from = s.retryFrom
	}

	sink := make(chan chain.TransferLog, sinkSize)

	sub, err := s.chain.SubscribeTransfers(ctx, addresses(watched), from, sink)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to transfers")
	}
	defer sub.Unsubscribe()

	log.Info().Int("wallets", len(watched)).Msg("DepositService: watching deposit wallets")

	resync := time.NewTicker(s.resyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err

		case l := <-sink:
			err := s.HandleTransfer(ctx, l)
			if err != nil && !errors.Is(err, ErrSweepNotRequested) {
				s.markRetry(l.BlockNumber)
				return errors.Wrapf(err, "failed to credit transfer in block %d", l.BlockNumber)
			}
			if err != nil {
				log.Error().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("DepositService: deposit credited, sweep not requested")
			}
			if s.retryFrom != nil && l.BlockNumber >= *s.retryFrom {
				s.retryFrom = nil
			}

		case <-resync.C:
			current, err := s.snapshot(ctx)
			if err != nil {
				log.Error().Err(err).Msg("DepositService: failed to resync deposit wallets")
				continue
			}
			if !sameSet(watched, current) {
				return errWalletSetChanged
			}
		}
	}
}

// markRetry makes the next subscription start no later than block.
func (s *service) markRetry(block uint64) {
	if s.retryFrom == nil || block < *s.retryFrom {
		s.retryFrom = &block
	}
}

func (s *service) snapshot(ctx context.Context) (map[common.Address]struct{}, error) {
	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	res := make(map[common.Address]struct{}, len(wallets))
	for _, w := range wallets {
		res[addressOf(w.Address)] = struct{}{}
	}

	return res, nil
}

func addresses(set map[common.Address]struct{}) []common.Address {
	res := make([]common.Address, 0, len(set))
	for a := range set {
		res = append(res, a)
	}
	return res
}

func sameSet(a, b map[common.Address]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
