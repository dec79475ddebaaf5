package sweep

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
)

func (s *service) CheckSystemWallets(ctx context.Context) error {
	ctx = withController(ctx)

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"hot", s.checkHot},
		{"warm", s.checkWarm},
		{"cold", s.checkCold},
	}

	var (
		failed  int
		lastErr error
	)

	for _, c := range checks {
		err := c.fn(ctx)
		if errors.Is(err, ErrInsufficientSource) {
			// the tier above will be refilled or alerted on by its own check
			util.LogFromContext(ctx).Warn().Err(err).Str("wallet", c.name).Msg("SweepService: source tier cannot cover rebalance")
			continue
		}

		if err != nil {
			util.LogFromContext(ctx).Error().Err(err).Str("wallet", c.name).Msg("SweepService: wallet check failed")
			failed++
			lastErr = err
		}
	}

	if lastErr != nil {
		return errors.Wrapf(lastErr, "%d of %d wallet checks failed", failed, len(checks))
	}

	return nil
}

func (s *service) balance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	units, err := s.chain.TokenBalance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}

	return chain.FromBaseUnits(units, s.decimals), nil
}

func (s *service) checkHot(ctx context.Context) error {
	current, err := s.balance(ctx, s.hot)
	if err != nil {
		return err
	}

	if current.LessThan(s.thresholds.Hot) {
		return s.replenishHot(ctx, s.thresholds.Hot.Sub(current), TriggerMonitor)
	}

	return nil
}

func (s *service) checkWarm(ctx context.Context) error {
	current, err := s.balance(ctx, s.warm.Address)
	if err != nil {
		return err
	}

	switch {
	case current.LessThan(s.thresholds.WarmMin):
		return s.replenishWarm(ctx, s.thresholds.WarmMin.Sub(current), TriggerMonitor)
	case current.GreaterThan(s.thresholds.WarmMax):
		return s.sweepWarm(ctx, current.Sub(s.thresholds.WarmMax), TriggerMonitor)
	}

	return nil
}

// checkCold only alerts; nothing sits above cold to refill it from.
func (s *service) checkCold(ctx context.Context) error {
	current, err := s.balance(ctx, s.cold.Address)
	if err != nil {
		return err
	}

	if !current.LessThan(s.thresholds.ColdMin) {
		return nil
	}

	deficit := s.thresholds.ColdMin.Sub(current)
	util.LogFromContext(ctx).Warn().
		Str("balance", current.String()).
		Str("min_threshold", s.thresholds.ColdMin.String()).
		Str("deficit", deficit.String()).
		Msg("SweepService: cold wallet below minimum")

	return s.bus.Publish(ctx, &events.ColdWalletLow{
		CurrentBalance: current,
		MinThreshold:   s.thresholds.ColdMin,
		Deficit:        deficit,
	})
}
