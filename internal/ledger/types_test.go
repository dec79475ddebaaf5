package ledger_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/ledger"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[ledger.Status][]ledger.Status{
		ledger.StatusPending:    {ledger.StatusProcessing},
		ledger.StatusProcessing: {ledger.StatusProcessed, ledger.StatusFailed},
		ledger.StatusFailed:     {ledger.StatusProcessing},
		ledger.StatusProcessed:  {},
	}

	all := []ledger.Status{ledger.StatusPending, ledger.StatusProcessing, ledger.StatusProcessed, ledger.StatusFailed}
	for from, targets := range allowed {
		for _, to := range all {
			expected := false
			for _, target := range targets {
				if target == to {
					expected = true
				}
			}

			assert.Equal(t, expected, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, ledger.StatusPending.Valid())
	assert.False(t, ledger.Status("done").Valid())
}

func TestWithdrawalAmountDecimal(t *testing.T) {
	w := &ledger.Withdrawal{ID: 1, Amount: "12.5"}
	amount, err := w.AmountDecimal()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(amount))

	for _, raw := range []string{"", "abc", "0", "-1"} {
		w.Amount = raw
		_, err = w.AmountDecimal()
		assert.True(t, errors.Is(err, ledger.ErrInvalidAmount), raw)
	}
}
