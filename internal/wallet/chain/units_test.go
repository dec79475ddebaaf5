package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBaseUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, big.NewInt(1_500_000), ToBaseUnits(decimal.RequireFromString("1.5"), 6))
	// sub-unit precision is truncated
	assert.Equal(t, big.NewInt(1), ToBaseUnits(decimal.RequireFromString("0.0000019"), 6))

	assert.True(t, decimal.RequireFromString("2.25").Equal(FromBaseUnits(big.NewInt(2_250_000), 6)))
	assert.True(t, FromBaseUnits(nil, 6).IsZero())
}

func TestEtherConversion(t *testing.T) {
	t.Parallel()

	wei, ok := new(big.Int).SetString("10000000000000000", 10)
	assert.True(t, ok)

	assert.True(t, decimal.RequireFromString("0.01").Equal(WeiToEther(wei)))
	assert.Equal(t, wei, EtherToWei(decimal.RequireFromString("0.01")))
}
