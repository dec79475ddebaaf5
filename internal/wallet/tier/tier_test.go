package tier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

func TestValid(t *testing.T) {
	for _, tt := range []tier.Type{tier.Gas, tier.Hot, tier.Warm, tier.Cold, tier.Deposit} {
		assert.True(t, tt.Valid(), tt)
	}

	assert.False(t, tier.Type("").Valid())
	assert.False(t, tier.Type("HOT").Valid())
	assert.False(t, tier.Type("user").Valid())
}
