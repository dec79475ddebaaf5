package chain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want Kind
	}{
		{"insufficient funds for gas * price + value", KindInsufficientGas},
		{"Intrinsic gas too low", KindInsufficientGas},
		{"gas required exceeds allowance (0)", KindInsufficientGas},
		{"replacement transaction underpriced", KindUnderpriced},
		{"max fee per gas less than block base fee", KindUnderpriced},
		{"execution reverted: ERC20: transfer amount exceeds balance", KindReverted},
		{"connection refused", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()

			err := classify("token transfer", errors.Wrap(errors.New(tt.msg), "failed to send transaction"))
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Contains(t, err.Error(), "token transfer failed")
		})
	}

	assert.NoError(t, classify("noop", nil))
}

func TestKindOfWrapped(t *testing.T) {
	t.Parallel()

	err := errors.Wrap(&TransferError{Kind: KindUnderpriced, Op: "native transfer", Err: errors.New("boom")}, "refill")
	assert.Equal(t, KindUnderpriced, KindOf(err))
	assert.True(t, KindOf(err).GasRelated())

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, KindReverted.GasRelated())
	assert.Equal(t, "insufficient_gas", KindInsufficientGas.String())
}
