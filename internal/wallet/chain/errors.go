package chain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

// Kind classifies why a transfer failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInsufficientGas
	KindUnderpriced
	KindReverted
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindInsufficientGas:
		return "insufficient_gas"
	case KindUnderpriced:
		return "underpriced"
	case KindReverted:
		return "reverted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// GasRelated reports whether topping up native currency may let a retry succeed.
func (k Kind) GasRelated() bool {
	return k == KindInsufficientGas || k == KindUnderpriced
}

// TransferError is returned by every transfer primitive of the client.
type TransferError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of err, KindUnknown if it carries none.
func KindOf(err error) Kind {
	var terr *TransferError
	if errors.As(err, &terr) {
		return terr.Kind
	}

	return KindUnknown
}

// Node error texts are the only signal JSON-RPC gives us; they are matched here and nowhere else.
var kindPatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindUnderpriced, []string{
		"underpriced",
		"fee cap less than block base fee",
		"max fee per gas less than block base fee",
	}},
	{KindInsufficientGas, []string{
		"insufficient funds for gas",
		"insufficient funds for transfer",
		"insufficient gas",
		"out of gas",
		"gas limit exceeded",
		"gas required exceeds allowance",
		"intrinsic gas too low",
	}},
	{KindReverted, []string{
		"execution reverted",
	}},
}

func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	for _, kp := range kindPatterns {
		for _, p := range kp.patterns {
			if strings.Contains(msg, p) {
				return kp.kind
			}
		}
	}

	return KindUnknown
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	return &TransferError{Kind: classifyMessage(err.Error()), Op: op, Err: err}
}
