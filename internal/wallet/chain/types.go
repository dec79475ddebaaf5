package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Client is the chain access the controllers depend on.
// Amounts are in base units: wei for native currency, token base units for the stablecoin.
type Client interface {
	// NativeBalance and TokenBalance read the latest state.
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)

	// TransferNative and TransferToken return once the transaction is accepted by the node.
	// Failures are *TransferError values.
	TransferNative(ctx context.Context, from *Account, to common.Address, amount *big.Int) (common.Hash, error)
	TransferToken(ctx context.Context, from *Account, to common.Address, amount *big.Int) (common.Hash, error)

	// Confirm blocks until the transaction is mined. A reverted transaction yields KindReverted,
	// running out of time yields ErrReceiptTimeout.
	Confirm(ctx context.Context, hash common.Hash) error
	// Receipt looks once and reports ReceiptPending while the transaction is not mined.
	Receipt(ctx context.Context, hash common.Hash) (ReceiptStatus, error)

	// SubscribeTransfers streams stablecoin Transfer logs to any of recipients into sink,
	// starting at fromBlock when given and at the chain head otherwise.
	SubscribeTransfers(ctx context.Context, recipients []common.Address, fromBlock *uint64, sink chan<- TransferLog) (ethereum.Subscription, error)
}

// Account is a signing wallet.
type Account struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// NewAccount parses a hex encoded private key with or without 0x prefix.
func NewAccount(hexKey string) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}

	return &Account{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}, nil
}

// TransferLog is a decoded stablecoin Transfer event.
type TransferLog struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	// Removed is set when the log was dropped by a reorg.
	Removed bool
}

type ReceiptStatus int

const (
	ReceiptPending ReceiptStatus = iota
	ReceiptSuccess
	ReceiptReverted
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptPending:
		return "pending"
	case ReceiptSuccess:
		return "success"
	case ReceiptReverted:
		return "reverted"
	}
	return "unknown"
}
