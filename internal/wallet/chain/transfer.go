package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	nativeTransferGas       uint64 = 21000
	eip1559FeeMultiplier    int64  = 2
	gasLimitHeadroomPercent uint64 = 120
)

// TransferNative sends wei from one account, with the plain transfer gas limit.
func (c *RPCClient) TransferNative(ctx context.Context, from *Account, to common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, &TransferError{Kind: KindUnknown, Op: "native transfer", Err: errors.New("amount must be positive")}
	}

	return c.send(ctx, "native transfer", from, to, amount, nil, nativeTransferGas)
}

// TransferToken calls transfer on the stablecoin contract with an estimated gas limit.
func (c *RPCClient) TransferToken(ctx context.Context, from *Account, to common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, &TransferError{Kind: KindUnknown, Op: "token transfer", Err: errors.New("amount must be positive")}
	}

	data, err := packTransfer(to, amount)
	if err != nil {
		return common.Hash{}, &TransferError{Kind: KindUnknown, Op: "token transfer", Err: err}
	}

	return c.send(ctx, "token transfer", from, c.token, big.NewInt(0), data, 0)
}

// send signs and broadcasts a transaction. A zero gasLimit is estimated by the node.
func (c *RPCClient) send(
	ctx context.Context,
	op string,
	from *Account,
	to common.Address,
	value *big.Int,
	data []byte,
	gasLimit uint64,
) (common.Hash, error) {
	unlock := c.lockSender(from.Address)
	defer unlock()

	n, err := c.acquire(ctx)
	if err != nil {
		return common.Hash{}, &TransferError{Kind: KindUnknown, Op: op, Err: err}
	}
	defer c.release(n)

	client := n.client

	nonce, err := client.PendingNonceAt(ctx, from.Address)
	if err != nil {
		c.markFailed(n, err)
		return common.Hash{}, classify(op, errors.Wrap(err, "failed to get pending nonce"))
	}

	if gasLimit == 0 {
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:  from.Address,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			c.markFailed(n, err)
			return common.Hash{}, classify(op, errors.Wrap(err, "failed to estimate gas"))
		}
		gasLimit = estimated * gasLimitHeadroomPercent / 100
	}

	tx, err := c.buildTx(ctx, client, nonce, to, value, data, gasLimit)
	if err != nil {
		c.markFailed(n, err)
		return common.Hash{}, classify(op, err)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), from.key)
	if err != nil {
		return common.Hash{}, &TransferError{Kind: KindUnknown, Op: op, Err: errors.Wrap(err, "failed to sign transaction")}
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		c.markFailed(n, err)
		return common.Hash{}, classify(op, errors.Wrap(err, "failed to send transaction"))
	}

	log.Info().
		Str("op", op).
		Str("from", from.Address.Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas_limit", gasLimit).
		Str("tx_hash", signed.Hash().Hex()).
		Msg("ChainClient: transaction broadcast")

	return signed.Hash(), nil
}

// buildTx prefers an EIP-1559 transaction and falls back to legacy pricing on chains without a base fee.
func (c *RPCClient) buildTx(
	ctx context.Context,
	client *ethclient.Client,
	nonce uint64,
	to common.Address,
	value *big.Int,
	data []byte,
	gasLimit uint64,
) (*types.Transaction, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest header")
	}

	if header.BaseFee != nil {
		tip, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to suggest gas tip cap")
		}

		feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(eip1559FeeMultiplier))
		feeCap.Add(feeCap, tip)

		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		}), nil
	}

	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to suggest gas price")
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	}), nil
}

func (c *RPCClient) lockSender(address common.Address) func() {
	mu, _ := c.senders.LoadOrStore(address, &sync.Mutex{})
	m := mu.(*sync.Mutex) //nolint:forcetypeassert // only *sync.Mutex is ever stored
	m.Lock()

	return m.Unlock
}

// Receipt maps the transaction receipt to a ReceiptStatus without waiting.
func (c *RPCClient) Receipt(ctx context.Context, hash common.Hash) (ReceiptStatus, error) {
	receipt, err := withClient(ctx, c, "failed to get transaction receipt", func(client *ethclient.Client) (*types.Receipt, error) {
		return client.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ReceiptPending, nil
		}
		return ReceiptPending, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return ReceiptReverted, nil
	}

	return ReceiptSuccess, nil
}

// Confirm polls for the receipt until it is mined or the receipt timeout passes.
// With receipt waiting disabled it returns right away.
func (c *RPCClient) Confirm(ctx context.Context, hash common.Hash) error {
	if !c.waitReceipt {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		status, err := c.Receipt(ctx, hash)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("ChainClient: receipt lookup failed, retrying")
		case status == ReceiptSuccess:
			return nil
		case status == ReceiptReverted:
			return &TransferError{Kind: KindReverted, Op: "confirm", Err: errors.Errorf("transaction %s reverted", hash.Hex())}
		case status == ReceiptPending:
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrap(ErrReceiptTimeout, hash.Hex())
			}
			return errors.Wrap(ctx.Err(), "stopped waiting for receipt")
		case <-ticker.C:
		}
	}
}
