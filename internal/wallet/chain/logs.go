package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const liveLogBuffer = 128

func (c *RPCClient) transferQuery(recipients []common.Address) ethereum.FilterQuery {
	to := make([]common.Hash, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, common.BytesToHash(r.Bytes()))
	}

	return ethereum.FilterQuery{
		Addresses: []common.Address{c.token},
		Topics:    [][]common.Hash{{transferEventTopic}, nil, to},
	}
}

// SubscribeTransfers backfills from fromBlock with FilterLogs, then follows new logs through a websocket
// subscription when CHAIN_WS_URL is configured and by polling otherwise. Logs may be delivered more than once.
func (c *RPCClient) SubscribeTransfers(
	ctx context.Context,
	recipients []common.Address,
	fromBlock *uint64,
	sink chan<- TransferLog,
) (ethereum.Subscription, error) {
	if len(recipients) == 0 {
		return event.NewSubscription(func(quit <-chan struct{}) error {
			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}), nil
	}

	query := c.transferQuery(recipients)

	var (
		ws       *ethclient.Client
		live     ethereum.Subscription
		liveLogs chan types.Log
	)

	// subscribe before backfilling so nothing mined in between is missed
	if c.wsURL != "" {
		var err error

		ws, err = ethclient.DialContext(ctx, c.wsURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to dial websocket RPC")
		}

		liveLogs = make(chan types.Log, liveLogBuffer)
		live, err = ws.SubscribeFilterLogs(ctx, query, liveLogs)
		if err != nil {
			ws.Close()
			return nil, errors.Wrap(err, "failed to subscribe to transfer logs")
		}
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go func() {
			select {
			case <-quit:
				cancel()
			case <-runCtx.Done():
			}
		}()

		if live != nil {
			defer ws.Close()
			defer live.Unsubscribe()
		}

		next, err := c.backfill(runCtx, query, fromBlock, sink)
		if err != nil {
			return err
		}

		if live != nil {
			return c.streamLogs(runCtx, live, liveLogs, sink)
		}

		return c.pollLogs(runCtx, query, next, sink)
	}), nil
}

// backfill delivers logs from fromBlock up to the current head and returns the next block to look at.
func (c *RPCClient) backfill(ctx context.Context, query ethereum.FilterQuery, fromBlock *uint64, sink chan<- TransferLog) (uint64, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	if fromBlock == nil {
		return head, nil
	}

	next := *fromBlock
	for next <= head {
		to := min(next+c.logBatch-1, head)
		if err := c.deliverRange(ctx, query, next, to, sink); err != nil {
			return 0, err
		}
		next = to + 1
	}

	log.Debug().Uint64("from_block", *fromBlock).Uint64("head", head).Msg("ChainClient: transfer backfill done")

	return next, nil
}

func (c *RPCClient) pollLogs(ctx context.Context, query ethereum.FilterQuery, next uint64, sink chan<- TransferLog) error {
	ticker := time.NewTicker(c.logPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}

		for next <= head {
			to := min(next+c.logBatch-1, head)
			if err := c.deliverRange(ctx, query, next, to, sink); err != nil {
				return err
			}
			next = to + 1
		}
	}
}

func (c *RPCClient) streamLogs(ctx context.Context, live ethereum.Subscription, logs <-chan types.Log, sink chan<- TransferLog) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-live.Err():
			if err == nil {
				return errors.New("transfer log subscription closed")
			}
			return errors.Wrap(err, "transfer log subscription failed")
		case l := <-logs:
			if err := deliver(ctx, l, sink); err != nil {
				return err
			}
		}
	}
}

func (c *RPCClient) deliverRange(ctx context.Context, query ethereum.FilterQuery, from, to uint64, sink chan<- TransferLog) error {
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(to)

	logs, err := withClient(ctx, c, "failed to filter transfer logs", func(client *ethclient.Client) ([]types.Log, error) {
		return client.FilterLogs(ctx, query)
	})
	if err != nil {
		return err
	}

	for _, l := range logs {
		if err := deliver(ctx, l, sink); err != nil {
			return err
		}
	}

	return nil
}

func deliver(ctx context.Context, l types.Log, sink chan<- TransferLog) error {
	transfer, ok := decodeTransfer(l)
	if !ok {
		return nil
	}

	select {
	case sink <- transfer:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
