package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/tiered-custody/internal/config"
)

// node is one dialed RPC connection. A retired node is closed once its last user releases it.
type node struct {
	idx     int
	client  *ethclient.Client
	users   int
	retired bool
	closed  bool
}

// RPCClient wraps ethclient with failover over several RPC URLs and the stablecoin contract.
type RPCClient struct {
	urls    []string
	nodes   []*node
	mu      sync.Mutex
	current int

	wsURL          string
	token          common.Address
	chainID        *big.Int
	waitReceipt    bool
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	logPoll        time.Duration
	logBatch       uint64

	// common.Address -> *sync.Mutex, serializes nonce allocation per sender
	senders sync.Map
}

var _ Client = (*RPCClient)(nil)

// NewRPCClient dials every configured URL. Unreachable nodes are dialed again on use.
func NewRPCClient(ctx context.Context, cfg config.Chain) (*RPCClient, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := &RPCClient{
		urls:           cfg.RPCURLs,
		nodes:          make([]*node, len(cfg.RPCURLs)),
		wsURL:          cfg.WSURL,
		token:          common.HexToAddress(cfg.TokenAddress),
		waitReceipt:    cfg.WaitReceipt,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPollInterval,
		logPoll:        cfg.LogPollInterval,
		logBatch:       cfg.LogBatchSize,
	}

	if c.logBatch == 0 {
		c.logBatch = 1
	}

	for i, url := range cfg.RPCURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Str("url", url).Err(err).Msg("Failed to connect to RPC node, will retry on use")
			continue
		}
		c.nodes[i] = &node{idx: i, client: client}
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
		return c, nil
	}

	chainID, err := withClient(ctx, c, "failed to get chain ID", func(client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.chainID = chainID

	return c, nil
}

// Close drops every connection. Connections still in use close when their calls return.
func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.nodes {
		if n != nil {
			c.retire(n)
			c.nodes[i] = nil
		}
	}
}

// ChainID is the configured chain id, or the one reported by the node at startup.
func (c *RPCClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// BlockNumber returns the current head block.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return withClient(ctx, c, "failed to get latest block number", func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

// NativeBalance returns the latest native balance of account in wei.
func (c *RPCClient) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return withClient(ctx, c, "failed to get balance", func(client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, account, nil)
	})
}

// GasPrice returns the node's suggested legacy gas price.
func (c *RPCClient) GasPrice(ctx context.Context) (*big.Int, error) {
	return withClient(ctx, c, "failed to suggest gas price", func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

// TokenBalance calls balanceOf on the stablecoin contract and returns base units.
func (c *RPCClient) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := packBalanceOf(account)
	if err != nil {
		return nil, err
	}

	out, err := withClient(ctx, c, "failed to call balanceOf", func(client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}

	return unpackBalance(out)
}

// withClient runs fn against the current node and fails over to the next one on transport errors.
func withClient[T any](ctx context.Context, c *RPCClient, msg string, fn func(*ethclient.Client) (T, error)) (T, error) {
	var zero T

	n, err := c.acquire(ctx)
	if err != nil {
		return zero, errors.Wrap(err, "failed to get RPC client")
	}
	defer c.release(n)

	res, err := fn(n.client)
	if err != nil {
		c.markFailed(n, err)
		return zero, errors.Wrap(err, msg)
	}

	return res, nil
}

// acquire returns the current node, dialing it again if it was dropped. Every acquire needs a release.
func (c *RPCClient) acquire(ctx context.Context) (*node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.nodes); i++ {
		idx := (c.current + i) % len(c.nodes)

		if c.nodes[idx] == nil {
			client, err := ethclient.DialContext(ctx, c.urls[idx])
			if err != nil {
				log.Warn().Str("url", c.urls[idx]).Err(err).Msg("Failed to reconnect to RPC node")
				continue
			}
			c.nodes[idx] = &node{idx: idx, client: client}
		}

		c.current = idx
		n := c.nodes[idx]
		n.users++

		return n, nil
	}

	return nil, errors.New("all RPC clients are unavailable")
}

func (c *RPCClient) release(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n.users--
	if n.retired && n.users == 0 {
		c.closeNode(n)
	}
}

// markFailed drops n after a transport failure so the next call moves on to another node.
// Calls still running on n finish before its connection is closed.
// Errors reported by the node itself keep the connection.
func (c *RPCClient) markFailed(n *node, err error) {
	if !isTransportError(err) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// a concurrent failure may already have replaced the connection
	if c.nodes[n.idx] != n {
		return
	}

	c.nodes[n.idx] = nil
	c.retire(n)

	if c.current == n.idx {
		c.current = (n.idx + 1) % len(c.nodes)
	}

	log.Warn().Str("url", c.urls[n.idx]).Err(err).Msg("RPC node failed, switching to next node")
}

// retire must be called with c.mu held.
func (c *RPCClient) retire(n *node) {
	n.retired = true
	if n.users == 0 {
		c.closeNode(n)
	}
}

func (c *RPCClient) closeNode(n *node) {
	if n.closed {
		return
	}
	n.closed = true
	n.client.Close()
}

func isTransportError(err error) bool {
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ethereum.NotFound) {
		return false
	}

	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}
