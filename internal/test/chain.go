package test

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/wallet/chain"
)

// Transfer is a transaction the fake chain accepted.
type Transfer struct {
	Native bool
	From   common.Address
	To     common.Address
	Amount *big.Int
	Hash   common.Hash
}

// Chain is a scripted chain.Client. Successful transfers move balances immediately.
type Chain struct {
	mu        sync.Mutex
	native    map[common.Address]*big.Int
	tokens    map[common.Address]*big.Int
	price     *big.Int
	transfers []Transfer
	receipts  map[common.Hash]chain.ReceiptStatus
	nonce     uint64

	// TransferErr fails every transfer while set.
	TransferErr error
	// ConfirmErr is returned by Confirm while set.
	ConfirmErr   error
	BalanceErr   error
	SubscribeErr error

	subs       []*subscription
	fromBlocks []*uint64
	subscribed chan struct{}
}

type subscription struct {
	recipients map[common.Address]bool
	sink       chan<- chain.TransferLog
	fail       chan error
}

var _ chain.Client = (*Chain)(nil)

func NewChain() *Chain {
	return &Chain{
		native:     map[common.Address]*big.Int{},
		tokens:     map[common.Address]*big.Int{},
		price:      big.NewInt(1_000_000_000),
		receipts:   map[common.Hash]chain.ReceiptStatus{},
		subscribed: make(chan struct{}, 16),
	}
}

func (c *Chain) SetNative(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[account] = new(big.Int).Set(wei)
}

func (c *Chain) SetToken(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[account] = new(big.Int).Set(amount)
}

func (c *Chain) SetGasPrice(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = new(big.Int).Set(wei)
}

func (c *Chain) SetReceipt(hash common.Hash, status chain.ReceiptStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = status
}

func (c *Chain) Token(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return balanceOf(c.tokens, account)
}

func (c *Chain) Native(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return balanceOf(c.native, account)
}

func (c *Chain) Transfers() []Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transfer(nil), c.transfers...)
}

func balanceOf(m map[common.Address]*big.Int, account common.Address) *big.Int {
	if b, ok := m[account]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (c *Chain) NativeBalance(_ context.Context, account common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	return balanceOf(c.native, account), nil
}

func (c *Chain) GasPrice(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.price), nil
}

func (c *Chain) TokenBalance(_ context.Context, account common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	return balanceOf(c.tokens, account), nil
}

func (c *Chain) TransferNative(_ context.Context, from *chain.Account, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.transfer(true, c.native, from, to, amount)
}

func (c *Chain) TransferToken(_ context.Context, from *chain.Account, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.transfer(false, c.tokens, from, to, amount)
}

func (c *Chain) transfer(native bool, balances map[common.Address]*big.Int, from *chain.Account, to common.Address, amount *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.TransferErr != nil {
		return common.Hash{}, c.TransferErr
	}

	if balanceOf(balances, from.Address).Cmp(amount) < 0 {
		return common.Hash{}, &chain.TransferError{
			Kind: chain.KindReverted,
			Op:   "transfer",
			Err:  errors.New("execution reverted: transfer amount exceeds balance"),
		}
	}

	balances[from.Address] = new(big.Int).Sub(balanceOf(balances, from.Address), amount)
	balances[to] = new(big.Int).Add(balanceOf(balances, to), amount)

	c.nonce++
	hash := crypto.Keccak256Hash(from.Address.Bytes(), new(big.Int).SetUint64(c.nonce).Bytes())
	c.transfers = append(c.transfers, Transfer{Native: native, From: from.Address, To: to, Amount: new(big.Int).Set(amount), Hash: hash})
	c.receipts[hash] = chain.ReceiptSuccess

	return hash, nil
}

func (c *Chain) Confirm(_ context.Context, hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ConfirmErr != nil {
		return c.ConfirmErr
	}

	if c.receipts[hash] == chain.ReceiptReverted {
		return &chain.TransferError{Kind: chain.KindReverted, Op: "confirm", Err: errors.New("reverted")}
	}

	return nil
}

func (c *Chain) Receipt(_ context.Context, hash common.Hash) (chain.ReceiptStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.receipts[hash], nil
}

func (c *Chain) SubscribeTransfers(
	_ context.Context,
	recipients []common.Address,
	fromBlock *uint64,
	sink chan<- chain.TransferLog,
) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fromBlocks = append(c.fromBlocks, fromBlock)
	defer func() {
		select {
		case c.subscribed <- struct{}{}:
		default:
		}
	}()

	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}

	s := &subscription{
		recipients: map[common.Address]bool{},
		sink:       sink,
		fail:       make(chan error, 1),
	}
	for _, r := range recipients {
		s.recipients[r] = true
	}
	c.subs = append(c.subs, s)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case err := <-s.fail:
			return err
		}
	}), nil
}

// Subscribed blocks until the next SubscribeTransfers call, successful or not.
func (c *Chain) Subscribed() <-chan struct{} {
	return c.subscribed
}

// FromBlocks returns the start block of every subscription attempt.
func (c *Chain) FromBlocks() []*uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*uint64(nil), c.fromBlocks...)
}

// Recipients returns the watched addresses of the latest subscription.
func (c *Chain) Recipients() map[common.Address]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1].recipients
}

// Emit delivers l to the latest subscription if it watches the recipient.
func (c *Chain) Emit(l chain.TransferLog) bool {
	c.mu.Lock()
	if len(c.subs) == 0 {
		c.mu.Unlock()
		return false
	}
	s := c.subs[len(c.subs)-1]
	c.mu.Unlock()

	if !s.recipients[l.To] {
		return false
	}

	s.sink <- l
	return true
}

// FailSubscription ends the latest subscription with err.
func (c *Chain) FailSubscription(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.subs) == 0 {
		return
	}

	select {
	case c.subs[len(c.subs)-1].fail <- err:
	default:
	}
}
