package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrInvalidSignal  = errors.New("invalid signal")
)

// Signal is a typed event payload bound to exactly one channel.
// Amounts are whole stablecoin units unless noted otherwise and travel as decimal strings.
type Signal interface {
	Channel() Channel
	Validate() error
}

// Decode parses payload received on channel into its signal type and validates it.
func Decode(channel string, payload []byte) (Signal, error) {
	factory, ok := registry[Channel(channel)]
	if !ok {
		return nil, errors.Wrap(ErrUnknownChannel, channel)
	}

	sig := factory()
	if err := json.Unmarshal(payload, sig); err != nil {
		return nil, errors.Wrapf(ErrInvalidSignal, "%s: %v", channel, err)
	}

	if err := sig.Validate(); err != nil {
		return nil, errors.Wrap(err, channel)
	}

	return sig, nil
}

// Encode validates sig and renders its JSON payload.
func Encode(sig Signal) ([]byte, error) {
	if err := sig.Validate(); err != nil {
		return nil, errors.Wrap(err, sig.Channel().String())
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s", sig.Channel())
	}

	return payload, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidSignal, format, args...)
}

func positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return invalid("%s must be positive, got %s", field, d)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func walletID(field string, id int64) error {
	if id <= 0 {
		return invalid("%s must be a wallet id, got %d", field, id)
	}
	return nil
}

// GasLow asks the gas controller to top up a wallet's native balance.
// WalletID is required for deposit wallets only.
type GasLow struct {
	WalletType   tier.Type `json:"walletType"`
	WalletID     *int64    `json:"walletId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	WithdrawalID *int64    `json:"withdrawalId,omitempty"`
}

func (GasLow) Channel() Channel { return ChannelGasLow }

func (s GasLow) Validate() error {
	if !s.WalletType.Valid() {
		return invalid("unknown walletType %q", s.WalletType)
	}
	if s.WalletType == tier.Deposit {
		if s.WalletID == nil {
			return invalid("walletId is required for deposit wallets")
		}
		return walletID("walletId", *s.WalletID)
	}
	return nil
}

// GasRefill reports a native top-up. Amount is in ether.
type GasRefill struct {
	Wallet            string          `json:"wallet"`
	WalletType        tier.Type       `json:"walletType"`
	WalletID          *int64          `json:"walletId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Hash              string          `json:"hash"`
	TransactionBuffer int64           `json:"transactionBuffer,omitempty"`
	GasPrice          string          `json:"gasPrice,omitempty"`
	Trigger           string          `json:"trigger,omitempty"`
}

func (GasRefill) Channel() Channel { return ChannelGasRefill }

func (s GasRefill) Validate() error {
	if err := required("wallet", s.Wallet); err != nil {
		return err
	}
	if err := required("hash", s.Hash); err != nil {
		return err
	}
	return positive("amount", s.Amount)
}

type HotWalletInsufficient struct {
	Amount decimal.Decimal `json:"amount"`
}

func (HotWalletInsufficient) Channel() Channel { return ChannelHotWalletInsufficient }

func (s HotWalletInsufficient) Validate() error { return positive("amount", s.Amount) }

type WarmWalletSweepable struct {
	Amount decimal.Decimal `json:"amount"`
}

func (WarmWalletSweepable) Channel() Channel { return ChannelWarmWalletSweepable }

func (s WarmWalletSweepable) Validate() error { return positive("amount", s.Amount) }

type WarmWalletInsufficient struct {
	Amount decimal.Decimal `json:"amount"`
}

func (WarmWalletInsufficient) Channel() Channel { return ChannelWarmWalletInsufficient }

func (s WarmWalletInsufficient) Validate() error { return positive("amount", s.Amount) }

// DepositWalletSweepable carries the wallet's total on-chain balance, not the incremental deposit.
type DepositWalletSweepable struct {
	Wallet int64           `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
}

func (DepositWalletSweepable) Channel() Channel { return ChannelDepositWalletSweepable }

func (s DepositWalletSweepable) Validate() error {
	if err := walletID("wallet", s.Wallet); err != nil {
		return err
	}
	return positive("amount", s.Amount)
}

type DepositWalletInsufficient struct {
	Wallet int64 `json:"wallet"`
}

func (DepositWalletInsufficient) Channel() Channel { return ChannelDepositWalletInsufficient }

func (s DepositWalletInsufficient) Validate() error { return walletID("wallet", s.Wallet) }

type DepositWalletSwept struct {
	Wallet int64           `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
	Hash   string          `json:"hash"`
}

func (DepositWalletSwept) Channel() Channel { return ChannelDepositWalletSwept }

func (s DepositWalletSwept) Validate() error {
	if err := walletID("wallet", s.Wallet); err != nil {
		return err
	}
	return transfer(s.Amount, s.Hash)
}

type WarmWalletSwept struct {
	Amount  decimal.Decimal `json:"amount"`
	Hash    string          `json:"hash"`
	Trigger string          `json:"trigger,omitempty"`
}

func (WarmWalletSwept) Channel() Channel { return ChannelWarmWalletSwept }

func (s WarmWalletSwept) Validate() error { return transfer(s.Amount, s.Hash) }

type HotWalletReplenished struct {
	Amount  decimal.Decimal `json:"amount"`
	Hash    string          `json:"hash"`
	Trigger string          `json:"trigger,omitempty"`
}

func (HotWalletReplenished) Channel() Channel { return ChannelHotWalletReplenished }

func (s HotWalletReplenished) Validate() error { return transfer(s.Amount, s.Hash) }

type WarmWalletReplenished struct {
	Amount  decimal.Decimal `json:"amount"`
	Hash    string          `json:"hash"`
	Trigger string          `json:"trigger,omitempty"`
}

func (WarmWalletReplenished) Channel() Channel { return ChannelWarmWalletReplenished }

func (s WarmWalletReplenished) Validate() error { return transfer(s.Amount, s.Hash) }

func transfer(amount decimal.Decimal, hash string) error {
	if err := required("hash", hash); err != nil {
		return err
	}
	return positive("amount", amount)
}

// ColdWalletLow is an operator alert; nothing refills cold automatically.
type ColdWalletLow struct {
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	MinThreshold   decimal.Decimal `json:"minThreshold"`
	Deficit        decimal.Decimal `json:"deficit"`
}

func (ColdWalletLow) Channel() Channel { return ChannelColdWalletLow }

func (s ColdWalletLow) Validate() error { return positive("deficit", s.Deficit) }

type WithdrawalSucceeded struct {
	WithdrawalID int64  `json:"withdrawalId"`
	Hash         string `json:"hash"`
}

func (WithdrawalSucceeded) Channel() Channel { return ChannelWithdrawalSucceeded }

func (s WithdrawalSucceeded) Validate() error {
	if s.WithdrawalID <= 0 {
		return invalid("withdrawalId is required")
	}
	return required("hash", s.Hash)
}

type WithdrawalFailed struct {
	WithdrawalID int64  `json:"withdrawalId"`
	Error        string `json:"error"`
}

func (WithdrawalFailed) Channel() Channel { return ChannelWithdrawalFailed }

func (s WithdrawalFailed) Validate() error {
	if s.WithdrawalID <= 0 {
		return invalid("withdrawalId is required")
	}
	return nil
}

// LedgerDrift is raised when on-chain holdings no longer cover ledger liabilities.
type LedgerDrift struct {
	Liabilities decimal.Decimal `json:"liabilities"`
	Holdings    decimal.Decimal `json:"holdings"`
	Delta       decimal.Decimal `json:"delta"`
}

func (LedgerDrift) Channel() Channel { return ChannelLedgerDrift }

func (s LedgerDrift) Validate() error {
	if !s.Delta.IsNegative() {
		return invalid("delta must be negative, got %s", s.Delta)
	}
	return nil
}
