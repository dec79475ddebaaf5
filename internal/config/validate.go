package config

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	ErrMissingWallet     = errors.New("missing system wallet configuration")
	ErrWalletKeyMismatch = errors.New("system wallet private key does not match address")
	ErrMissingSetting    = errors.New("missing required setting")
	ErrInvalidSetting    = errors.New("invalid setting")
)

// Validate checks everything a controller process cannot start without.
func (c Server) Validate() error {
	wallets := []struct {
		env    string
		wallet Wallet
	}{
		{"GAS", c.Wallets.Gas},
		{"HOT", c.Wallets.Hot},
		{"WARM", c.Wallets.Warm},
		{"COLD", c.Wallets.Cold},
	}

	var missing []string
	for _, w := range wallets {
		if w.wallet.Address == "" {
			missing = append(missing, w.env+"_WALLET_ADDRESS")
		}
		if w.wallet.PrivateKey == "" {
			missing = append(missing, w.env+"_WALLET_PRIVATE_KEY")
		}
	}

	if len(missing) > 0 {
		return errors.Wrap(ErrMissingWallet, strings.Join(missing, ", "))
	}

	for _, w := range wallets {
		if !common.IsHexAddress(w.wallet.Address) {
			return errors.Wrapf(ErrInvalidSetting, "%s_WALLET_ADDRESS is not a hex address", w.env)
		}

		key, err := crypto.HexToECDSA(strings.TrimPrefix(w.wallet.PrivateKey, "0x"))
		if err != nil {
			return errors.Wrapf(ErrInvalidSetting, "%s_WALLET_PRIVATE_KEY: %v", w.env, err)
		}

		if crypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(w.wallet.Address) {
			return errors.Wrapf(ErrWalletKeyMismatch, "%s wallet", strings.ToLower(w.env))
		}
	}

	required := map[string]string{
		"DATABASE_URL":          c.Database.URL,
		"REDIS_URL":             c.Redis.URL,
		"USDC_CONTRACT_ADDRESS": c.Chain.TokenAddress,
		"WALLET_SECRET":         c.Secret,
	}
	for env, value := range required {
		if value == "" {
			return errors.Wrap(ErrMissingSetting, env)
		}
	}

	if len(c.Chain.RPCURLs) == 0 {
		return errors.Wrap(ErrMissingSetting, "CHAIN_RPC_URL")
	}

	if !common.IsHexAddress(c.Chain.TokenAddress) {
		return errors.Wrap(ErrInvalidSetting, "USDC_CONTRACT_ADDRESS is not a hex address")
	}

	if c.Thresholds.WarmMax.LessThan(c.Thresholds.WarmMin) {
		return errors.Wrap(ErrInvalidSetting, "WARM_WALLET_USDC_MAX_THRESHOLD is below WARM_WALLET_USDC_THRESHOLD")
	}

	return nil
}
