package config_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

func TestPrintServiceEnv(t *testing.T) {
	config := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(config, "", "  ")

	if err != nil {
		t.Fatal(err)
	}
}

func TestSecretsAreNotPrinted(t *testing.T) {
	t.Setenv("WALLET_SECRET", "super-secret")
	t.Setenv("HOT_WALLET_PRIVATE_KEY", "deadbeef")

	b, err := json.Marshal(config.DefaultServiceConfigFromEnv())
	require.NoError(t, err)

	assert.NotContains(t, string(b), "super-secret")
	assert.NotContains(t, string(b), "deadbeef")
}

func TestDefaults(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()

	assert.True(t, decimal.NewFromInt(1000).Equal(cfg.Thresholds.Hot))
	assert.True(t, decimal.NewFromInt(5000).Equal(cfg.Thresholds.WarmMin))
	assert.True(t, decimal.NewFromInt(10000).Equal(cfg.Thresholds.WarmMax))
	assert.True(t, decimal.NewFromInt(50000).Equal(cfg.Thresholds.ColdMin))
	assert.True(t, decimal.NewFromInt(100).Equal(cfg.Thresholds.DepositSweep))
	assert.Equal(t, int64(1), cfg.Wallets.DepositGasBuffer)
	assert.Equal(t, uint64(70000), cfg.Chain.GasPerTx)
	assert.Equal(t, int32(6), cfg.Chain.TokenDecimals)
	assert.Equal(t, 10, cfg.Withdrawal.BatchSize)
}

func TestGasWalletNeverGetsBuffer(t *testing.T) {
	t.Setenv("GAS_WALLET_GAS_BUFFER", "50")
	t.Setenv("HOT_WALLET_GAS_BUFFER", "100")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, int64(0), cfg.Wallets.Gas.GasBuffer)
	assert.Equal(t, int64(100), cfg.Wallets.Hot.GasBuffer)

	w, ok := cfg.Wallets.Tier(tier.Hot)
	require.True(t, ok)
	assert.Equal(t, int64(100), w.GasBuffer)

	_, ok = cfg.Wallets.Tier(tier.Deposit)
	assert.False(t, ok)
}

func TestRPCURLAliasAndList(t *testing.T) {
	t.Setenv("ARBITRUM_SEPOLIA_RPC", "https://a.example, https://b.example")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Chain.RPCURLs)
}

func setWallet(t *testing.T, prefix string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	t.Setenv(prefix+"_WALLET_ADDRESS", crypto.PubkeyToAddress(key.PublicKey).Hex())
	t.Setenv(prefix+"_WALLET_PRIVATE_KEY", hex.EncodeToString(crypto.FromECDSA(key)))
}

func setValidEnv(t *testing.T) {
	t.Helper()

	for _, prefix := range []string{"GAS", "HOT", "WARM", "COLD"} {
		setWallet(t, prefix)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/custody")
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("USDC_CONTRACT_ADDRESS", "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d")
	t.Setenv("WALLET_SECRET", "secret")
}

func TestValidate(t *testing.T) {
	setValidEnv(t)

	require.NoError(t, config.DefaultServiceConfigFromEnv().Validate())
}

func TestValidateMissingWallet(t *testing.T) {
	setValidEnv(t)
	t.Setenv("WARM_WALLET_PRIVATE_KEY", "")

	err := config.DefaultServiceConfigFromEnv().Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissingWallet))
	assert.Contains(t, err.Error(), "WARM_WALLET_PRIVATE_KEY")
}

func TestValidateKeyMismatch(t *testing.T) {
	setValidEnv(t)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("COLD_WALLET_ADDRESS", crypto.PubkeyToAddress(other.PublicKey).Hex())

	err = config.DefaultServiceConfigFromEnv().Validate()
	assert.True(t, errors.Is(err, config.ErrWalletKeyMismatch))
}

func TestValidateWarmBand(t *testing.T) {
	setValidEnv(t)
	t.Setenv("WARM_WALLET_USDC_MAX_THRESHOLD", "10")

	err := config.DefaultServiceConfigFromEnv().Validate()
	assert.True(t, errors.Is(err, config.ErrInvalidSetting))
}
