package test

import (
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/wallet/keystore"
)

const Secret = "test-wallet-secret"

// Key generates a fresh private key and returns its hex encoding and address.
func Key(t *testing.T) (string, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	return "0x" + hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey)
}

func wallet(t *testing.T, gasBuffer int64) config.Wallet {
	t.Helper()

	key, address := Key(t)

	return config.Wallet{Address: address.Hex(), PrivateKey: key, GasBuffer: gasBuffer}
}

// SystemWallets returns freshly keyed gas, hot, warm and cold wallets.
func SystemWallets(t *testing.T) config.SystemWallets {
	t.Helper()

	return config.SystemWallets{
		Gas:              wallet(t, 0),
		Hot:              wallet(t, 10),
		Warm:             wallet(t, 5),
		Cold:             wallet(t, 0),
		DepositGasBuffer: 1,
	}
}

// Config returns a complete server config with the default thresholds and fresh system wallets.
func Config(t *testing.T) config.Server {
	t.Helper()

	return config.Server{
		Chain: config.Chain{
			RPCURLs:       []string{"http://localhost:8545"},
			TokenAddress:  "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d",
			TokenDecimals: 6,
			GasPerTx:      70000,
			WaitReceipt:   true,
		},
		Wallets: SystemWallets(t),
		Thresholds: config.Thresholds{
			Hot:          decimal.NewFromInt(1000),
			WarmMin:      decimal.NewFromInt(5000),
			WarmMax:      decimal.NewFromInt(10000),
			ColdMin:      decimal.NewFromInt(50000),
			DepositSweep: decimal.NewFromInt(100),
		},
		Gas:        config.Gas{MonitorInterval: 30 * time.Second},
		Sweep:      config.Sweep{MonitorInterval: 30 * time.Second},
		Withdrawal: config.Withdrawal{QueueInterval: 5 * time.Second, BatchSize: 10},
		Deposit:    config.Deposit{RestartDelay: 10 * time.Millisecond, ResyncInterval: time.Hour},
		Reconcile:  config.Reconcile{Interval: 5 * time.Minute},
		Lock:       config.Lock{TTL: time.Minute},
		Secret:     Secret,
	}
}

func Vault(t *testing.T) *keystore.Vault {
	t.Helper()

	v, err := keystore.New(Secret)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	return v
}

// DepositWallet adds a deposit wallet with a fresh encrypted key to l.
func DepositWallet(t *testing.T, l *Ledger, v *keystore.Vault, balance decimal.Decimal) (int64, common.Address) {
	t.Helper()

	key, address := Key(t)

	encrypted, err := v.Encrypt(key)
	if err != nil {
		t.Fatalf("failed to encrypt key: %v", err)
	}

	w := l.AddWallet(address.Hex(), encrypted, balance)

	return w.ID, address
}

// Units converts whole token units to base units with 6 decimals.
func Units(amount string) *big.Int {
	return decimal.RequireFromString(amount).Shift(6).BigInt()
}
