package config

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

type Database struct {
	URL             string `json:"-"` // sensitive
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Redis struct {
	URL string `json:"-"` // sensitive
}

type Chain struct {
	RPCURLs             []string
	WSURL               string
	ChainID             int64
	TokenAddress        string
	TokenDecimals       int32
	GasPerTx            uint64
	WaitReceipt         bool
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	LogPollInterval     time.Duration
	LogBatchSize        uint64
}

// Wallet is a system tier wallet. It is never persisted.
type Wallet struct {
	Address    string
	PrivateKey string `json:"-"` // sensitive
	GasBuffer  int64
}

type SystemWallets struct {
	Gas              Wallet
	Hot              Wallet
	Warm             Wallet
	Cold             Wallet
	DepositGasBuffer int64
}

// Tier returns the wallet configured for t. Deposit wallets are not system wallets.
func (w SystemWallets) Tier(t tier.Type) (Wallet, bool) {
	switch t {
	case tier.Gas:
		return w.Gas, true
	case tier.Hot:
		return w.Hot, true
	case tier.Warm:
		return w.Warm, true
	case tier.Cold:
		return w.Cold, true
	case tier.Deposit:
		return Wallet{}, false
	}

	return Wallet{}, false
}

// Thresholds are stablecoin amounts in whole token units.
type Thresholds struct {
	Hot          decimal.Decimal
	WarmMin      decimal.Decimal
	WarmMax      decimal.Decimal
	ColdMin      decimal.Decimal
	DepositSweep decimal.Decimal
}

type Gas struct {
	MonitorInterval time.Duration
}

type Sweep struct {
	MonitorInterval time.Duration
}

type Withdrawal struct {
	QueueInterval time.Duration
	BatchSize     int
}

type Deposit struct {
	RestartDelay   time.Duration
	ResyncInterval time.Duration
}

type Reconcile struct {
	Interval time.Duration
}

type Lock struct {
	TTL time.Duration
}

type Management struct {
	ListenAddress string
}

type Logger struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
}

type Server struct {
	Database   Database
	Redis      Redis
	Chain      Chain
	Wallets    SystemWallets
	Thresholds Thresholds
	Gas        Gas
	Sweep      Sweep
	Withdrawal Withdrawal
	Deposit    Deposit
	Reconcile  Reconcile
	Lock       Lock
	Management Management
	Logger     Logger
	Secret     string `json:"-"` // sensitive
}

var dotEnvOnce sync.Once

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// An optional .env file in the working directory is loaded first; it never overrides variables already set.
func DefaultServiceConfigFromEnv() Server {
	dotEnvOnce.Do(func() {
		if err := gotenv.Load(); err == nil {
			log.Debug().Msg("Loaded .env file")
		}
	})

	v := newViper()

	return Server{
		Database: Database{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: Redis{
			URL: v.GetString("REDIS_URL"),
		},
		Chain: Chain{
			RPCURLs:             splitList(v.GetString("CHAIN_RPC_URL")),
			WSURL:               v.GetString("CHAIN_WS_URL"),
			ChainID:             v.GetInt64("CHAIN_ID"),
			TokenAddress:        v.GetString("USDC_CONTRACT_ADDRESS"),
			TokenDecimals:       v.GetInt32("TOKEN_DECIMALS"),
			GasPerTx:            v.GetUint64("GAS_PER_TX_ESTIMATE"),
			WaitReceipt:         v.GetBool("CHAIN_WAIT_RECEIPT"),
			ReceiptTimeout:      v.GetDuration("CHAIN_RECEIPT_TIMEOUT"),
			ReceiptPollInterval: v.GetDuration("CHAIN_RECEIPT_POLL_INTERVAL"),
			LogPollInterval:     v.GetDuration("CHAIN_LOG_POLL_INTERVAL"),
			LogBatchSize:        v.GetUint64("CHAIN_LOG_BATCH_SIZE"),
		},
		Wallets: SystemWallets{
			// the gas wallet only funds others, it never gets a buffer of its own
			Gas:              tierWallet(v, "GAS", false),
			Hot:              tierWallet(v, "HOT", true),
			Warm:             tierWallet(v, "WARM", true),
			Cold:             tierWallet(v, "COLD", true),
			DepositGasBuffer: v.GetInt64("DEPOSIT_WALLET_GAS_BUFFER"),
		},
		Thresholds: Thresholds{
			Hot:          getDecimal(v, "HOT_WALLET_USDC_THRESHOLD"),
			WarmMin:      getDecimal(v, "WARM_WALLET_USDC_THRESHOLD"),
			WarmMax:      getDecimal(v, "WARM_WALLET_USDC_MAX_THRESHOLD"),
			ColdMin:      getDecimal(v, "COLD_WALLET_USDC_MIN_THRESHOLD"),
			DepositSweep: getDecimal(v, "DEPOSIT_SWEEP_THRESHOLD"),
		},
		Gas: Gas{
			MonitorInterval: v.GetDuration("GAS_MONITOR_INTERVAL"),
		},
		Sweep: Sweep{
			MonitorInterval: v.GetDuration("SWEEP_MONITOR_INTERVAL"),
		},
		Withdrawal: Withdrawal{
			QueueInterval: v.GetDuration("WITHDRAWAL_QUEUE_INTERVAL"),
			BatchSize:     v.GetInt("WITHDRAWAL_BATCH_SIZE"),
		},
		Deposit: Deposit{
			RestartDelay:   v.GetDuration("DEPOSIT_RESTART_DELAY"),
			ResyncInterval: v.GetDuration("DEPOSIT_RESYNC_INTERVAL"),
		},
		Reconcile: Reconcile{
			Interval: v.GetDuration("RECONCILE_INTERVAL"),
		},
		Lock: Lock{
			TTL: v.GetDuration("LOCK_TTL"),
		},
		Management: Management{
			ListenAddress: v.GetString("SERVER_MANAGEMENT_LISTEN_ADDRESS"),
		},
		Logger: Logger{
			Level:              parseLevel(v.GetString("SERVER_LOGGER_LEVEL")),
			PrettyPrintConsole: v.GetBool("SERVER_LOGGER_PRETTY_PRINT_CONSOLE"),
		},
		Secret: v.GetString("WALLET_SECRET"),
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	// the original deployment named the RPC endpoint after the network
	_ = v.BindEnv("CHAIN_RPC_URL", "CHAIN_RPC_URL", "ARBITRUM_SEPOLIA_RPC")

	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	v.SetDefault("TOKEN_DECIMALS", 6)
	v.SetDefault("GAS_PER_TX_ESTIMATE", 70000)
	v.SetDefault("CHAIN_WAIT_RECEIPT", true)
	v.SetDefault("CHAIN_RECEIPT_TIMEOUT", 2*time.Minute)
	v.SetDefault("CHAIN_RECEIPT_POLL_INTERVAL", 3*time.Second)
	v.SetDefault("CHAIN_LOG_POLL_INTERVAL", 4*time.Second)
	v.SetDefault("CHAIN_LOG_BATCH_SIZE", 1000)

	v.SetDefault("DEPOSIT_WALLET_GAS_BUFFER", 1)

	v.SetDefault("HOT_WALLET_USDC_THRESHOLD", "1000")
	v.SetDefault("WARM_WALLET_USDC_THRESHOLD", "5000")
	v.SetDefault("WARM_WALLET_USDC_MAX_THRESHOLD", "10000")
	v.SetDefault("COLD_WALLET_USDC_MIN_THRESHOLD", "50000")
	v.SetDefault("DEPOSIT_SWEEP_THRESHOLD", "100")

	v.SetDefault("GAS_MONITOR_INTERVAL", 30*time.Second)
	v.SetDefault("SWEEP_MONITOR_INTERVAL", 30*time.Second)
	v.SetDefault("WITHDRAWAL_QUEUE_INTERVAL", 5*time.Second)
	v.SetDefault("WITHDRAWAL_BATCH_SIZE", 10)
	v.SetDefault("DEPOSIT_RESTART_DELAY", 5*time.Second)
	v.SetDefault("DEPOSIT_RESYNC_INTERVAL", time.Minute)
	v.SetDefault("RECONCILE_INTERVAL", 5*time.Minute)
	v.SetDefault("LOCK_TTL", 5*time.Minute)

	v.SetDefault("SERVER_MANAGEMENT_LISTEN_ADDRESS", ":8080")
	v.SetDefault("SERVER_LOGGER_LEVEL", zerolog.InfoLevel.String())
	v.SetDefault("SERVER_LOGGER_PRETTY_PRINT_CONSOLE", false)

	return v
}

func tierWallet(v *viper.Viper, prefix string, withBuffer bool) Wallet {
	w := Wallet{
		Address:    strings.TrimSpace(v.GetString(prefix + "_WALLET_ADDRESS")),
		PrivateKey: strings.TrimSpace(v.GetString(prefix + "_WALLET_PRIVATE_KEY")),
	}
	if withBuffer {
		w.GasBuffer = v.GetInt64(prefix + "_WALLET_GAS_BUFFER")
	}

	return w
}

func getDecimal(v *viper.Viper, key string) decimal.Decimal {
	raw := v.GetString(key)

	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.Panic().Err(err).Str("key", key).Str("value", raw).Msg("Failed to parse decimal config value")
	}

	return d
}

func parseLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		log.Warn().Err(err).Str("value", raw).Msg("Unknown log level, falling back to info")
		return zerolog.InfoLevel
	}

	return level
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	res := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}

	return res
}
