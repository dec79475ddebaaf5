package api

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/deposit"
	"github/chapool/tiered-custody/internal/wallet/gas"
	"github/chapool/tiered-custody/internal/wallet/keystore"
	"github/chapool/tiered-custody/internal/wallet/reconcile"
	"github/chapool/tiered-custody/internal/wallet/sweep"
	"github/chapool/tiered-custody/internal/wallet/withdraw"
)

// PROVIDERS - define here only providers that for various reasons (e.g. cyclic dependency) can't live in their corresponding packages
// or for wrapping providers that only accept sub-configs to prevent the requirement for defining providers for sub-configs.
// https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

const dialTimeout = 10 * time.Second

// NewClock returns a mock clock starting at 2024-03-01 12:00 UTC when a test is given, the real clock otherwise.
func NewClock(t ...*testing.T) time2.Clock {
	var clock time2.Clock

	useMock := len(t) > 0 && t[0] != nil

	if useMock {
		clock = time2.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	} else {
		clock = time2.DefaultClock
	}

	return clock
}

func NewDB(cfg config.Server) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return db, nil
}

//nolint:ireturn
func NewRedis(cfg config.Server) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid REDIS_URL")
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}

	return client, nil
}

func NewChain(cfg config.Server) (*chain.RPCClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	return chain.NewRPCClient(ctx, cfg.Chain)
}

func NewBus(client redis.UniversalClient, m *metrics.Service) *events.RedisBus {
	return events.NewRedisBus(client, m)
}

func NewLocker(client redis.UniversalClient, cfg config.Server) *lock.RedisLocker {
	return lock.NewRedisLocker(client, cfg.Lock.TTL)
}

func NewVault(cfg config.Server) (*keystore.Vault, error) {
	return keystore.New(cfg.Secret)
}

//nolint:ireturn
func NewGasService(cfg config.Server, store Ledger, client chain.Client, bus events.Bus, locker lock.Locker, m *metrics.Service) (gas.Service, error) {
	return gas.NewService(cfg, store, client, bus, locker, m)
}

//nolint:ireturn
func NewSweepService(
	cfg config.Server,
	store Ledger,
	client chain.Client,
	vault *keystore.Vault,
	bus events.Bus,
	locker lock.Locker,
	m *metrics.Service,
) (sweep.Service, error) {
	return sweep.NewService(cfg, store, client, vault, bus, locker, m)
}

//nolint:ireturn
func NewWithdrawService(
	cfg config.Server,
	store Ledger,
	client chain.Client,
	bus events.Bus,
	locker lock.Locker,
	clock time2.Clock,
	m *metrics.Service,
) (withdraw.Service, error) {
	return withdraw.NewService(cfg, store, client, bus, locker, clock, m)
}

//nolint:ireturn
func NewDepositService(cfg config.Server, store Ledger, client chain.Client, bus events.Bus, m *metrics.Service) deposit.Service {
	return deposit.NewService(cfg, store, client, bus, m)
}

//nolint:ireturn
func NewReconcileService(
	cfg config.Server,
	store Ledger,
	client chain.Client,
	bus events.Bus,
	locker lock.Locker,
	clock time2.Clock,
	m *metrics.Service,
) reconcile.Service {
	return reconcile.NewService(cfg, store, client, bus, locker, clock, m)
}

var _ Ledger = (*ledger.Store)(nil)

func newLedger(db *sql.DB) *ledger.Store {
	return ledger.New(db)
}

// NoTest is used by InitNewServer to satisfy the optional test argument of NewClock.
func NoTest() []*testing.T {
	return nil
}
