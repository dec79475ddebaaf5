//go:build wireinject

package api

import (
	"database/sql"
	"testing"

	"github.com/google/wire"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/wallet/chain"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for initing a server
var serviceSet = wire.NewSet(
	newServerWithComponents,
	ledgerSet,
	NewVault,
	metrics.New,
	NewGasService,
	NewSweepService,
	NewWithdrawService,
	NewDepositService,
	NewReconcileService,
)

var ledgerSet = wire.NewSet(
	newLedger,
	wire.Bind(new(Ledger), new(*ledger.Store)),
)

// infraSet connects to everything outside the database.
var infraSet = wire.NewSet(
	NewRedis,
	NewChain,
	wire.Bind(new(chain.Client), new(*chain.RPCClient)),
	NewBus,
	wire.Bind(new(events.Bus), new(*events.RedisBus)),
	NewLocker,
	wire.Bind(new(lock.Locker), new(*lock.RedisLocker)),
)

// InitNewServer returns a new Server instance.
func InitNewServer(
	_ config.Server,
) (*Server, error) {
	wire.Build(serviceSet, infraSet, NewDB, NewClock, NoTest)
	return new(Server), nil
}

// InitNewServerWithDB returns a new Server instance with the given DB instance.
// All the other components are initialized via go wire according to the configuration.
func InitNewServerWithDB(
	_ config.Server,
	_ *sql.DB,
	t ...*testing.T,
) (*Server, error) {
	wire.Build(serviceSet, infraSet, NewClock)
	return new(Server), nil
}
