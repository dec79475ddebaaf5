package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/events"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/chain"
	"github/chapool/tiered-custody/internal/wallet/deposit"
	"github/chapool/tiered-custody/internal/wallet/gas"
	"github/chapool/tiered-custody/internal/wallet/keystore"
	"github/chapool/tiered-custody/internal/wallet/reconcile"
	"github/chapool/tiered-custody/internal/wallet/sweep"
	"github/chapool/tiered-custody/internal/wallet/withdraw"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// Ledger is everything the controllers and handlers need from the ledger store.
type Ledger interface {
	gas.WalletStore
	sweep.WalletStore
	withdraw.Store
	deposit.Store
	reconcile.Store

	Ping(ctx context.Context) error
	SetFrozen(ctx context.Context, id int64, frozen bool) error
	AvailableBalance(ctx context.Context, id int64) (decimal.Decimal, error)
	ListWithdrawalsByWallet(ctx context.Context, walletID int64) ([]*ledger.Withdrawal, error)
}

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`

	Config  config.Server
	DB      *sql.DB
	Redis   redis.UniversalClient
	Chain   chain.Client
	Bus     events.Bus
	Locker  lock.Locker
	Ledger  Ledger
	Vault   *keystore.Vault
	Clock   time2.Clock
	Metrics *metrics.Service

	Gas       gas.Service
	Sweep     sweep.Service
	Withdraw  withdraw.Service
	Deposit   deposit.Service
	Reconcile reconcile.Service
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	db *sql.DB,
	rdb redis.UniversalClient,
	client chain.Client,
	bus events.Bus,
	locker lock.Locker,
	store Ledger,
	vault *keystore.Vault,
	clock time2.Clock,
	m *metrics.Service,
	gasService gas.Service,
	sweepService sweep.Service,
	withdrawService withdraw.Service,
	depositService deposit.Service,
	reconcileService reconcile.Service,
) *Server {
	return &Server{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Chain:     client,
		Bus:       bus,
		Locker:    locker,
		Ledger:    store,
		Vault:     vault,
		Clock:     clock,
		Metrics:   m,
		Gas:       gasService,
		Sweep:     sweepService,
		Withdraw:  withdrawService,
		Deposit:   depositService,
		Reconcile: reconcileService,
	}
}

// NewServer returns a Server carrying only its config. Components are set by wire or by tests.
func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

func (s *Server) Ready() bool {
	if err := util.IsStructInitialized(s); err != nil {
		log.Debug().Err(err).Msg("Server is not fully initialized")
		return false
	}

	return true
}

// Probe pings the ledger and redis. It returns the first failure.
func (s *Server) Probe(ctx context.Context) error {
	if err := s.Ledger.Ping(ctx); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

// Start serves the management API on the management listen address and blocks.
func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Management.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

// Shutdown stops the HTTP server, then closes Redis, the chain client and the database.
// Every failure is collected.
func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Redis != nil {
		log.Debug().Msg("Closing redis connection")

		if err := s.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Error().Err(err).Msg("Failed to close redis connection")
			errs = append(errs, err)
		}
	}

	if closer, ok := s.Chain.(interface{ Close() }); ok {
		log.Debug().Msg("Closing chain client")
		closer.Close()
	}

	if s.DB != nil {
		log.Debug().Msg("Closing database connection")

		if err := s.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error().Err(err).Msg("Failed to close database connection")
			errs = append(errs, err)
		}
	}

	return errs
}

// ShutdownTimeout bounds Shutdown when called on process exit.
const ShutdownTimeout = 10 * time.Second
