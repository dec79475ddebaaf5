package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/router"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/util/command"
)

const (
	migrateFlag string = "migrate"
	serviceFlag string = "service"
)

type Flags struct {
	Migrate  bool
	Services []string
}

func New() *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the custody controllers",
		Long: `Starts the selected custody controllers and the management API.

The deposit watcher runs together with the withdrawal controller.
Requires configuration through ENV.`,
		Run: func(_ *cobra.Command, _ []string) {
			runServer(flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.Migrate, migrateFlag, "m", false, "Apply pending database migrations before starting")
	cmd.Flags().StringSliceVarP(&flags.Services, serviceFlag, "s", allServices,
		"Controllers to run (gas, sweep, withdrawal, reconcile)")

	return cmd
}

func runServer(flags Flags) {
	cfg := config.DefaultServiceConfigFromEnv()
	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	if err := command.ResolveSecret(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve wallet secret")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	services, err := parseServices(flags.Services)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid service selection")
	}

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	if flags.Migrate {
		n, err := ledger.Migrate(s.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Int("applied", n).Msg("Applied migrations")
	}

	if err := router.Init(s); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize router")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := s.Start(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				log.Info().Msg("Server closed")
			} else {
				log.Fatal().Err(err).Msg("Failed to start server")
			}
		}
	}()

	log.Info().Strs("services", services).Str("listen", cfg.Management.ListenAddress).Msg("Controllers starting")

	if err := runControllers(ctx, s, services); err != nil {
		log.Error().Err(err).Msg("Controller exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
	defer cancel()

	if errs := s.Shutdown(shutdownCtx); len(errs) > 0 {
		log.Fatal().Errs("shutdownErrors", errs).Msg("Failed to gracefully shut down server")
	}

	log.Info().Msg("Server shut down")
}
