package command

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/util"
)

// NewSubcommandGroup returns a command that only groups subcommands and prints its help when run directly.
func NewSubcommandGroup(name string, subCommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s related subcommands", name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(subCommands...)

	return cmd
}

// WithServer initializes a server from config, runs fn with it and shuts it down afterwards.
// The error returned by fn is passed through unchanged.
func WithServer(ctx context.Context, cfg config.Server, fn func(ctx context.Context, s *api.Server) error) error {
	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	if err := ResolveSecret(&cfg); err != nil {
		return err
	}

	s, err := api.InitNewServer(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize server")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), api.ShutdownTimeout)
		defer cancel()

		if errs := s.Shutdown(shutdownCtx); len(errs) > 0 {
			log.Error().Errs("shutdownErrors", errs).Msg("Failed to shut down server")
		}
	}()

	return fn(ctx, s)
}

// WithDB opens only the ledger database, for commands that need neither Redis nor the chain.
func WithDB(ctx context.Context, cfg config.Server, fn func(ctx context.Context, db *sql.DB) error) error {
	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	db, err := api.NewDB(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}

	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	return fn(ctx, db)
}
