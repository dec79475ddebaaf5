package probe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/util"
)

const readinessTimeout = 10 * time.Second

func newReadiness() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Checks the database, Redis and the chain endpoints",
		Long: `Checks the database, Redis and the chain endpoints, and that no ledger migration is pending.
Exits with a non-zero status if any check fails.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

			ctx, cancel := context.WithTimeout(cmd.Context(), readinessTimeout)
			defer cancel()

			if err := readiness(ctx, cfg); err != nil {
				if verbose {
					log.Error().Err(err).Msg("Readiness probe failed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Not ready.")
				os.Exit(1)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Ready.")
		},
	}

	cmd.Flags().BoolVarP(&verbose, verboseFlag, "v", false, "Log the failure cause")

	return cmd
}

func readiness(ctx context.Context, cfg config.Server) error {
	db, err := api.NewDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	_, pending, err := ledger.MigrationStatus(db)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return errors.Errorf("%d ledger migrations pending", len(pending))
	}

	rdb, err := api.NewRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	client, err := api.NewChain(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.BlockNumber(ctx); err != nil {
		return errors.Wrap(err, "chain unreachable")
	}

	return nil
}
