package probe

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/util/command"
)

func newLiveness() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Checks that the ledger database is reachable",
		Long: `Checks that the ledger database is reachable.
Exits with a non-zero status if it is not.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := config.DefaultServiceConfigFromEnv()

			err := command.WithDB(cmd.Context(), cfg, func(ctx context.Context, db *sql.DB) error {
				return db.PingContext(ctx)
			})
			if err != nil {
				if verbose {
					log.Error().Err(err).Msg("Liveness probe failed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Not alive.")
				os.Exit(1)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Alive.")
		},
	}

	cmd.Flags().BoolVarP(&verbose, verboseFlag, "v", false, "Log the failure cause")

	return cmd
}
