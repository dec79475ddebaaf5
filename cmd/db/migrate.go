package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/util/command"
)

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Executes all pending ledger migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()

			return command.WithDB(cmd.Context(), cfg, func(_ context.Context, db *sql.DB) error {
				n, err := ledger.Migrate(db)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migrations.\n", n)

				return nil
			})
		},
	}
}
