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

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Lists applied and pending ledger migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()

			return command.WithDB(cmd.Context(), cfg, func(_ context.Context, db *sql.DB) error {
				applied, pending, err := ledger.MigrationStatus(db)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, id := range applied {
					fmt.Fprintf(out, "applied  %s\n", id)
				}
				for _, id := range pending {
					fmt.Fprintf(out, "pending  %s\n", id)
				}

				return nil
			})
		},
	}
}
