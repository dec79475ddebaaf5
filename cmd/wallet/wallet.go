package wallet

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("wallet",
		newShow(),
		newFrozen("freeze", "Freezes a deposit wallet", true),
		newFrozen("unfreeze", "Unfreezes a deposit wallet", false),
	)
}

func withLedger(cmd *cobra.Command, args []string, fn func(ctx context.Context, store *ledger.Store, id int64) error) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	cfg := config.DefaultServiceConfigFromEnv()

	return command.WithDB(cmd.Context(), cfg, func(ctx context.Context, db *sql.DB) error {
		return fn(ctx, ledger.New(db), id)
	})
}
