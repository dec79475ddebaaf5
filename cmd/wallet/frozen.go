package wallet

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/ledger"
)

func newFrozen(use, short string, frozen bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wallet-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, args, func(ctx context.Context, store *ledger.Store, id int64) error {
				if err := store.SetFrozen(ctx, id, frozen); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Wallet %d frozen=%t.\n", id, frozen)

				return nil
			})
		},
	}
}
