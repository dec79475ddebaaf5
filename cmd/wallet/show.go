package wallet

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/ledger"
)

type walletView struct {
	*ledger.Wallet
	Available   decimal.Decimal      `json:"available"`
	Withdrawals []*ledger.Withdrawal `json:"withdrawals"`
}

func newShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <wallet-id>",
		Short: "Prints a deposit wallet with its available balance and withdrawals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, args, func(ctx context.Context, store *ledger.Store, id int64) error {
				w, err := store.GetWallet(ctx, id)
				if err != nil {
					return err
				}

				available, err := store.AvailableBalance(ctx, id)
				if err != nil {
					return err
				}

				withdrawals, err := store.ListWithdrawalsByWallet(ctx, id)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(walletView{Wallet: w, Available: available, Withdrawals: withdrawals})
			})
		},
	}
}
