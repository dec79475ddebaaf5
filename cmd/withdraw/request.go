package withdraw

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/config"
	"github/chapool/tiered-custody/internal/util/command"
)

const (
	walletFlag string = "wallet"
	amountFlag string = "amount"
	toFlag     string = "to"
)

type requestFlags struct {
	WalletID int64
	Amount   string
	To       string
}

func newRequest() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Queues a withdrawal from a deposit wallet",
		Long: `Queues a withdrawal from a deposit wallet.
If the hot wallet covers it, it is executed right away; otherwise it waits for replenishment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := decimal.NewFromString(flags.Amount)
			if err != nil {
				return err
			}

			cfg := config.DefaultServiceConfigFromEnv()

			return command.WithServer(cmd.Context(), cfg, func(ctx context.Context, s *api.Server) error {
				w, err := s.Withdraw.RequestWithdrawal(ctx, flags.WalletID, amount, flags.To)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(w)
			})
		},
	}

	cmd.Flags().Int64Var(&flags.WalletID, walletFlag, 0, "Deposit wallet id")
	cmd.Flags().StringVar(&flags.Amount, amountFlag, "", "Token amount, in whole units")
	cmd.Flags().StringVar(&flags.To, toFlag, "", "Destination address")
	_ = cmd.MarkFlagRequired(walletFlag)
	_ = cmd.MarkFlagRequired(amountFlag)
	_ = cmd.MarkFlagRequired(toFlag)

	return cmd
}
