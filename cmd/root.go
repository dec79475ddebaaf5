package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/cmd/db"
	"github/chapool/tiered-custody/cmd/probe"
	"github/chapool/tiered-custody/cmd/server"
	"github/chapool/tiered-custody/cmd/wallet"
	"github/chapool/tiered-custody/cmd/withdraw"
	"github/chapool/tiered-custody/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Tiered custody controllers for an ERC-20 token: gas top-ups, hot/warm/cold
rebalancing, withdrawal queueing, deposit crediting and ledger reconciliation.
Requires configuration through ENV.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		db.New(),
		probe.New(),
		server.New(),
		wallet.New(),
		withdraw.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
