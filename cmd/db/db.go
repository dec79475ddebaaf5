package db

import (
	"github.com/spf13/cobra"
	"github/chapool/tiered-custody/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("db",
		newMigrate(),
		newStatus(),
	)
}
