package command_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/test"
	"github/chapool/tiered-custody/internal/util/command"
)

func TestNewSubcommandGroup(t *testing.T) {
	var ran bool
	sub := &cobra.Command{
		Use: "child",
		Run: func(_ *cobra.Command, _ []string) { ran = true },
	}

	group := command.NewSubcommandGroup("parent", sub)
	assert.Equal(t, "parent", group.Use)
	assert.Equal(t, "parent related subcommands", group.Short)

	var out bytes.Buffer
	group.SetOut(&out)
	group.SetArgs([]string{})
	require.NoError(t, group.Execute())
	assert.Contains(t, out.String(), "child")
	assert.False(t, ran)

	group.SetArgs([]string{"child"})
	require.NoError(t, group.Execute())
	assert.True(t, ran)
}

func TestWithServerInitFailure(t *testing.T) {
	cfg := test.Config(t)
	cfg.Database.URL = "postgres://invalid host/db"

	var called bool
	err := command.WithServer(context.Background(), cfg, func(_ context.Context, _ *api.Server) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
}

func TestResolveSecretKeepsConfigured(t *testing.T) {
	cfg := test.Config(t)
	cfg.Secret = "configured"

	require.NoError(t, command.ResolveSecret(&cfg))
	assert.Equal(t, "configured", cfg.Secret)
}
