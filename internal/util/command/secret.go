package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/config"
	"golang.org/x/term"
)

var ErrNoSecret = errors.New("WALLET_SECRET is not set and stdin is not a terminal")

// ResolveSecret prompts for the keystore secret on the terminal when the config does not carry one.
func ResolveSecret(cfg *config.Server) error {
	if cfg.Secret != "" {
		return nil
	}

	fd := int(os.Stdin.Fd()) //nolint:gosec
	if !term.IsTerminal(fd) {
		return ErrNoSecret
	}

	fmt.Fprint(os.Stderr, "Wallet secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return errors.Wrap(err, "failed to read secret")
	}

	cfg.Secret = strings.TrimSpace(string(raw))
	if cfg.Secret == "" {
		return ErrNoSecret
	}

	return nil
}
