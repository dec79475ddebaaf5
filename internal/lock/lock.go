// Package lock provides per-tier and per-request mutual exclusion so that at most one
// transfer is in flight for any tier, deposit wallet or withdrawal.
package lock

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/wallet/tier"
)

var ErrLocked = errors.New("lock is held")

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	// TryLock never waits: acquired is false while someone else holds key.
	// release is nil unless acquired.
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// Do runs fn while holding key. It returns ErrLocked without running fn if key is held.
func Do(ctx context.Context, locker Locker, key string, fn func(ctx context.Context) error) error {
	release, acquired, err := locker.TryLock(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "failed to acquire lock %s", key)
	}

	if !acquired {
		return errors.Wrap(ErrLocked, key)
	}
	defer release()

	return fn(ctx)
}

// TierKey guards transfers out of a system tier.
func TierKey(t tier.Type) string {
	return "tier:" + t.String()
}

func DepositKey(walletID int64) string {
	return "deposit:" + strconv.FormatInt(walletID, 10)
}

func GasKey(address string) string {
	return "gas:" + strings.ToLower(address)
}

func WithdrawalKey(id int64) string {
	return "withdrawal:" + strconv.FormatInt(id, 10)
}
