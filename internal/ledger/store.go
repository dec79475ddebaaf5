package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/util"
	dbutil "github/chapool/tiered-custody/internal/util/db"
)

const (
	walletColumns     = "id, address, frozen, encrypted_key, balance, created_at"
	withdrawalColumns = "id, wallet_id, amount, to_address, status, tx_hash, created_at, processed_at"
)

// Store is the postgres backed ledger of deposit wallets, withdrawal requests and credited deposits.
type Store struct {
	db *sql.DB
}

// New returns a Store over db. Migrations must already be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "failed to ping ledger database")
}

// GetWallet returns ErrWalletNotFound for unknown ids.
func (s *Store) GetWallet(ctx context.Context, id int64) (*Wallet, error) {
	return getWallet(ctx, s.db, "SELECT "+walletColumns+" FROM wallets WHERE id = $1", id)
}

// GetWalletByAddress looks up a deposit wallet. Addresses are stored lower-cased.
func (s *Store) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	return getWallet(ctx, s.db, "SELECT "+walletColumns+" FROM wallets WHERE address = $1", strings.ToLower(address))
}

func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	var wallets []*Wallet
	if err := queries.Raw("SELECT "+walletColumns+" FROM wallets ORDER BY id").Bind(ctx, s.db, &wallets); err != nil {
		return nil, errors.Wrap(err, "failed to list wallets")
	}

	return wallets, nil
}

// SetFrozen blocks or allows new withdrawals and sweeps for a wallet.
func (s *Store) SetFrozen(ctx context.Context, id int64, frozen bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE wallets SET frozen = $1 WHERE id = $2", frozen, id)
	if err != nil {
		return errors.Wrapf(err, "failed to update frozen flag of wallet %d", id)
	}

	return expectAffected(res, errors.Wrapf(ErrWalletNotFound, "wallet %d", id))
}

func (s *Store) AddToBalance(ctx context.Context, id int64, amount decimal.Decimal) error {
	return addToBalance(ctx, s.db, id, amount)
}

func (s *Store) SubtractFromBalance(ctx context.Context, id int64, amount decimal.Decimal) error {
	return addToBalance(ctx, s.db, id, amount.Neg())
}

// AvailableBalance is the ledger balance minus every withdrawal still pending or processing.
func (s *Store) AvailableBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	w, err := s.GetWallet(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}

	reserved, err := reservedAmount(ctx, s.db, &id, walletReserving...)
	if err != nil {
		return decimal.Zero, err
	}

	return w.Balance.Sub(reserved), nil
}

// TotalBalance sums the ledger balances of all deposit wallets.
func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := s.db.QueryRowContext(ctx, "SELECT SUM(balance) FROM wallets").Scan(&total); err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum wallet balances")
	}

	if !total.Valid {
		return decimal.Zero, nil
	}

	return total.Decimal, nil
}

// ReservedTotal sums the amounts of all processing withdrawals across wallets.
// Pending rows wait for replenishment and do not claim hot wallet funds yet.
func (s *Store) ReservedTotal(ctx context.Context) (decimal.Decimal, error) {
	return reservedAmount(ctx, s.db, nil, StatusProcessing)
}

// CreateWithdrawal queues a withdrawal after checking it against the wallet's available balance.
// The wallet row stays locked for the duration of the check so concurrent requests serialize.
func (s *Store) CreateWithdrawal(ctx context.Context, walletID int64, amount decimal.Decimal, toAddress string, status Status) (*Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidAmount, "%s is not positive", amount)
	}

	if status != StatusPending && status != StatusProcessing {
		return nil, errors.Wrapf(ErrInvalidTransition, "cannot create withdrawal in status %s", status)
	}

	var res Withdrawal
	err := dbutil.WithTransaction(ctx, s.db, func(tx boil.ContextExecutor) error {
		wallet, err := getWallet(ctx, tx, "SELECT "+walletColumns+" FROM wallets WHERE id = $1 FOR UPDATE", walletID)
		if err != nil {
			return err
		}

		if wallet.Frozen {
			return errors.Wrapf(ErrWalletFrozen, "wallet %d", walletID)
		}

		reserved, err := reservedAmount(ctx, tx, &walletID, walletReserving...)
		if err != nil {
			return err
		}

		available := wallet.Balance.Sub(reserved)
		if amount.GreaterThan(available) {
			return errors.Wrapf(ErrInsufficientBalance, "wallet %d: requested %s, available %s", walletID, amount, available)
		}

		err = queries.Raw(
			"INSERT INTO withdrawal_queue (wallet_id, amount, to_address, status) VALUES ($1, $2, $3, $4) RETURNING "+withdrawalColumns,
			walletID, amount.String(), toAddress, string(status),
		).Bind(ctx, tx, &res)

		return errors.Wrap(err, "failed to insert withdrawal")
	})
	if err != nil {
		return nil, err
	}

	util.LogFromContext(ctx).Info().
		Int64("withdrawal_id", res.ID).
		Int64("wallet_id", walletID).
		Str("amount", res.Amount).
		Str("status", string(res.Status)).
		Msg("Ledger: withdrawal queued")

	return &res, nil
}

// GetWithdrawal returns ErrWithdrawalNotFound for unknown ids.
func (s *Store) GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error) {
	var w Withdrawal

	err := queries.Raw("SELECT "+withdrawalColumns+" FROM withdrawal_queue WHERE id = $1", id).Bind(ctx, s.db, &w)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrWithdrawalNotFound, "withdrawal %d", id)
		}
		return nil, errors.Wrapf(err, "failed to load withdrawal %d", id)
	}

	return &w, nil
}

// ListWithdrawalsByStatus returns requests in status ordered by id. A limit <= 0 returns all of them.
func (s *Store) ListWithdrawalsByStatus(ctx context.Context, status Status, limit int) ([]*Withdrawal, error) {
	return s.listWithdrawals(ctx, "status = $1", limit, string(status))
}

// ListExecutableWithdrawals returns processing requests that were never broadcast.
func (s *Store) ListExecutableWithdrawals(ctx context.Context, limit int) ([]*Withdrawal, error) {
	return s.listWithdrawals(ctx, "status = $1 AND tx_hash IS NULL", limit, string(StatusProcessing))
}

// ListInFlightWithdrawals returns processing requests that were broadcast but never resolved.
func (s *Store) ListInFlightWithdrawals(ctx context.Context) ([]*Withdrawal, error) {
	return s.listWithdrawals(ctx, "status = $1 AND tx_hash IS NOT NULL", 0, string(StatusProcessing))
}

func (s *Store) ListWithdrawalsByWallet(ctx context.Context, walletID int64) ([]*Withdrawal, error) {
	return s.listWithdrawals(ctx, "wallet_id = $1", 0, walletID)
}

func (s *Store) listWithdrawals(ctx context.Context, where string, limit int, args ...interface{}) ([]*Withdrawal, error) {
	query := "SELECT " + withdrawalColumns + " FROM withdrawal_queue WHERE " + where + " ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var res []*Withdrawal
	if err := queries.Raw(query, args...).Bind(ctx, s.db, &res); err != nil {
		return nil, errors.Wrap(err, "failed to list withdrawals")
	}

	return res, nil
}

// TransitionWithdrawal moves a request to next if its current status allows it.
func (s *Store) TransitionWithdrawal(ctx context.Context, id int64, next Status) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE withdrawal_queue SET status = $1 WHERE id = $2 AND status = ANY($3)",
		string(next), id, pq.Array(sourcesOf(next)),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to move withdrawal %d to %s", id, next)
	}

	return expectAffected(res, errors.Wrapf(ErrInvalidTransition, "withdrawal %d to %s", id, next))
}

// AttachTxHash records the broadcast transaction of a processing request.
func (s *Store) AttachTxHash(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE withdrawal_queue SET tx_hash = $1 WHERE id = $2 AND status = $3 AND tx_hash IS NULL",
		hash, id, string(StatusProcessing),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to attach tx hash to withdrawal %d", id)
	}

	return expectAffected(res, errors.Wrapf(ErrInvalidTransition, "withdrawal %d already broadcast or not processing", id))
}

// CompleteWithdrawal marks a processing request processed and debits its wallet in one transaction.
func (s *Store) CompleteWithdrawal(ctx context.Context, id int64, processedAt time.Time) (*Withdrawal, error) {
	var w Withdrawal

	err := dbutil.WithTransaction(ctx, s.db, func(tx boil.ContextExecutor) error {
		err := queries.Raw(
			"UPDATE withdrawal_queue SET status = $1, processed_at = $2 WHERE id = $3 AND status = $4 RETURNING "+withdrawalColumns,
			string(StatusProcessed), processedAt, id, string(StatusProcessing),
		).Bind(ctx, tx, &w)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(ErrInvalidTransition, "withdrawal %d is not processing", id)
			}
			return errors.Wrapf(err, "failed to mark withdrawal %d processed", id)
		}

		if !w.WalletID.Valid {
			return nil
		}

		amount, err := w.AmountDecimal()
		if err != nil {
			return err
		}

		return addToBalance(ctx, tx, w.WalletID.Int64, amount.Neg())
	})
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// FailWithdrawal marks a processing request failed. The ledger balance is left untouched.
func (s *Store) FailWithdrawal(ctx context.Context, id int64) error {
	return s.TransitionWithdrawal(ctx, id, StatusFailed)
}

// RecordDeposit credits a transfer log exactly once. It reports false when the log was already credited.
func (s *Store) RecordDeposit(ctx context.Context, event DepositEvent) (bool, error) {
	credited := false

	err := dbutil.WithTransaction(ctx, s.db, func(tx boil.ContextExecutor) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO deposit_events (tx_hash, log_index, wallet_id, amount, block_number)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (tx_hash, log_index) DO NOTHING`,
			strings.ToLower(event.TxHash), int64(event.LogIndex), event.WalletID, event.Amount, int64(event.BlockNumber),
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert deposit event")
		}

		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read affected rows")
		}
		if n == 0 {
			return nil
		}

		credited = true

		return addToBalance(ctx, tx, event.WalletID, event.Amount)
	})
	if err != nil {
		return false, err
	}

	return credited, nil
}

// LastDepositBlock returns the highest block a deposit was credited from.
func (s *Store) LastDepositBlock(ctx context.Context) (uint64, bool, error) {
	var block null.Int64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(block_number) FROM deposit_events").Scan(&block); err != nil {
		return 0, false, errors.Wrap(err, "failed to load last deposit block")
	}

	if !block.Valid || block.Int64 < 0 {
		return 0, false, nil
	}

	return uint64(block.Int64), true, nil
}

func getWallet(ctx context.Context, exec boil.ContextExecutor, query string, arg interface{}) (*Wallet, error) {
	var w Wallet

	if err := queries.Raw(query, arg).Bind(ctx, exec, &w); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrWalletNotFound, "wallet %v", arg)
		}
		return nil, errors.Wrapf(err, "failed to load wallet %v", arg)
	}

	return &w, nil
}

func addToBalance(ctx context.Context, exec boil.ContextExecutor, id int64, delta decimal.Decimal) error {
	res, err := exec.ExecContext(ctx, "UPDATE wallets SET balance = balance + $1 WHERE id = $2", delta, id)
	if err != nil {
		return errors.Wrapf(err, "failed to update balance of wallet %d", id)
	}

	return expectAffected(res, errors.Wrapf(ErrWalletNotFound, "wallet %d", id))
}

// walletReserving are the statuses whose amounts no longer count as available to the wallet.
var walletReserving = []Status{StatusPending, StatusProcessing}

func reservedAmount(ctx context.Context, exec boil.ContextExecutor, walletID *int64, statuses ...Status) (decimal.Decimal, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}

	query := "SELECT amount FROM withdrawal_queue WHERE status = ANY($1)"
	args := []interface{}{pq.Array(names)}
	if walletID != nil {
		query += " AND wallet_id = $2"
		args = append(args, *walletID)
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to load reserved withdrawals")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, errors.Wrap(err, "failed to scan withdrawal amount")
		}

		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "reserved withdrawal amount %q", raw)
		}

		total = total.Add(amount)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to iterate reserved withdrawals")
	}

	return total, nil
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}

	if n == 0 {
		return notFound
	}

	return nil
}
