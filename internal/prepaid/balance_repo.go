package prepaid

import (
	"context"
	"database/sql"
	"time"

	"github.com/offsetpool/offsetpool/internal/model"
)

// BalanceRepo moves prepaid funds. Every movement is one database
// transaction updating the balance and appending a transactions row, so the
// trail always explains the balance.
type BalanceRepo struct {
	db *sql.DB
}

// NewBalanceRepo returns a BalanceRepo bound to the given database.
func NewBalanceRepo(db *sql.DB) *BalanceRepo { return &BalanceRepo{db: db} }

// BalanceCents returns the current balance for a user.
func (r *BalanceRepo) BalanceCents(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM users WHERE id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return balance, err
}

// Credit adds a checkout topup to a user's balance.
func (r *BalanceRepo) Credit(ctx context.Context, userID uint64, amountCents int64, stripeSessionID, description string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET balance_cents = balance_cents + ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		amountCents, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, amount_cents, description, stripe_session_id)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, model.TxnTopup, amountCents, description, stripeSessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// DebitForRetirement takes amountCents off a user's balance and records the
// on-chain context. The conditional UPDATE succeeds only when the pre-image
// balance covers the debit; zero affected rows means insufficient funds and
// nothing is written.
func (r *BalanceRepo) DebitForRetirement(ctx context.Context, userID uint64, amountCents int64, txHash, creditClass, creditsRetired string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance_cents = balance_cents - ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND balance_cents >= ?`,
		amountCents, userID, amountCents)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrInsufficientBalance
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, amount_cents, description, retirement_tx_hash, credit_class, credits_retired)
		 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		userID, model.TxnRetirement, -amountCents, "on-chain credit retirement",
		txHash, creditClass, creditsRetired); err != nil {
		return 0, err
	}
	var remaining int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance_cents FROM users WHERE id = ?`, userID).Scan(&remaining); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

// ListTransactions returns a user's balance history, newest first.
func (r *BalanceRepo) ListTransactions(ctx context.Context, userID uint64, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount_cents, description,
		        stripe_session_id, retirement_tx_hash, credit_class, credits_retired, created_at
		 FROM transactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var sess, hash, class, retired sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.AmountCents, &t.Description,
			&sess, &hash, &class, &retired, &t.CreatedAt); err != nil {
			return nil, err
		}
		if sess.Valid {
			t.StripeSessionID = &sess.String
		}
		if hash.Valid {
			t.RetirementTxHash = &hash.String
		}
		if class.Valid {
			t.CreditClass = &class.String
		}
		if retired.Valid {
			t.CreditsRetired = &retired.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordUsage appends one API request to the usage table for billing.
// Failures are the caller's to ignore; usage is best-effort.
func (r *BalanceRepo) RecordUsage(ctx context.Context, userID uint64, route string, status int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_usage (user_id, route, status, created_at) VALUES (?, ?, ?, ?)`,
		userID, route, status, time.Now().UTC())
	return err
}
