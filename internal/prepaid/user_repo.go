package prepaid

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// UserRepo provides data access to the users table. All timestamps are
// stored in UTC.
type UserRepo struct {
	db         *sql.DB
	bcryptCost int
}

// NewUserRepo returns a UserRepo bound to the given database.
func NewUserRepo(db *sql.DB, bcryptCost int) *UserRepo {
	return &UserRepo{db: db, bcryptCost: bcryptCost}
}

const userColumns = `id, email, api_key_prefix, api_key_hash, balance_cents,
	COALESCE(stripe_customer_id, ''), created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.APIKeyPrefix, &u.APIKeyHash, &u.BalanceCents,
		&u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Create inserts a new user and returns the record together with the raw
// API key. The raw key is never persisted; callers must hand it to the user
// immediately.
func (r *UserRepo) Create(ctx context.Context, email, stripeCustomerID string) (model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	rawKey, prefix, err := utils.NewAPIKey()
	if err != nil {
		return model.User{}, "", err
	}
	hash, err := utils.HashAPIKey(rawKey, r.bcryptCost)
	if err != nil {
		return model.User{}, "", err
	}
	const q = `INSERT INTO users (email, api_key_prefix, api_key_hash, balance_cents, stripe_customer_id)
		VALUES (?, ?, ?, 0, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, q, email, prefix, hash, stripeCustomerID)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return model.User{}, "", ErrEmailExists
		}
		return model.User{}, "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, "", err
	}
	u, err := r.GetByID(ctx, uint64(id))
	return u, rawKey, err
}

// GetByID returns a user by primary key.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// GetByEmail returns a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// GetOrCreateByEmail finds a user by email or creates one. Used by the
// webhook receiver, so creation also stores the gateway customer id. The
// returned key is non-empty only for freshly created users.
func (r *UserRepo) GetOrCreateByEmail(ctx context.Context, email, stripeCustomerID string) (model.User, string, error) {
	u, err := r.GetByEmail(ctx, email)
	if err == nil {
		return u, "", nil
	}
	if err != ErrNotFound {
		return model.User{}, "", err
	}
	u, rawKey, err := r.Create(ctx, email, stripeCustomerID)
	if err == ErrEmailExists {
		// Lost a race with a concurrent webhook delivery.
		u, err = r.GetByEmail(ctx, email)
		return u, "", err
	}
	return u, rawKey, err
}

// GetByAPIKey resolves a presented API key to a user. The prefix narrows
// the candidate rows; bcrypt settles the match.
func (r *UserRepo) GetByAPIKey(ctx context.Context, rawKey string) (model.User, error) {
	prefix := utils.APIKeyPrefix(rawKey)
	if prefix == "" {
		return model.User{}, ErrNotFound
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE api_key_prefix = ?`, prefix)
	if err != nil {
		return model.User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return model.User{}, err
		}
		if utils.VerifyAPIKey(u.APIKeyHash, rawKey) {
			return u, nil
		}
	}
	if err := rows.Err(); err != nil {
		return model.User{}, err
	}
	return model.User{}, ErrNotFound
}
