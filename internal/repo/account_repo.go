package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/otpgate/server/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

const accountColumns = `id, phone, password_hash, refresh_token, login_error_count, status, role, created_at, updated_at`

// AccountRepo defines account CRUD. Implementations must treat each call as
// a single atomic row operation.
type AccountRepo interface {
	FindByID(ctx context.Context, id int64) (model.Account, error)
	FindByPhone(ctx context.Context, phone string) (model.Account, error)
	Create(ctx context.Context, phone, passwordHash string) (model.Account, error)
	UpdateRefreshToken(ctx context.Context, id int64, token string) error
	RecordLoginSuccess(ctx context.Context, id int64, refreshToken string) error
	RecordLoginFailure(ctx context.Context, id int64, errorCount int) error
	Freeze(ctx context.Context, id int64, errorCount int) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	List(ctx context.Context, limit int) ([]model.Account, error)
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates an AccountRepo backed by Postgres.
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

func scanAccount(row *sql.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Phone,
		&a.PasswordHash,
		&a.RefreshToken,
		&a.LoginErrorCount,
		&a.Status,
		&a.Role,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

func (r *accountRepo) FindByID(ctx context.Context, id int64) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *accountRepo) FindByPhone(ctx context.Context, phone string) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
	return scanAccount(row)
}

// Create inserts a new account. The unique phone index is the backstop
// against two concurrent registrations for the same number.
func (r *accountRepo) Create(ctx context.Context, phone, passwordHash string) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (phone, password_hash)
		VALUES ($1, $2)
		RETURNING `+accountColumns,
		phone, passwordHash)
	a, err := scanAccount(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.Account{}, ErrDuplicate
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (r *accountRepo) UpdateRefreshToken(ctx context.Context, id int64, token string) error {
	return r.exec(ctx, `
		UPDATE accounts SET refresh_token = $2, updated_at = now() WHERE id = $1
	`, id, token)
}

func (r *accountRepo) RecordLoginSuccess(ctx context.Context, id int64, refreshToken string) error {
	return r.exec(ctx, `
		UPDATE accounts SET refresh_token = $2, login_error_count = 0, updated_at = now() WHERE id = $1
	`, id, refreshToken)
}

func (r *accountRepo) RecordLoginFailure(ctx context.Context, id int64, errorCount int) error {
	return r.exec(ctx, `
		UPDATE accounts SET login_error_count = $2, updated_at = now() WHERE id = $1
	`, id, errorCount)
}

func (r *accountRepo) Freeze(ctx context.Context, id int64, errorCount int) error {
	return r.exec(ctx, `
		UPDATE accounts SET status = 'FROZEN', login_error_count = $2, updated_at = now() WHERE id = $1
	`, id, errorCount)
}

func (r *accountRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
}

func (r *accountRepo) List(ctx context.Context, limit int) ([]model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts ORDER BY id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(
			&a.ID, &a.Phone, &a.PasswordHash, &a.RefreshToken,
			&a.LoginErrorCount, &a.Status, &a.Role, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *accountRepo) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
