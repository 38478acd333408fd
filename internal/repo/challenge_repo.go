package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/otpgate/server/internal/model"
)

const challengeColumns = `id, phone, otp_hash, remember_token, verify_token, request_count, error_count, created_at, updated_at`

// ChallengeRepo defines CRUD for OTP challenge rows. Upsert must be atomic
// per phone key; the unique phone index serializes concurrent first
// registrations for the same number.
type ChallengeRepo interface {
	FindByPhone(ctx context.Context, phone string) (model.OtpChallenge, error)
	// Upsert writes a fresh OTP cycle for the phone: new hash and remember
	// token, cleared verify token, and the caller-computed counters.
	Upsert(ctx context.Context, phone, otpHash, rememberToken string, requestCount, errorCount int) (model.OtpChallenge, error)
	// MarkVerified stores the verify token and resets the counters.
	MarkVerified(ctx context.Context, id int64, verifyToken string) error
	// MarkConsumed clears the verify token so the challenge cannot authorize
	// a second account creation.
	MarkConsumed(ctx context.Context, id int64) error
	// RecordFailure stores the caller-computed same-day error count.
	RecordFailure(ctx context.Context, id int64, errorCount int) error
	// Lockout forces the error count to the lockout threshold, blocking all
	// further verify/consume attempts for the rest of the day.
	Lockout(ctx context.Context, id int64) error
}

type challengeRepo struct {
	db *sql.DB
}

// NewChallengeRepo creates a ChallengeRepo backed by Postgres.
func NewChallengeRepo(db *sql.DB) ChallengeRepo {
	return &challengeRepo{db: db}
}

func scanChallenge(row *sql.Row) (model.OtpChallenge, error) {
	var c model.OtpChallenge
	var verifyToken sql.NullString
	err := row.Scan(
		&c.ID,
		&c.Phone,
		&c.OtpHash,
		&c.RememberToken,
		&verifyToken,
		&c.RequestCount,
		&c.ErrorCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpChallenge{}, ErrNotFound
		}
		return model.OtpChallenge{}, fmt.Errorf("scan challenge: %w", err)
	}
	if verifyToken.Valid {
		c.VerifyToken = &verifyToken.String
	}
	return c, nil
}

func (r *challengeRepo) FindByPhone(ctx context.Context, phone string) (model.OtpChallenge, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM otp_challenges WHERE phone = $1`, phone)
	return scanChallenge(row)
}

func (r *challengeRepo) Upsert(ctx context.Context, phone, otpHash, rememberToken string, requestCount, errorCount int) (model.OtpChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_challenges (phone, otp_hash, remember_token, request_count, error_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (phone) DO UPDATE SET
			otp_hash = EXCLUDED.otp_hash,
			remember_token = EXCLUDED.remember_token,
			verify_token = NULL,
			request_count = EXCLUDED.request_count,
			error_count = EXCLUDED.error_count,
			updated_at = now()
		RETURNING `+challengeColumns,
		phone, otpHash, rememberToken, requestCount, errorCount)
	c, err := scanChallenge(row)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("upsert challenge: %w", err)
	}
	return c, nil
}

func (r *challengeRepo) MarkVerified(ctx context.Context, id int64, verifyToken string) error {
	return r.exec(ctx, `
		UPDATE otp_challenges
		SET verify_token = $2, error_count = 0, request_count = 1, updated_at = now()
		WHERE id = $1
	`, id, verifyToken)
}

func (r *challengeRepo) MarkConsumed(ctx context.Context, id int64) error {
	return r.exec(ctx, `
		UPDATE otp_challenges SET verify_token = NULL, updated_at = now() WHERE id = $1
	`, id)
}

func (r *challengeRepo) RecordFailure(ctx context.Context, id int64, errorCount int) error {
	return r.exec(ctx, `
		UPDATE otp_challenges SET error_count = $2, updated_at = now() WHERE id = $1
	`, id, errorCount)
}

func (r *challengeRepo) Lockout(ctx context.Context, id int64) error {
	return r.exec(ctx, `
		UPDATE otp_challenges SET error_count = 5, updated_at = now() WHERE id = $1
	`, id)
}

func (r *challengeRepo) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
