package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/otpgate/server/internal/apperr"
	"github.com/otpgate/server/internal/model"
	"github.com/otpgate/server/internal/repo"
	"github.com/otpgate/server/internal/secret"
)

const (
	maxDailyRequests = 3
	maxErrorCount    = 5
	verifyWindow     = 2 * time.Minute
	consumeWindow    = 8 * time.Minute
)

// ChallengeEngine owns the per-phone registration OTP state machine:
// issuance with a daily quota, verification with attempt lockout, and the
// consume step that authorizes account creation. All quota and expiry checks
// are derived lazily from the row's updated_at against the injected clock;
// no background scheduler is involved.
type ChallengeEngine struct {
	accounts   repo.AccountRepo
	challenges repo.ChallengeRepo
	now        func() time.Time
}

// NewChallengeEngine creates a ChallengeEngine. now is the injectable clock.
func NewChallengeEngine(accounts repo.AccountRepo, challenges repo.ChallengeRepo, now func() time.Time) *ChallengeEngine {
	return &ChallengeEngine{
		accounts:   accounts,
		challenges: challenges,
		now:        now,
	}
}

// Request starts or restarts an OTP cycle for the phone. It returns the
// updated challenge and the plaintext OTP for delivery; the OTP is never
// stored, only its hash.
func (e *ChallengeEngine) Request(ctx context.Context, phone string) (model.OtpChallenge, string, error) {
	if err := e.ensureUnregistered(ctx, phone); err != nil {
		return model.OtpChallenge{}, "", err
	}

	otp, err := secret.GenerateOtp()
	if err != nil {
		return model.OtpChallenge{}, "", err
	}
	remember, err := secret.GenerateToken()
	if err != nil {
		return model.OtpChallenge{}, "", err
	}
	otpHash, err := secret.Hash(otp)
	if err != nil {
		return model.OtpChallenge{}, "", err
	}

	requestCount, errorCount := 1, 0
	existing, err := e.challenges.FindByPhone(ctx, phone)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// First cycle for this phone.
	case err != nil:
		return model.OtpChallenge{}, "", fmt.Errorf("find challenge: %w", err)
	case sameDay(existing.UpdatedAt, e.now()):
		if existing.RequestCount >= maxDailyRequests {
			return model.OtpChallenge{}, "", apperr.OverLimit(http.StatusMethodNotAllowed, "OTP is allowed to request 3 times per day")
		}
		requestCount = existing.RequestCount + 1
		errorCount = existing.ErrorCount
	default:
		// Day rolled over: counters reset, stale verify state discarded.
	}

	challenge, err := e.challenges.Upsert(ctx, phone, otpHash, remember, requestCount, errorCount)
	if err != nil {
		return model.OtpChallenge{}, "", err
	}
	return challenge, otp, nil
}

// Verify checks the presented OTP against the active challenge. A wrong
// remember token is treated as a flow hijack and locks the challenge out for
// the rest of the day. On success a fresh verify token is issued.
func (e *ChallengeEngine) Verify(ctx context.Context, phone, otp, rememberToken string) (string, error) {
	if err := e.ensureUnregistered(ctx, phone); err != nil {
		return "", err
	}

	challenge, err := e.challenges.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", apperr.OtpNotFound()
		}
		return "", fmt.Errorf("find challenge: %w", err)
	}

	if challenge.Verified() {
		return "", apperr.AlreadyVerified()
	}

	now := e.now()
	same := sameDay(challenge.UpdatedAt, now)
	if same && challenge.ErrorCount >= maxErrorCount {
		return "", apperr.OverLimit(http.StatusForbidden, "too many failed attempts")
	}

	if !tokenEqual(rememberToken, challenge.RememberToken) {
		if err := e.challenges.Lockout(ctx, challenge.ID); err != nil {
			return "", err
		}
		return "", apperr.InvalidToken()
	}

	if now.Sub(challenge.UpdatedAt) > verifyWindow {
		return "", apperr.OtpExpired()
	}

	if !secret.Verify(otp, challenge.OtpHash) {
		errorCount := 1
		if same {
			errorCount = challenge.ErrorCount + 1
		}
		if err := e.challenges.RecordFailure(ctx, challenge.ID, errorCount); err != nil {
			return "", err
		}
		return "", apperr.InvalidOtp()
	}

	verifyToken, err := secret.GenerateToken()
	if err != nil {
		return "", err
	}
	if err := e.challenges.MarkVerified(ctx, challenge.ID, verifyToken); err != nil {
		return "", err
	}
	return verifyToken, nil
}

// Consume validates the verify token and freshness window that authorize
// account creation. It does not mutate the challenge; the caller exhausts it
// with Exhaust once the account exists.
func (e *ChallengeEngine) Consume(ctx context.Context, phone, verifyToken string) (model.OtpChallenge, error) {
	if err := e.ensureUnregistered(ctx, phone); err != nil {
		return model.OtpChallenge{}, err
	}

	challenge, err := e.challenges.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.OtpChallenge{}, apperr.OtpNotFound()
		}
		return model.OtpChallenge{}, fmt.Errorf("find challenge: %w", err)
	}

	if challenge.ErrorCount >= maxErrorCount {
		return model.OtpChallenge{}, apperr.OverLimit(http.StatusForbidden, "too many failed attempts")
	}

	if !challenge.Verified() || !tokenEqual(verifyToken, *challenge.VerifyToken) {
		if err := e.challenges.Lockout(ctx, challenge.ID); err != nil {
			return model.OtpChallenge{}, err
		}
		return model.OtpChallenge{}, apperr.InvalidToken()
	}

	if e.now().Sub(challenge.UpdatedAt) > consumeWindow {
		return model.OtpChallenge{}, apperr.OtpExpired()
	}

	return challenge, nil
}

// Exhaust clears the verify token so the challenge cannot authorize a second
// account creation without a fresh OTP cycle.
func (e *ChallengeEngine) Exhaust(ctx context.Context, challengeID int64) error {
	return e.challenges.MarkConsumed(ctx, challengeID)
}

func (e *ChallengeEngine) ensureUnregistered(ctx context.Context, phone string) error {
	_, err := e.accounts.FindByPhone(ctx, phone)
	if err == nil {
		return apperr.UserExists()
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("find account: %w", err)
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
