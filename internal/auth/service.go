package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/otpgate/server/internal/apperr"
	"github.com/otpgate/server/internal/model"
	"github.com/otpgate/server/internal/repo"
	"github.com/otpgate/server/internal/secret"
)

const maxLoginFailures = 3

// AuthService orchestrates the registration and session flows: it composes
// the OTP challenge engine and the token manager over the account store.
type AuthService struct {
	engine   *ChallengeEngine
	tokens   *TokenManager
	accounts repo.AccountRepo
	now      func() time.Time
}

// NewAuthService creates an AuthService. now is the injectable clock.
func NewAuthService(engine *ChallengeEngine, tokens *TokenManager, accounts repo.AccountRepo, now func() time.Time) *AuthService {
	return &AuthService{
		engine:   engine,
		tokens:   tokens,
		accounts: accounts,
		now:      now,
	}
}

// Tokens exposes the token manager for cookie lifetime wiring.
func (s *AuthService) Tokens() *TokenManager { return s.tokens }

// Register starts an OTP cycle for the phone. The returned OTP is for
// delivery only (or dev-mode exposure); the challenge carries the remember
// token the client must present at verification.
func (s *AuthService) Register(ctx context.Context, phone string) (model.OtpChallenge, string, error) {
	return s.engine.Request(ctx, phone)
}

// VerifyOtp checks the OTP and remember token; on success it returns the
// verify token authorizing account creation.
func (s *AuthService) VerifyOtp(ctx context.Context, phone, otp, rememberToken string) (string, error) {
	return s.engine.Verify(ctx, phone, otp, rememberToken)
}

// ConfirmAccount consumes a verified challenge, creates the account with the
// supplied password, and issues the initial token pair. This is the only
// path by which an account comes into existence.
func (s *AuthService) ConfirmAccount(ctx context.Context, phone, password, verifyToken string) (model.Account, TokenPair, error) {
	challenge, err := s.engine.Consume(ctx, phone, verifyToken)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}

	passwordHash, err := secret.Hash(password)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}

	account, err := s.accounts.Create(ctx, phone, passwordHash)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost a race with a concurrent registration for the same phone.
			return model.Account{}, TokenPair{}, apperr.UserExists()
		}
		return model.Account{}, TokenPair{}, fmt.Errorf("create account: %w", err)
	}

	if err := s.engine.Exhaust(ctx, challenge.ID); err != nil {
		return model.Account{}, TokenPair{}, err
	}

	return s.openSession(ctx, account)
}

// Login authenticates by password. Same-day failures accumulate; reaching
// the limit freezes the account, and the counter keeps climbing past the
// freeze so the event is visible in the row.
func (s *AuthService) Login(ctx context.Context, phone, password string) (model.Account, TokenPair, error) {
	account, err := s.accounts.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, TokenPair{}, apperr.UserNotFound()
		}
		return model.Account{}, TokenPair{}, fmt.Errorf("find account: %w", err)
	}

	if account.Status == model.StatusFrozen {
		return model.Account{}, TokenPair{}, apperr.UserFreeze()
	}

	if !secret.Verify(password, account.PasswordHash) {
		errorCount := 1
		if sameDay(account.UpdatedAt, s.now()) {
			errorCount = account.LoginErrorCount + 1
		}
		if errorCount >= maxLoginFailures {
			if err := s.accounts.Freeze(ctx, account.ID, errorCount+1); err != nil {
				return model.Account{}, TokenPair{}, err
			}
			return model.Account{}, TokenPair{}, apperr.OverLimit(http.StatusForbidden, "too many failed attempts")
		}
		if err := s.accounts.RecordLoginFailure(ctx, account.ID, errorCount); err != nil {
			return model.Account{}, TokenPair{}, err
		}
		return model.Account{}, TokenPair{}, apperr.InvalidPassword()
	}

	pair, err := s.tokens.IssuePair(account.ID, account.Phone)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}
	if err := s.accounts.RecordLoginSuccess(ctx, account.ID, pair.Refresh); err != nil {
		return model.Account{}, TokenPair{}, err
	}
	account.RefreshToken = pair.Refresh
	account.LoginErrorCount = 0
	return account, pair, nil
}

// RefreshSession is the silent-rotation step behind every protected request
// whose access token has expired. The presented refresh token must verify
// and exactly match the account's stored anchor; on success a new pair is
// minted and the anchor replaced, invalidating the presented token.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string) (model.Account, TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return model.Account{}, TokenPair{}, apperr.Unauthorized("invalid or expired refresh token")
	}
	account, err := s.loadClaimedAccount(ctx, claims)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}
	if !tokenEqual(account.RefreshToken, refreshToken) {
		// Stale or rotated-away token.
		return model.Account{}, TokenPair{}, apperr.Unauthorized("invalid or expired refresh token")
	}

	pair, err := s.tokens.IssuePair(account.ID, account.Phone)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}
	if err := s.accounts.UpdateRefreshToken(ctx, account.ID, pair.Refresh); err != nil {
		return model.Account{}, TokenPair{}, err
	}
	account.RefreshToken = pair.Refresh
	return account, pair, nil
}

// Logout invalidates the session anchor by overwriting it with a fresh
// unlinked opaque value; the presented refresh token can never match again.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return apperr.Unauthorized("invalid or expired token")
	}
	account, err := s.loadClaimedAccount(ctx, claims)
	if err != nil {
		return err
	}

	poison, err := secret.GenerateToken()
	if err != nil {
		return err
	}
	return s.accounts.UpdateRefreshToken(ctx, account.ID, poison)
}

// ChangePassword re-verifies the old password before accepting a new hash.
// The caller has already authenticated the access token.
func (s *AuthService) ChangePassword(ctx context.Context, accountID int64, oldPassword, newPassword string) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.UserNotFound()
		}
		return fmt.Errorf("find account: %w", err)
	}

	if !secret.Verify(oldPassword, account.PasswordHash) {
		return apperr.InvalidPassword()
	}

	passwordHash, err := secret.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.accounts.UpdatePassword(ctx, account.ID, passwordHash)
}

// Account loads an account by id for protected read endpoints.
func (s *AuthService) Account(ctx context.Context, accountID int64) (model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.UserNotFound()
		}
		return model.Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *AuthService) openSession(ctx context.Context, account model.Account) (model.Account, TokenPair, error) {
	pair, err := s.tokens.IssuePair(account.ID, account.Phone)
	if err != nil {
		return model.Account{}, TokenPair{}, err
	}
	if err := s.accounts.UpdateRefreshToken(ctx, account.ID, pair.Refresh); err != nil {
		return model.Account{}, TokenPair{}, err
	}
	account.RefreshToken = pair.Refresh
	return account, pair, nil
}

func (s *AuthService) loadClaimedAccount(ctx context.Context, claims *Claims) (model.Account, error) {
	id, err := claims.AccountID()
	if err != nil {
		return model.Account{}, apperr.Unauthorized("invalid token payload")
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.Unauthorized("invalid token")
		}
		return model.Account{}, fmt.Errorf("find account: %w", err)
	}
	if account.Phone != claims.Phone {
		return model.Account{}, apperr.Unauthorized("invalid token")
	}
	return account, nil
}
