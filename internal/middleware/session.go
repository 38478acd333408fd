package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/otpgate/server/internal/apperr"
	"github.com/otpgate/server/internal/auth"
)

// Cookie names for the token pair. Both tokens always travel together.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// Session is the per-request session gate. A valid access token is accepted
// as-is; an access token that failed only by expiry falls through to the
// refresh path, which verifies the refresh token against the account's
// stored anchor and silently rotates the pair onto the response. Any other
// access-token failure is a hard rejection.
func Session(svc *auth.AuthService, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			refreshToken := cookieValue(r, RefreshCookie)
			if refreshToken == "" {
				writeError(w, apperr.Unauthorized("you are not authenticated"))
				return
			}

			if accessToken := cookieValue(r, AccessCookie); accessToken != "" {
				claims, err := svc.Tokens().VerifyAccess(accessToken)
				if err == nil {
					id, idErr := claims.AccountID()
					if idErr != nil {
						writeError(w, apperr.Unauthorized("invalid token payload"))
						return
					}
					next.ServeHTTP(w, r.WithContext(withAccountID(r.Context(), id)))
					return
				}
				if !errors.Is(err, jwt.ErrTokenExpired) {
					writeError(w, apperr.InvalidToken())
					return
				}
				// Expired access token: fall through to refresh.
			}

			account, pair, err := svc.RefreshSession(r.Context(), refreshToken)
			if err != nil {
				writeError(w, err)
				return
			}

			SetTokenCookies(w, pair, svc.Tokens().AccessTTL(), svc.Tokens().RefreshTTL(), secure)
			next.ServeHTTP(w, r.WithContext(withAccountID(r.Context(), account.ID)))
		})
	}
}

// AccountID extracts the authenticated account id from the request context.
func AccountID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok
}

func withAccountID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// SetTokenCookies attaches an access/refresh pair to the response. In
// production the cookies are Secure with SameSite=None for cross-site
// clients; in development they are SameSite=Strict.
func SetTokenCookies(w http.ResponseWriter, pair auth.TokenPair, accessTTL, refreshTTL time.Duration, secure bool) {
	http.SetCookie(w, tokenCookie(AccessCookie, pair.Access, accessTTL, secure))
	http.SetCookie(w, tokenCookie(RefreshCookie, pair.Refresh, refreshTTL, secure))
}

// ClearTokenCookies expires both token cookies.
func ClearTokenCookies(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, tokenCookie(AccessCookie, "", -time.Hour, secure))
	http.SetCookie(w, tokenCookie(RefreshCookie, "", -time.Hour, secure))
}

func tokenCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	sameSite := http.SameSiteStrictMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// writeError renders the uniform {message, error} envelope. Unexpected
// failures become a generic 500 without internal detail.
func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Printf("unexpected error: %v", err)
		ae = apperr.New(apperr.CodeServerError, http.StatusInternalServerError, "server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": ae.Message, "error": ae.Code})
}
