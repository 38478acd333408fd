package middleware

import (
	"net/http"

	"github.com/otpgate/server/internal/apperr"
	"github.com/otpgate/server/internal/model"
	"github.com/otpgate/server/internal/repo"
)

// Authorise gates a route by account role. It runs after Session, loads the
// account, and checks its role against the list: with allow=true the role
// must be in the list, with allow=false it must not be.
func Authorise(accounts repo.AccountRepo, allow bool, roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := AccountID(r.Context())
			if !ok {
				writeError(w, apperr.Unauthorized("unauthorized access"))
				return
			}

			account, err := accounts.FindByID(r.Context(), id)
			if err != nil {
				writeError(w, apperr.Unauthorized("user not found, please log in again"))
				return
			}

			hasRole := false
			for _, role := range roles {
				if account.Role == role {
					hasRole = true
					break
				}
			}
			if allow != hasRole {
				writeError(w, apperr.Forbidden())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
