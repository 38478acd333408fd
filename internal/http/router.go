package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/otpgate/server/internal/auth"
	"github.com/otpgate/server/internal/http/handlers"
	"github.com/otpgate/server/internal/middleware"
	"github.com/otpgate/server/internal/model"
	"github.com/otpgate/server/internal/repo"
)

// NewRouter wires all routes. The session gate (silent token rotation) sits
// in front of every protected route; the admin group adds the role check.
func NewRouter(
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	svc *auth.AuthService,
	accounts repo.AccountRepo,
	secure bool,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.HandleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/verify-otp", authHandler.HandleVerifyOtp)
		r.Post("/confirm-password", authHandler.HandleConfirmPassword)
		r.Post("/login", authHandler.HandleLogin)
		r.Get("/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(svc, secure))
			r.Post("/change-password", authHandler.HandleChangePassword)
			r.Get("/me", authHandler.HandleMe)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authorise(accounts, true, model.RoleAdmin))
				r.Get("/admin/accounts", adminHandler.HandleListAccounts)
			})
		})
	})

	return r
}
