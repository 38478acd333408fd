package handlers

import (
	"net/http"

	"github.com/otpgate/server/internal/model"
	"github.com/otpgate/server/internal/repo"
)

// AdminHandler exposes the admin account listing (role-gated).
type AdminHandler struct {
	accounts repo.AccountRepo
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(accounts repo.AccountRepo) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

type adminAccount struct {
	ID     int64               `json:"id"`
	Phone  string              `json:"phone"`
	Status model.AccountStatus `json:"status"`
	Role   model.Role          `json:"role"`
}

// HandleListAccounts handles GET /api/v1/admin/accounts.
func (h *AdminHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context(), 100)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]adminAccount, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, adminAccount{ID: a.ID, Phone: a.Phone, Status: a.Status, Role: a.Role})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}
