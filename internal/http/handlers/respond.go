package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/otpgate/server/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError maps any error to the {message, error} envelope. Typed errors
// keep their code and status; anything else is a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Printf("unexpected error: %v", err)
		ae = apperr.New(apperr.CodeServerError, http.StatusInternalServerError, "server error")
	}
	writeJSON(w, ae.Status, map[string]string{"message": ae.Message, "error": ae.Code})
}

// maskPhone masks a phone number for logging (e.g. 91******78).
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
