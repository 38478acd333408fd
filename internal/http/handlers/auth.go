package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/otpgate/server/internal/apperr"
	"github.com/otpgate/server/internal/auth"
	"github.com/otpgate/server/internal/middleware"
)

// AuthHandler exposes the registration and session endpoints.
type AuthHandler struct {
	svc             *auth.AuthService
	secure          bool
	devMode         bool
	registerLimiter *middleware.RateLimiter
	verifyLimiter   *middleware.RateLimiter
}

// NewAuthHandler creates the auth handler. IP limits sit in front of the
// DB-backed per-phone quotas: 10 per 10min for register, 20 per 10min for
// verify.
func NewAuthHandler(svc *auth.AuthService, secure, devMode bool) *AuthHandler {
	return &AuthHandler{
		svc:             svc,
		secure:          secure,
		devMode:         devMode,
		registerLimiter: middleware.NewRateLimiter(10*time.Minute, 10),
		verifyLimiter:   middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

type registerRequest struct {
	Phone string `json:"phone"`
}

type otpResponse struct {
	Message string `json:"message"`
	Phone   string `json:"phone"`
	Token   string `json:"token"`
	DevOtp  string `json:"dev_otp,omitempty"`
}

// HandleRegister handles POST /api/v1/register: starts an OTP cycle and
// returns the remember token. The OTP itself goes out through the delivery
// channel, never this response (dev mode excepted).
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("invalid request body"))
		return
	}

	phone, err := validatePhone(req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}

	if !h.registerLimiter.Allow(middleware.ClientIP(r)) {
		writeError(w, apperr.OverLimit(http.StatusTooManyRequests, "rate limit exceeded"))
		return
	}

	challenge, otp, err := h.svc.Register(r.Context(), phone)
	if err != nil {
		log.Printf("phone %s: request OTP failed: %v", maskPhone(phone), err)
		writeError(w, err)
		return
	}

	resp := otpResponse{
		Message: fmt.Sprintf("we are sending OTP to 09%s", challenge.Phone),
		Phone:   challenge.Phone,
		Token:   challenge.RememberToken,
	}
	if h.devMode {
		resp.DevOtp = otp
	}
	writeJSON(w, http.StatusCreated, resp)
}

type verifyOtpRequest struct {
	Phone string `json:"phone"`
	Otp   string `json:"otp"`
	Token string `json:"token"`
}

// HandleVerifyOtp handles POST /api/v1/verify-otp: checks the OTP against
// the challenge and returns the verify token.
func (h *AuthHandler) HandleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("invalid request body"))
		return
	}

	phone, err := validatePhone(req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	otp, err := validateOtp(req.Otp)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := requireToken(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	if !h.verifyLimiter.Allow(middleware.ClientIP(r)) {
		writeError(w, apperr.OverLimit(http.StatusTooManyRequests, "rate limit exceeded"))
		return
	}

	verifyToken, err := h.svc.VerifyOtp(r.Context(), phone, otp, token)
	if err != nil {
		log.Printf("phone %s: verify OTP failed: %v", maskPhone(phone), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, otpResponse{
		Message: "OTP is successfully verified",
		Phone:   phone,
		Token:   verifyToken,
	})
}

type confirmPasswordRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// HandleConfirmPassword handles POST /api/v1/confirm-password: consumes the
// verified challenge, creates the account, and opens the initial session.
func (h *AuthHandler) HandleConfirmPassword(w http.ResponseWriter, r *http.Request) {
	var req confirmPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("invalid request body"))
		return
	}

	phone, err := validatePhone(req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	password, err := validatePassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := requireToken(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	_, pair, err := h.svc.ConfirmAccount(r.Context(), phone, password, token)
	if err != nil {
		log.Printf("phone %s: confirm account failed: %v", maskPhone(phone), err)
		writeError(w, err)
		return
	}

	h.setCookies(w, pair)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "successfully created an account"})
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
}

// HandleLogin handles POST /api/v1/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("invalid request body"))
		return
	}

	phone, err := validatePhone(req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	password, err := validatePassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	account, pair, err := h.svc.Login(r.Context(), phone, password)
	if err != nil {
		log.Printf("phone %s: login failed: %v", maskPhone(phone), err)
		writeError(w, err)
		return
	}

	h.setCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "successfully logged in",
		"user":    accountResponse{ID: account.ID, Phone: account.Phone},
	})
}

// HandleLogout handles GET /api/v1/logout: invalidates the session anchor
// and clears both cookies.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := r.Cookie(middleware.RefreshCookie)
	if err != nil || refreshToken.Value == "" {
		writeError(w, apperr.Unauthorized("you are not authenticated"))
		return
	}

	if err := h.svc.Logout(r.Context(), refreshToken.Value); err != nil {
		writeError(w, err)
		return
	}

	middleware.ClearTokenCookies(w, h.secure)
	writeJSON(w, http.StatusOK, map[string]string{"message": "successfully logged out, see you soon"})
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// HandleChangePassword handles POST /api/v1/change-password (protected).
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("please login to continue"))
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("invalid request body"))
		return
	}

	oldPassword, err := validatePassword(req.OldPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	newPassword, err := validatePassword(req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	if newPassword == oldPassword {
		writeError(w, apperr.InvalidInput("new password must be different from old password"))
		return
	}
	if req.ConfirmPassword != req.NewPassword {
		writeError(w, apperr.InvalidInput("passwords do not match"))
		return
	}

	if err := h.svc.ChangePassword(r.Context(), accountID, oldPassword, newPassword); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password successfully changed"})
}

// HandleMe handles GET /api/v1/me (protected).
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("you are not authenticated"))
		return
	}

	account, err := h.svc.Account(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{ID: account.ID, Phone: account.Phone})
}

func (h *AuthHandler) setCookies(w http.ResponseWriter, pair auth.TokenPair) {
	middleware.SetTokenCookies(w, pair, h.svc.Tokens().AccessTTL(), h.svc.Tokens().RefreshTTL(), h.secure)
}
