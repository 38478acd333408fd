package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpgate/server/internal/auth"
	"github.com/otpgate/server/internal/config"
	"github.com/otpgate/server/internal/db"
	httpapi "github.com/otpgate/server/internal/http"
	"github.com/otpgate/server/internal/http/handlers"
	"github.com/otpgate/server/internal/repo"
)

func TestMain(m *testing.M) {
	// Defaults for local runs; DATABASE_URL is deliberately not defaulted,
	// its absence makes the integration tests skip.
	if os.Getenv("ACCESS_TOKEN_SECRET") == "" {
		os.Setenv("ACCESS_TOKEN_SECRET", "test-access-secret-at-least-32-chars")
	}
	if os.Getenv("REFRESH_TOKEN_SECRET") == "" {
		os.Setenv("REFRESH_TOKEN_SECRET", "test-refresh-secret-at-least-32-chars")
	}
	if os.Getenv("OTP_DEV_MODE") == "" {
		os.Setenv("OTP_DEV_MODE", "true")
	}
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, RunMigrations(database))
	require.NoError(t, TruncateAuthTables(ctx, database))

	accountRepo := repo.NewAccountRepo(database)
	challengeRepo := repo.NewChallengeRepo(database)
	engine := auth.NewChallengeEngine(accountRepo, challengeRepo, time.Now)
	tokens := auth.NewTokenManager(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, time.Now)
	svc := auth.NewAuthService(engine, tokens, accountRepo, time.Now)

	authHandler := handlers.NewAuthHandler(svc, false, cfg.OtpDevMode)
	adminHandler := handlers.NewAdminHandler(accountRepo)
	router := httpapi.NewRouter(authHandler, adminHandler, svc, accountRepo, false)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

type session struct {
	server  *httptest.Server
	cookies map[string]*http.Cookie
}

func newSession(server *httptest.Server) *session {
	return &session{server: server, cookies: make(map[string]*http.Cookie)}
}

func (s *session) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range s.cookies {
		req.AddCookie(c)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c
	}

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func TestRegistrationLoginLogout_endToEnd(t *testing.T) {
	server := newTestServer(t)
	s := newSession(server)

	status, body := s.do(t, http.MethodPost, "/api/v1/register", map[string]string{"phone": "0912345678"})
	require.Equal(t, http.StatusCreated, status, "register: %v", body)
	rememberToken := body["token"].(string)
	otp := body["dev_otp"].(string)
	assert.Equal(t, "912345678", body["phone"])

	status, body = s.do(t, http.MethodPost, "/api/v1/verify-otp", map[string]string{
		"phone": "0912345678", "otp": otp, "token": rememberToken,
	})
	require.Equal(t, http.StatusOK, status, "verify-otp: %v", body)
	verifyToken := body["token"].(string)
	require.NotEqual(t, rememberToken, verifyToken)

	status, body = s.do(t, http.MethodPost, "/api/v1/confirm-password", map[string]string{
		"phone": "0912345678", "password": "Passw0rd!", "token": verifyToken,
	})
	require.Equal(t, http.StatusCreated, status, "confirm-password: %v", body)
	require.Contains(t, s.cookies, "accessToken")
	require.Contains(t, s.cookies, "refreshToken")

	status, body = s.do(t, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, status, "me: %v", body)
	assert.Equal(t, "912345678", body["phone"])

	status, body = s.do(t, http.MethodPost, "/api/v1/login", map[string]string{
		"phone": "0912345678", "password": "Passw0rd!",
	})
	require.Equal(t, http.StatusOK, status, "login: %v", body)

	status, _ = s.do(t, http.MethodGet, "/api/v1/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, s.cookies, "refreshToken")
}

func TestOtpRequestQuota_endToEnd(t *testing.T) {
	server := newTestServer(t)
	s := newSession(server)

	for i := 0; i < 3; i++ {
		status, body := s.do(t, http.MethodPost, "/api/v1/register", map[string]string{"phone": "0911111111"})
		require.Equal(t, http.StatusCreated, status, "register %d: %v", i+1, body)
	}

	status, body := s.do(t, http.MethodPost, "/api/v1/register", map[string]string{"phone": "0911111111"})
	require.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "OVER_LIMIT", body["error"])
}

func TestWrongRememberToken_endToEnd(t *testing.T) {
	server := newTestServer(t)
	s := newSession(server)

	status, body := s.do(t, http.MethodPost, "/api/v1/register", map[string]string{"phone": "0922222222"})
	require.Equal(t, http.StatusCreated, status, "register: %v", body)
	otp := body["dev_otp"].(string)

	status, body = s.do(t, http.MethodPost, "/api/v1/verify-otp", map[string]string{
		"phone": "0922222222", "otp": otp, "token": "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_TOKEN", body["error"])

	// Locked out for the day even with the right token afterwards.
	status, body = s.do(t, http.MethodPost, "/api/v1/register", map[string]string{"phone": "0922222222"})
	require.Equal(t, http.StatusCreated, status, "re-register: %v", body)
	status, body = s.do(t, http.MethodPost, "/api/v1/verify-otp", map[string]string{
		"phone": "0922222222", "otp": body["dev_otp"].(string), "token": body["token"].(string),
	})
	require.Equal(t, http.StatusForbidden, status, "verify after lockout: %v", body)
	assert.Equal(t, "OVER_LIMIT", body["error"])
}
