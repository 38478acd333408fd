package auth

import (
	"testing"
	"time"

	"github.com/otpgate/server/internal/apperr"
	"github.com/otpgate/server/internal/repo"
	"github.com/stretchr/testify/require"
)

// fakeClock is the injected clock for the state-machine tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// NextDay moves the clock to 00:30 of the following calendar day.
func (c *fakeClock) NextDay() {
	c.t = c.t.Truncate(24 * time.Hour).Add(24*time.Hour + 30*time.Minute)
}

type fixture struct {
	clock      *fakeClock
	accounts   *repo.MemoryAccountRepo
	challenges *repo.MemoryChallengeRepo
	engine     *ChallengeEngine
	tokens     *TokenManager
	svc        *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	accounts := repo.NewMemoryAccountRepo(clock.Now)
	challenges := repo.NewMemoryChallengeRepo(clock.Now)
	engine := NewChallengeEngine(accounts, challenges, clock.Now)
	tokens := NewTokenManager("access-secret-for-tests", "refresh-secret-for-tests", 15*time.Minute, 7*24*time.Hour, clock.Now)
	svc := NewAuthService(engine, tokens, accounts, clock.Now)
	return &fixture{
		clock:      clock,
		accounts:   accounts,
		challenges: challenges,
		engine:     engine,
		tokens:     tokens,
		svc:        svc,
	}
}

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae, "expected typed error, got %v", err)
	require.Equal(t, code, ae.Code)
	require.Equal(t, status, ae.Status)
}
