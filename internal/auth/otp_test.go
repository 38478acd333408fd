package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/otpgate/server/internal/apperr"
	"github.com/stretchr/testify/require"
)

const testPhone = "912345678"

// wrongOtp returns a code guaranteed to differ from the issued one.
func wrongOtp(otp string) string {
	if otp == "000000" {
		return "000001"
	}
	return "000000"
}

func TestRequest_dailyQuotaAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ch, otp, err := f.engine.Request(ctx, testPhone)
		require.NoError(t, err, "request %d should succeed", i)
		require.Equal(t, i, ch.RequestCount)
		require.Len(t, otp, 6)
		require.NotEmpty(t, ch.RememberToken)
	}

	_, _, err := f.engine.Request(ctx, testPhone)
	requireCode(t, err, apperr.CodeOverLimit, http.StatusMethodNotAllowed)

	f.clock.NextDay()
	ch, _, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err, "first request of the next day should succeed")
	require.Equal(t, 1, ch.RequestCount, "count resets on day rollover")
	require.Equal(t, 0, ch.ErrorCount)
}

func TestRequest_existingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, testPhone, "hash")
	require.NoError(t, err)

	_, _, err = f.engine.Request(ctx, testPhone)
	requireCode(t, err, apperr.CodeUserExists, http.StatusConflict)
}

func TestRequest_rotatesRememberTokenAndClearsVerifyState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch1, otp1, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)

	_, err = f.engine.Verify(ctx, testPhone, otp1, ch1.RememberToken)
	require.NoError(t, err)

	ch2, _, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)
	require.NotEqual(t, ch1.RememberToken, ch2.RememberToken)
	require.False(t, ch2.Verified(), "a new cycle discards the verify token")
}

func TestVerify_happyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)

	verifyToken, err := f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	require.NoError(t, err)
	require.Len(t, verifyToken, 64)

	stored, err := f.challenges.FindByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.True(t, stored.Verified())
	require.Equal(t, 0, stored.ErrorCount)
	require.Equal(t, 1, stored.RequestCount)
}

func TestVerify_missingChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Verify(context.Background(), testPhone, "123456", "token")
	requireCode(t, err, apperr.CodeOtpNotFound, http.StatusNotFound)
}

func TestVerify_replayFailsAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)

	_, err = f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	require.NoError(t, err)

	_, err = f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	requireCode(t, err, apperr.CodeAlreadyVerified, http.StatusBadRequest)
}

func TestVerify_wrongRememberTokenLocksOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)

	// Accumulate two ordinary failures first: the lockout must land on
	// exactly 5 regardless of the prior value.
	for i := 1; i <= 2; i++ {
		_, err = f.engine.Verify(ctx, testPhone, wrongOtp(otp), ch.RememberToken)
		requireCode(t, err, apperr.CodeInvalidOtp, http.StatusUnauthorized)
	}

	_, err = f.engine.Verify(ctx, testPhone, otp, "not-the-remember-token")
	requireCode(t, err, apperr.CodeInvalidToken, http.StatusBadRequest)

	stored, err := f.challenges.FindByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.Equal(t, 5, stored.ErrorCount, "lockout forces the counter to exactly 5")

	// Locked out for the rest of the day, even with correct inputs.
	_, err = f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	requireCode(t, err, apperr.CodeOverLimit, http.StatusForbidden)
}

func TestVerify_wrongOtpCountsByDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)

	_, err = f.engine.Verify(ctx, testPhone, wrongOtp(otp), ch.RememberToken)
	requireCode(t, err, apperr.CodeInvalidOtp, http.StatusUnauthorized)
	_, err = f.engine.Verify(ctx, testPhone, wrongOtp(otp), ch.RememberToken)
	requireCode(t, err, apperr.CodeInvalidOtp, http.StatusUnauthorized)

	stored, err := f.challenges.FindByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.Equal(t, 2, stored.ErrorCount)

	// Day rollover resets the error counter to 1 on the next failure. The
	// challenge itself has expired by then, so expiry fires first unless a
	// fresh cycle starts.
	f.clock.NextDay()
	ch2, otp2, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)
	require.Equal(t, 0, ch2.ErrorCount)

	_, err = f.engine.Verify(ctx, testPhone, wrongOtp(otp2), ch2.RememberToken)
	requireCode(t, err, apperr.CodeInvalidOtp, http.StatusUnauthorized)
	stored, err = f.challenges.FindByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.Equal(t, 1, stored.ErrorCount)
}

func TestVerify_expiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)

	// Exactly at the boundary the OTP is still valid.
	f.clock.Advance(2 * time.Minute)
	_, err = f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	require.NoError(t, err, "verify at exactly 2 minutes should succeed")

	ch, otp, err = f.engine.Request(ctx, testPhone)
	require.NoError(t, err)
	f.clock.Advance(2*time.Minute + time.Second)
	_, err = f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	requireCode(t, err, apperr.CodeOtpExpired, http.StatusForbidden)
}

func TestConsume_happyPathAndExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)
	verifyToken, err := f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	require.NoError(t, err)

	// Exactly at the boundary the verify token is still good.
	f.clock.Advance(8 * time.Minute)
	consumed, err := f.engine.Consume(ctx, testPhone, verifyToken)
	require.NoError(t, err, "consume at exactly 8 minutes should succeed")
	require.Equal(t, ch.ID, consumed.ID)

	f.clock.Advance(time.Second)
	_, err = f.engine.Consume(ctx, testPhone, verifyToken)
	requireCode(t, err, apperr.CodeOtpExpired, http.StatusForbidden)
}

func TestConsume_wrongVerifyTokenLocksOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)
	verifyToken, err := f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	require.NoError(t, err)

	_, err = f.engine.Consume(ctx, testPhone, "not-the-verify-token")
	requireCode(t, err, apperr.CodeInvalidToken, http.StatusBadRequest)

	stored, err := f.challenges.FindByPhone(ctx, testPhone)
	require.NoError(t, err)
	require.Equal(t, 5, stored.ErrorCount)

	_, err = f.engine.Consume(ctx, testPhone, verifyToken)
	requireCode(t, err, apperr.CodeOverLimit, http.StatusForbidden)
}

func TestExhaust_blocksSecondConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, otp, err := f.engine.Request(ctx, testPhone)
	require.NoError(t, err)
	verifyToken, err := f.engine.Verify(ctx, testPhone, otp, ch.RememberToken)
	require.NoError(t, err)

	_, err = f.engine.Consume(ctx, testPhone, verifyToken)
	require.NoError(t, err)
	require.NoError(t, f.engine.Exhaust(ctx, ch.ID))

	_, err = f.engine.Consume(ctx, testPhone, verifyToken)
	requireCode(t, err, apperr.CodeInvalidToken, http.StatusBadRequest)
}
