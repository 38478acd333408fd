// Package secret holds the one-way hashing and random-value primitives used
// by the registration and session flows.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const hashCost = 10

var otpSpace = big.NewInt(1000000)

// Hash returns a salted one-way digest of plain.
func Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plain matches digest. Comparison timing is handled
// by the hashing primitive.
func Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// GenerateOtp returns a uniformly distributed 6-digit code as a fixed-width
// string, drawn from the crypto random source.
func GenerateOtp() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// GenerateToken returns a 32-byte random value as hex. It is the sole proof
// of registration-flow continuity (remember/verify tokens) and the poison
// value written over the session anchor on logout.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
