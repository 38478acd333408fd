package handlers

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/otpgate/server/internal/apperr"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{5,12}$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

// validatePhone checks the raw phone and returns it normalized: the leading
// mobile prefix "09" is stripped before any lookup or storage.
func validatePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if !phonePattern.MatchString(phone) {
		return "", apperr.InvalidInput("phone must be 5-12 digits")
	}
	if strings.HasPrefix(phone, "09") {
		phone = phone[2:]
	}
	return phone, nil
}

func validateOtp(raw string) (string, error) {
	otp := strings.TrimSpace(raw)
	if !otpPattern.MatchString(otp) {
		return "", apperr.InvalidInput("OTP must be 6 digits")
	}
	return otp, nil
}

// validatePassword enforces the registration password policy: at least 8
// characters with at least one letter and one digit.
func validatePassword(raw string) (string, error) {
	password := strings.TrimSpace(raw)
	if len(password) < 8 {
		return "", apperr.InvalidInput("password must be at least 8 characters with letters and numbers")
	}
	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return "", apperr.InvalidInput("password must be at least 8 characters with letters and numbers")
	}
	return password, nil
}

func requireToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", apperr.InvalidInput("token is required")
	}
	return token, nil
}
