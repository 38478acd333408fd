// Package apperr defines the typed errors returned by the auth core. Every
// error carries a stable machine-readable code and an HTTP status; handlers
// map them to the uniform {message, error} response envelope.
package apperr

import "net/http"

// Machine-readable error codes.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeUserExists      = "USER_EXISTS"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeOtpNotFound     = "OTP_NOT_FOUND"
	CodeAlreadyVerified = "ALREADY_VERIFIED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeInvalidOtp      = "INVALID_OTP"
	CodeInvalidPassword = "INVALID_PASSWORD"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeOtpExpired      = "OTP_EXPIRED"
	CodeUserFreeze      = "USER_FREEZE"
	CodeForbidden       = "FORBIDDEN"
	CodeOverLimit       = "OVER_LIMIT"
	CodeServerError     = "SERVER_ERROR"
)

// Error is a typed application error.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// New creates an Error with the given code, HTTP status and message.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, http.StatusUnprocessableEntity, message)
}

func UserExists() *Error {
	return New(CodeUserExists, http.StatusConflict, "phone number is already registered")
}

func UserNotFound() *Error {
	return New(CodeUserNotFound, http.StatusNotFound, "user not found")
}

func OtpNotFound() *Error {
	return New(CodeOtpNotFound, http.StatusNotFound, "OTP not found for this phone")
}

func AlreadyVerified() *Error {
	return New(CodeAlreadyVerified, http.StatusBadRequest, "OTP is already verified")
}

func InvalidToken() *Error {
	return New(CodeInvalidToken, http.StatusBadRequest, "invalid token")
}

func InvalidOtp() *Error {
	return New(CodeInvalidOtp, http.StatusUnauthorized, "OTP is incorrect")
}

func InvalidPassword() *Error {
	return New(CodeInvalidPassword, http.StatusUnauthorized, "wrong password, please try again")
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

func OtpExpired() *Error {
	return New(CodeOtpExpired, http.StatusForbidden, "OTP is expired")
}

func UserFreeze() *Error {
	return New(CodeUserFreeze, http.StatusForbidden, "account is frozen")
}

func Forbidden() *Error {
	return New(CodeForbidden, http.StatusForbidden, "this action is not allowed")
}

// OverLimit returns the rate/attempt limit error. The status differs by
// context: 405 for the daily OTP request quota, 403 for attempt lockouts.
func OverLimit(status int, message string) *Error {
	return New(CodeOverLimit, status, message)
}
