package rpc

import "fmt"

// ErrorCode enumerates error kinds carried on the wire.
type ErrorCode string

const (
	CodeNoSuchMethod   ErrorCode = "NoSuchMethod"
	CodeInvalidParams  ErrorCode = "InvalidParams"
	CodeBackendFailure ErrorCode = "BackendFailure"
	CodeInvalidRequest ErrorCode = "InvalidRequest"
	CodeInternal       ErrorCode = "Internal"
	CodeRateLimited    ErrorCode = "RateLimited"
)

// Error is the structured failure returned in place of a result.
type Error struct {
	Code    ErrorCode `json:"Code"`
	Message string    `json:"Message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf helps build protocol errors.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
