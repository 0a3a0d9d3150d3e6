// Package apperror defines the error codes surfaced to users when a report
// job fails, and helpers to recover them from wrapped errors.
package apperror

import (
	"errors"
)

// Code is a stable machine readable error identifier stored on failed jobs.
type Code string

const (
	CodeConnection     Code = "API_CONNECTION_ERROR"
	CodeTimeout        Code = "API_TIMEOUT_ERROR"
	CodeAuth           Code = "API_AUTH_ERROR"
	CodeRateLimit      Code = "API_RATE_LIMIT_ERROR"
	CodeServer         Code = "API_SERVER_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeDateValidation Code = "DATE_VALIDATION_ERROR"
	CodeGeneration     Code = "REPORT_GENERATION_ERROR"
	CodeFile           Code = "REPORT_FILE_ERROR"
	CodeNotFound       Code = "REPORT_NOT_FOUND_ERROR"
	CodeLimitExceeded  Code = "REPORT_LIMIT_EXCEEDED_ERROR"
	CodeCancelled      Code = "CANCELLED"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Error pairs a code and a user facing message with the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New builds an Error without a cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns a message safe to show to users. Unclassified errors get a
// generic message so internals do not leak.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "unexpected error while generating the report"
}

// IsValidation reports whether err was caused by bad user input.
func IsValidation(err error) bool {
	code := CodeOf(err)
	return code == CodeValidation || code == CodeDateValidation
}
