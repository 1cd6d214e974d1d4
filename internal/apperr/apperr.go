// Package apperr implements the closed error taxonomy that every adapter,
// the job runner, and the asset cache translate their failures into. Callers
// inspect Code (never the underlying error string) to decide retry policy.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Code is one member of the closed taxonomy from spec.md §7.
type Code string

const (
	Validation           Code = "VALIDATION"
	Auth                 Code = "AUTH"
	NotFound             Code = "NOT_FOUND"
	RateLimit            Code = "RATE_LIMIT"
	Network              Code = "NETWORK"
	ProviderServer       Code = "PROVIDER_SERVER"
	ProviderInvalidResp  Code = "PROVIDER_INVALID_RESPONSE"
	ProviderUnavailable  Code = "PROVIDER_UNAVAILABLE"
	Storage              Code = "STORAGE"
	DuplicateKey         Code = "DUPLICATE_KEY"
	ForeignKey           Code = "FOREIGN_KEY"
	Constraint           Code = "CONSTRAINT"
	FSPermission         Code = "FS_PERMISSION"
	FSNotFound           Code = "FS_NOT_FOUND"
	Process              Code = "PROCESS"
	JobTimeout           Code = "JOB_TIMEOUT"
	JobNoHandler         Code = "JOB_NO_HANDLER"
)

// retryable is the retry classification per code. Retryable consults only
// this table, so every Error with the same Code classifies the same way.
var retryable = map[Code]bool{
	Validation:          false,
	Auth:                false,
	NotFound:            false,
	RateLimit:           true,
	Network:             true,
	ProviderServer:      true,
	ProviderInvalidResp: false,
	ProviderUnavailable: true,
	Storage:             true,
	DuplicateKey:        false,
	ForeignKey:          false,
	Constraint:          false,
	FSPermission:        false,
	FSNotFound:          false,
	Process:             true,
	JobTimeout:          true,
	JobNoHandler:        false,
}

// Error is a taxonomized failure. It wraps the underlying cause.
type Error struct {
	Code       Code
	RetryAfter time.Duration // set for RATE_LIMIT / PROVIDER_UNAVAILABLE
	Provider   string        // provider id, when applicable
	Err        error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Code, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this error should be retried by the caller's
// retry strategy or job runner.
func (e *Error) Retryable() bool {
	if r, ok := retryable[e.Code]; ok {
		return r
	}
	return false
}

// New builds a taxonomized error.
func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Newf builds a taxonomized error from a format string.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// WithRetryAfter attaches a retry-after duration (for RATE_LIMIT/PROVIDER_UNAVAILABLE).
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithProvider attaches a provider id for logging/propagation.
func (e *Error) WithProvider(name string) *Error {
	e.Provider = name
	return e
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, otherwise returns "" and false.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsRetryable reports whether err is a taxonomized retryable error. A
// non-taxonomized error is treated as non-retryable: adapters must translate
// at their boundary (spec.md §7's propagation policy).
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// RetryAfter returns the retry-after duration for err, or 0 if absent/unset.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
