// Package errors carries the typed error codes every layer returns. The API
// maps a code to an HTTP status and a public message through MetadataFor;
// the wrapped cause only ever reaches logs.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Wallet ledger.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeInvalidHold         Code = "INVALID_HOLD"
	CodeHoldAlreadySettled  Code = "HOLD_ALREADY_SETTLED"
	CodeDuplicateWallet     Code = "DUPLICATE_WALLET"
	CodeDuplicateTopup      Code = "DUPLICATE_TOPUP"
	CodeDataIntegrity       Code = "DATA_INTEGRITY"

	// Appointments.
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
)

// Metadata is how a code surfaces to API clients.
type Metadata struct {
	HTTPStatus int
	// Retryable tells clients the same request may succeed later.
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage bool
}

type metaOption func(*Metadata)

func withDetails(m *Metadata) { m.DetailsAllowed = true }
func retryable(m *Metadata)   { m.Retryable = true }

func meta(status int, public string, opts ...metaOption) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	// client errors describe the caller's own request
	m.ExposeMessage = status >= 400 && status < 500
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:     meta(http.StatusForbidden, "access denied"),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found"),
	CodeConflict:      meta(http.StatusConflict, "conflict detected"),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", withDetails),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, withDetails),

	CodeInsufficientBalance: meta(http.StatusUnprocessableEntity, "insufficient wallet balance", withDetails),
	CodeInvalidHold:         meta(http.StatusUnprocessableEntity, "hold transaction is invalid"),
	CodeHoldAlreadySettled:  meta(http.StatusConflict, "hold already settled"),
	CodeDuplicateWallet:     meta(http.StatusConflict, "wallet already exists"),
	CodeDuplicateTopup:      meta(http.StatusConflict, "top-up already applied"),
	// divergence is never shown to clients and never fixed by a retry
	CodeDataIntegrity: meta(http.StatusInternalServerError, "internal server error"),

	CodeIllegalTransition: meta(http.StatusUnprocessableEntity, "appointment transition not allowed", withDetails),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap keeps err reachable through errors.Is and errors.As.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches client-visible context. It is dropped for codes whose
// metadata does not allow details.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.code == code {
			return true
		}
	}
	return false
}
