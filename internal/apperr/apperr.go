// Package apperr carries the error kinds surfaced to API callers. The kind
// decides the HTTP status and whether an offline client should retry.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindValidation      Kind = "VALIDATION"
	KindReference       Kind = "REFERENCE"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindTransient       Kind = "TRANSIENT"
	KindInternal        Kind = "INTERNAL"
)

// Stable machine-readable reasons.
const (
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeRegisterInvalid      = "REGISTER_INVALID"
	CodeShiftInvalid         = "SHIFT_INVALID"
	CodeCustomerInvalid      = "CUSTOMER_INVALID"
	CodeDiscountForbidden    = "DISCOUNT_FORBIDDEN"
	CodeRoleForbidden        = "ROLE_FORBIDDEN"
	CodeStoreAccessDenied    = "STORE_ACCESS_DENIED"
	CodePaymentMismatch      = "PAYMENT_MISMATCH"
	CodePricingMismatch      = "PRICING_MISMATCH"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeOrderTerminal        = "ORDER_TERMINAL"
	CodeIllegalTransition    = "ILLEGAL_TRANSITION"
	CodeConcurrentUpdate     = "CONCURRENT_UPDATE"
	CodeOrderNumberCollision = "ORDER_NUMBER_COLLISION"
	CodeReferenceBroken      = "REFERENCE_BROKEN"
	CodeShiftNotFound        = "SHIFT_NOT_FOUND"
	CodeShiftClosed          = "SHIFT_CLOSED"
	CodeShiftAlreadyOpen     = "SHIFT_ALREADY_OPEN"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeTimeout              = "TIMEOUT"
	CodeInternal             = "INTERNAL"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Fields    []FieldError
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Retryable: defaultRetryable(kind)}
}

func Newf(kind Kind, code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

func Wrap(kind Kind, code string, err error, msg string) *Error {
	e := New(kind, code, msg)
	e.Err = err
	return e
}

// WithFields attaches field-level detail.
func (e *Error) WithFields(fields ...FieldError) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// AsRetryable overrides the kind default, e.g. for a conflict the caller can
// resolve by resubmitting unchanged.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

func Validation(msg string, fields ...FieldError) *Error {
	return New(KindValidation, CodeInvalidPayload, msg).WithFields(fields...)
}

func Forbidden(code, msg string) *Error { return New(KindForbidden, code, msg) }

func Conflict(code, msg string) *Error { return New(KindConflict, code, msg) }

func NotFound(code, msg string) *Error { return New(KindNotFound, code, msg) }

func Reference(code, msg string) *Error { return New(KindReference, code, msg) }

func Transient(err error, msg string) *Error {
	return Wrap(KindTransient, CodeStoreUnavailable, err, msg)
}

func defaultRetryable(kind Kind) bool {
	return kind == KindTransient || kind == KindInternal
}

// From returns err as *Error. Context deadlines become TRANSIENT, anything
// unclassified becomes INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(KindTransient, CodeTimeout, err, "operation timed out")
	}
	return Wrap(KindInternal, CodeInternal, err, "internal error")
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return From(err).Retryable
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindReference, KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
