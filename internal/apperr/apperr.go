// Package apperr carries the error kinds the pipeline engine reports to
// callers. Admission rejections surface synchronously with a specific kind;
// run-time failures are recorded on the run ledger with the same kinds.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication       Kind = "authentication_error"
	KindSubscriptionInactive Kind = "subscription_inactive"
	KindIntegrationNotActive Kind = "integration_not_active"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindJobNotFound          Kind = "job_not_found"
	KindUnresolvedTemplate   Kind = "unresolved_template"
	KindCredentialDecryption Kind = "credential_decryption_error"
	KindProcessor            Kind = "processor_error"
	KindTimeout              Kind = "timeout_error"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the kind from an error chain. The second return is false
// when the error did not originate from this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps an error kind to the status code the trigger API returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindSubscriptionInactive:
		return http.StatusPaymentRequired
	case KindIntegrationNotActive:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindJobNotFound:
		return http.StatusNotFound
	case KindUnresolvedTemplate:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
