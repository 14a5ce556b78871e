package provider

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable classification of a failure,
// carried across the command boundary so callers can decide whether a
// retry action makes sense.
type ErrorKind string

const (
	// KindConfiguration covers malformed endpoints and invalid settings; never retried
	KindConfiguration ErrorKind = "configuration"
	// KindUnknownProvider covers references to unregistered provider types
	KindUnknownProvider ErrorKind = "unknown_provider"
	// KindUnknownModel covers references to models no provider knows
	KindUnknownModel ErrorKind = "unknown_model"
	// KindUnavailable covers unreachable providers; re-checked on next scan
	KindUnavailable ErrorKind = "unavailable"
	// KindQuotaExceeded covers disk-quota violations at start or completion
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	// KindTransfer covers network interruption mid-download
	KindTransfer ErrorKind = "transfer"
	// KindCancelled marks user-initiated cancellation; an expected terminal state
	KindCancelled ErrorKind = "cancelled"
	// KindIntegrity covers size mismatch detected at completion
	KindIntegrity ErrorKind = "integrity"
	// KindNotSupported covers operations a backend kind cannot perform
	KindNotSupported ErrorKind = "not_supported"
	// KindInternal is the fallback classification
	KindInternal ErrorKind = "internal"
)

// Error carries a machine-readable kind plus a human-readable reason
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

// NewError creates a typed error without an underlying cause
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Errorf creates a typed error with a formatted reason
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WrapError creates a typed error preserving the underlying cause
func WrapError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, defaulting to internal for untyped errors
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ReasonOf extracts the human-readable reason, falling back to Error()
func ReasonOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
