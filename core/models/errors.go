package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the core
type ErrorKind string

const (
	KindUnsupportedType  ErrorKind = "unsupported_type"
	KindIngestionFailed  ErrorKind = "ingestion_failed"
	KindDefinition       ErrorKind = "definition_error"
	KindModelNotApproved ErrorKind = "model_not_approved"
	KindExternalService  ErrorKind = "external_service_error"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidArgument  ErrorKind = "invalid_argument"
	KindForbidden        ErrorKind = "forbidden"
)

// Error is a typed failure carrying its kind, the failing operation and the cause
type Error struct {
	Kind   ErrorKind
	Op     string // Operation that failed, e.g. "ingestion.route"
	Reason string // Human readable reason
	Err    error  // Underlying error
}

// Sentinels for errors.Is matching by kind
var (
	ErrUnsupportedType  = &Error{Kind: KindUnsupportedType}
	ErrIngestionFailed  = &Error{Kind: KindIngestionFailed}
	ErrDefinition       = &Error{Kind: KindDefinition}
	ErrModelNotApproved = &Error{Kind: KindModelNotApproved}
	ErrExternalService  = &Error{Kind: KindExternalService}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrForbidden        = &Error{Kind: KindForbidden}
)

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Op != "" {
		sb.WriteString(" [" + e.Op + "]")
	}
	if e.Reason != "" {
		sb.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller may safely retry the failed call.
// Only transient store/service failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindIngestionFailed, KindExternalService:
		return true
	}
	return false
}

// UnsupportedType reports an unrecognized file extension
func UnsupportedType(op string, ext string) *Error {
	return &Error{Kind: KindUnsupportedType, Op: op, Reason: fmt.Sprintf("unsupported file type: %q", ext)}
}

// IngestionFailed reports a parse or store failure during ingestion
func IngestionFailed(op string, reason string, err error) *Error {
	return &Error{Kind: KindIngestionFailed, Op: op, Reason: reason, Err: err}
}

// DefinitionError reports a pipeline misconfiguration
func DefinitionError(op string, reason string) *Error {
	return &Error{Kind: KindDefinition, Op: op, Reason: reason}
}

// ModelNotApproved reports an inference request against a non-approved model
func ModelNotApproved(op string, arn string, status ApprovalStatus) *Error {
	return &Error{
		Kind:   KindModelNotApproved,
		Op:     op,
		Reason: fmt.Sprintf("model %s has approval status %s", arn, status),
	}
}

// ExternalServiceError wraps a failure from an external collaborator
func ExternalServiceError(op string, err error) *Error {
	return &Error{Kind: KindExternalService, Op: op, Err: err}
}

// NotFound reports a missing resource
func NotFound(op string, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Reason: what + " not found"}
}

// InvalidArgument reports a malformed caller request
func InvalidArgument(op string, reason string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Reason: reason}
}

// Forbidden reports a request that failed authentication
func Forbidden(op string, reason string) *Error {
	return &Error{Kind: KindForbidden, Op: op, Reason: reason}
}
