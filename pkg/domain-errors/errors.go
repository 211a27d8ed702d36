package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. The set is closed; handlers translate codes
// to HTTP statuses and callers branch on them with HasCode.
type Code string

const (
	// CodeBadRequest covers malformed input: bad person state, unknown audit
	// action kinds, unparseable ids.
	CodeBadRequest Code = "bad_request"

	// CodeNotFound means the entity or version does not exist after redirect
	// resolution has been applied.
	CodeNotFound Code = "not_found"

	// CodeInvalidMerge covers self-merges and structurally invalid merge
	// requests.
	CodeInvalidMerge Code = "invalid_merge"

	// CodeMergeConflict signals unresolved standing conflicts. It carries the
	// conflict descriptors in Details and is meant to drive a guided
	// correct-and-retry flow, not a terminal failure.
	CodeMergeConflict Code = "merge_conflict"

	// CodeStaleWrite is lost-update protection: the entity changed since the
	// writer loaded it. Reload and retry.
	CodeStaleWrite Code = "stale_write"

	CodeForbidden    Code = "forbidden"
	CodeUnauthorized Code = "unauthorized"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"
)

// DomainError is a coded error optionally carrying structured details for the
// caller (e.g. merge conflict descriptors).
type DomainError struct {
	Code    Code
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.cause }

func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewWithDetails attaches a structured payload the transport layer can render
// (merge conflicts, stale-write remediation hints).
func NewWithDetails(code Code, message string, details any) error {
	return &DomainError{Code: code, Message: message, Details: details}
}

// Wrap preserves the cause chain while assigning a code.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &DomainError{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is a legacy alias for HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// Details returns the structured payload attached to err, if any.
func Details(err error) any {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the status handlers should write.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidMerge:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMergeConflict, CodeStaleWrite:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
