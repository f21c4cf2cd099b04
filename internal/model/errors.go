package model

import "fmt"

// ErrorCode enumerates the error taxonomy kinds (spec §7). These are kinds,
// not Go types, so a single coded Error carries one of them.
type ErrorCode string

const (
	CodeConfigInvalid     ErrorCode = "ConfigInvalid"
	CodeSourceUnavailable ErrorCode = "SourceUnavailable"
	CodeQueryRejected     ErrorCode = "QueryRejected"
	CodeSchemaDrift       ErrorCode = "SchemaDrift"
	CodeTransient         ErrorCode = "Transient"
	CodeUploadFailed      ErrorCode = "UploadFailed"
	CodeStateCorrupt      ErrorCode = "StateCorrupt"
	CodeCancelled         ErrorCode = "Cancelled"
)

// Error is the coded, retry-aware error carried through every component
// boundary, the same shape the teacher uses in
// internal/connector/minio/errors.go and pkg/staging/staging.go.
type Error struct {
	Code      ErrorCode
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue exposes the kind for log fields and MappingOutcome classification.
func (e *Error) CodeValue() string { return string(e.Code) }

// RetryableStatus reports whether the caller's retry loop should try again.
func (e *Error) RetryableStatus() bool { return e.Retryable }

// CodedError is satisfied by any error carrying a taxonomy code, the same
// interface the teacher exposes alongside its own *Error type.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// Wrap builds a coded Error, mirroring the teacher's wrapError helper.
func Wrap(code ErrorCode, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

var (
	_ CodedError = (*Error)(nil)
)
