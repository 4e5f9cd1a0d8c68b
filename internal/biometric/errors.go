package biometric

import (
	"errors"
	"fmt"
)

// Error codes shared by the HTTP surface and the CLI.
const (
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeMissingField             = "MISSING_FIELD"
	CodeInvalidIdentity          = "INVALID_IDENTITY"
	CodeInvalidSample            = "INVALID_SAMPLE"
	CodeNoSubjectDetected        = "NO_SUBJECT_DETECTED"
	CodeMultipleSubjectsDetected = "MULTIPLE_SUBJECTS_DETECTED"
	CodeExtractionFailed         = "EXTRACTION_FAILED"
	CodeExtractionTimeout        = "EXTRACTION_TIMEOUT"
	CodeNotReady                 = "NOT_READY"
	CodeNotEnrolled              = "NOT_ENROLLED"
	CodeInsufficientEnrollment   = "INSUFFICIENT_ENROLLMENT"
	CodeDimensionMismatch        = "DIMENSION_MISMATCH"
	CodeStorageError             = "STORAGE_ERROR"
	CodeInternal                 = "INTERNAL_ERROR"
)

var (
	ErrNotEnrolled              = errors.New("identity not enrolled")
	ErrInsufficientEnrollment   = errors.New("insufficient enrollment")
	ErrDimensionMismatch        = errors.New("embedding dimension mismatch")
	ErrNoSubjectDetected        = errors.New("no subject detected in sample")
	ErrMultipleSubjectsDetected = errors.New("multiple subjects detected in sample")
	ErrExtractionTimeout        = errors.New("extraction timed out")
	ErrExtractionFailed         = errors.New("extraction failed")
	ErrStorage                  = errors.New("storage error")
	ErrNotReady                 = errors.New("service not ready")
)

// ValidationError reports malformed or missing input. It never reaches the
// matching engine.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// DimensionMismatchError is returned when a sample's length differs from the
// length the identity was enrolled with.
type DimensionMismatchError struct {
	Identity Identity
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch for identity %s: expected %d, got %d", e.Identity, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// StorageError wraps a failure of the enrollment store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err unless it is nil or already a storage or
// dimension error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrDimensionMismatch) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ErrorCode maps an error to its public code.
func ErrorCode(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.Is(err, ErrNoSubjectDetected):
		return CodeNoSubjectDetected
	case errors.Is(err, ErrMultipleSubjectsDetected):
		return CodeMultipleSubjectsDetected
	case errors.Is(err, ErrExtractionTimeout):
		return CodeExtractionTimeout
	case errors.Is(err, ErrExtractionFailed):
		return CodeExtractionFailed
	case errors.Is(err, ErrDimensionMismatch):
		return CodeDimensionMismatch
	case errors.Is(err, ErrNotEnrolled):
		return CodeNotEnrolled
	case errors.Is(err, ErrInsufficientEnrollment):
		return CodeInsufficientEnrollment
	case errors.Is(err, ErrNotReady):
		return CodeNotReady
	case errors.Is(err, ErrStorage):
		return CodeStorageError
	}
	return CodeInternal
}
