// Package errors provides structured error types for the deltaschema service.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/arkilian/deltaschema/pkg/types"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryParse      ErrorCategory = "PARSE"
	ErrCategoryConversion ErrorCategory = "CONVERSION"
	ErrCategoryCheckpoint ErrorCategory = "CHECKPOINT"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Parse codes
	CodeInvalidSchema = "INVALID_SCHEMA"
	CodeInvalidLog    = "INVALID_LOG"

	// Conversion codes
	CodeUnsupportedType = "UNSUPPORTED_TYPE"

	// Checkpoint codes
	CodeCheckpointRead     = "CHECKPOINT_READ"
	CodeCheckpointMismatch = "CHECKPOINT_MISMATCH"

	// Validation codes
	CodeInvalidRequest = "INVALID_REQUEST"

	// Storage codes
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Catalog codes
	CodeVersionNotFound = "VERSION_NOT_FOUND"
	CodeCorruptEntry    = "CORRUPT_ENTRY"
	CodeWriteFailed     = "WRITE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DeltaSchemaError is the structured error type used throughout the service.
type DeltaSchemaError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DeltaSchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DeltaSchemaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DeltaSchemaError) Is(target error) bool {
	var t *DeltaSchemaError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DeltaSchemaError.
func New(category ErrorCategory, code, message string) *DeltaSchemaError {
	return &DeltaSchemaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DeltaSchemaError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DeltaSchemaError {
	return &DeltaSchemaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DeltaSchemaError) WithDetails(details map[string]interface{}) *DeltaSchemaError {
	cp := *e
	cp.Details = details
	return &cp
}

// Classify returns err as a DeltaSchemaError. Errors already carrying a
// category are returned unchanged; the schema taxonomy types are mapped to
// their categories; anything else is INTERNAL.
func Classify(err error) *DeltaSchemaError {
	if err == nil {
		return nil
	}
	var de *DeltaSchemaError
	if errors.As(err, &de) {
		return de
	}

	var pe *types.ParseError
	var ce *types.ConversionError
	var cre *types.CheckpointReadError
	switch {
	case errors.As(err, &pe):
		return Wrap(ErrCategoryParse, CodeInvalidSchema, "invalid schema", err)
	case errors.As(err, &ce):
		return Wrap(ErrCategoryConversion, CodeUnsupportedType, "schema conversion failed", err)
	case errors.As(err, &cre):
		return Wrap(ErrCategoryCheckpoint, CodeCheckpointRead, "checkpoint read failed", err)
	default:
		return Wrap(ErrCategoryInternal, CodeUnexpected, "unexpected error", err)
	}
}

// HTTPStatus maps an error to the HTTP status code reported by the API.
func HTTPStatus(err error) int {
	de := Classify(err)
	if de == nil {
		return http.StatusOK
	}
	switch {
	case de.Category == ErrCategoryParse, de.Category == ErrCategoryValidation:
		return http.StatusBadRequest
	case de.Category == ErrCategoryConversion:
		return http.StatusUnprocessableEntity
	case de.Code == CodeObjectNotFound, de.Code == CodeVersionNotFound:
		return http.StatusNotFound
	case de.Retryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DeltaSchemaError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DeltaSchemaError.
func GetCategory(err error) ErrorCategory {
	var de *DeltaSchemaError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DeltaSchemaError.
func GetCode(err error) string {
	var de *DeltaSchemaError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeWriteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewParseError(code, message string, cause error) *DeltaSchemaError {
	return Wrap(ErrCategoryParse, code, message, cause)
}

func NewValidationError(message string) *DeltaSchemaError {
	return New(ErrCategoryValidation, CodeInvalidRequest, message)
}

func NewStorageError(code, message string, cause error) *DeltaSchemaError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *DeltaSchemaError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewInternalError(message string, cause error) *DeltaSchemaError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
