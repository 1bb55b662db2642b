package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Schema errors
	ErrColumnNotFound  = errors.New("column not found")
	ErrWrongColumnKind = errors.New("column has wrong kind")
	ErrEmptyTable      = errors.New("table has no records")
	ErrNoKeyVariables  = errors.New("no key variables designated")

	// Parameter errors
	ErrInvalidThreshold   = errors.New("invalid k-anonymity threshold: must be >= 1")
	ErrInvalidGroupSize   = errors.New("invalid aggregation group size: must be >= 2")
	ErrUnknownNoiseMethod = errors.New("unknown noise method")
	ErrInvalidMagnitude   = errors.New("invalid noise magnitude")
	ErrInvalidBreaks      = errors.New("recoding breaks must be strictly increasing")
	ErrMissingTransition  = errors.New("no transition matrix for variable")
	ErrNotStochastic      = errors.New("transition matrix rows must sum to 1")

	// Statistical degeneracy
	ErrModelNotConverged  = errors.New("log-linear model did not converge")
	ErrSingularCovariance = errors.New("covariance matrix is singular")
	ErrDegenerateDomain   = errors.New("variable domain too small")

	// Dataset I/O errors
	ErrReadFailed     = errors.New("dataset read failed")
	ErrWriteFailed    = errors.New("dataset write failed")
	ErrRaggedRecord   = errors.New("record length does not match header")
	ErrUnknownDataset = errors.New("unknown bundled dataset")

	// Pipeline errors
	ErrStageNotFound = errors.New("pipeline stage not found")
	ErrInfeasible    = errors.New("target k-anonymity not reachable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeParameter  ErrorType = "parameter"
	ErrorTypeDegeneracy ErrorType = "degeneracy"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypePipeline   ErrorType = "pipeline"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewSchemaError creates a schema error (referenced column absent or of
// the wrong kind). Schema errors abort the run before any mutation.
func NewSchemaError(code, message string) *AppError {
	return NewAppError(ErrorTypeSchema, code, message)
}

// NewParameterError creates a parameter error (invalid threshold, group
// size, or method name). Rejected before execution.
func NewParameterError(code, message string) *AppError {
	return NewAppError(ErrorTypeParameter, code, message)
}

// NewDegeneracyError creates a statistical-degeneracy error. The affected
// stage is skipped or falls back; the table is left unmodified.
func NewDegeneracyError(code, message string) *AppError {
	return NewAppError(ErrorTypeDegeneracy, code, message)
}

// NewIOError creates a dataset read/write error
func NewIOError(code, message string) *AppError {
	return NewAppError(ErrorTypeIO, code, message)
}

// NewPipelineError creates a pipeline sequencing error
func NewPipelineError(code, message string) *AppError {
	return NewAppError(ErrorTypePipeline, code, message)
}

// GetErrorType extracts the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsSchemaError checks if the error is a schema error
func IsSchemaError(err error) bool {
	return GetErrorType(err) == ErrorTypeSchema
}

// IsParameterError checks if the error is a parameter error
func IsParameterError(err error) bool {
	return GetErrorType(err) == ErrorTypeParameter
}

// IsDegeneracy checks if the error is a statistical-degeneracy condition
func IsDegeneracy(err error) bool {
	return GetErrorType(err) == ErrorTypeDegeneracy
}
