package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured error raised by the modeling core
type AppError struct {
	Code    string
	Message string
	// Field names the variable, column or request field that violated an invariant.
	Field string
	Cause error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %q)", msg, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the inner code
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Field:   appErr.Field,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithField returns a copy of the error annotated with the offending field
func (e *AppError) WithField(field string) *AppError {
	cp := *e
	cp.Field = field
	return &cp
}

// GetCode returns the error code of the outermost AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeConvergence    = "CONVERGENCE_ERROR"
	CodeSchemaMismatch = "SCHEMA_MISMATCH"

	CodeConfigInvalid = "CONFIG_INVALID"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeInternalError = "INTERNAL_ERROR"
)

// Configuration reports invalid input shape: degenerate categoricals, non-positive exposure.
func Configuration(field, format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...), Field: field}
}

// Convergence reports a numerically failed fit.
func Convergence(format string, args ...interface{}) *AppError {
	return New(CodeConvergence, fmt.Sprintf(format, args...))
}

// SchemaMismatch reports a prediction request incompatible with the training schema.
func SchemaMismatch(field, format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeSchemaMismatch, Message: fmt.Sprintf(format, args...), Field: field}
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

// hasCode reports whether any AppError in the chain carries code
func hasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsConfiguration checks for a ConfigurationError anywhere in the chain
func IsConfiguration(err error) bool { return hasCode(err, CodeConfiguration) }

// IsConvergence checks for a ConvergenceError anywhere in the chain
func IsConvergence(err error) bool { return hasCode(err, CodeConvergence) }

// IsSchemaMismatch checks for a SchemaMismatchError anywhere in the chain
func IsSchemaMismatch(err error) bool { return hasCode(err, CodeSchemaMismatch) }
