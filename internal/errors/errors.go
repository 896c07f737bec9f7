// Package errors provides structured error handling for portscout operations.
// It defines error codes and typed errors for the scan pipeline, the
// persistence layer, and configuration, plus helpers for inspecting them.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Scan pipeline errors.
	CodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"
	CodeProbeFailed      ErrorCode = "PROBE_FAILED"
	CodeBannerFailed     ErrorCode = "BANNER_FAILED"
	CodeScanFailed       ErrorCode = "SCAN_FAILED"

	// Persistence errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeFileWrite          ErrorCode = "FILE_WRITE"
	CodeFileRead           ErrorCode = "FILE_READ"
	CodeDirectoryCreate    ErrorCode = "DIRECTORY_CREATE"
)

// ResolutionError is returned when a scan target cannot be turned into an
// address. It is the only error that aborts a scan.
type ResolutionError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] could not resolve %s: %v", CodeResolutionFailed, e.Target, e.Cause)
	}
	return fmt.Sprintf("[%s] could not resolve %s", CodeResolutionFailed, e.Target)
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// NewResolutionError creates a resolution error for target.
func NewResolutionError(target string, cause error) *ResolutionError {
	return &ResolutionError{Target: target, Cause: cause}
}

// ProbeErrorKind narrows down why a probe produced no definitive answer.
type ProbeErrorKind string

const (
	ProbeKindTimeout     ProbeErrorKind = "timeout"
	ProbeKindUnreachable ProbeErrorKind = "unreachable"
	ProbeKindLocal       ProbeErrorKind = "local_resource"
	ProbeKindCanceled    ProbeErrorKind = "canceled"
	ProbeKindPanic       ProbeErrorKind = "panic"
	ProbeKindOther       ProbeErrorKind = "other"
)

// ProbeError describes a per-port probe failure. Probe errors never cross the
// scan boundary; they are folded into the filtered state.
type ProbeError struct {
	Address string
	Port    int
	Kind    ProbeErrorKind
	Cause   error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("[%s] probe %s:%d failed (%s): %v", CodeProbeFailed, e.Address, e.Port, e.Kind, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// BannerError describes a failed banner read.
type BannerError struct {
	Address string
	Port    int
	Cause   error
}

// Error implements the error interface.
func (e *BannerError) Error() string {
	return fmt.Sprintf("[%s] banner %s:%d: %v", CodeBannerFailed, e.Address, e.Port, e.Cause)
}

// Unwrap returns the underlying error.
func (e *BannerError) Unwrap() error {
	return e.Cause
}

// ScanError represents a non-resolution failure around a scan run, such as an
// invalid request.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// FileError represents failures reading or writing scan artifacts.
type FileError struct {
	Code  ErrorCode
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Path, e.Cause)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Cause
}

// NewFileError creates a file error for path.
func NewFileError(code ErrorCode, path string, cause error) *FileError {
	return &FileError{Code: code, Path: path, Cause: cause}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// GetCode extracts the error code from the first typed error in err's chain.
func GetCode(err error) ErrorCode {
	var (
		resErr    *ResolutionError
		probeErr  *ProbeError
		bannerErr *BannerError
		scanErr   *ScanError
		dbErr     *DatabaseError
		fileErr   *FileError
		cfgErr    *ConfigError
	)
	switch {
	case stderrors.As(err, &resErr):
		return CodeResolutionFailed
	case stderrors.As(err, &scanErr):
		return scanErr.Code
	case stderrors.As(err, &dbErr):
		return dbErr.Code
	case stderrors.As(err, &fileErr):
		return fileErr.Code
	case stderrors.As(err, &cfgErr):
		return cfgErr.Code
	case stderrors.As(err, &probeErr):
		return CodeProbeFailed
	case stderrors.As(err, &bannerErr):
		return CodeBannerFailed
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsResolutionError reports whether err is, or wraps, a ResolutionError.
func IsResolutionError(err error) bool {
	var resErr *ResolutionError
	return stderrors.As(err, &resErr)
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
