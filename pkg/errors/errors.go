// Package errors provides a structured error system for fatvfs with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for fatvfs operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Device I/O Errors
	ErrCodeIORead  ErrorCode = "IO_READ"
	ErrCodeIOWrite ErrorCode = "IO_WRITE"

	// Storage Backend Errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"

	// Filesystem Errors
	ErrCodeFileNotFound   ErrorCode = "FILE_NOT_FOUND"
	ErrCodeEndOfDirectory ErrorCode = "END_OF_DIRECTORY"
	ErrCodeNotDirectory   ErrorCode = "NOT_DIRECTORY"
	ErrCodeNotEmpty       ErrorCode = "NOT_EMPTY"
	ErrCodeFileExists     ErrorCode = "FILE_EXISTS"
	ErrCodeNoPartition    ErrorCode = "NO_PARTITION"
	ErrCodeInvalidVolume  ErrorCode = "INVALID_VOLUME"
	ErrCodeMountFailed    ErrorCode = "MOUNT_FAILED"
	ErrCodeReadOnly       ErrorCode = "READ_ONLY"

	// Resource Management Errors
	ErrCodeOutOfMemory       ErrorCode = "OUT_OF_MEMORY"
	ErrCodePoolExhausted     ErrorCode = "POOL_EXHAUSTED"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeRequestTooLarge   ErrorCode = "REQUEST_TOO_LARGE"
	ErrCodeDirectoryFull     ErrorCode = "DIRECTORY_FULL"
	ErrCodeDiskFull          ErrorCode = "DISK_FULL"

	// State / contract Errors
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeAlreadyMounted  ErrorCode = "ALREADY_MOUNTED"
	ErrCodeNotImplemented  ErrorCode = "NOT_IMPLEMENTED"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryIO            ErrorCategory = "io"
	CategoryStorage       ErrorCategory = "storage"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryResource      ErrorCategory = "resource"
	CategoryContract      ErrorCategory = "contract"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinel errors. errors.Is matches any FSError carrying the same code.
var (
	ErrNotFound          = NewError(ErrCodeFileNotFound, "no such entry")
	ErrEndOfDirectory    = NewError(ErrCodeEndOfDirectory, "end of directory")
	ErrNotDirectory      = NewError(ErrCodeNotDirectory, "not a directory")
	ErrNotEmpty          = NewError(ErrCodeNotEmpty, "directory not empty")
	ErrExists            = NewError(ErrCodeFileExists, "entry already exists")
	ErrNoPartition       = NewError(ErrCodeNoPartition, "no usable partition")
	ErrInvalidVolume     = NewError(ErrCodeInvalidVolume, "invalid volume")
	ErrOutOfMemory       = NewError(ErrCodeOutOfMemory, "allocation failed")
	ErrPoolExhausted     = NewError(ErrCodePoolExhausted, "object pool exhausted")
	ErrResourceExhausted = NewError(ErrCodeResourceExhausted, "resources exhausted")
	ErrRequestTooLarge   = NewError(ErrCodeRequestTooLarge, "request exceeds capacity")
	ErrDirectoryFull     = NewError(ErrCodeDirectoryFull, "directory needs a new cluster")
	ErrDiskFull          = NewError(ErrCodeDiskFull, "no free clusters")
	ErrInvalidArgument   = NewError(ErrCodeInvalidArgument, "invalid argument")
	ErrNotImplemented    = NewError(ErrCodeNotImplemented, "not implemented")
	ErrReadOnly          = NewError(ErrCodeReadOnly, "read-only device")
)

// FSError represents a structured error with context and metadata.
type FSError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *FSError) Error() string {
	var msg string
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		} else {
			msg = fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
		}
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *FSError) Is(target error) bool {
	if fsErr, ok := target.(*FSError); ok {
		return e.Code == fsErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *FSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("FSError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *FSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new fatvfs error with default values.
func NewError(code ErrorCode, message string) *FSError {
	return &FSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new error with the given code that wraps cause.
func Wrap(code ErrorCode, message string, cause error) *FSError {
	return NewError(code, message).WithCause(cause)
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *FSError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the first FSError in err's chain, or ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if fsErr, ok := err.(*FSError); ok {
			return fsErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeUnknownError
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeIORead, ErrCodeIOWrite:
		return CategoryIO
	case ErrCodeObjectNotFound, ErrCodeStorageRead, ErrCodeStorageWrite:
		return CategoryStorage
	case ErrCodeFileNotFound, ErrCodeEndOfDirectory:
		return CategoryNotFound
	case ErrCodeNotEmpty, ErrCodeFileExists, ErrCodeNoPartition, ErrCodeInvalidVolume, ErrCodeMountFailed, ErrCodeReadOnly:
		return CategoryFilesystem
	case ErrCodeOutOfMemory, ErrCodePoolExhausted, ErrCodeResourceExhausted,
		ErrCodeRequestTooLarge, ErrCodeDirectoryFull, ErrCodeDiskFull:
		return CategoryResource
	case ErrCodeNotDirectory, ErrCodeInvalidArgument, ErrCodeInvalidState,
		ErrCodeAlreadyMounted, ErrCodeNotImplemented:
		return CategoryContract
	case ErrCodeOperationCanceled, ErrCodeRetryExhausted:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeIORead:       true,
		ErrCodeIOWrite:      true,
		ErrCodeStorageRead:  true,
		ErrCodeStorageWrite: true,
	}
	return retryableCodes[code]
}

// IsNotFound reports whether err is a not-found outcome (lookup miss or end of directory).
func IsNotFound(err error) bool {
	var fsErr *FSError
	for e := err; e != nil; {
		if f, ok := e.(*FSError); ok {
			fsErr = f
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return fsErr != nil && fsErr.Category == CategoryNotFound
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *FSError) WithContext(key, value string) *FSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *FSError) WithDetail(key string, value interface{}) *FSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *FSError) WithComponent(component string) *FSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *FSError) WithOperation(operation string) *FSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *FSError) WithCause(cause error) *FSError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *FSError) WithStack() *FSError {
	e.Stack = CaptureStack(2)
	return e
}
