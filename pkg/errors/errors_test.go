package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeIORead, "short read").Retryable {
			t.Error("IORead should be retryable by default")
		}
		if NewError(ErrCodeRequestTooLarge, "too big").Retryable {
			t.Error("RequestTooLarge should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeIORead, CategoryIO},
		{ErrCodeIOWrite, CategoryIO},
		{ErrCodeObjectNotFound, CategoryStorage},
		{ErrCodeFileNotFound, CategoryNotFound},
		{ErrCodeEndOfDirectory, CategoryNotFound},
		{ErrCodeNotEmpty, CategoryFilesystem},
		{ErrCodeNoPartition, CategoryFilesystem},
		{ErrCodeOutOfMemory, CategoryResource},
		{ErrCodeRequestTooLarge, CategoryResource},
		{ErrCodeDirectoryFull, CategoryResource},
		{ErrCodeNotDirectory, CategoryContract},
		{ErrCodeNotImplemented, CategoryContract},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestFSError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *FSError
		want string
	}{
		{
			name: "bare",
			err:  NewError(ErrCodeNotEmpty, "directory not empty"),
			want: "NOT_EMPTY: directory not empty",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeNotEmpty, "directory not empty").WithComponent("fat"),
			want: "[fat] NOT_EMPTY: directory not empty",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeNotEmpty, "directory not empty").WithComponent("fat").WithOperation("remove"),
			want: "[fat:remove] NOT_EMPTY: directory not empty",
		},
		{
			name: "with cause",
			err:  Wrap(ErrCodeIORead, "read sector 3", fmt.Errorf("short read")),
			want: "IO_READ: read sector 3: short read",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFSError_Is(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeFileNotFound, "no entry named FOO").WithComponent("fat")
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is should match sentinel by code")
	}
	if errors.Is(err, ErrNotDirectory) {
		t.Error("errors.Is should not match a different code")
	}

	wrapped := fmt.Errorf("lookup: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("errors.Is should see through fmt wrapping")
	}

	var fsErr *FSError
	if !errors.As(wrapped, &fsErr) {
		t.Fatal("errors.As should find FSError")
	}
	if fsErr.Component != "fat" {
		t.Errorf("Component = %q, want fat", fsErr.Component)
	}
}

func TestFSError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("device gone")
	err := Wrap(ErrCodeIOWrite, "write block", cause)
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(fmt.Errorf("x: %w", ErrDirectoryFull)); got != ErrCodeDirectoryFull {
		t.Errorf("CodeOf = %v, want %v", got, ErrCodeDirectoryFull)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeUnknownError {
		t.Errorf("CodeOf(plain) = %v, want %v", got, ErrCodeUnknownError)
	}
	if got := CodeOf(nil); got != ErrCodeUnknownError {
		t.Errorf("CodeOf(nil) = %v, want %v", got, ErrCodeUnknownError)
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	if !IsNotFound(ErrEndOfDirectory) {
		t.Error("end of directory is a not-found outcome")
	}
	if !IsNotFound(fmt.Errorf("wrap: %w", ErrNotFound)) {
		t.Error("wrapped not-found should be detected")
	}
	if IsNotFound(ErrNotEmpty) {
		t.Error("not-empty is not a not-found outcome")
	}
	if IsNotFound(nil) {
		t.Error("nil is not a not-found outcome")
	}
}

func TestFSError_Builders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeIORead, "read failed").
		WithContext("device", "disk0").
		WithDetail("block", 42).
		WithStack()

	if err.Context["device"] != "disk0" {
		t.Errorf("Context[device] = %q", err.Context["device"])
	}
	if err.Details["block"] != 42 {
		t.Errorf("Details[block] = %v", err.Details["block"])
	}
	if err.Stack == "" {
		t.Error("WithStack should capture a stack")
	}
}

func TestFSError_String(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeIOWrite, "flush").WithComponent("bcache").WithOperation("flush_block")
	s := err.String()
	for _, want := range []string{"Code=IO_WRITE", "Component=bcache", "Operation=flush_block", "Retryable=true"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %s, missing %s", s, want)
		}
	}
}

func TestFSError_JSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeDiskFull, "no free clusters").WithComponent("dosfs")
	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != "DISK_FULL" {
		t.Errorf("code = %v, want DISK_FULL", decoded["code"])
	}
	if decoded["component"] != "dosfs" {
		t.Errorf("component = %v, want dosfs", decoded["component"])
	}
}
