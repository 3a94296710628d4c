package ferrors

import (
	"errors"
	"syscall"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeObjectNotFound, "object missing")
	if err.Code != ErrCodeObjectNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeObjectNotFound)
	}
	if err.Category != CategoryStorage {
		t.Errorf("Category = %v, want %v", err.Category, CategoryStorage)
	}
	if err.Details == nil || err.Context == nil {
		t.Error("Details/Context not initialized")
	}
	if err.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	t.Parallel()

	if !IsRetryableByDefault(ErrCodeConnectionTimeout) {
		t.Error("ConnectionTimeout should be retryable")
	}
	if IsRetryableByDefault(ErrCodeInvalidConfig) {
		t.Error("InvalidConfig should not be retryable")
	}
}

func TestErrorToErrno(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want syscall.Errno
	}{
		{ErrCodeFileNotFound, syscall.ENOENT},
		{ErrCodeObjectNotFound, syscall.ENOENT},
		{ErrCodePermissionDenied, syscall.EACCES},
		{ErrCodePathInvalid, syscall.EINVAL},
		{ErrCodeDirectoryExists, syscall.EEXIST},
		{ErrCodeNotDirectory, syscall.ENOTDIR},
		{ErrCodeNotEmpty, syscall.ENOTEMPTY},
		{ErrCodeInternalError, syscall.EIO},
	}

	for _, c := range cases {
		e := New(c.code, "test")
		if got := e.ToErrno(); got != c.want {
			t.Errorf("Code %v: ToErrno() = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestToErrnoUnwrapsCause(t *testing.T) {
	t.Parallel()

	wrapped := New(ErrCodeFileNotFound, "no such object").WithCause(errors.New("s3: key not found"))
	outer := errors.New("lookup failed")
	outer = errors.Join(outer, wrapped)

	if got := ToErrno(outer); got != syscall.ENOENT {
		t.Errorf("ToErrno() = %v, want ENOENT", got)
	}

	if got := ToErrno(nil); got != 0 {
		t.Errorf("ToErrno(nil) = %v, want 0", got)
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	if !IsNotFound(New(ErrCodeObjectNotFound, "missing")) {
		t.Error("ObjectNotFound should report IsNotFound")
	}
	if !IsNotFound(New(ErrCodeFileNotFound, "missing")) {
		t.Error("FileNotFound should report IsNotFound")
	}
	if IsNotFound(New(ErrCodeAccessDenied, "denied")) {
		t.Error("AccessDenied should not report IsNotFound")
	}
	if IsNotFound(errors.New("plain error")) {
		t.Error("plain errors should not report IsNotFound")
	}
}

func TestErrorUnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := errors.New("network reset")
	err := New(ErrCodeNetworkError, "request failed").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	other := New(ErrCodeNetworkError, "different message")
	if !errors.Is(err, other) {
		t.Error("errors with the same code should match via Is")
	}
}

func TestWithHelpers(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeChunkIncomplete, "chunk not ready").
		WithComponent("chunked").
		WithOperation("Read").
		WithPath("/bucket/key").
		WithContext("chunk_index", "3")

	want := "[chunked:Read] CHUNK_INCOMPLETE: chunk not ready (/bucket/key)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Context["chunk_index"] != "3" {
		t.Error("WithContext did not set value")
	}
}
