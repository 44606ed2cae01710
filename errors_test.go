package antipark

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("touch", ErrCodeTouch, "cannot open touch file")

	if err.Op != "touch" {
		t.Errorf("Expected Op=touch, got %s", err.Op)
	}
	if err.Code != ErrCodeTouch {
		t.Errorf("Expected Code=ErrCodeTouch, got %s", err.Code)
	}

	expected := "antipark: cannot open touch file (op=touch)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorMessageParts(t *testing.T) {
	err := &Error{
		Op:     "sample",
		Device: "sda",
		Path:   "/sys/block/sda/stat",
		Code:   ErrCodeProbe,
		Errno:  syscall.EACCES,
	}

	expected := "antipark: probe failure (op=sample, device=sda, path=/sys/block/sda/stat, errno=13)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorDefaultsToCode(t *testing.T) {
	err := &Error{Code: ErrCodeProbe}
	if err.Error() != "antipark: probe failure" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWrapErrorExtractsErrno(t *testing.T) {
	inner := &os.PathError{Op: "open", Path: "/sys/block/sda/stat", Err: syscall.ENOENT}
	err := WrapError("sample", ErrCodeProbe, inner)

	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is for the inner error")
	}
}

func TestWrapErrorWithoutErrno(t *testing.T) {
	err := WrapError("sample", ErrCodeProbe, fmt.Errorf("short read"))
	if err.Errno != 0 {
		t.Errorf("Expected Errno=0, got %v", err.Errno)
	}
}

func TestErrorIsByCode(t *testing.T) {
	err := WrapError("touch", ErrCodeTouch, os.ErrPermission)

	if !errors.Is(err, &Error{Code: ErrCodeTouch}) {
		t.Error("Expected errors.Is to match by code")
	}
	if errors.Is(err, &Error{Code: ErrCodeProbe}) {
		t.Error("Expected errors.Is not to match a different code")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("validate", ErrCodeConfig, "interval out of range")

	if !IsCode(err, ErrCodeConfig) {
		t.Error("IsCode should match the error's code")
	}
	if IsCode(err, ErrCodeTouch) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(fmt.Errorf("plain"), ErrCodeConfig) {
		t.Error("IsCode should not match unstructured errors")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !IsCode(wrapped, ErrCodeConfig) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
}
