package crs

import (
	"errors"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Init", ErrCodeStartup, "could not reserve region")

	if err.Op != "Init" {
		t.Errorf("Op = %s, want Init", err.Op)
	}
	if err.Code != ErrCodeStartup {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeStartup)
	}

	expected := "crs: could not reserve region (op=Init)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestComponentError(t *testing.T) {
	err := NewComponentError("FlushBuffers", "tlbmanager", ErrCodeInvariant, "buffer not owned")

	if err.Component != "tlbmanager" {
		t.Errorf("Component = %s, want tlbmanager", err.Component)
	}

	expected := "crs: buffer not owned (op=FlushBuffers)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestWrapError(t *testing.T) {
	inner := errors.New("boom")
	err := WrapError("Ensure", inner)

	if err.Code != ErrCodeInvariant {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeInvariant)
	}
	if !errors.Is(err, err) {
		t.Error("expected errors.Is to match itself")
	}
	if errors.Unwrap(err) != inner {
		t.Error("expected Unwrap to return the original inner error")
	}
}

func TestWrapError_PreservesComponentOnReWrap(t *testing.T) {
	inner := NewComponentError("Ensure", "tlbmanager", ErrCodeOverflow, "exhausted")
	wrapped := WrapError("Alloc", inner)

	if wrapped.Component != "tlbmanager" {
		t.Errorf("Component = %s, want tlbmanager", wrapped.Component)
	}
	if wrapped.Code != ErrCodeOverflow {
		t.Errorf("Code = %s, want %s", wrapped.Code, ErrCodeOverflow)
	}
}

func TestWrapError_Nil(t *testing.T) {
	if WrapError("Op", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Test", ErrCodeOverflow, "arena full")

	if !IsCode(err, ErrCodeOverflow) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeStartup) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeOverflow) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := &Error{Code: ErrCodeOverflow}
	b := &Error{Code: ErrCodeOverflow, Op: "different"}

	if !errors.Is(a, b) {
		t.Error("errors with the same code should match via errors.Is")
	}
}
