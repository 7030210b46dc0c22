package camera

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := newErr(ErrCaptureFailed, "dequeue", inner)

	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to find wrapped inner error")
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatal("expected errors.As to match *Error")
	}
	if ce.Kind != ErrCaptureFailed {
		t.Fatalf("unexpected kind: %v", ce.Kind)
	}
}

func TestErrorStringWithoutInner(t *testing.T) {
	err := newErr(ErrDeviceBusy, "device busy", nil)
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}
