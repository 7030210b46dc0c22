package pam

import (
	"errors"
	"testing"
)

func TestReturnCodeForSuccess(t *testing.T) {
	if got := ReturnCodeFor(true, nil); got != Success {
		t.Fatalf("got %v, want Success", got)
	}
}

func TestReturnCodeForNoMatch(t *testing.T) {
	if got := ReturnCodeFor(false, nil); got != Ignore {
		t.Fatalf("got %v, want Ignore", got)
	}
}

func TestReturnCodeForError(t *testing.T) {
	if got := ReturnCodeFor(true, errors.New("bus unavailable")); got != Ignore {
		t.Fatalf("got %v, want Ignore even with matched=true, since err != nil", got)
	}
}

func TestReturnCodeForErrorAndNoMatch(t *testing.T) {
	if got := ReturnCodeFor(false, ErrDaemonUnavailable); got != Ignore {
		t.Fatalf("got %v, want Ignore", got)
	}
}
