package engine

import (
	"errors"
	"testing"
	"time"
)

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Kind: ErrCaptureFailed, Msg: "capture_frames", Err: inner}

	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to see through Unwrap")
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to match *Error")
	}
	if target.Kind != ErrCaptureFailed {
		t.Fatalf("kind = %v, want ErrCaptureFailed", target.Kind)
	}
}

func TestEmitterSettleDelayIsOneHundredMilliseconds(t *testing.T) {
	if emitterSettleDelay != 100*time.Millisecond {
		t.Fatalf("emitterSettleDelay = %v, want 100ms", emitterSettleDelay)
	}
}

func TestErrorStringWithoutInner(t *testing.T) {
	err := &Error{Kind: ErrNoFaceDetected, Msg: "no face detected"}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty message")
	}
}

// TestEnrollReturnsChannelClosedAfterShutdown simulates an actor that
// has already stopped (done already closed) to verify the handle
// reports ChannelClosed rather than blocking forever.
func TestEnrollReturnsChannelClosedAfterShutdown(t *testing.T) {
	h := &EngineHandle{
		requests: make(chan engineRequest, requestQueueCapacity),
		done:     make(chan struct{}),
	}
	close(h.done)

	_, _, err := h.Enroll(1)
	if err == nil {
		t.Fatal("expected an error once the actor has stopped")
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if target.Kind != ErrChannelClosed {
		t.Fatalf("kind = %v, want ErrChannelClosed", target.Kind)
	}
}

func TestVerifyReturnsChannelClosedAfterShutdown(t *testing.T) {
	h := &EngineHandle{
		requests: make(chan engineRequest, requestQueueCapacity),
		done:     make(chan struct{}),
	}
	close(h.done)

	_, _, err := h.Verify(nil, 0.4, 3)
	if err == nil {
		t.Fatal("expected an error once the actor has stopped")
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if target.Kind != ErrChannelClosed {
		t.Fatalf("kind = %v, want ErrChannelClosed", target.Kind)
	}
}

// TestVerifyWithTimeoutFiresBeforeSlowReply simulates an actor that is
// still working when the caller's patience runs out: VerifyWithTimeout
// must return ErrTimeout rather than wait for the eventual reply, and
// the actor's later send into the buffered reply channel must not
// block even though nobody is left to receive it.
func TestVerifyWithTimeoutFiresBeforeSlowReply(t *testing.T) {
	h := &EngineHandle{
		requests: make(chan engineRequest, requestQueueCapacity),
		done:     make(chan struct{}),
	}
	release := make(chan struct{})
	go func() {
		req := <-h.requests
		<-release
		r := req.(verifyRequest)
		r.reply <- verifyReply{}
	}()

	_, _, err := h.VerifyWithTimeout(nil, 0.4, 3, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if target.Kind != ErrTimeout {
		t.Fatalf("kind = %v, want ErrTimeout", target.Kind)
	}

	close(release)
}

// TestRequestReplyRoundTrip drains a queued request with a fake
// consumer goroutine, standing in for the real actor loop, to check
// the request/reply plumbing itself.
func TestRequestReplyRoundTrip(t *testing.T) {
	h := &EngineHandle{
		requests: make(chan engineRequest, requestQueueCapacity),
		done:     make(chan struct{}),
	}
	go func() {
		req := <-h.requests
		switch r := req.(type) {
		case enrollRequest:
			r.reply <- enrollReply{QualityScore: 0.77}
		case verifyRequest:
			r.reply <- verifyReply{}
		}
	}()

	_, quality, err := h.Enroll(5)
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}
	if quality != 0.77 {
		t.Fatalf("quality = %v, want 0.77", quality)
	}
}
