// Package camera owns the V4L2 capture device: opening it, negotiating
// a pixel format, streaming mmap'd buffers, and converting dequeued
// frames to grayscale. Exactly one *Camera is ever open per process —
// it is driven only from the engine's dedicated thread.
package camera

import (
	"fmt"
)

// Kind enumerates the camera error taxonomy from spec.md §7.
type Kind int

const (
	ErrDeviceNotFound Kind = iota
	ErrDeviceBusy
	ErrFormatNegotiationFailed
	ErrCaptureFailed
	ErrStreamingNotSupported
)

// Error is the camera component's typed error, dispatchable via
// errors.As without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("camera: %s", e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

type mappedBuffer struct {
	data   []byte
	length uint32
}

// Camera is a single open V4L2 capture session.
type Camera struct {
	fd      int
	path    string
	width   int
	height  int
	stride  int
	pixFmt  uint32
	buffers []mappedBuffer
	seq     uint32
}

// DeviceInfo describes one enumerated capture device.
type DeviceInfo struct {
	Path   string
	Card   string
	Driver string
	Bus    string
}

// dropThreshold is the number of consecutive dequeue failures the
// capture loop tolerates before treating the driver as dead.
const dropThreshold = 30

// capturesPerRequestedFrame bounds how many raw dequeues CaptureFrames
// performs per frame it needs to keep, per spec.md §4.B ("up to 3n
// dequeues").
const capturesPerRequestedFrame = 3
