// Package emitter drives the IR illuminator on Windows Hello-class
// cameras via vendor-specific UVC extension-unit ioctls, using the
// compile-time quirk database to find the (unit, selector, payload)
// triple for the camera in front of it.
package emitter

import (
	"fmt"

	"github.com/sovren-software/visage/internal/quirks"
	"github.com/sovren-software/visage/internal/types"
)

// Error reports an emitter failure. Per spec.md §7, emitter errors are
// always logged by the caller and never propagated as a call failure —
// IR illumination is an enhancement, not a precondition for capture.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("emitter: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Emitter controls the IR illuminator on one camera device.
type Emitter struct {
	devicePath string
	quirk      types.Quirk
}

// ForDevice resolves the USB ids of devicePath and looks them up in
// db. Returns ok=false if either step fails — the caller logs and
// proceeds without illumination, per spec.md §9.
func ForDevice(devicePath string, db *quirks.DB) (*Emitter, bool) {
	vid, pid, err := quirks.UsbIDsForDevice(devicePath)
	if err != nil {
		return nil, false
	}
	q, ok := db.Lookup(vid, pid)
	if !ok {
		return nil, false
	}
	return &Emitter{devicePath: devicePath, quirk: q}, true
}

// Name is the quirk database's human-readable name for this camera.
func (e *Emitter) Name() string { return e.quirk.Name }

// Activate sends the quirk's control payload to turn the emitter on.
func (e *Emitter) Activate() error {
	payload := make([]byte, len(e.quirk.ControlBytes))
	copy(payload, e.quirk.ControlBytes)
	if err := e.sendUVCControl(payload); err != nil {
		return &Error{Op: "activate", Err: err}
	}
	return nil
}

// Deactivate sends an all-zero payload of the same length to turn the
// emitter off.
func (e *Emitter) Deactivate() error {
	payload := make([]byte, len(e.quirk.ControlBytes))
	if err := e.sendUVCControl(payload); err != nil {
		return &Error{Op: "deactivate", Err: err}
	}
	return nil
}
