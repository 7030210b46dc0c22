// Package pam holds the PAM authentication bridge's pure-Go half: the
// D-Bus call to the daemon's Verify method and the return-code
// collapse that keeps every failure mode fail-safe. The cgo-exported
// pam_sm_authenticate entry point (cmd/pam_visage) is a thin wrapper
// around this package so its logic stays testable without a C ABI.
package pam

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName     = "org.freedesktop.Visage1"
	objectPath  = "/org/freedesktop/Visage1"
	ifaceName   = "org.freedesktop.Visage1"
	callTimeout = 3 * time.Second
)

// ReturnCode is the value the PAM entry point hands back to the
// framework. Per spec.md §4.F, authentication never returns anything
// outside {Success, Ignore} — a biometric augments a password, it
// never locks one out.
type ReturnCode int

const (
	Success ReturnCode = 0
	Ignore  ReturnCode = 25
)

// ErrDaemonUnavailable is returned when the bus (the system bus, or
// the session bus when VISAGE_SESSION_BUS is set) has no owner for
// org.freedesktop.Visage1.
var ErrDaemonUnavailable = errors.New("pam: visage daemon unavailable")

// Verify calls the daemon's Verify(username) method with a fixed
// 3-second timeout and returns its boolean result.
func Verify(username string) (bool, error) {
	conn, err := connectBus()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if !busNameHasOwner(conn, busName) {
		return false, ErrDaemonUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	obj := conn.Object(busName, dbus.ObjectPath(objectPath))
	call := obj.CallWithContext(ctx, ifaceName+".Verify", 0, username)
	if call.Err != nil {
		return false, call.Err
	}

	var matched bool
	if err := call.Store(&matched); err != nil {
		return false, err
	}
	return matched, nil
}

func connectBus() (*dbus.Conn, error) {
	if os.Getenv("VISAGE_SESSION_BUS") != "" {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}

func busNameHasOwner(conn *dbus.Conn, name string) bool {
	var hasOwner bool
	err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&hasOwner)
	return err == nil && hasOwner
}

// ReturnCodeFor collapses a Verify outcome into the PAM return code:
// Success only on a true match with no error, Ignore for everything
// else. This is the one place that decision is made, so the cgo
// entry point can't accidentally leak a denial code.
func ReturnCodeFor(matched bool, err error) ReturnCode {
	if err != nil || !matched {
		return Ignore
	}
	return Success
}
