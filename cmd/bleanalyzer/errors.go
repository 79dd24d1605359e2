package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bleanalyzer/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link went down while a command was waiting on it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error into a message for the terminal.
func FormatUserError(err error) string {
	var nf *device.NotFoundError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out waiting for the device (%v)", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("the device disconnected before the command completed (%v)", err)
	case errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("device is not connected (%v)", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("not supported on this platform (%v)", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("%v; check the UUIDs against the device profile", nf)
	default:
		return err.Error()
	}
}
