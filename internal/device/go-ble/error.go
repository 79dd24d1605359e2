package goble

import (
	"fmt"
	"strings"

	"github.com/srg/bleanalyzer/internal/device"
)

// NormalizeError maps go-ble error strings onto the device sentinel errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	// go-ble reports a dropped link as "disconnected" on both stacks
	if strings.Contains(strings.ToLower(err.Error()), "disconnected") {
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	}
	return device.NormalizeError(err)
}
