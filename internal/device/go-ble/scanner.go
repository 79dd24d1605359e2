package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/bleanalyzer/internal/device"
)

// AdvertisementSource is the scanning half of ble.Device.
type AdvertisementSource interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// Scanner adapts a go-ble device to device.ScanningDevice.
type Scanner struct {
	dev AdvertisementSource
}

var _ device.ScanningDevice = (*Scanner)(nil)

// NewScanner wraps dev. Any ble.Device qualifies.
func NewScanner(dev AdvertisementSource) *Scanner {
	return &Scanner{dev: dev}
}

// Scan runs until ctx is done or the stack fails. Stack errors are normalized.
func (s *Scanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	})
	return NormalizeError(err)
}
