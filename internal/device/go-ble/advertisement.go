package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bleanalyzer/internal/device"
)

// Advertisement wraps ble.Advertisement to implement device.Advertisement.
type Advertisement struct {
	adv ble.Advertisement
}

var _ device.Advertisement = (*Advertisement)(nil)

// NewAdvertisement wraps a go-ble advertising report.
func NewAdvertisement(adv ble.Advertisement) *Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *Advertisement) RSSI() int                { return a.adv.RSSI() }

// Addr returns the peer address, or "" when the stack did not report one.
func (a *Advertisement) Addr() string {
	addr := a.adv.Addr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Unwrap returns the underlying ble.Advertisement.
func (a *Advertisement) Unwrap() ble.Advertisement {
	return a.adv
}
