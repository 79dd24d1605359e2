// Package advert classifies BLE advertising reports.
//
// Devices running the tracked firmware announce themselves with a fixed local
// name and a 9-byte manufacturer-specific block: a 7-byte ASCII marker followed
// by the advertising interval as a big-endian uint16 counted in 0.625 ms slots.
package advert

import (
	"encoding/binary"
	"math"

	"github.com/go-ble/ble/linux/adv"
	"github.com/srg/bleanalyzer/internal/device"
)

const (
	// TrackedName is the local name advertised by the tracked firmware.
	TrackedName = "RFdroid"

	// Marker is the ASCII prefix of the tracked firmware's manufacturer block.
	Marker = "RFdroid"

	// BlockLength is the exact manufacturer block length carrying an interval.
	BlockLength = 9

	// IntervalFactor converts raw interval slots into time units (ms).
	IntervalFactor = 0.625

	// NoInterval marks records that carry no advertising interval.
	NoInterval = -1
)

// Kind classifies a decoded advertisement.
type Kind int

const (
	Ignored Kind = iota
	GenericDevice
	TrackedDevice
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case GenericDevice:
		return "generic"
	case TrackedDevice:
		return "tracked"
	default:
		return "ignored"
	}
}

// Result is the outcome of decoding one advertisement.
type Result struct {
	Kind          Kind
	Address       string
	Name          string
	RSSI          int
	IntervalUnits int // NoInterval unless Kind == TrackedDevice
}

// Decoder holds the firmware identity to match. The zero value is not usable; use New or Default.
type Decoder struct {
	trackedName string
	marker      string
}

// New creates a decoder for the given firmware name and manufacturer marker.
// An empty argument falls back to the default identity.
func New(trackedName, marker string) *Decoder {
	if trackedName == "" {
		trackedName = TrackedName
	}
	if marker == "" {
		marker = Marker
	}
	return &Decoder{trackedName: trackedName, marker: marker}
}

// Default returns a decoder for the stock RFdroid firmware.
func Default() *Decoder {
	return New(TrackedName, Marker)
}

// Decode classifies an advertisement given its manufacturer-specific block.
func (d *Decoder) Decode(addr, name string, rssi int, manufacturerData []byte) Result {
	// anonymous reports cannot be listed or connected to
	if addr == "" || name == "" {
		return Result{Kind: Ignored, Address: addr, Name: name, RSSI: rssi, IntervalUnits: NoInterval}
	}

	if name != d.trackedName {
		return Result{
			Kind:          GenericDevice,
			Address:       addr,
			Name:          name,
			RSSI:          rssi,
			IntervalUnits: NoInterval,
		}
	}

	interval, ok := d.interval(manufacturerData)
	if !ok {
		return Result{Kind: Ignored, Address: addr, Name: name, RSSI: rssi, IntervalUnits: NoInterval}
	}

	return Result{
		Kind:          TrackedDevice,
		Address:       addr,
		Name:          name,
		RSSI:          rssi,
		IntervalUnits: interval,
	}
}

// DecodePayload classifies an advertisement from its raw AD structures.
// A malformed payload never fails: it simply yields no manufacturer block.
func (d *Decoder) DecodePayload(addr, name string, rssi int, payload []byte) Result {
	return d.Decode(addr, name, rssi, manufacturerBlock(payload))
}

// DecodeAdvertisement classifies an advertisement received from a scanner.
// The raw payload is preferred when the scanner provides one.
func (d *Decoder) DecodeAdvertisement(a device.Advertisement) Result {
	if raw, ok := a.(device.RawAdvertisement); ok {
		if p := raw.Payload(); len(p) > 0 {
			return d.DecodePayload(a.Addr(), a.LocalName(), a.RSSI(), p)
		}
	}
	return d.Decode(a.Addr(), a.LocalName(), a.RSSI(), a.ManufacturerData())
}

func (d *Decoder) interval(block []byte) (int, bool) {
	if len(block) != BlockLength || len(d.marker) != BlockLength-2 {
		return 0, false
	}
	if string(block[:BlockLength-2]) != d.marker {
		return 0, false
	}
	raw := binary.BigEndian.Uint16(block[BlockLength-2:])
	return int(math.Round(float64(raw) * IntervalFactor)), true
}

// manufacturerBlock extracts the manufacturer-specific AD structure data.
func manufacturerBlock(payload []byte) (block []byte) {
	defer func() {
		if r := recover(); r != nil {
			block = nil
		}
	}()
	if len(payload) == 0 {
		return nil
	}
	return adv.NewRawPacket(payload).ManufacturerData()
}
