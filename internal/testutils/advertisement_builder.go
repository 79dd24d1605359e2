package testutils

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/srg/bleanalyzer/internal/device"
)

// AD structure types used by the payload builder.
const (
	adTypeFlags            = 0x01
	adTypeCompleteName     = 0x09
	adTypeManufacturerData = 0xFF
)

// Advertisement is a static device.Advertisement for tests.
type Advertisement struct {
	Name      string
	Address   string
	Rssi      int
	ManufData []byte
	Raw       []byte
}

func (a *Advertisement) LocalName() string        { return a.Name }
func (a *Advertisement) ManufacturerData() []byte { return a.ManufData }
func (a *Advertisement) RSSI() int                { return a.Rssi }
func (a *Advertisement) Addr() string             { return a.Address }
func (a *Advertisement) Payload() []byte          { return a.Raw }

var _ device.RawAdvertisement = (*Advertisement)(nil)

// AdvertisementBuilder builds advertisements and raw advertising payloads for tests.
// It provides a fluent API; fields that are never set keep their zero values.
type AdvertisementBuilder struct {
	name      string
	address   string
	rssi      int
	manufData []byte
	flags     *byte
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with an RSSI of -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{rssi: -50}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithTrackedBlock sets a manufacturer block in the tracked firmware layout:
// the marker followed by the raw interval as a big-endian uint16.
func (b *AdvertisementBuilder) WithTrackedBlock(marker string, rawInterval uint16) *AdvertisementBuilder {
	b.manufData = TrackedBlock(marker, rawInterval)
	return b
}

// WithFlags adds a flags AD structure to the raw payload.
func (b *AdvertisementBuilder) WithFlags(flags byte) *AdvertisementBuilder {
	b.flags = &flags
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name             *string `json:"name"`
		Address          *string `json:"address"`
		RSSI             *int    `json:"rssi"`
		ManufacturerData []byte  `json:"manufacturerData"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal advertisement: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	if data.ManufacturerData != nil {
		b.manufData = data.ManufacturerData
	}
	return b
}

// Payload returns the raw AD structures: flags (if set), complete local name, manufacturer data.
func (b *AdvertisementBuilder) Payload() []byte {
	var p []byte
	if b.flags != nil {
		p = appendField(p, adTypeFlags, []byte{*b.flags})
	}
	if b.name != "" {
		p = appendField(p, adTypeCompleteName, []byte(b.name))
	}
	if b.manufData != nil {
		p = appendField(p, adTypeManufacturerData, b.manufData)
	}
	return p
}

// Build creates the Advertisement.
func (b *AdvertisementBuilder) Build() *Advertisement {
	return &Advertisement{
		Name:      b.name,
		Address:   b.address,
		Rssi:      b.rssi,
		ManufData: b.manufData,
		Raw:       b.Payload(),
	}
}

// TrackedBlock returns a manufacturer block with marker followed by a big-endian raw interval.
func TrackedBlock(marker string, rawInterval uint16) []byte {
	block := make([]byte, len(marker)+2)
	copy(block, marker)
	binary.BigEndian.PutUint16(block[len(marker):], rawInterval)
	return block
}

func appendField(p []byte, typ byte, data []byte) []byte {
	p = append(p, byte(len(data)+1), typ)
	return append(p, data...)
}
