// Package events defines the session events delivered to external listeners
// and the bus that carries them.
package events

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Kind identifies an event type.
type Kind int

const (
	KindScanStarted Kind = iota
	KindScanEnded
	KindScanFailed
	KindDeviceDiscovered
	KindFrameReceived
	KindDeviceConnected
	KindDeviceDisconnected
	KindPushSuccess
	KindPushFailure
	KindCharacteristicRead
	KindDescriptorWritten
)

var kindNames = map[Kind]string{
	KindScanStarted:        "scan_started",
	KindScanEnded:          "scan_ended",
	KindScanFailed:         "scan_failed",
	KindDeviceDiscovered:   "device_discovered",
	KindFrameReceived:      "frame_received",
	KindDeviceConnected:    "device_connected",
	KindDeviceDisconnected: "device_disconnected",
	KindPushSuccess:        "push_success",
	KindPushFailure:        "push_failure",
	KindCharacteristicRead: "characteristic_read",
	KindDescriptorWritten:  "descriptor_written",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one of the concrete event structs in this package.
type Event interface {
	Kind() Kind
}

type ScanStarted struct{}

type ScanEnded struct{}

// ScanFailed reports that the platform scan stopped with an error.
type ScanFailed struct {
	Err error
}

// DeviceDiscovered is emitted once per address and scan pass.
// IntervalUnits is -1 for devices that do not advertise an interval.
type DeviceDiscovered struct {
	Address       string `json:"address"`
	Name          string `json:"name"`
	RSSI          int    `json:"rssi"`
	IntervalUnits int    `json:"interval"`
	Tracked       bool   `json:"tracked"`
}

// FrameReceived is emitted for every repeated sighting of the tracked device.
// History holds every frame timestamp since the device became tracked.
type FrameReceived struct {
	Address   string      `json:"address"`
	Timestamp time.Time   `json:"timestamp"`
	History   []time.Time `json:"history"`
	RSSI      int         `json:"rssi"`
}

type DeviceConnected struct {
	Address string `json:"address"`
}

type DeviceDisconnected struct {
	Address string `json:"address"`
	Err     error  `json:"-"`
}

// PushSuccess reports an acknowledged characteristic write.
type PushSuccess struct {
	Address          string `json:"address"`
	CharacteristicID string `json:"characteristic"`
}

// PushFailure reports a characteristic write that failed or timed out.
type PushFailure struct {
	Address          string `json:"address"`
	CharacteristicID string `json:"characteristic"`
	Err              error  `json:"-"`
}

// CharacteristicRead carries the result of a characteristic read.
type CharacteristicRead struct {
	Address          string `json:"address"`
	CharacteristicID string `json:"characteristic"`
	Value            []byte `json:"-"`
	Err              error  `json:"-"`
}

// DescriptorWritten carries the result of a descriptor write.
type DescriptorWritten struct {
	Address          string `json:"address"`
	ServiceID        string `json:"service"`
	CharacteristicID string `json:"characteristic"`
	DescriptorID     string `json:"descriptor"`
	Err              error  `json:"-"`
}

func (ScanStarted) Kind() Kind        { return KindScanStarted }
func (ScanEnded) Kind() Kind          { return KindScanEnded }
func (ScanFailed) Kind() Kind         { return KindScanFailed }
func (DeviceDiscovered) Kind() Kind   { return KindDeviceDiscovered }
func (FrameReceived) Kind() Kind      { return KindFrameReceived }
func (DeviceConnected) Kind() Kind    { return KindDeviceConnected }
func (DeviceDisconnected) Kind() Kind { return KindDeviceDisconnected }
func (PushSuccess) Kind() Kind        { return KindPushSuccess }
func (PushFailure) Kind() Kind        { return KindPushFailure }
func (CharacteristicRead) Kind() Kind { return KindCharacteristicRead }
func (DescriptorWritten) Kind() Kind  { return KindDescriptorWritten }

// HexValue returns the read value as lowercase hex.
func (e CharacteristicRead) HexValue() string {
	return hex.EncodeToString(e.Value)
}

// Address returns the device address an event refers to, or "" for scan events.
func Address(ev Event) string {
	switch e := ev.(type) {
	case DeviceDiscovered:
		return e.Address
	case FrameReceived:
		return e.Address
	case DeviceConnected:
		return e.Address
	case DeviceDisconnected:
		return e.Address
	case PushSuccess:
		return e.Address
	case PushFailure:
		return e.Address
	case CharacteristicRead:
		return e.Address
	case DescriptorWritten:
		return e.Address
	default:
		return ""
	}
}

// Err returns the error an event carries, if any.
func Err(ev Event) error {
	switch e := ev.(type) {
	case ScanFailed:
		return e.Err
	case DeviceDisconnected:
		return e.Err
	case PushFailure:
		return e.Err
	case CharacteristicRead:
		return e.Err
	case DescriptorWritten:
		return e.Err
	default:
		return nil
	}
}
