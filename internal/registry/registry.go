// Package registry remembers which devices were already reported during a scan pass.
package registry

import (
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DeviceRecord is the last-seen advertisement snapshot of one device.
// Copies handed out by the registry are never mutated by it.
type DeviceRecord struct {
	Address       string    `json:"address"`
	Name          string    `json:"name"`
	RSSI          int       `json:"rssi"`
	IntervalUnits int       `json:"interval"` // -1 when the device does not advertise one
	LastSeen      time.Time `json:"-"`
}

// Registry maps device addresses to the snapshot taken at first sighting in the current scan pass.
// All methods are safe for concurrent use.
type Registry struct {
	devices atomic.Pointer[hashmap.Map[string, DeviceRecord]]
	logger  *logrus.Logger
}

// New creates an empty registry.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{logger: logger}
	r.devices.Store(hashmap.New[string, DeviceRecord]())
	return r
}

// IsKnown reports whether the address was remembered since the last Reset.
func (r *Registry) IsKnown(address string) bool {
	_, ok := r.devices.Load().Get(address)
	return ok
}

// Remember stores the record under its address. It returns false when the address
// was already known, in which case the stored snapshot is kept as is.
func (r *Registry) Remember(rec DeviceRecord) bool {
	_, existing := r.devices.Load().GetOrInsert(rec.Address, rec)
	if !existing {
		r.logger.WithFields(logrus.Fields{
			"address":  rec.Address,
			"name":     rec.Name,
			"rssi":     rec.RSSI,
			"interval": rec.IntervalUnits,
		}).Debug("Remembered device")
	}
	return !existing
}

// Lookup returns the stored snapshot for the address.
func (r *Registry) Lookup(address string) (DeviceRecord, bool) {
	return r.devices.Load().Get(address)
}

// Len returns the number of known addresses.
func (r *Registry) Len() int {
	return r.devices.Load().Len()
}

// Records returns a snapshot of all known devices.
func (r *Registry) Records() []DeviceRecord {
	m := r.devices.Load()
	recs := make([]DeviceRecord, 0, m.Len())
	m.Range(func(_ string, rec DeviceRecord) bool {
		recs = append(recs, rec)
		return true
	})
	return recs
}

// Reset forgets every address.
func (r *Registry) Reset() {
	old := r.devices.Swap(hashmap.New[string, DeviceRecord]())
	r.logger.WithField("device_count", old.Len()).Debug("Registry cleared")
}
