// Package session coordinates scanning, connections and GATT operations for
// one BLE adapter and reports what happens as typed events.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/advert"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/gattqueue"
	"github.com/srg/bleanalyzer/internal/registry"
)

// DefaultHousekeepingInterval is how often scan statistics are logged while scanning.
const DefaultHousekeepingInterval = 5 * time.Second

// State of the scan state machine.
type State int

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Manager. Zero values select the package defaults.
type Options struct {
	// ScanPeriod ends a scan pass automatically. Zero scans until StopScan.
	ScanPeriod time.Duration

	// HousekeepingInterval between scan statistics log lines.
	HousekeepingInterval time.Duration

	// OpTimeout bounds each GATT operation.
	OpTimeout time.Duration

	// TeardownDelay before a disconnected link is force-closed.
	TeardownDelay time.Duration

	// EventBuffer is the capacity of the event bus.
	EventBuffer uint32

	// TrackedName and Marker identify the tracked firmware.
	TrackedName string
	Marker      string
}

type scanPass struct {
	cancel func()
	done   <-chan struct{}
}

// Manager is the session coordinator. All methods are safe for concurrent use.
type Manager struct {
	logger   *logrus.Logger
	opts     Options
	scanner  device.ScanningDevice
	decoder  *advert.Decoder
	registry *registry.Registry
	table    *conntable.Table
	queue    *gattqueue.Serializer
	bus      *events.Bus

	mu        sync.Mutex
	state     State
	pass      *scanPass
	selecting bool
	tracked   *registry.DeviceRecord
	history   []time.Time
	closed    bool
}

// New wires a Manager on top of a scanner and a connector.
func New(logger *logrus.Logger, scanner device.ScanningDevice, connector conntable.Connector, opts Options) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if scanner == nil {
		return nil, fmt.Errorf("session: %w: nil scanner", device.ErrInvalidArgument)
	}
	if connector == nil {
		return nil, fmt.Errorf("session: %w: nil connector", device.ErrInvalidArgument)
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = DefaultHousekeepingInterval
	}

	bus, err := events.NewBus(logger, opts.EventBuffer)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	m := &Manager{
		logger:   logger,
		opts:     opts,
		scanner:  scanner,
		decoder:  advert.New(opts.TrackedName, opts.Marker),
		registry: registry.New(logger),
		bus:      bus,
	}
	m.queue = gattqueue.New(logger, gattqueue.Options{
		Timeout:  opts.OpTimeout,
		Observer: m.onOutcome,
	})
	m.table = conntable.New(logger, connector, conntable.Options{
		TeardownDelay: opts.TeardownDelay,
		Observer:      m.onStateChange,
	})
	return m, nil
}

// Subscribe registers fn for every event. fn runs on the event dispatcher and must not block.
// The bus holds at most Options.EventBuffer undelivered events; past that the
// oldest are overwritten and lost, which is logged at warn and counted in
// Metrics().Overwritten.
func (m *Manager) Subscribe(fn func(events.Event)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// Events returns a buffered event channel that drops the oldest events when the reader falls behind.
// Drops in the channel are counted by its own GetMetrics; the bus-level loss
// described on Subscribe applies as well.
func (m *Manager) Events(capacity int) (*events.RingChannel[events.Event], func()) {
	return m.bus.Channel(capacity)
}

// Metrics returns the event bus counters.
func (m *Manager) Metrics() events.Metrics {
	return m.bus.GetMetrics()
}

// State returns the scan state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectTrackedDevice toggles selection mode. While selecting, first sightings
// of tracked-firmware devices do not replace the tracked device.
func (m *Manager) SelectTrackedDevice(selecting bool) {
	m.mu.Lock()
	m.selecting = selecting
	m.mu.Unlock()
	m.logger.WithField("selecting", selecting).Debug("Selection mode changed")
}

// ClearRegistry forgets every device seen so far; the next sighting of each is reported again.
func (m *Manager) ClearRegistry() {
	m.registry.Reset()
	m.logger.Debug("Device registry cleared")
}

// KnownDevices returns the devices seen in the current scan pass.
func (m *Manager) KnownDevices() []registry.DeviceRecord {
	return m.registry.Records()
}

// TrackedDevice returns a copy of the tracked device, or nil.
func (m *Manager) TrackedDevice() *registry.DeviceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracked == nil {
		return nil
	}
	rec := *m.tracked
	return &rec
}

// SetTrackedDevice selects the device whose frames are sampled. Nil clears it.
// The frame history restarts when the address changes.
func (m *Manager) SetTrackedDevice(rec *registry.DeviceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(rec)
}

// History returns the frame timestamps recorded for the tracked device.
func (m *Manager) History() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.history...)
}

// track must be called with mu held.
func (m *Manager) track(rec *registry.DeviceRecord) {
	if rec == nil {
		m.tracked = nil
		m.history = nil
		return
	}
	if m.tracked == nil || m.tracked.Address != rec.Address {
		m.history = nil
	}
	cp := *rec
	m.tracked = &cp
	m.logger.WithFields(logrus.Fields{
		"address":  cp.Address,
		"name":     cp.Name,
		"interval": cp.IntervalUnits,
	}).Info("Tracking device")
}

// Close stops scanning, disconnects every device and releases the workers.
// Events already published are still delivered.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	if p := m.stopScan(); p != nil {
		<-p.done
	}
	m.table.DisconnectAll()
	m.queue.Close()
	m.table.Close()
	m.bus.Close()
}
