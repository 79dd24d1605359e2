// Package conntable tracks one connection record per device address.
//
// Records outlive disconnects so replies still in flight can resolve against
// them. A disconnect requests an asynchronous link shutdown and schedules a
// forced close; a connect to the same address before the forced close fires
// cancels it.
package conntable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/gattqueue"
	"github.com/srg/bleanalyzer/internal/schedule"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultTeardownDelay is how long a disconnected link may linger before it is closed.
const DefaultTeardownDelay = 1000 * time.Millisecond

// Transport is the live link object returned by a Connector.
type Transport interface {
	gattqueue.Link

	// Disconnect asks the link to go down. It does not wait.
	Disconnect() error

	// Close releases the link. The transport is unusable afterwards.
	Close() error
}

// StateFunc receives link state changes from a transport.
type StateFunc func(connected bool, err error)

// Connector opens transports. Connect must not block on the radio: link
// establishment is reported later through onState.
type Connector interface {
	Connect(ctx context.Context, address string, onState StateFunc) (Transport, error)
}

// StateChange is a link state transition observed on a record.
type StateChange struct {
	Address   string
	Name      string
	Connected bool
	Err       error
}

// Options configures a Table.
type Options struct {
	// TeardownDelay before a disconnected transport is force-closed. Zero means DefaultTeardownDelay.
	TeardownDelay time.Duration

	// Scheduler runs forced closes. When nil the table starts and owns one.
	Scheduler *schedule.Runner

	// Observer receives state changes reported by current transports.
	Observer func(StateChange)
}

type teardown struct {
	gen   uint64
	entry *schedule.Entry
}

// Table maps addresses to connection records.
type Table struct {
	logger    *logrus.Logger
	connector Connector
	delay     time.Duration
	observer  func(StateChange)

	scheduler     *schedule.Runner
	ownsScheduler bool
	ctx           context.Context
	cancel        context.CancelFunc

	mu      sync.Mutex
	records *orderedmap.OrderedMap[string, *Handle]
	pending map[string]teardown
	closed  bool
}

// New creates a Table that opens links through connector.
func New(logger *logrus.Logger, connector Connector, opts Options) *Table {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.TeardownDelay <= 0 {
		opts.TeardownDelay = DefaultTeardownDelay
	}

	t := &Table{
		logger:    logger,
		connector: connector,
		delay:     opts.TeardownDelay,
		observer:  opts.Observer,
		scheduler: opts.Scheduler,
		records:   orderedmap.New[string, *Handle](),
		pending:   make(map[string]teardown),
	}
	if t.scheduler == nil {
		t.scheduler = schedule.New(logger, "conn-teardown")
		t.ownsScheduler = true
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// Connect opens a link to address, creating the record on first use.
// On a known address only the transport is replaced; the cached name stays.
// A previous transport still attached to the record is closed.
func (t *Table) Connect(address, name string) (*Handle, error) {
	if address == "" {
		return nil, fmt.Errorf("connect: %w: empty address", device.ErrInvalidArgument)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("connect %s: %w", address, device.ErrClosed)
	}

	td, tearingDown := t.pending[address]
	if tearingDown {
		td.entry.Cancel()
		delete(t.pending, address)
		t.logger.WithField("address", address).Debug("Cancelled pending teardown")
	}

	h, known := t.records.Get(address)
	if !known {
		h = newHandle(address, name)
	}
	gen := h.bump()

	tr, err := t.connector.Connect(t.ctx, address, t.stateFunc(h, gen))
	if err != nil {
		// A disconnected transport lost its teardown above and is closed now.
		// A live one keeps its link and its state callbacks.
		var stale Transport
		if tearingDown {
			stale = h.swap(nil)
		} else if known {
			h.restore(gen - 1)
		}
		t.mu.Unlock()
		if stale != nil {
			t.closeTransport(address, stale)
		}
		err = device.NormalizeError(err)
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Connect failed")
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	if !known {
		t.records.Set(address, h)
	}
	old := h.swap(tr)
	t.mu.Unlock()

	if old != nil {
		t.closeTransport(address, old)
	}

	t.logger.WithFields(logrus.Fields{
		"address":    address,
		"name":       h.Name(),
		"reconnect":  known,
		"generation": gen,
	}).Info("Connecting")
	return h, nil
}

// Disconnect requests the link for address to go down and schedules the forced
// close. Unknown addresses yield device.ErrNotConnected.
func (t *Table) Disconnect(address string) error {
	t.mu.Lock()
	h, ok := t.records.Get(address)
	if !ok {
		t.mu.Unlock()
		t.logger.WithField("address", address).Error("Disconnect requested for unknown device")
		return fmt.Errorf("disconnect %s: %w", address, device.ErrNotConnected)
	}

	tr := h.Transport()
	if tr == nil {
		t.mu.Unlock()
		t.logger.WithField("address", address).Debug("Disconnect: no live transport")
		return nil
	}

	h.release()
	if _, scheduled := t.pending[address]; !scheduled {
		gen := h.Generation()
		entry := t.scheduler.After("force-close "+address, t.delay, func() {
			t.forceClose(address, gen)
		})
		t.pending[address] = teardown{gen: gen, entry: entry}
	}
	t.mu.Unlock()

	if err := tr.Disconnect(); err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Warn("Disconnect request failed")
	}
	t.logger.WithFields(logrus.Fields{
		"address": address,
		"delay":   t.delay,
	}).Info("Disconnecting")
	return nil
}

// DisconnectAll disconnects every record in connect order.
func (t *Table) DisconnectAll() {
	for _, addr := range t.Addresses() {
		_ = t.Disconnect(addr)
	}
}

// Get returns the record for address.
func (t *Table) Get(address string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records.Get(address)
}

// Addresses returns every known address in connect order.
func (t *Table) Addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, t.records.Len())
	for pair := t.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// TeardownPending reports whether a forced close is scheduled for address.
func (t *Table) TeardownPending(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[address]
	return ok
}

// Remove forgets address, closing its transport right away.
func (t *Table) Remove(address string) error {
	t.mu.Lock()
	h, ok := t.records.Delete(address)
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("remove %s: %w", address, device.ErrNotConnected)
	}
	if td, scheduled := t.pending[address]; scheduled {
		td.entry.Cancel()
		delete(t.pending, address)
	}
	h.bump()
	tr := h.swap(nil)
	t.mu.Unlock()

	if tr != nil {
		t.closeTransport(address, tr)
	}
	return nil
}

// Close closes every transport and stops the owned scheduler.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for addr, td := range t.pending {
		td.entry.Cancel()
		delete(t.pending, addr)
	}
	var open []*Handle
	for pair := t.records.Oldest(); pair != nil; pair = pair.Next() {
		open = append(open, pair.Value)
	}
	t.mu.Unlock()

	t.cancel()
	for _, h := range open {
		h.bump()
		if tr := h.swap(nil); tr != nil {
			t.closeTransport(h.Address(), tr)
		}
	}
	if t.ownsScheduler {
		t.scheduler.Stop()
	}
}

func (t *Table) forceClose(address string, gen uint64) {
	t.mu.Lock()
	td, ok := t.pending[address]
	if !ok || td.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.pending, address)

	h, ok := t.records.Get(address)
	if !ok || h.Generation() != gen {
		t.mu.Unlock()
		t.logger.WithField("address", address).Debug("Skipping stale teardown")
		return
	}
	tr := h.swap(nil)
	t.mu.Unlock()

	if tr != nil {
		t.logger.WithField("address", address).Info("Force-closing link")
		t.closeTransport(address, tr)
	}
}

func (t *Table) stateFunc(h *Handle, gen uint64) StateFunc {
	return func(connected bool, err error) {
		if h.Generation() != gen {
			t.logger.WithFields(logrus.Fields{
				"address":   h.Address(),
				"connected": connected,
			}).Debug("Ignoring state change from a replaced transport")
			return
		}
		h.setConnected(connected)

		fields := logrus.Fields{
			"address":   h.Address(),
			"connected": connected,
		}
		if err != nil {
			fields["error"] = err
		}
		t.logger.WithFields(fields).Info("Link state changed")

		if t.observer != nil {
			t.observer(StateChange{Address: h.Address(), Name: h.Name(), Connected: connected, Err: err})
		}
	}
}

func (t *Table) closeTransport(address string, tr Transport) {
	if err := tr.Close(); err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Warn("Closing transport failed")
	}
}
