package conntable

import (
	"sync"

	"github.com/srg/bleanalyzer/internal/gattqueue"
)

// Handle is the connection record of one address. It implements
// gattqueue.Link by forwarding to whatever transport is currently attached.
type Handle struct {
	address string
	name    string

	mu        sync.Mutex
	transport Transport
	connected bool
	released  bool // disconnect requested; cleared by the next connect
	gen       uint64
}

var _ gattqueue.Link = (*Handle)(nil)

func newHandle(address, name string) *Handle {
	return &Handle{address: address, name: name}
}

// Address returns the device address.
func (h *Handle) Address() string { return h.address }

// Name returns the name cached when the record was created.
func (h *Handle) Name() string { return h.name }

// Connected reports the last link state seen on the current transport.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Transport returns the attached transport, nil once it was closed.
func (h *Handle) Transport() Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

// Generation counts the connects issued on this record.
func (h *Handle) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

func (h *Handle) bump() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	return h.gen
}

func (h *Handle) restore(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen = gen
}

func (h *Handle) swap(tr Transport) Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.transport
	h.transport = tr
	h.released = tr == nil
	if tr == nil {
		h.connected = false
	}
	return old
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.connected = false
}

func (h *Handle) setConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
}

// live returns the transport requests may be issued on. A record whose link
// was disconnected or closed has none: requests are dropped unissued and
// their completions never fire.
func (h *Handle) live() (Transport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transport == nil || h.released {
		return nil, false
	}
	return h.transport, true
}

func (h *Handle) ReadCharacteristic(charID string, done gattqueue.Completion) error {
	tr, ok := h.live()
	if !ok {
		return nil
	}
	return tr.ReadCharacteristic(charID, done)
}

func (h *Handle) WriteCharacteristic(charID string, payload []byte, done gattqueue.Completion) error {
	tr, ok := h.live()
	if !ok {
		return nil
	}
	return tr.WriteCharacteristic(charID, payload, done)
}

func (h *Handle) WriteDescriptor(serviceID, charID, descriptorID string, payload []byte, done gattqueue.Completion) error {
	tr, ok := h.live()
	if !ok {
		return nil
	}
	return tr.WriteDescriptor(serviceID, charID, descriptorID, payload, done)
}
