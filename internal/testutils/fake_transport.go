package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/gattqueue"
	"github.com/stretchr/testify/mock"
)

// Reply scripts how a FakeTransport answers one GATT operation.
// Pass it to the mock's Return.
type Reply struct {
	After    time.Duration // delay before the completion fires
	Value    []byte        // completion value
	Err      error         // completion error
	Silent   bool          // never complete
	IssueErr error         // fail the issuing call itself
}

// FakeTransport is a conntable.Transport whose GATT operations are scripted
// with testify/mock expectations, e.g.
//
//	tr.On("WriteCharacteristic", "uuid-1", []byte{0x01}).Return(testutils.Reply{After: 50 * time.Millisecond})
//
// Completions fire on their own goroutine, like a radio callback would.
// An expectation returning no Reply completes immediately with no value.
type FakeTransport struct {
	mock.Mock

	Address string

	disconnects atomic.Int32
	closes      atomic.Int32

	mu      sync.Mutex
	onState conntable.StateFunc
}

var _ conntable.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a transport for address.
func NewFakeTransport(address string) *FakeTransport {
	return &FakeTransport{Address: address}
}

func (f *FakeTransport) ReadCharacteristic(charID string, done gattqueue.Completion) error {
	args := f.Called(charID)
	return f.respond(args, done)
}

func (f *FakeTransport) WriteCharacteristic(charID string, payload []byte, done gattqueue.Completion) error {
	args := f.Called(charID, payload)
	return f.respond(args, done)
}

func (f *FakeTransport) WriteDescriptor(serviceID, charID, descriptorID string, payload []byte, done gattqueue.Completion) error {
	args := f.Called(serviceID, charID, descriptorID, payload)
	return f.respond(args, done)
}

func (f *FakeTransport) respond(args mock.Arguments, done gattqueue.Completion) error {
	var r Reply
	if len(args) > 0 {
		r, _ = args.Get(0).(Reply)
	}
	if r.IssueErr != nil {
		return r.IssueErr
	}
	if r.Silent {
		return nil
	}
	time.AfterFunc(r.After, func() { done(r.Value, r.Err) })
	return nil
}

// Disconnect counts the request and reports the link down.
func (f *FakeTransport) Disconnect() error {
	f.disconnects.Add(1)
	f.SetState(false, nil)
	return nil
}

func (f *FakeTransport) Close() error {
	f.closes.Add(1)
	return nil
}

// Disconnects returns how many disconnect requests were made.
func (f *FakeTransport) Disconnects() int { return int(f.disconnects.Load()) }

// Closes returns how many times the transport was closed.
func (f *FakeTransport) Closes() int { return int(f.closes.Load()) }

// Closed reports whether Close was called at least once.
func (f *FakeTransport) Closed() bool { return f.closes.Load() > 0 }

// SetState simulates a link state callback.
func (f *FakeTransport) SetState(connected bool, err error) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(connected, err)
	}
}

// FakeConnector hands out FakeTransports and remembers them per address.
type FakeConnector struct {
	// AutoConnect reports the link up right after Connect returns.
	AutoConnect bool

	// Err, when set, fails every Connect.
	Err error

	// Script, when set, is applied to each transport before it is returned.
	Script func(*FakeTransport)

	mu         sync.Mutex
	transports map[string][]*FakeTransport
}

var _ conntable.Connector = (*FakeConnector)(nil)

func (c *FakeConnector) Connect(_ context.Context, address string, onState conntable.StateFunc) (conntable.Transport, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	tr := NewFakeTransport(address)
	tr.onState = onState
	if c.Script != nil {
		c.Script(tr)
	}

	c.mu.Lock()
	if c.transports == nil {
		c.transports = make(map[string][]*FakeTransport)
	}
	c.transports[address] = append(c.transports[address], tr)
	c.mu.Unlock()

	if c.AutoConnect {
		go tr.SetState(true, nil)
	}
	return tr, nil
}

// Transports returns every transport created for address, oldest first.
func (c *FakeConnector) Transports(address string) []*FakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeTransport(nil), c.transports[address]...)
}

// Last returns the newest transport for address, or nil.
func (c *FakeConnector) Last(address string) *FakeTransport {
	all := c.Transports(address)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
