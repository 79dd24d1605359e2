package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bleanalyzer/internal/device"
)

// FakeScanner is a device.ScanningDevice driven by the test: Scan blocks until
// its context is done and Emit delivers reports to the active handler.
type FakeScanner struct {
	// Err, when set, makes Scan fail right away.
	Err error

	mu      sync.Mutex
	handler func(device.Advertisement)
	started chan struct{}
	scans   int
}

var _ device.ScanningDevice = (*FakeScanner)(nil)

func NewFakeScanner() *FakeScanner {
	return &FakeScanner{started: make(chan struct{}, 16)}
}

func (f *FakeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	f.started <- struct{}{}

	<-ctx.Done()

	f.mu.Lock()
	f.handler = nil
	f.mu.Unlock()
	return ctx.Err()
}

// WaitStarted blocks until a Scan call installed its handler.
func (f *FakeScanner) WaitStarted(timeout time.Duration) bool {
	select {
	case <-f.started:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Emit delivers adv to the running scan on the calling goroutine.
// Returns false when no scan is running.
func (f *FakeScanner) Emit(adv device.Advertisement) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(adv)
	return true
}

// Scans returns how many times Scan was called.
func (f *FakeScanner) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}
