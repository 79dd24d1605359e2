package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/gattqueue"
	"github.com/srg/bleanalyzer/internal/groutine"
)

// Client is the part of ble.Client a transport drives.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	CancelConnection() error
}

// disconnectNotifier is implemented by clients that report link loss (darwin).
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}

// transport is one link attempt to one address. It never reconnects; a new
// Connect yields a new transport.
type transport struct {
	address string
	logger  *logrus.Logger
	onState conntable.StateFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	client  Client
	profile *ble.Profile
	down    bool
}

var _ conntable.Transport = (*transport)(nil)

func newTransport(parent context.Context, logger *logrus.Logger, address string, onState conntable.StateFunc) *transport {
	t := &transport{
		address: address,
		logger:  logger,
		onState: onState,
	}
	t.ctx, t.cancel = context.WithCancel(parent)
	return t
}

// attach makes client the live link. It fails once the transport went down.
func (t *transport) attach(client Client, profile *ble.Profile) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return false
	}
	t.client = client
	t.profile = profile
	return true
}

// drop marks the link down if client is still the live one.
func (t *transport) drop(client Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down || t.client != client {
		return false
	}
	t.down = true
	t.client = nil
	t.profile = nil
	return true
}

func (t *transport) watch(client Client) {
	n, ok := client.(disconnectNotifier)
	if !ok {
		t.logger.Debug("Client does not report disconnection")
		return
	}
	groutine.Go(t.ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-n.Disconnected():
			if t.drop(client) {
				t.cancel()
				t.logger.WithField("address", t.address).Warn("Link lost")
				t.onState(false, fmt.Errorf("%w: link lost", device.ErrNotConnected))
			}
		case <-ctx.Done():
		}
	})
}

func (t *transport) ReadCharacteristic(charID string, done gattqueue.Completion) error {
	client, c, err := t.characteristic("", charID)
	if err != nil {
		return t.unavailable("read", charID, err)
	}
	groutine.Go(t.ctx, "ble-read", func(context.Context) {
		value, err := client.ReadCharacteristic(c)
		done(value, NormalizeError(err))
	})
	return nil
}

func (t *transport) WriteCharacteristic(charID string, payload []byte, done gattqueue.Completion) error {
	client, c, err := t.characteristic("", charID)
	if err != nil {
		return t.unavailable("write", charID, err)
	}
	groutine.Go(t.ctx, "ble-write", func(context.Context) {
		err := client.WriteCharacteristic(c, payload, false)
		done(nil, NormalizeError(err))
	})
	return nil
}

func (t *transport) WriteDescriptor(serviceID, charID, descriptorID string, payload []byte, done gattqueue.Completion) error {
	client, c, err := t.characteristic(serviceID, charID)
	if err != nil {
		return t.unavailable("write-descriptor", charID, err)
	}
	var d *ble.Descriptor
	for _, candidate := range c.Descriptors {
		if device.SameUUID(candidate.UUID.String(), descriptorID) {
			d = candidate
			break
		}
	}
	if d == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{charID, descriptorID}}
	}
	groutine.Go(t.ctx, "ble-write-descriptor", func(context.Context) {
		err := client.WriteDescriptor(d, payload)
		done(nil, NormalizeError(err))
	})
	return nil
}

// errNoLink marks a request made while no client is attached.
var errNoLink = fmt.Errorf("no link: %w", device.ErrNotConnected)

// unavailable drops a request made without a link: it is not issued and its
// completion never fires, so the caller's wait runs into its timeout.
// Lookup errors are returned as they are.
func (t *transport) unavailable(op, charID string, err error) error {
	if !errors.Is(err, errNoLink) {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"address":        t.address,
		"op":             op,
		"characteristic": charID,
	}).Debug("No link, request dropped")
	return nil
}

// characteristic finds charID in the discovered profile, optionally within serviceID only.
func (t *transport) characteristic(serviceID, charID string) (Client, *ble.Characteristic, error) {
	if device.NormalizeUUID(charID) == "" {
		return nil, nil, fmt.Errorf("%w: characteristic %q", device.ErrInvalidArgument, charID)
	}

	t.mu.Lock()
	client, profile := t.client, t.profile
	t.mu.Unlock()
	if client == nil || profile == nil {
		return nil, nil, errNoLink
	}

	serviceFound := serviceID == ""
	for _, svc := range profile.Services {
		if serviceID != "" {
			if !device.SameUUID(svc.UUID.String(), serviceID) {
				continue
			}
			serviceFound = true
		}
		for _, c := range svc.Characteristics {
			if device.SameUUID(c.UUID.String(), charID) {
				return client, c, nil
			}
		}
	}

	if !serviceFound {
		return nil, nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceID}}
	}
	if serviceID != "" {
		return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceID, charID}}
	}
	return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{charID}}
}

// Disconnect cancels the link in the background and reports it down.
func (t *transport) Disconnect() error {
	t.mu.Lock()
	if t.down {
		t.mu.Unlock()
		return nil
	}
	t.down = true
	client := t.client
	t.client = nil
	t.profile = nil
	t.mu.Unlock()

	groutine.Go(context.Background(), "ble-disconnect", func(context.Context) {
		var err error
		if client != nil {
			err = client.CancelConnection()
		}
		t.cancel()
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"address": t.address,
				"error":   err,
			}).Warn("BLE device disconnected with errors")
		} else {
			t.logger.WithField("address", t.address).Info("BLE device disconnected")
		}
		t.onState(false, nil)
	})
	return nil
}

// Close releases the link without reporting a state change.
func (t *transport) Close() error {
	t.mu.Lock()
	t.down = true
	client := t.client
	t.client = nil
	t.profile = nil
	t.mu.Unlock()

	t.cancel()
	if client == nil {
		return nil
	}
	return NormalizeError(client.CancelConnection())
}
