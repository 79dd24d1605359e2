package session

import (
	"fmt"

	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/gattqueue"
)

// Connect opens (or reopens) the link to address. It returns as soon as the
// connect request is issued; DeviceConnected follows once the link is up.
func (m *Manager) Connect(address string) (*conntable.Handle, error) {
	if m.isClosed() {
		return nil, fmt.Errorf("connect %s: %w", address, device.ErrClosed)
	}
	name := ""
	if rec, ok := m.registry.Lookup(address); ok {
		name = rec.Name
	}
	return m.table.Connect(address, name)
}

// Disconnect requests the link to address to go down. Operations still queued
// for it are not aborted; they fail on timeout.
func (m *Manager) Disconnect(address string) error {
	return m.table.Disconnect(address)
}

// DisconnectAll disconnects every known device.
func (m *Manager) DisconnectAll() {
	m.table.DisconnectAll()
}

// Handle returns the connection record of address.
func (m *Manager) Handle(address string) (*conntable.Handle, bool) {
	return m.table.Get(address)
}

// ReadCharacteristic queues a read; the value arrives as a CharacteristicRead event.
func (m *Manager) ReadCharacteristic(characteristicID string, h *conntable.Handle) error {
	return m.queue.Enqueue(&gattqueue.Task{
		Link:             link(h),
		Kind:             gattqueue.ReadCharacteristic,
		Address:          address(h),
		CharacteristicID: characteristicID,
	})
}

// WriteCharacteristic queues a write. The listener, if any, and the event
// stream both learn whether the write was acknowledged in time.
func (m *Manager) WriteCharacteristic(characteristicID string, payload []byte, h *conntable.Handle, listener gattqueue.PushListener) error {
	return m.queue.Enqueue(&gattqueue.Task{
		Link:             link(h),
		Kind:             gattqueue.WriteCharacteristic,
		Address:          address(h),
		CharacteristicID: characteristicID,
		Payload:          payload,
		Listener:         listener,
	})
}

// WriteDescriptor queues a descriptor write; the outcome arrives as a DescriptorWritten event.
func (m *Manager) WriteDescriptor(descriptorID string, h *conntable.Handle, payload []byte, serviceID, characteristicID string) error {
	return m.queue.Enqueue(&gattqueue.Task{
		Link:             link(h),
		Kind:             gattqueue.WriteDescriptor,
		Address:          address(h),
		ServiceID:        serviceID,
		CharacteristicID: characteristicID,
		DescriptorID:     descriptorID,
		Payload:          payload,
	})
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) onOutcome(o gattqueue.Outcome) {
	t := o.Task
	switch t.Kind {
	case gattqueue.WriteCharacteristic:
		if o.OK() {
			m.bus.Publish(events.PushSuccess{Address: t.Address, CharacteristicID: t.CharacteristicID})
		} else {
			m.bus.Publish(events.PushFailure{Address: t.Address, CharacteristicID: t.CharacteristicID, Err: o.Err})
		}
	case gattqueue.ReadCharacteristic:
		m.bus.Publish(events.CharacteristicRead{
			Address:          t.Address,
			CharacteristicID: t.CharacteristicID,
			Value:            o.Value,
			Err:              o.Err,
		})
	case gattqueue.WriteDescriptor:
		m.bus.Publish(events.DescriptorWritten{
			Address:          t.Address,
			ServiceID:        t.ServiceID,
			CharacteristicID: t.CharacteristicID,
			DescriptorID:     t.DescriptorID,
			Err:              o.Err,
		})
	}
}

func (m *Manager) onStateChange(c conntable.StateChange) {
	if c.Connected {
		m.bus.Publish(events.DeviceConnected{Address: c.Address})
		return
	}
	m.bus.Publish(events.DeviceDisconnected{Address: c.Address, Err: c.Err})
}

// link keeps a nil handle from turning into a non-nil interface.
func link(h *conntable.Handle) gattqueue.Link {
	if h == nil {
		return nil
	}
	return h
}

func address(h *conntable.Handle) string {
	if h == nil {
		return ""
	}
	return h.Address()
}
