package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/advert"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/groutine"
	"github.com/srg/bleanalyzer/internal/registry"
)

// StartScan begins a scan pass. It is a no-op while already scanning.
// The registry is reset so every device is reported once per pass.
// The pass ends on StopScan, after ScanPeriod, when ctx is done or when the
// platform scan fails.
func (m *Manager) StartScan(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("start scan: %w", device.ErrClosed)
	}
	if m.state == Scanning {
		m.logger.Debug("Scan already running")
		return nil
	}

	m.registry.Reset()
	m.state = Scanning
	m.bus.Publish(events.ScanStarted{})

	scanCtx, cancel := context.WithCancel(ctx)
	p := &scanPass{cancel: cancel}
	m.pass = p

	groutine.Go(scanCtx, "scan-housekeeping", func(ctx context.Context) {
		m.housekeeping(ctx, p)
	})
	p.done = groutine.Start(scanCtx, "ble-scan", func(ctx context.Context) {
		err := m.scanner.Scan(ctx, true, m.HandleAdvertisement)
		m.endPass(p, err)
	})

	m.logger.WithField("period", m.opts.ScanPeriod).Info("Scan started")
	return nil
}

// StopScan ends the current scan pass. It is a no-op while idle.
// Queued GATT operations are not affected.
func (m *Manager) StopScan() {
	m.stopScan()
}

func (m *Manager) stopScan() *scanPass {
	m.mu.Lock()
	if m.state != Scanning {
		m.mu.Unlock()
		return nil
	}
	p := m.pass
	m.pass = nil
	m.state = Idle
	m.bus.Publish(events.ScanEnded{})
	m.mu.Unlock()

	p.cancel()
	m.logger.Info("Scan stopped")
	return p
}

// endPass runs when the platform scan returns on its own.
func (m *Manager) endPass(p *scanPass, err error) {
	m.mu.Lock()
	if m.pass != p {
		// already stopped
		m.mu.Unlock()
		return
	}
	m.pass = nil
	m.state = Idle

	failed := err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	if failed {
		err = device.NormalizeError(err)
		m.bus.Publish(events.ScanFailed{Err: err})
	}
	m.bus.Publish(events.ScanEnded{})
	m.mu.Unlock()

	p.cancel()
	if failed {
		m.logger.WithField("error", err).Error("Scan failed")
	} else {
		m.logger.Info("Scan ended")
	}
}

func (m *Manager) housekeeping(ctx context.Context, p *scanPass) {
	ticker := time.NewTicker(m.opts.HousekeepingInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if m.opts.ScanPeriod > 0 {
		timer := time.NewTimer(m.opts.ScanPeriod)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			m.logger.WithField("period", m.opts.ScanPeriod).Debug("Scan period elapsed")
			m.mu.Lock()
			current := m.pass == p
			m.mu.Unlock()
			if current {
				m.StopScan()
			}
			return
		case <-ticker.C:
			m.logger.WithFields(logrus.Fields{
				"devices": m.registry.Len(),
				"frames":  len(m.History()),
				"events":  m.bus.GetMetrics().Written,
			}).Debug("Scan statistics")
		}
	}
}

// HandleAdvertisement processes one advertising report. Scanners call it
// from their callback goroutine; reports arriving while idle are dropped.
func (m *Manager) HandleAdvertisement(a device.Advertisement) {
	res := m.decoder.DecodeAdvertisement(a)
	if res.Kind == advert.Ignored {
		return
	}

	now := time.Now()
	rec := registry.DeviceRecord{
		Address:       res.Address,
		Name:          res.Name,
		RSSI:          res.RSSI,
		IntervalUnits: res.IntervalUnits,
		LastSeen:      now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Scanning {
		return
	}

	if !m.registry.Remember(rec) {
		if m.tracked == nil || m.tracked.Address != rec.Address {
			return
		}
		m.history = append(m.history, now)
		m.bus.Publish(events.FrameReceived{
			Address:   rec.Address,
			Timestamp: now,
			History:   append([]time.Time(nil), m.history...),
			RSSI:      rec.RSSI,
		})
		return
	}

	tracked := res.Kind == advert.TrackedDevice
	if tracked && !m.selecting {
		m.track(&rec)
	}

	m.logger.WithFields(logrus.Fields{
		"address":  rec.Address,
		"name":     rec.Name,
		"rssi":     rec.RSSI,
		"interval": rec.IntervalUnits,
		"kind":     res.Kind.String(),
	}).Info("Device discovered")

	m.bus.Publish(events.DeviceDiscovered{
		Address:       rec.Address,
		Name:          rec.Name,
		RSSI:          rec.RSSI,
		IntervalUnits: rec.IntervalUnits,
		Tracked:       tracked,
	})
}
