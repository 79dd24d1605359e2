package goble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/groutine"
)

// DefaultConnectTimeout bounds dialing plus profile discovery.
const DefaultConnectTimeout = 10 * time.Second

// DialFunc opens a client to address.
type DialFunc func(ctx context.Context, address string) (Client, error)

// DeviceDialer dials through dev.
func DeviceDialer(dev ble.Device) DialFunc {
	return func(ctx context.Context, address string) (Client, error) {
		return dev.Dial(ctx, ble.NewAddr(address))
	}
}

// ConnectorOptions configures a Connector.
type ConnectorOptions struct {
	// ConnectTimeout bounds one dial attempt. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Connector opens go-ble links for the connection table.
type Connector struct {
	logger  *logrus.Logger
	dial    DialFunc
	timeout time.Duration
}

var _ conntable.Connector = (*Connector)(nil)

// NewConnector creates a Connector dialing through dial.
func NewConnector(logger *logrus.Logger, dial DialFunc, opts ConnectorOptions) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &Connector{logger: logger, dial: dial, timeout: opts.ConnectTimeout}
}

// Connect returns a transport right away and dials in the background.
// onState(true, nil) follows once the profile is discovered; a failed attempt
// reports onState(false, err).
func (c *Connector) Connect(ctx context.Context, address string, onState conntable.StateFunc) (conntable.Transport, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: device address is empty", device.ErrInvalidArgument)
	}
	if onState == nil {
		onState = func(bool, error) {}
	}

	t := newTransport(ctx, c.logger, address, onState)
	groutine.Go(t.ctx, "ble-dial", func(ctx context.Context) {
		c.establish(ctx, t)
	})
	return t, nil
}

func (c *Connector) establish(ctx context.Context, t *transport) {
	log := c.logger.WithField("address", t.address)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log.WithField("timeout", c.timeout).Debug("Dialing BLE device...")
	client, err := c.dial(dialCtx, t.address)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("Dial abandoned")
			return
		}
		err = NormalizeError(err)
		log.WithField("error", err).Error("Failed to dial BLE device")
		t.onState(false, err)
		return
	}

	log.Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		err = NormalizeError(err)
		log.WithField("error", err).Error("Failed to discover profile")
		t.onState(false, fmt.Errorf("discover profile: %w", err))
		return
	}

	if !t.attach(client, profile) {
		log.Debug("Transport released while dialing")
		_ = client.CancelConnection()
		return
	}

	chars := 0
	for _, svc := range profile.Services {
		chars += len(svc.Characteristics)
	}
	log.WithFields(logrus.Fields{
		"services":        len(profile.Services),
		"characteristics": chars,
	}).Info("BLE device connected")

	t.onState(true, nil)
	t.watch(client)
}
