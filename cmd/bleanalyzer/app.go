package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	goble "github.com/srg/bleanalyzer/internal/device/go-ble"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/session"
	"github.com/srg/bleanalyzer/pkg/config"
)

// eventChannelSize is the per-command event buffer; the oldest events are dropped past it.
const eventChannelSize = 256

// openPlatform creates the scanner and connector for the local adapter (can be overridden in tests).
var openPlatform = func(logger *logrus.Logger, cfg *config.Config) (device.ScanningDevice, conntable.Connector, error) {
	scanner, connector, err := goble.Open(logger, cfg.ConnectorOptions())
	if err != nil {
		return nil, nil, err
	}
	return scanner, connector, nil
}

// app is what every command needs: configuration, logger, a session and its event stream.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *session.Manager
	events  *events.RingChannel[events.Event]
	out     *printer

	unsubscribe func()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// newApp validates flags and configuration and opens the session.
// Call close when done.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		cfg.OutputFormat = format
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid format '%s': must be one of [%s %s]", format, config.FormatTable, config.FormatJSON)
		}
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	scanner, connector, err := openPlatform(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", err)
	}

	m, err := session.New(logger, scanner, connector, cfg.SessionOptions())
	if err != nil {
		return nil, err
	}

	ch, unsubscribe := m.Events(eventChannelSize)
	return &app{
		cfg:         cfg,
		logger:      logger,
		manager:     m,
		events:      ch,
		out:         newPrinter(cmd.OutOrStdout(), cfg.OutputFormat),
		unsubscribe: unsubscribe,
	}, nil
}

func (a *app) close() {
	a.unsubscribe()
	a.manager.Close()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// waitFor prints events until match reports done, ctx ends or the event stream closes.
func (a *app) waitFor(ctx context.Context, match func(events.Event) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.events.C():
			if !ok {
				return fmt.Errorf("event stream closed: %w", device.ErrClosed)
			}
			if err := a.out.Print(ev); err != nil {
				return err
			}
			if done, err := match(ev); done || err != nil {
				return err
			}
		}
	}
}

// connect opens the link to address and waits until it is up.
func (a *app) connect(ctx context.Context, address string) (*conntable.Handle, error) {
	h, err := a.manager.Connect(address)
	if err != nil {
		return nil, err
	}
	err = a.waitFor(ctx, func(ev events.Event) (bool, error) {
		switch e := ev.(type) {
		case events.DeviceConnected:
			return e.Address == address, nil
		case events.DeviceDisconnected:
			if e.Address != address {
				return false, nil
			}
			if e.Err != nil {
				return true, fmt.Errorf("connect %s: %w", address, e.Err)
			}
			return true, fmt.Errorf("connect %s: %w", address, ErrConnectionLost)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// gattContext bounds connect plus one GATT operation.
func (a *app) gattContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signalContext(cmd)
	budget := a.cfg.ConnectTimeout + a.cfg.OpTimeout + a.cfg.TeardownDelay
	timed, cancel := context.WithTimeout(ctx, budget)
	return timed, func() {
		cancel()
		stop()
	}
}

// lostLink matches a disconnect of address while an operation is pending.
func lostLink(ev events.Event, address string) error {
	if e, ok := ev.(events.DeviceDisconnected); ok && e.Address == address {
		if e.Err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, e.Err)
		}
		return ErrConnectionLost
	}
	return nil
}
