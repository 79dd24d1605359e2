package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/events"
)

// exampleDeviceAddress is used in help texts.
const exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"

// gattOperation connects to address, issues one operation and waits for its
// outcome. done recognizes the outcome event and returns the operation error.
func (a *app) gattOperation(cmd *cobra.Command, address string, issue func(*conntable.Handle) error, done func(events.Event) (bool, error)) error {
	ctx, cancel := a.gattContext(cmd)
	defer cancel()

	h, err := a.connect(ctx, address)
	if err != nil {
		return err
	}

	if err := issue(h); err != nil {
		a.disconnect(ctx, address)
		return err
	}

	var opErr error
	err = a.waitFor(ctx, func(ev events.Event) (bool, error) {
		if err := lostLink(ev, address); err != nil {
			return true, err
		}
		finished, err := done(ev)
		if finished {
			opErr = err
		}
		return finished, nil
	})
	if err != nil {
		return err
	}

	a.disconnect(ctx, address)
	return opErr
}

// disconnect takes the link down and waits for the disconnect to be reported.
func (a *app) disconnect(ctx context.Context, address string) {
	if err := a.manager.Disconnect(address); err != nil {
		a.logger.WithField("error", err).Debug("Disconnect failed")
		return
	}
	err := a.waitFor(ctx, func(ev events.Event) (bool, error) {
		e, ok := ev.(events.DeviceDisconnected)
		return ok && e.Address == address, nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithField("error", err).Debug("Disconnect not confirmed")
	}
}

// parseHex accepts "0a1b", "0x0a1b", "0a:1b" and "0a 1b".
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, fmt.Errorf("empty payload")
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", s, err)
	}
	return data, nil
}
