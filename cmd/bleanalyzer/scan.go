package main

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/advert"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/registry"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices and tracked beacon frames",
	Long: `Scan for Bluetooth Low Energy devices in the vicinity.

Each device is reported once per scan pass. The first RFdroid beacon with a
valid manufacturer block becomes the tracked device, and every further
advertising frame it sends is reported with the time since the previous one.

Examples:
  # Scan for 30 seconds
  bleanalyzer scan --duration 30s

  # Do not auto-track; track one specific beacon instead
  bleanalyzer scan --track AA:BB:CC:DD:EE:FF

  # JSON lines for scripting
  bleanalyzer scan --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanSelect   bool
	scanTrack    string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses the configured scan timeout; scans until Ctrl+C if that is 0 too)")
	scanCmd.Flags().BoolVar(&scanSelect, "select", false, "Selection mode: beacons are listed but not tracked automatically")
	scanCmd.Flags().StringVar(&scanTrack, "track", "", "Track the device with this address (implies --select)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	duration := scanDuration
	if duration == 0 {
		duration = a.cfg.ScanTimeout
	}
	return a.scan(cmd, duration, scanSelect, scanTrack, a.out.Print)
}

// scan runs one pass and hands every event to emit until the pass ends.
// With track set, only that address can become the tracked device.
func (a *app) scan(cmd *cobra.Command, duration time.Duration, selecting bool, track string, emit func(events.Event) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	a.manager.SelectTrackedDevice(selecting || track != "")
	if track != "" {
		// frames are sampled from the first sighting on
		a.manager.SetTrackedDevice(&registry.DeviceRecord{Address: track, IntervalUnits: advert.NoInterval})
	}
	if err := a.manager.StartScan(ctx); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"duration": duration,
		"track":    track,
	}).Debug("Scan command running")

	var scanErr error
	done := ctx.Done()
	for {
		select {
		case <-done:
			// the pass ends on its own; keep draining until ScanEnded
			done = nil
			a.manager.StopScan()

		case ev, ok := <-a.events.C():
			if !ok {
				return scanErr
			}
			if d, isDevice := ev.(events.DeviceDiscovered); isDevice && track != "" && sameAddress(d.Address, track) {
				a.manager.SetTrackedDevice(&registry.DeviceRecord{
					Address:       d.Address,
					Name:          d.Name,
					RSSI:          d.RSSI,
					IntervalUnits: d.IntervalUnits,
					LastSeen:      time.Now(),
				})
			}
			if err := emit(ev); err != nil {
				return err
			}
			switch e := ev.(type) {
			case events.ScanFailed:
				scanErr = e.Err
			case events.ScanEnded:
				return scanErr
			}
		}
	}
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
