package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Measure the advertising interval of one beacon",
	Long: `Track one device and report the time between its advertising frames.

The beacon announces its configured interval in its manufacturer block; the
measured deltas show how close the radio gets to it.

Examples:
  bleanalyzer monitor AA:BB:CC:DD:EE:FF --duration 1m`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var monitorDuration time.Duration

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Monitor duration (0 uses the configured scan timeout; runs until Ctrl+C if that is 0 too)")
}

// intervalStats summarizes the gaps between successive frames.
type intervalStats struct {
	Frames int
	Last   time.Duration
	Mean   time.Duration
	Min    time.Duration
	Max    time.Duration
}

func summarize(history []time.Time) intervalStats {
	s := intervalStats{Frames: len(history)}
	if len(history) < 2 {
		return s
	}
	var total time.Duration
	for i := 1; i < len(history); i++ {
		d := history[i].Sub(history[i-1])
		total += d
		if i == 1 || d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
	}
	s.Last = history[len(history)-1].Sub(history[len(history)-2])
	s.Mean = total / time.Duration(len(history)-1)
	return s
}

func (s intervalStats) record() map[string]any {
	return map[string]any{
		"frames":  s.Frames,
		"last_ms": s.Last.Milliseconds(),
		"mean_ms": s.Mean.Milliseconds(),
		"min_ms":  s.Min.Milliseconds(),
		"max_ms":  s.Max.Milliseconds(),
	}
}

func (s intervalStats) String() string {
	if s.Frames < 2 {
		return fmt.Sprintf("frames=%d", s.Frames)
	}
	ms := func(d time.Duration) time.Duration { return d.Round(time.Millisecond) }
	return fmt.Sprintf("frames=%d last=%s mean=%s min=%s max=%s", s.Frames, ms(s.Last), ms(s.Mean), ms(s.Min), ms(s.Max))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := args[0]

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	duration := monitorDuration
	if duration == 0 {
		duration = a.cfg.ScanTimeout
	}

	var (
		found bool
		stats intervalStats
	)
	err = a.scan(cmd, duration, true, address, func(ev events.Event) error {
		switch e := ev.(type) {
		case events.DeviceDiscovered:
			if !sameAddress(e.Address, address) {
				return nil
			}
			found = true
			return a.out.Print(ev)
		case events.FrameReceived:
			stats = summarize(e.History)
			return a.printFrame(e, stats)
		case events.ScanStarted, events.ScanEnded, events.ScanFailed:
			return a.out.Print(ev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("device %s was not seen during the scan", address)
	}
	return a.printSummary(address, stats)
}

func (a *app) printFrame(e events.FrameReceived, stats intervalStats) error {
	if a.out.format == config.FormatJSON {
		r := record(e)
		r["stats"] = stats.record()
		return a.out.printJSON(r)
	}
	_, err := fmt.Fprintf(a.out.w, "%-10s %-17s %4d dBm  %s\n", "FRAME", e.Address, e.RSSI, stats)
	return err
}

func (a *app) printSummary(address string, stats intervalStats) error {
	if a.out.format == config.FormatJSON {
		return a.out.printJSON(map[string]any{
			"event":   "summary",
			"address": address,
			"stats":   stats.record(),
		})
	}
	_, err := fmt.Fprintf(a.out.w, "%-10s %-17s  %s\n", "SUMMARY", address, stats)
	return err
}
