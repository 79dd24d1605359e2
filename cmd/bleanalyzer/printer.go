package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/pkg/config"
	"golang.org/x/term"
)

// printer renders session events as table rows or JSON lines.
type printer struct {
	w      io.Writer
	format string

	ok, bad, dim, tracked *color.Color
}

func newPrinter(w io.Writer, format string) *printer {
	p := &printer{
		w:       w,
		format:  strings.ToLower(format),
		ok:      color.New(color.FgGreen),
		bad:     color.New(color.FgRed),
		dim:     color.New(color.Faint),
		tracked: color.New(color.FgCyan, color.Bold),
	}
	colored := isTerminal(w)
	for _, c := range []*color.Color{p.ok, p.bad, p.dim, p.tracked} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Print writes one event.
func (p *printer) Print(ev events.Event) error {
	if p.format == config.FormatJSON {
		return p.printJSON(record(ev))
	}
	line := p.row(ev)
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

func (p *printer) printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

func (p *printer) row(ev events.Event) string {
	switch e := ev.(type) {
	case events.ScanStarted:
		return p.dim.Sprint("Scanning for BLE devices...")
	case events.ScanEnded:
		return p.dim.Sprint("Scan ended")
	case events.ScanFailed:
		return p.bad.Sprintf("Scan failed: %v", e.Err)
	case events.DeviceDiscovered:
		row := fmt.Sprintf("%-10s %-17s  %-20s %4d dBm  %s", "DEVICE", e.Address, e.Name, e.RSSI, formatInterval(e.IntervalUnits))
		if e.Tracked {
			return p.tracked.Sprint(row + "  beacon")
		}
		return row
	case events.FrameReceived:
		row := fmt.Sprintf("%-10s %-17s  frames=%d %4d dBm", "FRAME", e.Address, len(e.History), e.RSSI)
		if d, ok := lastDelta(e.History); ok {
			row += fmt.Sprintf("  delta=%s", d.Round(time.Millisecond))
		}
		return row
	case events.DeviceConnected:
		return p.ok.Sprintf("%-10s %s", "CONNECTED", e.Address)
	case events.DeviceDisconnected:
		if e.Err != nil {
			return p.bad.Sprintf("%-10s %s: %v", "LOST", e.Address, e.Err)
		}
		return fmt.Sprintf("%-10s %s", "DISCONN", e.Address)
	case events.PushSuccess:
		return p.ok.Sprintf("%-10s %s %s", "WRITTEN", e.Address, e.CharacteristicID)
	case events.PushFailure:
		return p.bad.Sprintf("%-10s %s %s: %v", "FAILED", e.Address, e.CharacteristicID, e.Err)
	case events.CharacteristicRead:
		if e.Err != nil {
			return p.bad.Sprintf("%-10s %s %s: %v", "FAILED", e.Address, e.CharacteristicID, e.Err)
		}
		return fmt.Sprintf("%-10s %s %s = %s", "READ", e.Address, e.CharacteristicID, e.HexValue())
	case events.DescriptorWritten:
		if e.Err != nil {
			return p.bad.Sprintf("%-10s %s %s/%s/%s: %v", "FAILED", e.Address, e.ServiceID, e.CharacteristicID, e.DescriptorID, e.Err)
		}
		return p.ok.Sprintf("%-10s %s %s/%s/%s", "DESC", e.Address, e.ServiceID, e.CharacteristicID, e.DescriptorID)
	default:
		return ""
	}
}

func formatInterval(units int) string {
	if units < 0 {
		return "-"
	}
	return fmt.Sprintf("%d ms", units)
}

func lastDelta(history []time.Time) (time.Duration, bool) {
	if len(history) < 2 {
		return 0, false
	}
	return history[len(history)-1].Sub(history[len(history)-2]), true
}

// record is the JSON-lines shape of an event.
func record(ev events.Event) map[string]any {
	r := map[string]any{"event": ev.Kind().String()}
	if addr := events.Address(ev); addr != "" {
		r["address"] = addr
	}
	if err := events.Err(ev); err != nil {
		r["error"] = err.Error()
	}

	switch e := ev.(type) {
	case events.DeviceDiscovered:
		r["name"] = e.Name
		r["rssi"] = e.RSSI
		r["interval"] = e.IntervalUnits
		r["tracked"] = e.Tracked
	case events.FrameReceived:
		r["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
		r["frames"] = len(e.History)
		r["rssi"] = e.RSSI
		if d, ok := lastDelta(e.History); ok {
			r["delta_ms"] = d.Milliseconds()
		}
	case events.PushSuccess:
		r["characteristic"] = e.CharacteristicID
	case events.PushFailure:
		r["characteristic"] = e.CharacteristicID
	case events.CharacteristicRead:
		r["characteristic"] = e.CharacteristicID
		if e.Err == nil {
			r["value"] = e.HexValue()
		}
	case events.DescriptorWritten:
		r["service"] = e.ServiceID
		r["characteristic"] = e.CharacteristicID
		r["descriptor"] = e.DescriptorID
	}
	return r
}
