package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/gattqueue"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <characteristic-uuid> <hex-data>",
	Short: "Write to a characteristic",
	Long: fmt.Sprintf(`Connects and writes hex data to one characteristic. The write must be
acknowledged within the operation timeout (2s by default).

Examples:
  bleanalyzer write %s fff1 0100
  bleanalyzer write %s fff1 "0x01 0x02"`, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, charID := args[0], args[1]
	if _, err := device.ValidateUUID(charID); err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}
	payload, err := parseHex(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	listener := gattqueue.ListenerFuncs{
		Success: func() { a.logger.WithField("characteristic", charID).Debug("Write acknowledged") },
		Failure: func() { a.logger.WithField("characteristic", charID).Warn("Write not acknowledged") },
	}

	return a.gattOperation(cmd, address,
		func(h *conntable.Handle) error {
			return a.manager.WriteCharacteristic(charID, payload, h, listener)
		},
		func(ev events.Event) (bool, error) {
			switch e := ev.(type) {
			case events.PushSuccess:
				return e.Address == address && e.CharacteristicID == charID, nil
			case events.PushFailure:
				if e.Address == address && e.CharacteristicID == charID {
					return true, fmt.Errorf("write %s: %w", charID, e.Err)
				}
			}
			return false, nil
		})
}
