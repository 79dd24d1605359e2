package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/events"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <characteristic-uuid>",
	Short: "Read a characteristic",
	Long: fmt.Sprintf(`Connects, reads one characteristic and prints its value as hex.

Examples:
  bleanalyzer read %s 2a19`, exampleDeviceAddress),
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	address, charID := args[0], args[1]
	if _, err := device.ValidateUUID(charID); err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	return a.gattOperation(cmd, address,
		func(h *conntable.Handle) error {
			return a.manager.ReadCharacteristic(charID, h)
		},
		func(ev events.Event) (bool, error) {
			e, ok := ev.(events.CharacteristicRead)
			if !ok || e.Address != address || e.CharacteristicID != charID {
				return false, nil
			}
			return true, e.Err
		})
}
