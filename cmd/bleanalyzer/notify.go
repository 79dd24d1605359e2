package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/events"
)

// cccdUUID is the Client Characteristic Configuration descriptor.
const cccdUUID = "2902"

var (
	enableNotifications  = []byte{0x01, 0x00}
	enableIndications    = []byte{0x02, 0x00}
	disableNotifications = []byte{0x00, 0x00}
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify <device-address> <service-uuid> <characteristic-uuid>",
	Short: "Enable notifications on a characteristic",
	Long: fmt.Sprintf(`Connects and writes the Client Characteristic Configuration descriptor
(0x2902) of a characteristic to turn notifications on or off.

Examples:
  bleanalyzer notify %s fff0 fff1
  bleanalyzer notify %s fff0 fff1 --indicate
  bleanalyzer notify %s fff0 fff1 --off`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress),
	Args: cobra.ExactArgs(3),
	RunE: runNotify,
}

var (
	notifyIndicate bool
	notifyOff      bool
)

func init() {
	notifyCmd.Flags().BoolVar(&notifyIndicate, "indicate", false, "Enable indications instead of notifications")
	notifyCmd.Flags().BoolVar(&notifyOff, "off", false, "Disable notifications and indications")
}

func runNotify(cmd *cobra.Command, args []string) error {
	address := args[0]
	ids, err := device.ValidateUUID(args[1], args[2])
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}
	if notifyIndicate && notifyOff {
		return fmt.Errorf("--indicate and --off are mutually exclusive")
	}
	serviceID, charID := ids[0], ids[1]

	value := enableNotifications
	switch {
	case notifyOff:
		value = disableNotifications
	case notifyIndicate:
		value = enableIndications
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	return a.gattOperation(cmd, address,
		func(h *conntable.Handle) error {
			return a.manager.WriteDescriptor(cccdUUID, h, value, serviceID, charID)
		},
		func(ev events.Event) (bool, error) {
			e, ok := ev.(events.DescriptorWritten)
			if !ok || e.Address != address || e.DescriptorID != cccdUUID {
				return false, nil
			}
			return true, e.Err
		})
}
