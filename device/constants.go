package device

import "fmt"

// Limits of the fixed-size tables a device is built from.
const (
	// MaxInterfacesPerConfiguration bounds the interface lookup table of a
	// configuration; interface numbers must be below it.
	MaxInterfacesPerConfiguration = 8

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 16

	// MaxControlDataSize bounds the data stage of a control transfer.
	MaxControlDataSize = 512
)

// Device states of the enumeration state machine.
const (
	StateDetached   State = iota // No bus reset seen since Start
	StateDefault                 // Reset, answering at address 0
	StateAddressed               // Unique address assigned
	StateConfigured              // Nonzero configuration selected
)

// State is the device's enumeration state.
type State uint8

func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateDefault:
		return "Default"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
