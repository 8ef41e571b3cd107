package hid

import "github.com/ardnew/mcusb/device"

// Subclass codes.
const (
	SubclassNone = 0x00
	SubclassBoot = 0x01
)

// Boot protocol codes of the interface descriptor.
const (
	ProtocolNone     = 0x00
	ProtocolKeyboard = 0x01
	ProtocolMouse    = 0x02
)

// Class descriptor types.
const (
	DescriptorTypeHID      = device.DescriptorTypeHID
	DescriptorTypeReport   = device.DescriptorTypeHIDReport
	DescriptorTypePhysical = 0x23
)

// Class request codes.
const (
	RequestGetReport   = 0x01
	RequestGetIdle     = 0x02
	RequestGetProtocol = 0x03
	RequestSetReport   = 0x09
	RequestSetIdle     = 0x0A
	RequestSetProtocol = 0x0B
)

// Report types in the high byte of wValue of GET_REPORT and SET_REPORT.
const (
	ReportTypeInput   = 0x01
	ReportTypeOutput  = 0x02
	ReportTypeFeature = 0x03
)

// Values of GET_PROTOCOL and SET_PROTOCOL.
const (
	ProtocolBoot   = 0x00
	ProtocolReport = 0x01
)

// Country codes of the class descriptor.
const (
	CountryNone   = 0x00
	CountryFrench = 0x08
	CountryGerman = 0x09
	CountryUK     = 0x20
	CountryUS     = 0x21
)

// Keyboard modifier bits.
const (
	ModLeftCtrl = 1 << iota
	ModLeftShift
	ModLeftAlt
	ModLeftGUI
	ModRightCtrl
	ModRightShift
	ModRightAlt
	ModRightGUI
)

// Keyboard LED bits of the output report.
const (
	LEDNumLock = 1 << iota
	LEDCapsLock
	LEDScrollLock
	LEDCompose
	LEDKana
)

// Keyboard usage codes. Letters run from KeyA to KeyA+25 and digits 1 to
// 9 from Key1.
const (
	KeyNone      = 0x00
	KeyA         = 0x04
	Key1         = 0x1E
	Key0         = 0x27
	KeyEnter     = 0x28
	KeyEscape    = 0x29
	KeyBackspace = 0x2A
	KeyTab       = 0x2B
	KeySpace     = 0x2C
	KeyCapsLock  = 0x39
	KeyF1        = 0x3A
	KeyRight     = 0x4F
	KeyLeft      = 0x50
	KeyDown      = 0x51
	KeyUp        = 0x52
)

// Mouse button bits.
const (
	MouseButtonLeft = 1 << iota
	MouseButtonRight
	MouseButtonMiddle
)

// KeyboardReportDescriptor describes the boot keyboard report: a modifier
// byte, a reserved byte and six key codes in, five LED bits out.
var KeyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, // Usage Page (Key Codes)
	0x19, 0xE0, // Usage Minimum (224)
	0x29, 0xE7, // Usage Maximum (231)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0x01, // Logical Maximum (1)
	0x75, 0x01, // Report Size (1)
	0x95, 0x08, // Report Count (8)
	0x81, 0x02, // Input (Data, Variable, Absolute)
	0x95, 0x01, // Report Count (1)
	0x75, 0x08, // Report Size (8)
	0x81, 0x01, // Input (Constant)
	0x95, 0x05, // Report Count (5)
	0x75, 0x01, // Report Size (1)
	0x05, 0x08, // Usage Page (LEDs)
	0x19, 0x01, // Usage Minimum (1)
	0x29, 0x05, // Usage Maximum (5)
	0x91, 0x02, // Output (Data, Variable, Absolute)
	0x95, 0x01, // Report Count (1)
	0x75, 0x03, // Report Size (3)
	0x91, 0x01, // Output (Constant)
	0x95, 0x06, // Report Count (6)
	0x75, 0x08, // Report Size (8)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0x65, // Logical Maximum (101)
	0x05, 0x07, // Usage Page (Key Codes)
	0x19, 0x00, // Usage Minimum (0)
	0x29, 0x65, // Usage Maximum (101)
	0x81, 0x00, // Input (Data, Array)
	0xC0, // End Collection
}

// MouseReportDescriptor describes a three-button mouse report with
// relative X, Y and wheel bytes.
var MouseReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x01, // Usage (Pointer)
	0xA1, 0x00, // Collection (Physical)
	0x05, 0x09, // Usage Page (Buttons)
	0x19, 0x01, // Usage Minimum (1)
	0x29, 0x03, // Usage Maximum (3)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0x01, // Logical Maximum (1)
	0x95, 0x03, // Report Count (3)
	0x75, 0x01, // Report Size (1)
	0x81, 0x02, // Input (Data, Variable, Absolute)
	0x95, 0x01, // Report Count (1)
	0x75, 0x05, // Report Size (5)
	0x81, 0x01, // Input (Constant)
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x30, // Usage (X)
	0x09, 0x31, // Usage (Y)
	0x09, 0x38, // Usage (Wheel)
	0x15, 0x81, // Logical Minimum (-127)
	0x25, 0x7F, // Logical Maximum (127)
	0x75, 0x08, // Report Size (8)
	0x95, 0x03, // Report Count (3)
	0x81, 0x06, // Input (Data, Variable, Relative)
	0xC0, // End Collection
	0xC0, // End Collection
}
