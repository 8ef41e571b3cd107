package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/mcusb/device"
	"github.com/ardnew/mcusb/pkg"
)

// Functional descriptor subtypes.
const (
	SubtypeHeader         = 0x00
	SubtypeCallManagement = 0x01
	SubtypeACM            = 0x02
	SubtypeDLM            = 0x03
	SubtypeUnion          = 0x06
	SubtypeCountrySelect  = 0x07
	SubtypeEthernet       = 0x0F
)

// Subclass codes.
const (
	SubclassNone = 0x00
	SubclassDLCM = 0x01 // Direct Line Control Model
	SubclassACM  = 0x02 // Abstract Control Model
	SubclassECM  = 0x06 // Ethernet Networking Control Model
)

// Protocol codes.
const (
	ProtocolNone   = 0x00
	ProtocolAT     = 0x01 // V.250 AT commands
	ProtocolVendor = 0xFF
)

// Class request codes.
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// Notification codes.
const (
	NotificationNetworkConnection = 0x00
	NotificationResponseAvailable = 0x01
	NotificationSerialState       = 0x20
)

// Stop bits, in LineCoding.CharFormat.
const (
	StopBits1   = 0
	StopBits1_5 = 1
	StopBits2   = 2
)

// Parity, in LineCoding.ParityType.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// Control line state bits in the wValue of SET_CONTROL_LINE_STATE.
const (
	ControlLineDTR = 1 << 0
	ControlLineRTS = 1 << 1
)

// Serial state bits of the SERIAL_STATE notification.
const (
	SerialStateRxCarrier  = 1 << 0 // DCD
	SerialStateTxCarrier  = 1 << 1 // DSR
	SerialStateBreak      = 1 << 2
	SerialStateRingSignal = 1 << 3
	SerialStateFraming    = 1 << 4
	SerialStateParity     = 1 << 5
	SerialStateOverrun    = 1 << 6
)

// ACM capability bits of the ACM functional descriptor.
const (
	ACMCapCommFeature = 1 << 0
	ACMCapLineCoding  = 1 << 1 // SET/GET_LINE_CODING and SET_CONTROL_LINE_STATE
	ACMCapSendBreak   = 1 << 2
	ACMCapNetworkConn = 1 << 3
)

// Call management capability bits.
const (
	CallMgmtSelf     = 1 << 0 // Device handles call management itself
	CallMgmtOverData = 1 << 1 // Call management over the data interface
)

// LineCoding is the 7-byte serial line configuration exchanged by
// SET_LINE_CODING and GET_LINE_CODING.
type LineCoding struct {
	BaudRate   uint32
	CharFormat uint8 // Stop bits
	ParityType uint8
	DataBits   uint8 // 5, 6, 7, 8 or 16
}

// LineCodingSize is the wire size of LineCoding.
const LineCodingSize = 7

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{
	BaudRate:   115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the line coding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.BaudRate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses a line coding from data. Bytes beyond the
// structure are ignored.
func ParseLineCoding(data []byte, out *LineCoding) error {
	if len(data) < LineCodingSize {
		return fmt.Errorf("line coding of %d bytes: %w", len(data), pkg.ErrLengthMismatch)
	}
	out.BaudRate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return nil
}

// HeaderFunctional returns the header functional descriptor for CDC
// release bcd, such as 0x0110.
func HeaderFunctional(bcd uint16) device.FunctionalDescriptor {
	return device.FunctionalDescriptor{
		Type:    device.DescriptorTypeCSInterface,
		Subtype: SubtypeHeader,
		Payload: []byte{byte(bcd), byte(bcd >> 8)},
	}
}

// CallManagementFunctional returns the call management functional
// descriptor naming the data interface.
func CallManagementFunctional(caps, dataInterface uint8) device.FunctionalDescriptor {
	return device.FunctionalDescriptor{
		Type:    device.DescriptorTypeCSInterface,
		Subtype: SubtypeCallManagement,
		Payload: []byte{caps, dataInterface},
	}
}

// ACMFunctional returns the abstract control management functional
// descriptor.
func ACMFunctional(caps uint8) device.FunctionalDescriptor {
	return device.FunctionalDescriptor{
		Type:    device.DescriptorTypeCSInterface,
		Subtype: SubtypeACM,
		Payload: []byte{caps},
	}
}

// UnionFunctional returns the union functional descriptor grouping the
// subordinate interfaces under the controlling one.
func UnionFunctional(control uint8, subordinates ...uint8) device.FunctionalDescriptor {
	return device.FunctionalDescriptor{
		Type:    device.DescriptorTypeCSInterface,
		Subtype: SubtypeUnion,
		Payload: append([]byte{control}, subordinates...),
	}
}
