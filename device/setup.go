package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/mcusb/pkg"
)

// Standard request codes.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors.
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// bmRequestType fields.
const (
	RequestDirectionMask = 0x80
	RequestTypeMask      = 0x60
	RequestRecipientMask = 0x1F

	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacket is the 8-byte SETUP packet that opens a control transfer.
type SetupPacket struct {
	RequestType uint8 // Direction, type and recipient
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16 // Data stage length requested by the host
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses a SETUP packet from data into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return fmt.Errorf("%d bytes: %w", len(data), pkg.ErrSetupPacketTooShort)
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo serializes the SETUP packet to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// IsDeviceToHost reports whether the data stage, if any, is IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestDirectionMask == RequestDirectionDeviceToHost
}

// Type returns the request type bits.
func (s *SetupPacket) Type() uint8 { return s.RequestType & RequestTypeMask }

// IsStandard reports whether this is a standard request.
func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }

// IsClass reports whether this is a class request.
func (s *SetupPacket) IsClass() bool { return s.Type() == RequestTypeClass }

// Recipient returns the recipient bits.
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestRecipientMask }

// DescriptorType returns the descriptor type in the high byte of wValue.
func (s *SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the descriptor index in the low byte of wValue.
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber returns the interface number in wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

// EndpointAddress returns the endpoint address in wIndex.
func (s *SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	typ := [4]string{"Standard", "Class", "Vendor", "Reserved"}[s.Type()>>5]
	recip := "Other"
	switch s.Recipient() {
	case RequestRecipientDevice:
		recip = "Device"
	case RequestRecipientInterface:
		recip = "Interface"
	case RequestRecipientEndpoint:
		recip = "Endpoint"
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, typ, recip, s.Request, s.Value, s.Index, s.Length)
}
