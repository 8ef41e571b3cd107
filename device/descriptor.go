package device

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// Descriptor types.
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeHID                  = 0x21
	DescriptorTypeHIDReport            = 0x22
	DescriptorTypeCSInterface          = 0x24 // Class-specific interface
	DescriptorTypeCSEndpoint           = 0x25 // Class-specific endpoint
)

// Class codes.
const (
	ClassPerInterface = 0x00
	ClassCDC          = 0x02
	ClassHID          = 0x03
	ClassCDCData      = 0x0A
	ClassMisc         = 0xEF
	ClassVendor       = 0xFF
)

// DeviceDescriptor is the 18-byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// DeviceDescriptorSize is the size of a device descriptor in bytes.
const DeviceDescriptorSize = 18

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor parses a device descriptor from data into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:4])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:10])
	out.ProductID = binary.LittleEndian.Uint16(data[10:12])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:14])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

func checkHeader(data []byte, size int, typ uint8) error {
	if len(data) < size {
		return fmt.Errorf("%d of %d bytes: %w", len(data), size, pkg.ErrDescriptorTooShort)
	}
	if data[1] != typ {
		return fmt.Errorf("type 0x%02X, want 0x%02X: %w", data[1], typ, pkg.ErrDescriptorTypeMismatch)
	}
	return nil
}

// QualifierDescriptor is the 10-byte device qualifier descriptor.
type QualifierDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	NumConfigurations uint8
}

// QualifierDescriptorSize is the size of a device qualifier in bytes.
const QualifierDescriptorSize = 10

// MarshalTo serializes the qualifier to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (q *QualifierDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < QualifierDescriptorSize {
		return 0
	}
	buf[0] = QualifierDescriptorSize
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:4], q.USBVersion)
	buf[4] = q.DeviceClass
	buf[5] = q.DeviceSubClass
	buf[6] = q.DeviceProtocol
	buf[7] = q.MaxPacketSize0
	buf[8] = q.NumConfigurations
	buf[9] = 0
	return QualifierDescriptorSize
}

// ConfigurationDescriptor is the 9-byte configuration descriptor header.
type ConfigurationDescriptor struct {
	TotalLength        uint16 // Header plus every nested descriptor
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80 // Reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// ConfigurationDescriptorSize is the size of a configuration descriptor header.
const ConfigurationDescriptorSize = 9

// MarshalTo serializes the configuration header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes | ConfigAttrBusPowered
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// ParseConfigurationDescriptor parses a configuration header from data into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if err := checkHeader(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return err
	}
	out.TotalLength = binary.LittleEndian.Uint16(data[2:4])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor is the 9-byte interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // Endpoint descriptors that follow, excluding endpoint 0
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// InterfaceDescriptorSize is the size of an interface descriptor in bytes.
const InterfaceDescriptorSize = 9

// MarshalTo serializes the interface descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// ParseInterfaceDescriptor parses an interface descriptor from data into out.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := checkHeader(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

// EndpointDescriptor is the 7-byte endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8 // Number, with bit 7 set for IN
	Attributes      uint8 // Transfer type in bits 1:0
	MaxPacketSize   uint16
	Interval        uint8
}

// EndpointDescriptorSize is the size of an endpoint descriptor in bytes.
const EndpointDescriptorSize = 7

// EndpointDescriptorOf returns the descriptor of one direction of cfg.
func EndpointDescriptorOf(cfg hal.EndpointConfig, dir hal.Direction) EndpointDescriptor {
	addr := cfg.Number & 0x0F
	if dir == hal.DirIn {
		addr |= 0x80
	}
	return EndpointDescriptor{
		EndpointAddress: addr,
		Attributes:      cfg.Type.Attributes(),
		MaxPacketSize:   cfg.MaxPacketSize,
		Interval:        cfg.Interval,
	}
}

// MarshalTo serializes the endpoint descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointDescriptorSize {
		return 0
	}
	buf[0] = EndpointDescriptorSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = e.EndpointAddress
	buf[3] = e.Attributes
	binary.LittleEndian.PutUint16(buf[4:6], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// ParseEndpointDescriptor parses an endpoint descriptor from data into out.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = binary.LittleEndian.Uint16(data[4:6])
	out.Interval = data[6]
	return nil
}

// InterfaceAssociationDescriptor groups contiguous interfaces into one
// function, as composite devices do for CDC.
type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	FunctionIndex    uint8
}

// IADSize is the size of an interface association descriptor in bytes.
const IADSize = 8

// MarshalTo serializes the IAD to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (i *InterfaceAssociationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < IADSize {
		return 0
	}
	buf[0] = IADSize
	buf[1] = DescriptorTypeInterfaceAssociation
	buf[2] = i.FirstInterface
	buf[3] = i.InterfaceCount
	buf[4] = i.FunctionClass
	buf[5] = i.FunctionSubClass
	buf[6] = i.FunctionProtocol
	buf[7] = i.FunctionIndex
	return IADSize
}

// FunctionalDescriptor is a class-specific descriptor: a 3-byte header
// {length, type, subtype} followed by the payload.
type FunctionalDescriptor struct {
	Type    uint8 // DescriptorTypeCSInterface or DescriptorTypeCSEndpoint
	Subtype uint8
	Payload []byte
}

// Size returns the encoded length.
func (f *FunctionalDescriptor) Size() int { return 3 + len(f.Payload) }

// MarshalTo serializes the functional descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (f *FunctionalDescriptor) MarshalTo(buf []byte) int {
	n := f.Size()
	if len(buf) < n || n > 255 {
		return 0
	}
	buf[0] = uint8(n)
	buf[1] = f.Type
	buf[2] = f.Subtype
	copy(buf[3:], f.Payload)
	return n
}

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// maxStringUnits is the most UTF-16 code units a string descriptor holds.
const maxStringUnits = (255 - 2) / 2

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// StringDescriptor encodes s as a UTF-16LE string descriptor. Strings
// longer than a descriptor can hold are truncated on a code unit boundary
// that does not split a surrogate pair.
func StringDescriptor(s string) ([]byte, error) {
	body, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode string descriptor: %w", pkg.ErrInvalidParameter)
	}
	if len(body) > 2*maxStringUnits {
		body = body[:2*maxStringUnits]
		// Drop a dangling high surrogate.
		if hi := binary.LittleEndian.Uint16(body[len(body)-2:]); hi >= 0xD800 && hi < 0xDC00 {
			body = body[:len(body)-2]
		}
	}
	out := make([]byte, 2+len(body))
	out[0] = uint8(len(out))
	out[1] = DescriptorTypeString
	copy(out[2:], body)
	return out, nil
}

// ParseStringDescriptor decodes a string descriptor.
func ParseStringDescriptor(data []byte) (string, error) {
	if err := checkHeader(data, 2, DescriptorTypeString); err != nil {
		return "", err
	}
	n := max(min(int(data[0]), len(data)), 2)
	s, err := utf16le.NewDecoder().Bytes(data[2:n])
	if err != nil {
		return "", fmt.Errorf("decode string descriptor: %w", pkg.ErrInvalidParameter)
	}
	return string(s), nil
}

// LanguageDescriptor returns the string descriptor at index 0 listing
// langIDs.
func LanguageDescriptor(langIDs ...uint16) []byte {
	out := make([]byte, 2+2*len(langIDs))
	out[0] = uint8(len(out))
	out[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(out[2+2*i:], id)
	}
	return out
}
