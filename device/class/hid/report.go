package hid

import (
	"encoding/binary"

	"github.com/ardnew/mcusb/device"
)

// Descriptor is the HID class descriptor, emitted between the interface
// descriptor and its endpoints.
type Descriptor struct {
	Version          uint16 // BCD, 0x0111 for HID 1.11
	CountryCode      uint8
	ReportDescLength uint16
}

// DescriptorSize is the wire size of a class descriptor naming one report
// descriptor.
const DescriptorSize = 9

// MarshalTo writes the class descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *Descriptor) MarshalTo(buf []byte) int {
	if len(buf) < DescriptorSize {
		return 0
	}
	buf[0] = DescriptorSize
	buf[1] = DescriptorTypeHID
	binary.LittleEndian.PutUint16(buf[2:4], d.Version)
	buf[4] = d.CountryCode
	buf[5] = 1
	buf[6] = DescriptorTypeReport
	binary.LittleEndian.PutUint16(buf[7:9], d.ReportDescLength)
	return DescriptorSize
}

// Functional returns the class descriptor in the form interfaces carry.
// Its third byte, the low byte of bcdHID, takes the subtype position.
func (d *Descriptor) Functional() device.FunctionalDescriptor {
	var buf [DescriptorSize]byte
	d.MarshalTo(buf[:])
	return device.FunctionalDescriptor{
		Type:    buf[1],
		Subtype: buf[2],
		Payload: append([]byte(nil), buf[3:]...),
	}
}

// KeyboardReport is the 8-byte boot keyboard input report.
type KeyboardReport struct {
	Modifiers uint8
	Keys      [6]uint8
}

// KeyboardReportSize is the wire size of KeyboardReport.
const KeyboardReportSize = 8

// MarshalTo writes the report to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *KeyboardReport) MarshalTo(buf []byte) int {
	if len(buf) < KeyboardReportSize {
		return 0
	}
	buf[0] = r.Modifiers
	buf[1] = 0
	copy(buf[2:8], r.Keys[:])
	return KeyboardReportSize
}

// Press adds key to the report. It reports false when six keys are
// already down.
func (r *KeyboardReport) Press(key uint8) bool {
	for i, k := range r.Keys {
		switch k {
		case key:
			return true
		case KeyNone:
			r.Keys[i] = key
			return true
		}
	}
	return false
}

// Release removes key from the report, keeping the rest in order.
func (r *KeyboardReport) Release(key uint8) {
	for i, k := range r.Keys {
		if k == key {
			copy(r.Keys[i:], r.Keys[i+1:])
			r.Keys[len(r.Keys)-1] = KeyNone
			return
		}
	}
}

// MouseReport is the 4-byte mouse input report.
type MouseReport struct {
	Buttons uint8
	X, Y    int8
	Wheel   int8
}

// MouseReportSize is the wire size of MouseReport.
const MouseReportSize = 4

// MarshalTo writes the report to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *MouseReport) MarshalTo(buf []byte) int {
	if len(buf) < MouseReportSize {
		return 0
	}
	buf[0] = r.Buttons
	buf[1] = byte(r.X)
	buf[2] = byte(r.Y)
	buf[3] = byte(r.Wheel)
	return MouseReportSize
}
