package pkg

import (
	"errors"
	"fmt"
)

// Protocol errors.
var (
	// ErrStall indicates the request is answered with a STALL handshake.
	ErrStall = errors.New("endpoint stalled")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates a transfer is already outstanding.
	ErrBusy = errors.New("resource busy")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrLengthMismatch indicates a data stage shorter than the structure it carries.
	ErrLengthMismatch = errors.New("data length mismatch")
)

// Configuration errors. These are reported while planning the buffer
// layout, before the device can run.
var (
	// ErrSlotConflict indicates two endpoints that cannot share a register slot.
	ErrSlotConflict = errors.New("incompatible endpoints share a register slot")

	// ErrDuplicateEndpoint indicates one address and direction declared twice.
	ErrDuplicateEndpoint = errors.New("duplicate endpoint declaration")

	// ErrTooManySlots indicates more register slots than the hardware has.
	ErrTooManySlots = errors.New("too many endpoint register slots")

	// ErrLayoutOverflow indicates buffers exceed packet memory.
	ErrLayoutOverflow = errors.New("packet memory overflow")

	// ErrFIFOOverflow indicates FIFOs exceed FIFO RAM.
	ErrFIFOOverflow = errors.New("FIFO RAM overflow")

	// ErrTooManyFIFOs indicates an IN endpoint without a transmit FIFO.
	ErrTooManyFIFOs = errors.New("too many transmit FIFOs")

	// ErrMaxPacketSize indicates a max packet size the transport cannot carry.
	ErrMaxPacketSize = errors.New("invalid max packet size")

	// ErrChecksum indicates a corrupt layout image.
	ErrChecksum = errors.New("checksum mismatch")
)

// EndpointError attaches the offending endpoint address to a sentinel.
type EndpointError struct {
	Address uint8
	Err     error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint 0x%02X: %v", e.Address, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

// NewEndpointError returns err tagged with the endpoint address.
func NewEndpointError(address uint8, err error) error {
	return &EndpointError{Address: address, Err: err}
}
