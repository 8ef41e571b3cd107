package hal

import (
	"fmt"
	"strings"

	"github.com/ardnew/mcusb/pkg"
)

// Direction selects which halves of an endpoint address are in use.
type Direction uint8

// Endpoint directions.
const (
	DirOut           Direction = iota // Host to device
	DirIn                             // Device to host
	DirBidirectional                  // Both halves under one address
)

// String returns the lower-case direction name used in declaration files.
func (d Direction) String() string {
	switch d {
	case DirOut:
		return "out"
	case DirIn:
		return "in"
	case DirBidirectional:
		return "bidirectional"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection parses a direction name as produced by [Direction.String].
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "out":
		return DirOut, nil
	case "in":
		return DirIn, nil
	case "bidirectional", "bidir", "inout":
		return DirBidirectional, nil
	}
	return 0, fmt.Errorf("direction %q: %w", s, pkg.ErrInvalidParameter)
}

// TransferType is the declared transfer type of an endpoint. It refines the
// four USB transfer types with the variants that change buffer handling.
type TransferType uint8

// Transfer types.
const (
	TypeControl            TransferType = iota // Control, default pipe
	TypeIsochronous                            // Isochronous
	TypeBulk                                   // Bulk, single buffered
	TypeInterrupt                              // Interrupt
	TypeControlStatusOut                       // Control, expects only ZLP in OUT status stages
	TypeBulkDoubleBuffered                     // Bulk, two hardware buffers
)

var typeNames = [...]string{
	TypeControl:            "control",
	TypeIsochronous:        "isochronous",
	TypeBulk:               "bulk",
	TypeInterrupt:          "interrupt",
	TypeControlStatusOut:   "control-status-out",
	TypeBulkDoubleBuffered: "bulk-double-buffered",
}

// String returns the lower-case type name used in declaration files.
func (t TransferType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseTransferType parses a type name as produced by [TransferType.String].
func ParseTransferType(s string) (TransferType, error) {
	s = strings.ToLower(s)
	for i, name := range typeNames {
		if name == s {
			return TransferType(i), nil
		}
	}
	return 0, fmt.Errorf("transfer type %q: %w", s, pkg.ErrInvalidParameter)
}

// Attributes returns the bmAttributes transfer type bits for descriptors.
func (t TransferType) Attributes() uint8 {
	switch t {
	case TypeIsochronous:
		return 0x01
	case TypeBulk, TypeBulkDoubleBuffered:
		return 0x02
	case TypeInterrupt:
		return 0x03
	default:
		return 0x00
	}
}

// IsControl reports whether t is one of the control variants.
func (t TransferType) IsControl() bool {
	return t == TypeControl || t == TypeControlStatusOut
}

// Full-Speed packet size limits.
const (
	MaxPacketSizeFS    = 64
	MaxPacketSizeFSIso = 1023
)

// EndpointConfig declares one endpoint. The full set for a device is fixed
// before the device is built.
type EndpointConfig struct {
	Number        uint8        // Endpoint number (0-15)
	Direction     Direction    // Out, In, or both
	Type          TransferType // Declared transfer type
	MaxPacketSize uint16       // Largest packet in bytes
	Interval      uint8        // Polling interval for interrupt/isochronous
	NoZLP         bool         // Suppress the trailing zero-length packet
}

// Address returns the endpoint address. Bidirectional endpoints report the
// OUT address.
func (c EndpointConfig) Address() uint8 {
	if c.Direction == DirIn {
		return 0x80 | c.Number&0x0F
	}
	return c.Number & 0x0F
}

// HasOut reports whether the endpoint receives data.
func (c EndpointConfig) HasOut() bool { return c.Direction != DirIn }

// HasIn reports whether the endpoint transmits data.
func (c EndpointConfig) HasIn() bool { return c.Direction != DirOut }

// Validate checks the declaration against Full-Speed limits.
func (c EndpointConfig) Validate() error {
	if c.Number > 15 {
		return pkg.NewEndpointError(c.Address(), pkg.ErrInvalidEndpoint)
	}
	if c.Direction > DirBidirectional || c.Type > TypeBulkDoubleBuffered {
		return pkg.NewEndpointError(c.Address(), pkg.ErrInvalidParameter)
	}
	limit := uint16(MaxPacketSizeFS)
	if c.Type == TypeIsochronous {
		limit = MaxPacketSizeFSIso
	}
	if c.MaxPacketSize == 0 || c.MaxPacketSize > limit {
		return pkg.NewEndpointError(c.Address(), pkg.ErrMaxPacketSize)
	}
	if c.Type.IsControl() {
		switch c.MaxPacketSize {
		case 8, 16, 32, 64:
		default:
			return pkg.NewEndpointError(c.Address(), pkg.ErrMaxPacketSize)
		}
	}
	return nil
}

func (c EndpointConfig) String() string {
	return fmt.Sprintf("ep%d %s %s mps=%d", c.Number, c.Direction, c.Type, c.MaxPacketSize)
}

// Kind is the per-kind behavior row used by the planners and backends.
type Kind struct {
	Exclusive      bool // Owns its register slot outright
	Buffers        int  // Physical buffers reserved
	DoubleBuffered bool // Hardware alternates between the two buffers
	StatusOut      bool // Control endpoint flagged for ZLP-only OUT status
}

// KindOf returns the behavior row for a declaration.
func KindOf(c EndpointConfig) Kind {
	switch {
	case c.Type == TypeBulkDoubleBuffered:
		return Kind{Exclusive: true, Buffers: 2, DoubleBuffered: true}
	case c.Type.IsControl(), c.Direction == DirBidirectional:
		return Kind{Exclusive: true, Buffers: 2, StatusOut: c.Type == TypeControlStatusOut}
	default:
		return Kind{Buffers: 1}
	}
}

// Status is the handshake an endpoint half answers with.
type Status uint8

// Endpoint status values, in register encoding order.
const (
	StatusDisabled Status = iota // Ignore tokens
	StatusStall                  // Answer STALL
	StatusNak                    // Answer NAK
	StatusValid                  // Accept or transmit
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusStall:
		return "stall"
	case StatusNak:
		return "nak"
	case StatusValid:
		return "valid"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ReceiveFunc is called once per received OUT or SETUP packet. data is only
// valid during the call.
type ReceiveFunc func(data []byte, setup bool)

// Endpoint is the capability set every backend realization provides.
type Endpoint interface {
	// Config returns the declaration the endpoint was built from.
	Config() EndpointConfig

	// Reset programs type and address, clears any transfer in progress,
	// arms OUT halves Valid and IN halves Nak.
	Reset()

	SetRxStatus(s Status)
	SetTxStatus(s Status)
	RxStatus() Status
	TxStatus() Status

	// SendData queues data as ceil(len/MaxPacketSize) packets, plus a
	// zero-length packet when len is a nonzero multiple of MaxPacketSize
	// and the declaration does not suppress it. An empty data sends one
	// zero-length packet. done runs once, after the last packet is
	// acknowledged.
	SendData(data []byte, done func())

	// SendDataZLP is SendData with an explicit trailing zero-length packet
	// decision for exact multiples.
	SendDataZLP(data []byte, zlp bool, done func())

	// OnReceive installs the receive handler.
	OnReceive(fn ReceiveFunc)

	// Handle services an event routed to this endpoint.
	Handle(ev Event)
}

// Clock is the peripheral clock collaborator.
type Clock interface {
	Enable()
	Disable()
	ClockFreq() uint32
}

// FixedClock is a Clock with a constant frequency.
type FixedClock struct {
	Hz      uint32
	Enabled bool
}

func (c *FixedClock) Enable()           { c.Enabled = true }
func (c *FixedClock) Disable()          { c.Enabled = false }
func (c *FixedClock) ClockFreq() uint32 { return c.Hz }

// Controller is one hardware backend: it plans its buffer layout, realizes
// endpoints on it, and decodes its interrupts into events.
type Controller interface {
	// Configure plans the layout for the complete endpoint set. It must
	// succeed before Init.
	Configure(eps []EndpointConfig) error

	// Init enables the clock and programs the planned layout.
	Init() error

	// Endpoint returns the realization serving number in direction dir, or
	// nil if none was declared.
	Endpoint(number uint8, dir Direction) Endpoint

	// SetAddress writes the device address to hardware.
	SetAddress(addr uint8)

	// Connect enables or disables the bus pull-up.
	Connect(on bool)

	// Poll services pending interrupts, calling dispatch once per event.
	// It returns the number of events dispatched.
	Poll(dispatch func(Event)) int

	// Transfers returns the per-endpoint transfer context table.
	Transfers() *Table
}
