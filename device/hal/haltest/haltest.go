// Package haltest drives simulated peripherals from the host side of the
// bus. Both backend simulators implement [Host], so device-level tests run
// the same control transfers against either one.
package haltest

import (
	"fmt"

	"github.com/ardnew/mcusb/pkg"
)

// Handshake is the device's answer to a token.
type Handshake uint8

// Handshakes. NoResponse stands for a timeout: the device ignored the token.
const (
	NoResponse Handshake = iota
	ACK
	NAK
	STALL
)

func (h Handshake) String() string {
	switch h {
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case STALL:
		return "STALL"
	default:
		return "none"
	}
}

// Token is a host token kind.
type Token uint8

// Tokens.
const (
	TokenSetup Token = iota
	TokenOut
	TokenIn
)

func (t Token) String() string {
	switch t {
	case TokenSetup:
		return "SETUP"
	case TokenOut:
		return "OUT"
	default:
		return "IN"
	}
}

// Transaction records one token exchange.
type Transaction struct {
	Token    Token
	Addr     uint8
	Endpoint uint8
	Data     []byte
	Result   Handshake
}

func (t Transaction) String() string {
	return fmt.Sprintf("%s %d.%d [%d] %s", t.Token, t.Addr, t.Endpoint, len(t.Data), t.Result)
}

// Host issues tokens to a simulated device.
type Host interface {
	Reset()
	Setup(addr uint8, setup []byte) Handshake
	Out(addr, ep uint8, data []byte) Handshake
	In(addr, ep uint8) ([]byte, Handshake)
	Transactions() []Transaction
}

// MaxRetries bounds NAK retries per transaction.
const MaxRetries = 16

// Bus pairs a host with the device poll function that services the
// device's interrupts between tokens.
type Bus struct {
	Host Host
	Poll func()
}

// Setup sends a SETUP packet and lets the device handle it.
func (b *Bus) Setup(addr uint8, setup []byte) Handshake {
	h := b.Host.Setup(addr, setup)
	b.Poll()
	return h
}

// Out sends one OUT packet, retrying while the device NAKs.
func (b *Bus) Out(addr, ep uint8, data []byte) Handshake {
	for i := 0; i < MaxRetries; i++ {
		h := b.Host.Out(addr, ep, data)
		b.Poll()
		if h != NAK {
			return h
		}
	}
	return NAK
}

// In requests one IN packet, retrying while the device NAKs.
func (b *Bus) In(addr, ep uint8) ([]byte, Handshake) {
	for i := 0; i < MaxRetries; i++ {
		data, h := b.Host.In(addr, ep)
		b.Poll()
		if h != NAK {
			return data, h
		}
	}
	return nil, NAK
}

// Reset signals a bus reset and lets the device handle it.
func (b *Bus) Reset() {
	b.Host.Reset()
	b.Poll()
}

// ReadIn collects IN packets until a short packet, or until want bytes
// arrived in packets of exactly mps bytes.
func (b *Bus) ReadIn(addr, ep uint8, mps, want int) ([]byte, error) {
	var out []byte
	for {
		p, h := b.In(addr, ep)
		if h != ACK {
			return out, fmt.Errorf("IN %d.%d: %s: %w", addr, ep, h, pkg.ErrStall)
		}
		out = append(out, p...)
		if len(p) < mps || len(out) >= want {
			return out, nil
		}
	}
}

// ControlIn runs SETUP, an IN data stage and a zero-length OUT status
// stage on endpoint 0.
func (b *Bus) ControlIn(addr uint8, setup []byte, mps int) ([]byte, error) {
	if h := b.Setup(addr, setup); h != ACK {
		return nil, fmt.Errorf("SETUP: %s: %w", h, pkg.ErrStall)
	}
	want := int(setup[6]) | int(setup[7])<<8
	data, err := b.ReadIn(addr, 0, mps, want)
	if err != nil {
		return data, err
	}
	if h := b.Out(addr, 0, nil); h != ACK {
		return data, fmt.Errorf("status OUT: %s: %w", h, pkg.ErrStall)
	}
	return data, nil
}

// ControlOut runs SETUP, an OUT data stage split into mps packets (none
// for empty data) and a zero-length IN status stage on endpoint 0.
func (b *Bus) ControlOut(addr uint8, setup, data []byte, mps int) error {
	if h := b.Setup(addr, setup); h != ACK {
		return fmt.Errorf("SETUP: %s: %w", h, pkg.ErrStall)
	}
	for off := 0; off < len(data); off += mps {
		end := min(off+mps, len(data))
		if h := b.Out(addr, 0, data[off:end]); h != ACK {
			return fmt.Errorf("data OUT: %s: %w", h, pkg.ErrStall)
		}
	}
	p, h := b.In(addr, 0)
	if h != ACK {
		return fmt.Errorf("status IN: %s: %w", h, pkg.ErrStall)
	}
	if len(p) != 0 {
		return fmt.Errorf("status IN carried %d bytes: %w", len(p), pkg.ErrInvalidRequest)
	}
	return nil
}

// SetupPacket encodes a SETUP packet.
func SetupPacket(requestType, request uint8, value, index, length uint16) []byte {
	return []byte{
		requestType, request,
		byte(value), byte(value >> 8),
		byte(index), byte(index >> 8),
		byte(length), byte(length >> 8),
	}
}
