package layout

import (
	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// BDTOptions describes the packet memory of a buffer descriptor table
// peripheral.
type BDTOptions struct {
	Capacity uint16 // Packet memory size in bytes
	MaxSlots int    // Endpoint register slots
}

// DefaultBDTOptions matches the common 512-byte, 8-register peripheral.
var DefaultBDTOptions = BDTOptions{Capacity: 512, MaxSlots: 8}

// DescriptorSize is the size of one buffer descriptor table entry: four
// 16-bit cells.
const DescriptorSize = 8

// BDTEntry is the placement of one declaration.
type BDTEntry struct {
	Endpoint hal.EndpointConfig
	Kind     hal.Kind
	Slot     uint8

	// Buffers[0] is the receive buffer (or buffer 0 when double
	// buffered); Buffers[1] is the transmit buffer (or buffer 1).
	// Single-buffered endpoints use only the half matching their
	// direction.
	Buffers [2]Region
}

// RxBuffer returns the region hardware writes OUT data into.
func (e *BDTEntry) RxBuffer() Region {
	if e.Endpoint.Direction == hal.DirIn {
		return Region{}
	}
	return e.Buffers[0]
}

// TxBuffer returns the region hardware reads IN data from.
func (e *BDTEntry) TxBuffer() Region {
	if e.Endpoint.Direction == hal.DirOut && !e.Kind.DoubleBuffered {
		return Region{}
	}
	if e.Endpoint.Direction == hal.DirIn && !e.Kind.DoubleBuffered {
		return e.Buffers[0]
	}
	return e.Buffers[1]
}

// BDTPlan is a complete buffer descriptor table layout: the descriptor
// table at the base of packet memory followed by every endpoint buffer.
type BDTPlan struct {
	Entries    []BDTEntry // Sorted by number, OUT before IN
	Slots      int        // Register slots in use
	HeaderSize uint16     // Descriptor table bytes
	Used       uint16     // First free byte
	Capacity   uint16     // Packet memory size

	index [16][2]int8
}

// BufferSize returns the bytes reserved for one buffer of mps bytes. The
// receive count cell encodes sizes up to 62 in 2-byte blocks and larger
// sizes in 32-byte blocks, so buffers are rounded to match.
func BufferSize(mps uint16) uint16 {
	if mps <= 62 {
		return alignUp(mps, 2)
	}
	return alignUp(mps, 32)
}

// PlanBDT computes the register slots and buffer offsets for eps.
func PlanBDT(eps []hal.EndpointConfig, opts BDTOptions) (*BDTPlan, error) {
	sorted, err := Normalize(eps)
	if err != nil {
		return nil, fail(err, "plan buffer descriptor table")
	}

	p := &BDTPlan{
		Entries:  make([]BDTEntry, 0, len(sorted)),
		Capacity: opts.Capacity,
	}
	for n := range p.index {
		p.index[n] = [2]int8{-1, -1}
	}

	slot := -1
	for i, ep := range sorted {
		kind := hal.KindOf(ep)
		if i > 0 && sorted[i-1].Number == ep.Number {
			prev := sorted[i-1]
			// A slot register has a single transfer-type field.
			if kind.Exclusive || hal.KindOf(prev).Exclusive || prev.Type != ep.Type {
				return nil, fail(pkg.NewEndpointError(ep.Address(), pkg.ErrSlotConflict), "plan buffer descriptor table")
			}
		} else {
			slot++
		}
		p.Entries = append(p.Entries, BDTEntry{Endpoint: ep, Kind: kind, Slot: uint8(slot)})
	}

	p.Slots = slot + 1
	if p.Slots > opts.MaxSlots {
		return nil, fail(pkg.ErrTooManySlots, "plan buffer descriptor table")
	}
	p.HeaderSize = uint16(DescriptorSize * p.Slots)

	offset := uint32(p.HeaderSize)
	for i := range p.Entries {
		e := &p.Entries[i]
		size := BufferSize(e.Endpoint.MaxPacketSize)
		for b := 0; b < e.Kind.Buffers; b++ {
			e.Buffers[b] = Region{Offset: uint16(offset), Size: size}
			offset += uint32(size)
		}
		if offset > uint32(opts.Capacity) {
			return nil, fail(pkg.NewEndpointError(e.Endpoint.Address(), pkg.ErrLayoutOverflow), "plan buffer descriptor table")
		}
		p.indexEntry(i)
	}
	p.Used = uint16(offset)

	pkg.LogDebug(pkg.ComponentLayout, "planned buffer descriptor table",
		"endpoints", len(p.Entries), "slots", p.Slots, "used", p.Used, "capacity", p.Capacity)
	return p, nil
}

func (p *BDTPlan) indexEntry(i int) {
	ep := p.Entries[i].Endpoint
	if ep.HasOut() {
		p.index[ep.Number][0] = int8(i)
	}
	if ep.HasIn() {
		p.index[ep.Number][1] = int8(i)
	}
}

// Lookup returns the entry serving endpoint number n in direction dir.
// DirBidirectional looks up the OUT half.
func (p *BDTPlan) Lookup(n uint8, dir hal.Direction) (*BDTEntry, bool) {
	h := 0
	if dir == hal.DirIn {
		h = 1
	}
	i := p.index[n&0x0F][h]
	if i < 0 {
		return nil, false
	}
	return &p.Entries[i], true
}

// SlotOf returns the register slot of endpoint number n, or -1.
func (p *BDTPlan) SlotOf(n uint8) int {
	for h := 0; h < 2; h++ {
		if i := p.index[n&0x0F][h]; i >= 0 {
			return int(p.Entries[i].Slot)
		}
	}
	return -1
}

// Regions returns every reserved buffer, descriptor table first.
func (p *BDTPlan) Regions() []Region {
	out := []Region{{Offset: 0, Size: p.HeaderSize}}
	for _, e := range p.Entries {
		for b := 0; b < e.Kind.Buffers; b++ {
			out = append(out, e.Buffers[b])
		}
	}
	return out
}

// Endpoints returns the normalized declaration set.
func (p *BDTPlan) Endpoints() []hal.EndpointConfig {
	out := make([]hal.EndpointConfig, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Endpoint
	}
	return out
}
