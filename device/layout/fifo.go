package layout

import (
	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// FIFOOptions describes the FIFO RAM of an OTG-style peripheral. All sizes
// are in 32-bit words.
type FIFOOptions struct {
	Words      uint16 // Total FIFO RAM
	MaxTx      int    // Transmit FIFOs, one per IN endpoint number
	RxOverhead uint16 // Receive FIFO words for SETUP packets and status entries
	MinWords   uint16 // Smallest FIFO the hardware accepts
}

// DefaultFIFOOptions matches a 1.25 KiB full-speed OTG core with four IN
// endpoints.
var DefaultFIFOOptions = FIFOOptions{Words: 320, MaxTx: 4, RxOverhead: 10, MinWords: 16}

// FIFOEntry is the transmit FIFO assigned to one IN endpoint.
type FIFOEntry struct {
	Endpoint hal.EndpointConfig
	FIFO     uint8  // Transmit FIFO number, equal to the endpoint number
	Offset   uint16 // Start word
	Words    uint16 // Depth in words
}

// FIFOPlan is a receive FIFO at the base of FIFO RAM followed by one
// transmit FIFO per IN endpoint.
type FIFOPlan struct {
	Endpoints []hal.EndpointConfig // Normalized declaration set
	RxWords   uint16
	Tx        []FIFOEntry // Ordered by FIFO number
	Used      uint16      // First free word
	Capacity  uint16

	index [16]int8
}

// TxDepth returns the transmit FIFO depth in words for an endpoint with
// max packet size mps: room for two packets, never below minWords.
func TxDepth(mps, minWords uint16) uint16 {
	return max(2*ceilDiv(mps, 4), minWords)
}

// RxDepth returns the receive FIFO depth in words for the largest OUT max
// packet size.
func RxDepth(maxOut uint16, opts FIFOOptions) uint16 {
	return max(ceilDiv(maxOut, 4)+1+opts.RxOverhead, opts.MinWords)
}

// PlanFIFO computes FIFO depths and start addresses for eps.
func PlanFIFO(eps []hal.EndpointConfig, opts FIFOOptions) (*FIFOPlan, error) {
	sorted, err := Normalize(eps)
	if err != nil {
		return nil, fail(err, "plan FIFOs")
	}

	p := &FIFOPlan{Endpoints: sorted, Capacity: opts.Words}
	for n := range p.index {
		p.index[n] = -1
	}

	var maxOut uint16
	for _, ep := range sorted {
		if ep.HasOut() && ep.MaxPacketSize > maxOut {
			maxOut = ep.MaxPacketSize
		}
	}
	p.RxWords = RxDepth(maxOut, opts)

	offset := uint32(p.RxWords)
	for _, ep := range sorted {
		if !ep.HasIn() {
			continue
		}
		if int(ep.Number) >= opts.MaxTx {
			return nil, fail(pkg.NewEndpointError(ep.Address(), pkg.ErrTooManyFIFOs), "plan FIFOs")
		}
		depth := TxDepth(ep.MaxPacketSize, opts.MinWords)
		p.index[ep.Number] = int8(len(p.Tx))
		p.Tx = append(p.Tx, FIFOEntry{
			Endpoint: ep,
			FIFO:     ep.Number,
			Offset:   uint16(offset),
			Words:    depth,
		})
		offset += uint32(depth)
		if offset > uint32(opts.Words) {
			return nil, fail(pkg.NewEndpointError(ep.Address(), pkg.ErrFIFOOverflow), "plan FIFOs")
		}
	}
	if offset > uint32(opts.Words) {
		return nil, fail(pkg.ErrFIFOOverflow, "plan FIFOs")
	}
	p.Used = uint16(offset)

	pkg.LogDebug(pkg.ComponentLayout, "planned FIFOs",
		"rx", p.RxWords, "tx", len(p.Tx), "used", p.Used, "capacity", p.Capacity)
	return p, nil
}

// TxFIFO returns the transmit FIFO of IN endpoint number n.
func (p *FIFOPlan) TxFIFO(n uint8) (*FIFOEntry, bool) {
	i := p.index[n&0x0F]
	if i < 0 {
		return nil, false
	}
	return &p.Tx[i], true
}

// Regions returns every FIFO, receive FIFO first, in words.
func (p *FIFOPlan) Regions() []Region {
	out := []Region{{Offset: 0, Size: p.RxWords}}
	for _, e := range p.Tx {
		out = append(out, Region{Offset: e.Offset, Size: e.Words})
	}
	return out
}
