package pma

import (
	"github.com/ardnew/mcusb/device/hal/haltest"
)

// Sim is a register-level model of the buffer descriptor table
// peripheral. The controller reaches it through [Bus]; tests play the host
// through the [haltest.Host] methods.
type Sim struct {
	ep       [8]uint16
	cntr     uint16
	istr     uint16 // Latched RESET, SUSP and WKUP bits
	daddr    uint16
	btable   uint16
	bcdr     uint16
	mem      []byte
	doubling bool
	log      []haltest.Transaction
}

// NewSim returns a simulator with opts' packet memory size and access
// mode.
func NewSim(opts Options) *Sim {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultOptions.Capacity
	}
	size := int(opts.Capacity)
	if opts.AddressDoubling {
		size *= 2
	}
	return &Sim{mem: make([]byte, size), doubling: opts.AddressDoubling}
}

var (
	_ Bus          = (*Sim)(nil)
	_ haltest.Host = (*Sim)(nil)
)

// ReadReg implements Bus.
func (s *Sim) ReadReg(off uint32) uint16 {
	switch {
	case off < regEP0R+8*epStride:
		return s.ep[off/epStride]
	case off == regCNTR:
		return s.cntr
	case off == regISTR:
		return s.istrValue()
	case off == regDADDR:
		return s.daddr
	case off == regBTABLE:
		return s.btable
	case off == regBCDR:
		return s.bcdr
	}
	return 0
}

// WriteReg implements Bus with each field's access type: read/write,
// clear by writing zero, or toggle by writing one.
func (s *Sim) WriteReg(off uint32, v uint16) {
	switch {
	case off < regEP0R+8*epStride:
		s.writeEP(int(off/epStride), v)
	case off == regCNTR:
		s.cntr = v
	case off == regISTR:
		s.istr &= v | ^uint16(istrClearable)
	case off == regDADDR:
		s.daddr = v & (daddrEF | daddrADD)
	case off == regBTABLE:
		s.btable = v
	case off == regBCDR:
		s.bcdr = v
	}
}

func (s *Sim) writeEP(n int, v uint16) {
	r := s.ep[n]
	const rw = epTYPE | epKIND | epEA
	r = r&^rw | v&rw
	if v&epCTRRx == 0 {
		r &^= epCTRRx
	}
	if v&epCTRTx == 0 {
		r &^= epCTRTx
	}
	r ^= v & (epDTOGRx | epSTATRx | epDTOGTx | epSTATTx)
	s.ep[n] = r
}

func (s *Sim) istrValue() uint16 {
	v := s.istr & istrClearable
	for slot, r := range s.ep {
		if r&(epCTRRx|epCTRTx) != 0 {
			v |= istrCTR | uint16(slot)
			if r&epCTRRx != 0 {
				v |= istrDIR
			}
			break
		}
	}
	return v
}

// ReadPMA implements Bus.
func (s *Sim) ReadPMA(off uint32) uint16 {
	return uint16(s.mem[off]) | uint16(s.mem[off+1])<<8
}

// WritePMA implements Bus.
func (s *Sim) WritePMA(off uint32, v uint16) {
	s.mem[off] = byte(v)
	s.mem[off+1] = byte(v >> 8)
}

// Hardware-side packet memory access by logical offset.

func (s *Sim) word(off uint16) uint16 {
	if s.doubling {
		return s.ReadPMA(uint32(off) * 2)
	}
	return s.ReadPMA(uint32(off))
}

func (s *Sim) setWord(off, v uint16) {
	if s.doubling {
		s.WritePMA(uint32(off)*2, v)
		return
	}
	s.WritePMA(uint32(off), v)
}

func (s *Sim) cell(slot int, cell uint16) uint16 {
	return s.word(s.btable + uint16(slot)*8 + cell)
}

func (s *Sim) setCell(slot int, cell, v uint16) {
	s.setWord(s.btable+uint16(slot)*8+cell, v)
}

func (s *Sim) store(addr uint16, p []byte) {
	for i := 0; i < len(p); i += 2 {
		w := uint16(p[i])
		if i+1 < len(p) {
			w |= uint16(p[i+1]) << 8
		}
		s.setWord(addr+uint16(i), w)
	}
}

func (s *Sim) load(addr uint16, n int) []byte {
	p := make([]byte, n)
	for i := 0; i < n; i += 2 {
		w := s.word(addr + uint16(i))
		p[i] = byte(w)
		if i+1 < n {
			p[i+1] = byte(w >> 8)
		}
	}
	return p
}

// Address returns the device address hardware answers to, and whether
// the function is enabled.
func (s *Sim) Address() (uint8, bool) {
	return uint8(s.daddr & daddrADD), s.daddr&daddrEF != 0
}

// Connected reports whether the D+ pull-up is on.
func (s *Sim) Connected() bool { return s.bcdr&bcdrDPPU != 0 }

// Register returns the raw EPnR value of slot.
func (s *Sim) Register(slot int) uint16 { return s.ep[slot] }

// Transactions returns every token exchange so far.
func (s *Sim) Transactions() []haltest.Transaction { return s.log }

func (s *Sim) record(tok haltest.Token, addr, ep uint8, data []byte, h haltest.Handshake) haltest.Handshake {
	s.log = append(s.log, haltest.Transaction{
		Token: tok, Addr: addr, Endpoint: ep,
		Data: append([]byte(nil), data...), Result: h,
	})
	return h
}

func (s *Sim) addressed(addr uint8) bool {
	return s.cntr&cntrFRES == 0 && s.daddr&daddrEF != 0 && uint8(s.daddr&daddrADD) == addr
}

// find returns the slot serving ep in the direction whose status field is
// given, preferring one that is not disabled.
func (s *Sim) find(ep uint8, stat uint16) int {
	found := -1
	for slot, r := range s.ep {
		if uint8(r&epEA) != ep {
			continue
		}
		if r&stat != 0 {
			return slot
		}
		if found < 0 {
			found = slot
		}
	}
	return found
}

func isDouble(r uint16) bool { return r&epTYPE == epTypeBulk && r&epKIND != 0 }

// Reset implements haltest.Host: hardware clears every endpoint register
// and the device address and latches the reset interrupt.
func (s *Sim) Reset() {
	s.ep = [8]uint16{}
	s.daddr = 0
	s.istr |= istrRESET
}

// Setup implements haltest.Host. A control endpoint acknowledges SETUP
// whatever its status, then NAKs both directions until software rearms
// them; the data stage starts at DATA1.
func (s *Sim) Setup(addr uint8, setup []byte) haltest.Handshake {
	if !s.addressed(addr) {
		return s.record(haltest.TokenSetup, addr, 0, setup, haltest.NoResponse)
	}
	slot := s.find(0, epSTATRx)
	if slot < 0 || s.ep[slot]&epTYPE != epTypeControl || s.ep[slot]&epSTATRx == 0 {
		return s.record(haltest.TokenSetup, addr, 0, setup, haltest.NoResponse)
	}
	if int(rxCellSize(s.cell(slot, cellCountRx))) < len(setup) {
		return s.record(haltest.TokenSetup, addr, 0, setup, haltest.NoResponse)
	}
	s.store(s.cell(slot, cellAddrRx), setup)
	s.setCell(slot, cellCountRx, s.cell(slot, cellCountRx)&^countMask|uint16(len(setup)))

	r := s.ep[slot] | epCTRRx | epSETUP | epDTOGRx | epDTOGTx
	r = r&^(epSTATRx|epSTATTx) | 2<<statRxShift | 2<<statTxShift
	s.ep[slot] = r
	return s.record(haltest.TokenSetup, addr, 0, setup, haltest.ACK)
}

// Out implements haltest.Host.
func (s *Sim) Out(addr, ep uint8, data []byte) haltest.Handshake {
	h := s.out(addr, ep, data)
	return s.record(haltest.TokenOut, addr, ep, data, h)
}

func (s *Sim) out(addr, ep uint8, data []byte) haltest.Handshake {
	if !s.addressed(addr) {
		return haltest.NoResponse
	}
	slot := s.find(ep, epSTATRx)
	if slot < 0 {
		return haltest.NoResponse
	}
	r := s.ep[slot]
	switch (r & epSTATRx) >> statRxShift {
	case 0:
		return haltest.NoResponse
	case 1:
		return haltest.STALL
	case 2:
		return haltest.NAK
	}
	if r&epTYPE == epTypeControl && r&epKIND != 0 && len(data) != 0 {
		return haltest.STALL
	}

	addrCell, countCell := uint16(cellAddrRx), uint16(cellCountRx)
	double := isDouble(r)
	if double {
		dtog, swbuf := r&epDTOGRx != 0, r&epDTOGTx != 0
		if dtog == swbuf {
			return haltest.NAK
		}
		if !dtog {
			addrCell, countCell = cellAddrTx, cellCountTx
		}
	}
	count := s.cell(slot, countCell)
	if len(data) > int(rxCellSize(count)) {
		return haltest.NoResponse
	}
	s.store(s.cell(slot, addrCell), data)
	s.setCell(slot, countCell, count&^countMask|uint16(len(data)))

	r = (r | epCTRRx) &^ epSETUP
	r ^= epDTOGRx
	if !double {
		r = r&^epSTATRx | 2<<statRxShift
	}
	s.ep[slot] = r
	return haltest.ACK
}

// In implements haltest.Host.
func (s *Sim) In(addr, ep uint8) ([]byte, haltest.Handshake) {
	data, h := s.in(addr, ep)
	s.record(haltest.TokenIn, addr, ep, data, h)
	return data, h
}

func (s *Sim) in(addr, ep uint8) ([]byte, haltest.Handshake) {
	if !s.addressed(addr) {
		return nil, haltest.NoResponse
	}
	slot := s.find(ep, epSTATTx)
	if slot < 0 {
		return nil, haltest.NoResponse
	}
	r := s.ep[slot]
	switch (r & epSTATTx) >> statTxShift {
	case 0:
		return nil, haltest.NoResponse
	case 1:
		return nil, haltest.STALL
	case 2:
		return nil, haltest.NAK
	}

	addrCell, countCell := uint16(cellAddrTx), uint16(cellCountTx)
	double := isDouble(r)
	if double {
		dtog, swbuf := r&epDTOGTx != 0, r&epDTOGRx != 0
		if dtog == swbuf {
			return nil, haltest.NAK
		}
		if dtog {
			addrCell, countCell = cellAddrRx, cellCountRx
		}
	}
	n := int(s.cell(slot, countCell) & countMask)
	data := s.load(s.cell(slot, addrCell), n)

	r |= epCTRTx
	r ^= epDTOGTx
	if !double {
		r = r&^epSTATTx | 2<<statTxShift
	}
	s.ep[slot] = r
	return data, haltest.ACK
}
