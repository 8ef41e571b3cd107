package otg

import (
	"github.com/ardnew/mcusb/device/hal/haltest"
)

// Sim is a register-level model of the FIFO peripheral. The controller
// reaches it through [Bus]; tests play the host through the
// [haltest.Host] methods.
type Sim struct {
	regs    map[uint32]uint32 // Plain read/write registers
	gintsts uint32            // Latched w1c bits
	ep      [16]simEP
	rx      []rxEntry // Receive FIFO status entries
	rxData  []byte    // Data of the popped entry not yet read
	log     []haltest.Transaction
}

type simEP struct {
	inCtl, inInt, inTsiz    uint32
	outCtl, outInt, outTsiz uint32
	tx                      []byte // Transmit FIFO contents, word padded
}

// rxEntry is one receive FIFO status word, its data, and the interrupt the
// core raises when software pops it.
type rxEntry struct {
	sts   uint32
	data  []byte
	after func()
}

// NewSim returns a simulator with every register zero.
func NewSim() *Sim {
	return &Sim{regs: make(map[uint32]uint32)}
}

var (
	_ Bus          = (*Sim)(nil)
	_ haltest.Host = (*Sim)(nil)
)

// epReg splits an endpoint register offset into its number, direction and
// register within the endpoint block.
func epReg(off uint32) (n uint8, in bool, reg uint32, ok bool) {
	switch {
	case off >= regDIEPCTL0 && off < regDIEPCTL0+16*epRegStride:
		d := off - regDIEPCTL0
		return uint8(d / epRegStride), true, regDIEPCTL0 + d%epRegStride, true
	case off >= regDOEPCTL0 && off < regDOEPCTL0+16*epRegStride:
		d := off - regDOEPCTL0
		return uint8(d / epRegStride), false, regDIEPCTL0 + d%epRegStride, true
	}
	return 0, false, 0, false
}

// Read implements Bus.
func (s *Sim) Read(off uint32) uint32 {
	if off >= regFIFO0 && off < regFIFO(16) {
		return s.popWord()
	}
	if n, in, reg, ok := epReg(off); ok {
		e := &s.ep[n]
		switch {
		case reg == regDIEPCTL0 && in:
			return e.inCtl
		case reg == regDIEPCTL0:
			return e.outCtl
		case reg == regDIEPINT0 && in:
			return e.inInt
		case reg == regDIEPINT0:
			return e.outInt
		case reg == regDIEPTSIZ0 && in:
			return e.inTsiz
		case reg == regDIEPTSIZ0:
			return e.outTsiz
		}
		return 0
	}
	switch off {
	case regGINTSTS:
		return s.gintValue()
	case regGRXSTSP:
		return s.popStatus()
	case regDAINT:
		return s.daint()
	case regGRSTCTL:
		return 0
	}
	return s.regs[off]
}

// Write implements Bus with each field's access type: read/write, clear by
// writing one, or set/clear actions that read back as zero.
func (s *Sim) Write(off uint32, v uint32) {
	if off >= regFIFO0 && off < regFIFO(16) {
		n := (off - regFIFO0) / fifoStride
		s.ep[n].tx = append(s.ep[n].tx, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		return
	}
	if n, in, reg, ok := epReg(off); ok {
		e := &s.ep[n]
		switch {
		case reg == regDIEPCTL0 && in:
			e.inCtl = writeCtl(e.inCtl, v)
		case reg == regDIEPCTL0:
			e.outCtl = writeCtl(e.outCtl, v)
		case reg == regDIEPINT0 && in:
			e.inInt &^= v
		case reg == regDIEPINT0:
			e.outInt &^= v
		case reg == regDIEPTSIZ0 && in:
			e.inTsiz = v
		case reg == regDIEPTSIZ0:
			e.outTsiz = v
		}
		return
	}
	switch off {
	case regGINTSTS:
		s.gintsts &^= v & gintW1C
	case regGRSTCTL:
		s.control(v)
	default:
		s.regs[off] = v
	}
}

func writeCtl(old, v uint32) uint32 {
	const actions = epctlCNAK | epctlSNAK | epctlSD0PID | epctlEPDIS
	r := v&^(actions|epctlNAKSTS|epctlEPENA) | old&(epctlNAKSTS|epctlEPENA) | v&epctlEPENA
	if v&epctlCNAK != 0 {
		r &^= epctlNAKSTS
	}
	if v&epctlSNAK != 0 {
		r |= epctlNAKSTS
	}
	if v&epctlEPDIS != 0 {
		r &^= epctlEPENA
	}
	return r
}

func (s *Sim) control(v uint32) {
	if v&rstCSRST != 0 {
		*s = Sim{regs: make(map[uint32]uint32), log: s.log}
		return
	}
	if v&rstRXFFLSH != 0 {
		s.rx, s.rxData = nil, nil
	}
	if v&rstTXFFLSH != 0 {
		n := (v & rstTXFNUM) >> 6
		for i := range s.ep {
			if n == 0x10 || uint32(i) == n {
				s.ep[i].tx = nil
			}
		}
	}
}

func (s *Sim) gintValue() uint32 {
	v := s.gintsts
	if len(s.rx) > 0 {
		v |= gintRXFLVL
	}
	d := s.daint()
	if d&0xFFFF != 0 {
		v |= gintIEPINT
	}
	if d>>16 != 0 {
		v |= gintOEPINT
	}
	return v
}

func (s *Sim) daint() uint32 {
	var v uint32
	inMask, outMask := s.regs[regDIEPMSK], s.regs[regDOEPMSK]
	for n, e := range s.ep {
		if e.inInt&inMask != 0 {
			v |= 1 << n
		}
		if e.outInt&outMask != 0 {
			v |= 1 << (16 + n)
		}
	}
	return v & s.regs[regDAINTMSK]
}

func (s *Sim) popStatus() uint32 {
	if len(s.rx) == 0 {
		return 0
	}
	e := s.rx[0]
	s.rx = s.rx[1:]
	s.rxData = e.data
	if e.after != nil {
		e.after()
	}
	return e.sts
}

func (s *Sim) popWord() uint32 {
	var w uint32
	for j := 0; j < 4 && j < len(s.rxData); j++ {
		w |= uint32(s.rxData[j]) << (8 * j)
	}
	s.rxData = s.rxData[min(4, len(s.rxData)):]
	return w
}

func (s *Sim) push(n uint8, kind uint32, data []byte, after func()) {
	sts := uint32(n)&rxstsEPNUM | uint32(len(data))<<rxstsBCNTShift&rxstsBCNT | kind<<rxstsPKTSTSShift
	s.rx = append(s.rx, rxEntry{sts: sts, data: append([]byte(nil), data...), after: after})
}

// Address returns the device address the core answers to.
func (s *Sim) Address() uint8 { return uint8((s.regs[regDCFG] & dcfgDAD) >> dcfgDADShift) }

// Connected reports whether soft disconnect is clear.
func (s *Sim) Connected() bool { return s.regs[regDCTL]&dctlSDIS == 0 }

// FIFOSize returns the programmed receive FIFO depth and the start and
// depth of transmit FIFO n, in words.
func (s *Sim) FIFOSize(n uint8) (rx, start, depth uint32) {
	v := s.regs[regDIEPTXF(n)]
	return s.regs[regGRXFSIZ], v & 0xFFFF, v >> 16
}

// Control returns the IN and OUT endpoint control registers of number n.
func (s *Sim) Control(n uint8) (in, out uint32) { return s.ep[n].inCtl, s.ep[n].outCtl }

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
	return s.Connected() && s.Address() == addr
}

func active(n uint8, ctl uint32) bool { return n == 0 || ctl&epctlUSBAEP != 0 }

// Reset implements haltest.Host: the core clears the device address,
// deactivates every endpoint and latches the reset and enumeration-done
// interrupts.
func (s *Sim) Reset() {
	s.regs[regDCFG] &^= dcfgDAD
	for n := range s.ep {
		s.ep[n] = simEP{}
	}
	s.rx, s.rxData = nil, nil
	s.gintsts |= gintUSBRST | gintENUMDNE
}

// Setup implements haltest.Host. Endpoint 0 accepts SETUP whatever its
// state, clears STALL in both directions and NAKs IN until software loads
// a packet. STUP is raised when software pops the completion entry.
func (s *Sim) Setup(addr uint8, setup []byte) haltest.Handshake {
	if !s.addressed(addr) {
		return s.record(haltest.TokenSetup, addr, 0, setup, haltest.NoResponse)
	}
	e := &s.ep[0]
	e.outCtl &^= epctlSTALL
	e.inCtl = e.inCtl&^(epctlSTALL|epctlEPENA) | epctlNAKSTS
	s.push(0, pktSetupData, setup, nil)
	s.push(0, pktSetupDone, nil, func() { e.outInt |= epintSTUP })
	return s.record(haltest.TokenSetup, addr, 0, setup, haltest.ACK)
}

// Out implements haltest.Host.
func (s *Sim) Out(addr, ep uint8, data []byte) haltest.Handshake {
	h := s.out(addr, ep, data)
	return s.record(haltest.TokenOut, addr, ep, data, h)
}

func (s *Sim) out(addr, n uint8, data []byte) haltest.Handshake {
	if !s.addressed(addr) || n > 15 {
		return haltest.NoResponse
	}
	e := &s.ep[n]
	switch {
	case !active(n, e.outCtl):
		return haltest.NoResponse
	case e.outCtl&epctlSTALL != 0:
		return haltest.STALL
	case e.outCtl&epctlEPENA == 0 || e.outCtl&epctlNAKSTS != 0 || e.outTsiz&tsizPKTCNT == 0:
		return haltest.NAK
	}
	mps := int(e.outCtl & epctlMPSIZ)
	if n == 0 {
		mps = ep0MPSFromCode(e.outCtl)
	}
	if len(data) > mps {
		return haltest.NoResponse
	}

	pkts := (e.outTsiz&tsizPKTCNT)>>tsizPKTShift - 1
	e.outTsiz = e.outTsiz&^tsizPKTCNT | pkts<<tsizPKTShift
	var done func()
	if pkts == 0 {
		done = func() {
			e.outInt |= epintXFRC
			e.outCtl = e.outCtl&^epctlEPENA | epctlNAKSTS
		}
	}
	s.push(n, pktOutData, data, nil)
	s.push(n, pktOutDone, nil, done)
	return haltest.ACK
}

// In implements haltest.Host.
func (s *Sim) In(addr, ep uint8) ([]byte, haltest.Handshake) {
	data, h := s.in(addr, ep)
	s.record(haltest.TokenIn, addr, ep, data, h)
	return data, h
}

func (s *Sim) in(addr, n uint8) ([]byte, haltest.Handshake) {
	if !s.addressed(addr) || n > 15 {
		return nil, haltest.NoResponse
	}
	e := &s.ep[n]
	switch {
	case !active(n, e.inCtl):
		return nil, haltest.NoResponse
	case e.inCtl&epctlSTALL != 0:
		return nil, haltest.STALL
	case e.inCtl&epctlEPENA == 0 || e.inCtl&epctlNAKSTS != 0:
		return nil, haltest.NAK
	}
	size := int(e.inTsiz & tsizXFRSIZ)
	padded := (size + 3) &^ 3
	if len(e.tx) < padded {
		return nil, haltest.NAK
	}
	data := append([]byte(nil), e.tx[:size]...)
	e.tx = e.tx[padded:]
	e.inTsiz = 0
	e.inCtl &^= epctlEPENA
	e.inInt |= epintXFRC
	return data, haltest.ACK
}
