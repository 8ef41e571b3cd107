package otg

import (
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/device/layout"
	"github.com/ardnew/mcusb/pkg"
)

// MinAHBClockHz is the slowest core clock that sustains full speed.
const MinAHBClockHz = 14_200_000

// Options configures a Controller. Zero fields take the defaults of
// [layout.DefaultFIFOOptions].
type Options struct {
	FIFO  layout.FIFOOptions
	Clock hal.Clock // Enabled before any register access; nil skips clock setup
}

// Controller is the FIFO backend.
type Controller struct {
	bus   Bus
	opts  Options
	plan  *layout.FIFOPlan
	out   [16]*endpoint // Realization by number, receive side
	in    [16]*endpoint // Realization by number, transmit side
	table hal.Table

	// Bytes of the popped receive entry not yet read by an endpoint.
	rxPending int
}

// New returns a controller on bus.
func New(bus Bus, opts Options) *Controller {
	def := layout.DefaultFIFOOptions
	if opts.FIFO.Words == 0 {
		opts.FIFO.Words = def.Words
	}
	if opts.FIFO.MaxTx == 0 {
		opts.FIFO.MaxTx = def.MaxTx
	}
	if opts.FIFO.RxOverhead == 0 {
		opts.FIFO.RxOverhead = def.RxOverhead
	}
	if opts.FIFO.MinWords == 0 {
		opts.FIFO.MinWords = def.MinWords
	}
	return &Controller{bus: bus, opts: opts}
}

var _ hal.Controller = (*Controller)(nil)

// Configure plans FIFO RAM and builds one realization per declaration.
func (c *Controller) Configure(eps []hal.EndpointConfig) error {
	plan, err := layout.PlanFIFO(eps, c.opts.FIFO)
	if err != nil {
		return err
	}
	c.plan = plan
	c.out = [16]*endpoint{}
	c.in = [16]*endpoint{}
	for _, ep := range plan.Endpoints {
		e := newEndpoint(c, ep)
		if ep.HasOut() {
			c.out[ep.Number] = e
		}
		if ep.HasIn() {
			c.in[ep.Number] = e
		}
	}
	return nil
}

// Plan returns the layout computed by Configure.
func (c *Controller) Plan() *layout.FIFOPlan { return c.plan }

// Init enables the clock, resets the core, and programs FIFO sizes.
func (c *Controller) Init() error {
	if c.plan == nil {
		return fmt.Errorf("init before configure: %w", pkg.ErrInvalidState)
	}
	if c.opts.Clock != nil {
		c.opts.Clock.Enable()
		if hz := c.opts.Clock.ClockFreq(); hz < MinAHBClockHz {
			return fmt.Errorf("core clock %d Hz: %w", hz, pkg.ErrInvalidParameter)
		}
	}

	c.bus.Write(regGRSTCTL, rstCSRST)
	for i := 0; c.bus.Read(regGRSTCTL)&rstCSRST != 0; i++ {
		if i > 1000 {
			return fmt.Errorf("core reset: %w", pkg.ErrBusy)
		}
	}
	c.bus.Write(regDCTL, dctlSDIS)
	c.bus.Write(regGCCFG, gccfgPWRDWN)
	c.bus.Write(regDCFG, dcfgDSPDFull)

	c.bus.Write(regGRXFSIZ, uint32(c.plan.RxWords))
	for _, tx := range c.plan.Tx {
		c.bus.Write(regDIEPTXF(tx.FIFO), uint32(tx.Words)<<16|uint32(tx.Offset))
	}
	c.flushRx()
	c.flushTx(rstTXFAll >> 6)

	c.bus.Write(regDIEPMSK, epintXFRC)
	c.bus.Write(regDOEPMSK, epintXFRC|epintSTUP)
	c.bus.Write(regDAINTMSK, 0xFFFFFFFF)
	c.bus.Write(regGINTSTS, 0xFFFFFFFF)
	c.bus.Write(regGINTMSK, gintRXFLVL|gintUSBSUSP|gintUSBRST|gintENUMDNE|gintIEPINT|gintOEPINT|gintWKUPINT)

	pkg.LogInfo(pkg.ComponentHAL, "FIFO RAM initialized",
		"rx", c.plan.RxWords, "tx", len(c.plan.Tx), "used", c.plan.Used, "capacity", c.plan.Capacity)
	return nil
}

func (c *Controller) flushRx() {
	c.bus.Write(regGRSTCTL, rstRXFFLSH)
	for i := 0; i < 1000 && c.bus.Read(regGRSTCTL)&rstRXFFLSH != 0; i++ {
	}
}

// flushTx empties transmit FIFO n; 0x10 flushes all of them.
func (c *Controller) flushTx(n uint32) {
	c.bus.Write(regGRSTCTL, rstTXFFLSH|n<<6&rstTXFNUM)
	for i := 0; i < 1000 && c.bus.Read(regGRSTCTL)&rstTXFFLSH != 0; i++ {
	}
}

// Endpoint returns the realization serving number n in direction dir.
func (c *Controller) Endpoint(n uint8, dir hal.Direction) hal.Endpoint {
	var e *endpoint
	if dir == hal.DirIn {
		e = c.in[n&0x0F]
	} else {
		e = c.out[n&0x0F]
	}
	if e == nil {
		return nil
	}
	return e
}

// SetAddress writes the device address field.
func (c *Controller) SetAddress(addr uint8) {
	v := c.bus.Read(regDCFG) &^ dcfgDAD
	c.bus.Write(regDCFG, v|uint32(addr)<<dcfgDADShift&dcfgDAD)
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", addr)
}

// Connect clears or sets soft disconnect.
func (c *Controller) Connect(on bool) {
	v := c.bus.Read(regDCTL)
	if on {
		v &^= dctlSDIS
	} else {
		v |= dctlSDIS
	}
	c.bus.Write(regDCTL, v)
}

// Transfers returns the transfer context table.
func (c *Controller) Transfers() *hal.Table { return &c.table }

const maxPollEvents = 64

// Poll services pending interrupts. Receive FIFO entries come first, then
// OUT endpoint interrupts, then IN endpoint interrupts.
func (c *Controller) Poll(dispatch func(hal.Event)) int {
	n := 0
	for n < maxPollEvents {
		sts := c.bus.Read(regGINTSTS)
		switch {
		case sts&gintUSBRST != 0:
			c.bus.Write(regGINTSTS, gintUSBRST)
			c.flushTx(rstTXFAll >> 6)
			c.flushRx()
			dispatch(hal.Event{Kind: hal.EventReset})
			n++

		case sts&gintENUMDNE != 0:
			c.bus.Write(regGINTSTS, gintENUMDNE)

		case sts&gintRXFLVL != 0:
			if c.popRx(dispatch) {
				n++
			}

		case sts&gintOEPINT != 0:
			n += c.serviceEndpoints(dispatch, hal.DirOut)

		case sts&gintIEPINT != 0:
			n += c.serviceEndpoints(dispatch, hal.DirIn)

		case sts&gintUSBSUSP != 0:
			c.bus.Write(regGINTSTS, gintUSBSUSP)
			dispatch(hal.Event{Kind: hal.EventSuspend})
			n++

		case sts&gintWKUPINT != 0:
			c.bus.Write(regGINTSTS, gintWKUPINT)
			dispatch(hal.Event{Kind: hal.EventResume})
			n++

		default:
			return n
		}
	}
	return n
}

// popRx pops one receive status entry and, for data entries, lets the
// owning endpoint read the bytes. Unread bytes are drained.
func (c *Controller) popRx(dispatch func(hal.Event)) bool {
	sts := c.bus.Read(regGRXSTSP)
	num := uint8(sts & rxstsEPNUM)
	count := int(sts&rxstsBCNT) >> rxstsBCNTShift
	kind := (sts & rxstsPKTSTS) >> rxstsPKTSTSShift

	if kind != pktOutData && kind != pktSetupData {
		return false
	}
	c.rxPending = count
	dispatch(hal.Event{Kind: hal.EventRxData, Number: num, Dir: hal.DirOut, Setup: kind == pktSetupData, Count: count})
	if c.rxPending > 0 {
		pkg.LogError(pkg.ComponentHAL, "unread receive FIFO data", "endpoint", num, "count", c.rxPending)
		c.readFIFO(make([]byte, c.rxPending))
	}
	return true
}

// readFIFO reads len(p) bytes of the current receive entry.
func (c *Controller) readFIFO(p []byte) {
	for i := 0; i < len(p); i += 4 {
		w := c.bus.Read(regFIFO(0))
		for j := 0; j < 4 && i+j < len(p); j++ {
			p[i+j] = byte(w >> (8 * j))
		}
	}
	c.rxPending -= len(p)
}

// writeFIFO pushes p into transmit FIFO n.
func (c *Controller) writeFIFO(n uint8, p []byte) {
	for i := 0; i < len(p); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(p); j++ {
			w |= uint32(p[i+j]) << (8 * j)
		}
		c.bus.Write(regFIFO(n), w)
	}
}

func (c *Controller) serviceEndpoints(dispatch func(hal.Event), dir hal.Direction) int {
	daint := c.bus.Read(regDAINT)
	bits, intReg := daint&0xFFFF, regDIEPINT
	if dir == hal.DirOut {
		bits, intReg = daint>>16, regDOEPINT
	}
	n := 0
	for num := uint8(0); num < 16; num++ {
		if bits&(1<<num) == 0 {
			continue
		}
		flags := c.bus.Read(intReg(num))
		dispatch(hal.Event{Kind: hal.EventTransfer, Number: num, Dir: dir, Setup: flags&epintSTUP != 0})
		n++
		if rest := c.bus.Read(intReg(num)); rest != 0 {
			if rest&(epintXFRC|epintSTUP) != 0 {
				pkg.LogError(pkg.ComponentHAL, "unhandled endpoint interrupt", "endpoint", num, "dir", dir, "flags", rest)
			}
			c.bus.Write(intReg(num), rest)
		}
	}
	return n
}
