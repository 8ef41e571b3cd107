package pma

import (
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/device/layout"
	"github.com/ardnew/mcusb/pkg"
)

// USBClockHz is the only peripheral clock the full-speed transceiver runs at.
const USBClockHz = 48_000_000

// Options configures a Controller.
type Options struct {
	Capacity uint16 // Packet memory bytes, default 512
	MaxSlots int    // Endpoint register slots, default 8

	// AddressDoubling is set on parts whose packet memory is reached as
	// 16-bit words on a 32-bit stride.
	AddressDoubling bool

	// Clock is enabled before any register access. Nil skips clock setup.
	Clock hal.Clock

	// Image, when set, is a plan image generated at build time; Configure
	// fails unless the computed plan encodes to exactly these bytes.
	Image []byte
}

// DefaultOptions is a 512-byte packet memory with 8 register slots.
var DefaultOptions = Options{Capacity: 512, MaxSlots: 8}

// Controller is the buffer descriptor table backend.
type Controller struct {
	bus   Bus
	opts  Options
	plan  *layout.BDTPlan
	eps   []*endpoint // Parallel to plan.Entries
	table hal.Table
}

// New returns a controller on bus. Zero option fields take defaults.
func New(bus Bus, opts Options) *Controller {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultOptions.Capacity
	}
	if opts.MaxSlots == 0 {
		opts.MaxSlots = DefaultOptions.MaxSlots
	}
	return &Controller{bus: bus, opts: opts}
}

var _ hal.Controller = (*Controller)(nil)

// Configure plans the packet memory layout and builds one realization per
// planned entry.
func (c *Controller) Configure(eps []hal.EndpointConfig) error {
	plan, err := layout.PlanBDT(eps, layout.BDTOptions{Capacity: c.opts.Capacity, MaxSlots: c.opts.MaxSlots})
	if err != nil {
		return err
	}
	if c.opts.Image != nil {
		if err := plan.Image().Matches(c.opts.Image); err != nil {
			return fmt.Errorf("check plan image: %w", err)
		}
	}

	c.plan = plan
	c.eps = make([]*endpoint, len(plan.Entries))
	for i := range plan.Entries {
		c.eps[i] = newEndpoint(c, &plan.Entries[i])
	}
	return nil
}

// Plan returns the layout computed by Configure.
func (c *Controller) Plan() *layout.BDTPlan { return c.plan }

// Init enables the clock, resets the peripheral and writes every buffer
// descriptor.
func (c *Controller) Init() error {
	if c.plan == nil {
		return fmt.Errorf("init before configure: %w", pkg.ErrInvalidState)
	}
	if c.opts.Clock != nil {
		c.opts.Clock.Enable()
		if hz := c.opts.Clock.ClockFreq(); hz != USBClockHz {
			return fmt.Errorf("USB clock %d Hz: %w", hz, pkg.ErrInvalidParameter)
		}
	}

	c.bus.WriteReg(regCNTR, cntrFRES)
	c.bus.WriteReg(regCNTR, 0)
	c.bus.WriteReg(regISTR, 0)
	c.bus.WriteReg(regBTABLE, 0)

	for i := range c.plan.Entries {
		c.writeDescriptor(&c.plan.Entries[i])
	}

	c.bus.WriteReg(regDADDR, daddrEF)
	c.bus.WriteReg(regCNTR, cntrCTRM|cntrRESETM|cntrSUSPM|cntrWKUPM)

	pkg.LogInfo(pkg.ComponentHAL, "packet memory initialized",
		"slots", c.plan.Slots, "used", c.plan.Used, "capacity", c.plan.Capacity)
	return nil
}

// writeDescriptor fills the table cells owned by entry e.
func (c *Controller) writeDescriptor(e *layout.BDTEntry) {
	base := uint16(e.Slot) * layout.DescriptorSize
	ep := e.Endpoint
	switch {
	case e.Kind.DoubleBuffered && ep.Direction == hal.DirOut:
		c.writeCell(base+cellAddrTx, e.Buffers[0].Offset)
		c.writeCell(base+cellCountTx, rxCountCell(e.Buffers[0].Size))
		c.writeCell(base+cellAddrRx, e.Buffers[1].Offset)
		c.writeCell(base+cellCountRx, rxCountCell(e.Buffers[1].Size))
	case e.Kind.DoubleBuffered:
		c.writeCell(base+cellAddrTx, e.Buffers[0].Offset)
		c.writeCell(base+cellCountTx, 0)
		c.writeCell(base+cellAddrRx, e.Buffers[1].Offset)
		c.writeCell(base+cellCountRx, 0)
	default:
		if ep.HasOut() {
			rx := e.RxBuffer()
			c.writeCell(base+cellAddrRx, rx.Offset)
			c.writeCell(base+cellCountRx, rxCountCell(rx.Size))
		}
		if ep.HasIn() {
			c.writeCell(base+cellAddrTx, e.TxBuffer().Offset)
			c.writeCell(base+cellCountTx, 0)
		}
	}
}

// Endpoint returns the realization serving number n in direction dir.
func (c *Controller) Endpoint(n uint8, dir hal.Direction) hal.Endpoint {
	if c.plan == nil {
		return nil
	}
	e, ok := c.plan.Lookup(n, dir)
	if !ok {
		return nil
	}
	for i := range c.plan.Entries {
		if &c.plan.Entries[i] == e {
			return c.eps[i]
		}
	}
	return nil
}

// SetAddress writes addr with the enable flag set.
func (c *Controller) SetAddress(addr uint8) {
	c.bus.WriteReg(regDADDR, daddrEF|uint16(addr&daddrADD))
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", addr)
}

// Connect drives the D+ pull-up.
func (c *Controller) Connect(on bool) {
	v := c.bus.ReadReg(regBCDR)
	if on {
		v |= bcdrDPPU
	} else {
		v &^= bcdrDPPU
	}
	c.bus.WriteReg(regBCDR, v)
}

// Transfers returns the transfer context table.
func (c *Controller) Transfers() *hal.Table { return &c.table }

// maxPollEvents bounds one Poll call.
const maxPollEvents = 64

// Poll decodes ISTR until no interrupt is pending. Reset is reported
// first; correct-transfer interrupts are reported for the endpoint number
// and direction hardware names, and the owning endpoint clears the flag.
func (c *Controller) Poll(dispatch func(hal.Event)) int {
	n := 0
	for ; n < maxPollEvents; n++ {
		istr := c.bus.ReadReg(regISTR)
		switch {
		case istr&istrRESET != 0:
			c.bus.WriteReg(regISTR, ^uint16(istrRESET))
			dispatch(hal.Event{Kind: hal.EventReset})

		case istr&istrCTR != 0:
			slot := uint8(istr & istrEPID)
			reg := c.bus.ReadReg(regEPR(slot))
			ev := hal.Event{Kind: hal.EventTransfer, Number: uint8(reg & epEA), Dir: hal.DirIn}
			flag := uint16(epCTRTx)
			if istr&istrDIR != 0 {
				ev.Dir = hal.DirOut
				ev.Setup = reg&epSETUP != 0
				flag = epCTRRx
			}
			dispatch(ev)
			if c.bus.ReadReg(regEPR(slot))&flag != 0 {
				pkg.LogError(pkg.ComponentHAL, "unhandled transfer interrupt", "slot", slot, "event", ev)
				c.clearCTR(slot, flag)
			}

		case istr&istrSUSP != 0:
			c.bus.WriteReg(regISTR, ^uint16(istrSUSP))
			dispatch(hal.Event{Kind: hal.EventSuspend})

		case istr&istrWKUP != 0:
			c.bus.WriteReg(regISTR, ^uint16(istrWKUP))
			dispatch(hal.Event{Kind: hal.EventResume})

		default:
			return n
		}
	}
	return n
}

// Packet memory access. Offsets are logical; address doubling maps them
// to the physical layout.

func (c *Controller) phys(off uint16) uint32 {
	if c.opts.AddressDoubling {
		return uint32(off) * 2
	}
	return uint32(off)
}

func (c *Controller) writeCell(off, v uint16)    { c.bus.WritePMA(c.phys(off), v) }
func (c *Controller) readCell(off uint16) uint16 { return c.bus.ReadPMA(c.phys(off)) }

// copyToPMA writes p at logical offset off, a word at a time.
func (c *Controller) copyToPMA(off uint16, p []byte) {
	for i := 0; i < len(p); i += 2 {
		w := uint16(p[i])
		if i+1 < len(p) {
			w |= uint16(p[i+1]) << 8
		}
		c.writeCell(off+uint16(i), w)
	}
}

// copyFromPMA fills p from logical offset off.
func (c *Controller) copyFromPMA(p []byte, off uint16) {
	for i := 0; i < len(p); i += 2 {
		w := c.readCell(off + uint16(i))
		p[i] = byte(w)
		if i+1 < len(p) {
			p[i+1] = byte(w >> 8)
		}
	}
}

// Endpoint register access.

func (c *Controller) readEP(slot uint8) uint16 { return c.bus.ReadReg(regEPR(slot)) }

// clearCTR clears one CTR flag and leaves everything else unchanged.
func (c *Controller) clearCTR(slot uint8, flag uint16) {
	v := c.readEP(slot) & epRegMask
	c.bus.WriteReg(regEPR(slot), (v|epCTRRx|epCTRTx)&^flag)
}

// setField drives a toggle-only field to want by writing current^want.
func (c *Controller) setField(slot uint8, field, want uint16) {
	v := c.readEP(slot)
	diff := (v ^ want) & field
	if diff == 0 {
		return
	}
	c.bus.WriteReg(regEPR(slot), v&epRegMask|epCTRRx|epCTRTx|diff)
}

// toggle flips a toggle bit.
func (c *Controller) toggle(slot uint8, bit uint16) {
	v := c.readEP(slot) & epRegMask
	c.bus.WriteReg(regEPR(slot), v|epCTRRx|epCTRTx|bit)
}

// setConfig writes the read/write fields: type, kind and address.
func (c *Controller) setConfig(slot uint8, typ, kind uint16, ea uint8) {
	v := c.readEP(slot) & epRegMask
	v = v&^(epTYPE|epKIND|epEA) | typ | kind | uint16(ea&epEA)
	c.bus.WriteReg(regEPR(slot), v|epCTRRx|epCTRTx)
}
