package pma

import (
	"log/slog"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/device/layout"
	"github.com/ardnew/mcusb/pkg"
)

// endpoint realizes one planned entry. Which halves exist and whether they
// are double buffered follows the entry's kind.
type endpoint struct {
	c     *Controller
	entry *layout.BDTEntry
	cfg   hal.EndpointConfig
	slot  uint8
	rx    *rxHalf
	tx    *txHalf
}

// rxHalf receives OUT and SETUP packets.
type rxHalf struct {
	ep      *endpoint
	bufs    [2]layout.Region
	double  bool
	scratch []byte
	recv    hal.ReceiveFunc
}

// txHalf transmits IN packets.
type txHalf struct {
	ep       *endpoint
	bufs     [2]layout.Region
	double   bool
	ctx      *hal.TransferContext
	inFlight int
}

func newEndpoint(c *Controller, e *layout.BDTEntry) *endpoint {
	ep := &endpoint{c: c, entry: e, cfg: e.Endpoint, slot: e.Slot}
	double := e.Kind.DoubleBuffered
	if e.Endpoint.HasOut() {
		ep.rx = &rxHalf{
			ep:      ep,
			double:  double,
			scratch: make([]byte, e.Endpoint.MaxPacketSize),
		}
		if double {
			ep.rx.bufs = e.Buffers
		} else {
			ep.rx.bufs[0] = e.RxBuffer()
		}
	}
	if e.Endpoint.HasIn() {
		ep.tx = &txHalf{ep: ep, double: double, ctx: c.table.At(e.Endpoint.Number, hal.DirIn)}
		if double {
			ep.tx.bufs = e.Buffers
		} else {
			ep.tx.bufs[0] = e.TxBuffer()
		}
	}
	return ep
}

func (e *endpoint) Config() hal.EndpointConfig { return e.cfg }

func typeBits(t hal.TransferType) uint16 {
	switch t {
	case hal.TypeControl, hal.TypeControlStatusOut:
		return epTypeControl
	case hal.TypeIsochronous:
		return epTypeIso
	case hal.TypeInterrupt:
		return epTypeInterrupt
	default:
		return epTypeBulk
	}
}

// Reset programs the slot and returns this endpoint's halves to their
// initial state. Only the halves this endpoint owns are touched, so two
// endpoints sharing a slot reset independently.
func (e *endpoint) Reset() {
	var kind uint16
	if e.entry.Kind.DoubleBuffered || e.entry.Kind.StatusOut {
		kind = epKIND
	}
	e.c.setConfig(e.slot, typeBits(e.cfg.Type), kind, e.cfg.Number)

	if e.rx != nil {
		e.c.clearCTR(e.slot, epCTRRx)
		e.c.setField(e.slot, epDTOGRx, 0)
		if e.rx.double {
			// Software owns buffer 1 until the first reception.
			e.c.setField(e.slot, epDTOGTx, epDTOGTx)
		}
		e.setRx(hal.StatusValid)
	}
	if e.tx != nil {
		e.c.clearCTR(e.slot, epCTRTx)
		e.c.setField(e.slot, epDTOGTx, 0)
		if e.tx.double {
			e.c.setField(e.slot, epDTOGRx, 0)
		}
		e.tx.ctx.Clear()
		e.tx.inFlight = 0
		e.setTx(hal.StatusNak)
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint reset", "endpoint", e.cfg, "slot", e.slot)
}

func (e *endpoint) setRx(s hal.Status) {
	e.c.setField(e.slot, epSTATRx, uint16(s)<<statRxShift)
}

func (e *endpoint) setTx(s hal.Status) {
	e.c.setField(e.slot, epSTATTx, uint16(s)<<statTxShift)
}

// SetRxStatus sets the OUT handshake. Leaving Stall restarts the data
// toggle at DATA0.
func (e *endpoint) SetRxStatus(s hal.Status) {
	if e.rx == nil {
		return
	}
	if e.RxStatus() == hal.StatusStall && s != hal.StatusStall && !e.rx.double {
		e.c.setField(e.slot, epDTOGRx, 0)
	}
	e.setRx(s)
}

// SetTxStatus sets the IN handshake. Leaving Stall restarts the data
// toggle at DATA0.
func (e *endpoint) SetTxStatus(s hal.Status) {
	if e.tx == nil {
		return
	}
	if e.TxStatus() == hal.StatusStall && s != hal.StatusStall && !e.tx.double {
		e.c.setField(e.slot, epDTOGTx, 0)
	}
	e.setTx(s)
}

func (e *endpoint) RxStatus() hal.Status {
	if e.rx == nil {
		return hal.StatusDisabled
	}
	return hal.Status(e.c.readEP(e.slot) & epSTATRx >> statRxShift)
}

func (e *endpoint) TxStatus() hal.Status {
	if e.tx == nil {
		return hal.StatusDisabled
	}
	return hal.Status(e.c.readEP(e.slot) & epSTATTx >> statTxShift)
}

func (e *endpoint) SendData(data []byte, done func()) {
	e.SendDataZLP(data, !e.cfg.NoZLP, done)
}

func (e *endpoint) SendDataZLP(data []byte, zlp bool, done func()) {
	if e.tx == nil {
		pkg.LogError(pkg.ComponentEndpoint, "send on endpoint without IN half", "endpoint", e.cfg)
		return
	}
	e.tx.ctx.Start(data, int(e.cfg.MaxPacketSize), zlp, done)
	e.tx.inFlight = 0
	e.tx.fill()
}

func (e *endpoint) OnReceive(fn hal.ReceiveFunc) {
	if e.rx != nil {
		e.rx.recv = fn
	}
}

// Handle services the correct-transfer flags of this endpoint's slot.
// Reception is serviced before transmission. A SETUP supersedes any IN
// transfer in progress; a superseded transfer whose last packet was
// already acknowledged still completes, after the SETUP is handled.
func (e *endpoint) Handle(ev hal.Event) {
	if ev.Kind != hal.EventTransfer {
		return
	}
	v := e.c.readEP(e.slot)
	rxReady := e.rx != nil && v&epCTRRx != 0
	txReady := e.tx != nil && v&epCTRTx != 0
	setup := rxReady && v&epSETUP != 0

	switch {
	case !rxReady:
		if txReady {
			e.c.clearCTR(e.slot, epCTRTx)
			e.tx.complete()
		}
		return
	case e.tx == nil || (!txReady && !setup):
		e.rx.service()
		return
	}

	if txReady {
		e.c.clearCTR(e.slot, epCTRTx)
	}
	snap := e.tx.ctx.Detach()
	inFlight := e.tx.inFlight
	e.tx.inFlight = 0
	e.rx.service()

	if setup {
		if txReady && !snap.Pending() {
			snap.Finish()
		}
		return
	}
	if e.tx.ctx.Restore(snap) {
		e.tx.inFlight = inFlight
		e.tx.complete()
	}
}

// service copies one received packet out of packet memory and hands it to
// the receive handler.
func (h *rxHalf) service() {
	e := h.ep
	v := e.c.readEP(e.slot)
	setup := v&epSETUP != 0
	base := uint16(e.slot) * layout.DescriptorSize

	var buf layout.Region
	var countCell uint16
	if h.double {
		// Take ownership of the buffer hardware just filled.
		e.c.toggle(e.slot, epDTOGTx)
		if e.c.readEP(e.slot)&epDTOGTx != 0 {
			buf, countCell = h.bufs[1], base+cellCountRx
		} else {
			buf, countCell = h.bufs[0], base+cellCountTx
		}
	} else {
		buf, countCell = h.bufs[0], base+cellCountRx
	}

	n := int(e.c.readCell(countCell) & countMask)
	if n > len(h.scratch) {
		pkg.LogWarn(pkg.ComponentEndpoint, "packet longer than buffer", "endpoint", e.cfg, "count", n)
		n = len(h.scratch)
	}
	data := h.scratch[:n]
	e.c.copyFromPMA(data, buf.Offset)
	e.c.clearCTR(e.slot, epCTRRx)

	if !h.double {
		e.setRx(hal.StatusValid)
	}
	if pkg.Enabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentEndpoint, "received", "endpoint", e.cfg, "count", n, "setup", setup)
	}
	if h.recv != nil {
		h.recv(data, setup)
	}
}

// fill hands the next queued packet to hardware. A double-buffered
// endpoint writes the buffer software owns and then passes it to
// hardware, so consecutive packets alternate buffers.
func (h *txHalf) fill() {
	e := h.ep
	mps := int(e.cfg.MaxPacketSize)
	base := uint16(e.slot) * layout.DescriptorSize
	if h.inFlight == 0 && h.ctx.Pending() {
		p := h.ctx.Next(mps)
		buf, countCell := h.bufs[0], base+cellCountTx
		if h.double && e.c.readEP(e.slot)&epDTOGRx != 0 {
			buf, countCell = h.bufs[1], base+cellCountRx
		}
		e.c.copyToPMA(buf.Offset, p)
		e.c.writeCell(countCell, uint16(len(p)))
		h.inFlight++
		if h.double {
			// Hand the written buffer to hardware.
			e.c.toggle(e.slot, epDTOGRx)
		}
	}
	if h.inFlight > 0 {
		e.setTx(hal.StatusValid)
	}
}

// complete accounts for one acknowledged packet.
func (h *txHalf) complete() {
	if h.inFlight > 0 {
		h.inFlight--
	}
	if !h.ctx.Active() {
		return
	}
	if h.ctx.Pending() {
		h.fill()
		return
	}
	if h.inFlight == 0 {
		h.ctx.Finish()
	}
}
