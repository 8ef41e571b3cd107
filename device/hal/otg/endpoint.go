package otg

import (
	"log/slog"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// endpoint realizes one declaration. A bidirectional declaration owns both
// halves; an OUT or IN declaration owns one.
type endpoint struct {
	c   *Controller
	cfg hal.EndpointConfig
	rx  *rxHalf
	tx  *txHalf
}

// rxHalf accumulates OUT and SETUP data popped from the shared receive
// FIFO until the core reports the transfer complete.
type rxHalf struct {
	ep   *endpoint
	ctx  *hal.TransferContext
	buf  []byte
	recv hal.ReceiveFunc
}

// txHalf loads one packet at a time into the endpoint's transmit FIFO.
type txHalf struct {
	ep       *endpoint
	ctx      *hal.TransferContext
	fifo     uint8
	inFlight int
}

func newEndpoint(c *Controller, cfg hal.EndpointConfig) *endpoint {
	e := &endpoint{c: c, cfg: cfg}
	if cfg.HasOut() {
		// Room for one packet, or a SETUP packet on small control endpoints.
		e.rx = &rxHalf{
			ep:  e,
			ctx: c.table.At(cfg.Number, hal.DirOut),
			buf: make([]byte, max(int(cfg.MaxPacketSize), 8)),
		}
	}
	if cfg.HasIn() {
		e.tx = &txHalf{ep: e, ctx: c.table.At(cfg.Number, hal.DirIn), fifo: cfg.Number}
		if f, ok := c.plan.TxFIFO(cfg.Number); ok {
			e.tx.fifo = f.FIFO
		}
	}
	return e
}

func (e *endpoint) Config() hal.EndpointConfig { return e.cfg }

func typeBits(t hal.TransferType) uint32 {
	switch t {
	case hal.TypeControl, hal.TypeControlStatusOut:
		return 0
	case hal.TypeIsochronous:
		return 1 << epctlEPTYPShift
	case hal.TypeInterrupt:
		return 3 << epctlEPTYPShift
	default:
		return 2 << epctlEPTYPShift
	}
}

func (e *endpoint) mpsBits() uint32 {
	if e.cfg.Number == 0 {
		return ep0MPSCode(e.cfg.MaxPacketSize)
	}
	return uint32(e.cfg.MaxPacketSize) & epctlMPSIZ
}

// Reset programs the endpoint control registers of the halves this
// endpoint owns and drops any transfer in progress.
func (e *endpoint) Reset() {
	n := e.cfg.Number
	base := e.mpsBits() | typeBits(e.cfg.Type) | epctlUSBAEP | epctlSNAK
	if n != 0 {
		base |= epctlSD0PID
	}
	if e.rx != nil {
		e.c.bus.Write(regDOEPCTL(n), base)
		e.c.bus.Write(regDOEPINT(n), 0xFFFFFFFF)
		e.rx.ctx.Clear()
		e.rx.arm()
	}
	if e.tx != nil {
		e.c.flushTx(uint32(e.tx.fifo))
		e.c.bus.Write(regDIEPCTL(n), base|uint32(e.tx.fifo)<<epctlTXFNUMShift)
		e.c.bus.Write(regDIEPINT(n), 0xFFFFFFFF)
		e.tx.ctx.Clear()
		e.tx.inFlight = 0
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint reset", "endpoint", e.cfg)
}

func (e *endpoint) modify(reg uint32, clear, set uint32) {
	e.c.bus.Write(reg, e.c.bus.Read(reg)&^clear|set)
}

// arm prepares the OUT half for one packet, and on a control endpoint for
// back-to-back SETUP packets, and clears NAK.
func (h *rxHalf) arm() {
	e := h.ep
	n := e.cfg.Number
	tsiz := 1<<tsizPKTShift | uint32(e.cfg.MaxPacketSize)
	if e.cfg.Type.IsControl() {
		tsiz |= tsizSTUPCNT
	}
	e.c.bus.Write(regDOEPTSIZ(n), tsiz)
	e.modify(regDOEPCTL(n), epctlSTALL, epctlEPENA|epctlCNAK)
}

func status(v uint32, n uint8, loaded bool) hal.Status {
	switch {
	case v&epctlSTALL != 0:
		return hal.StatusStall
	case n != 0 && v&epctlUSBAEP == 0:
		return hal.StatusDisabled
	case v&epctlNAKSTS != 0 || !loaded:
		return hal.StatusNak
	default:
		return hal.StatusValid
	}
}

func (e *endpoint) RxStatus() hal.Status {
	if e.rx == nil {
		return hal.StatusDisabled
	}
	v := e.c.bus.Read(regDOEPCTL(e.cfg.Number))
	return status(v, e.cfg.Number, v&epctlEPENA != 0)
}

func (e *endpoint) TxStatus() hal.Status {
	if e.tx == nil {
		return hal.StatusDisabled
	}
	v := e.c.bus.Read(regDIEPCTL(e.cfg.Number))
	return status(v, e.cfg.Number, v&epctlEPENA != 0)
}

// SetRxStatus sets the OUT handshake. Leaving Stall restarts the data
// toggle at DATA0.
func (e *endpoint) SetRxStatus(s hal.Status) {
	if e.rx == nil {
		return
	}
	reg := regDOEPCTL(e.cfg.Number)
	e.setStatus(reg, e.RxStatus(), s, func() { e.rx.arm() })
}

// SetTxStatus sets the IN handshake. Leaving Stall restarts the data
// toggle at DATA0. Valid only takes effect once a packet is loaded.
func (e *endpoint) SetTxStatus(s hal.Status) {
	if e.tx == nil {
		return
	}
	reg := regDIEPCTL(e.cfg.Number)
	e.setStatus(reg, e.TxStatus(), s, func() {
		set := uint32(epctlCNAK)
		if e.tx.inFlight > 0 {
			set |= epctlEPENA
		}
		e.modify(reg, epctlSTALL, set)
	})
}

func (e *endpoint) setStatus(reg uint32, from, to hal.Status, valid func()) {
	var pid uint32
	if from == hal.StatusStall && to != hal.StatusStall && e.cfg.Number != 0 {
		pid = epctlSD0PID
	}
	switch to {
	case hal.StatusStall:
		e.modify(reg, 0, epctlSTALL)
	case hal.StatusNak:
		e.modify(reg, epctlSTALL, epctlUSBAEP|epctlSNAK|pid)
	case hal.StatusValid:
		e.modify(reg, 0, epctlUSBAEP|pid)
		valid()
	case hal.StatusDisabled:
		var dis uint32
		if e.c.bus.Read(reg)&epctlEPENA != 0 {
			dis = epctlEPDIS
		}
		e.modify(reg, epctlSTALL|epctlUSBAEP, epctlSNAK|dis)
	}
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

// Handle services FIFO data and transfer-complete interrupts. A SETUP
// supersedes any IN transfer in progress on the same number; a superseded
// transfer whose last packet was already acknowledged still completes,
// after the SETUP is handled.
func (e *endpoint) Handle(ev hal.Event) {
	switch {
	case ev.Kind == hal.EventRxData && e.rx != nil:
		e.rx.read(ev.Count, ev.Setup)

	case ev.Kind == hal.EventTransfer && ev.Dir == hal.DirIn && e.tx != nil:
		reg := regDIEPINT(e.cfg.Number)
		if flags := e.c.bus.Read(reg); flags&epintXFRC != 0 {
			e.c.bus.Write(reg, flags)
			e.tx.complete()
		}

	case ev.Kind == hal.EventTransfer && ev.Dir == hal.DirOut && e.rx != nil:
		e.handleOut()
	}
}

func (e *endpoint) handleOut() {
	n := e.cfg.Number
	flags := e.c.bus.Read(regDOEPINT(n))
	e.c.bus.Write(regDOEPINT(n), flags)
	setup := flags&epintSTUP != 0
	if !setup && flags&epintXFRC == 0 {
		return
	}
	if e.tx == nil {
		e.rx.service(setup)
		return
	}

	inFlags := e.c.bus.Read(regDIEPINT(n))
	txReady := inFlags&epintXFRC != 0
	if !txReady && !setup {
		e.rx.service(false)
		return
	}
	if txReady {
		e.c.bus.Write(regDIEPINT(n), epintXFRC)
	}
	snap := e.tx.ctx.Detach()
	inFlight := e.tx.inFlight
	e.tx.inFlight = 0
	if setup {
		// Drop a packet loaded for the superseded transfer.
		e.c.flushTx(uint32(e.tx.fifo))
	}
	e.rx.service(setup)

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

// read copies count bytes of the current receive FIFO entry into the
// accumulation buffer, starting a receive context on the first packet.
// A SETUP packet replaces anything accumulated.
func (h *rxHalf) read(count int, setup bool) {
	if setup {
		h.ctx.Rewind()
	}
	if !h.ctx.Active() {
		h.ctx.Arm(h.buf)
	}
	p := h.ctx.Space(count)
	h.ep.c.readFIFO(p)
	if len(p) < count {
		pkg.LogWarn(pkg.ComponentEndpoint, "packet longer than buffer", "endpoint", h.ep.cfg, "count", count)
	}
}

// service hands the accumulated bytes to the receive handler after
// re-arming the endpoint.
func (h *rxHalf) service(setup bool) {
	e := h.ep
	data := h.ctx.Received()
	h.ctx.Clear()
	h.arm()
	if pkg.Enabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentEndpoint, "received", "endpoint", e.cfg, "count", len(data), "setup", setup)
	}
	if h.recv != nil {
		h.recv(data, setup)
	}
}

// fill loads the next queued packet into the transmit FIFO.
func (h *txHalf) fill() {
	e := h.ep
	n := e.cfg.Number
	if h.inFlight != 0 || !h.ctx.Pending() {
		return
	}
	p := h.ctx.Next(int(e.cfg.MaxPacketSize))
	e.c.bus.Write(regDIEPTSIZ(n), 1<<tsizPKTShift|uint32(len(p)))
	e.modify(regDIEPCTL(n), epctlSTALL, epctlEPENA|epctlCNAK)
	e.c.writeFIFO(h.fifo, p)
	h.inFlight = 1
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
	h.ctx.Finish()
}
