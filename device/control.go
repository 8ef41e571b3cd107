package device

import (
	"fmt"
	"log/slog"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

type controlStage uint8

const (
	stageIdle     controlStage = iota
	stageDataIn                // Reply queued; the host's status OUT ends it
	stageDataOut               // Collecting OUT data for Receive
	stageStatusIn              // Zero-length status IN queued
	stageStalled               // Until the next SETUP
)

// ControlPipe runs the data and status stages of control transfers on
// endpoint 0. Request handlers answer each SETUP through it exactly once.
type ControlPipe struct {
	dev   *Device
	ep    hal.Endpoint
	mps   int
	setup SetupPacket
	stage controlStage

	// Set once the current request has been answered.
	answered bool

	onData   func(data []byte) error
	onStatus func()
	rxLen    int
	seq      uint32 // Counts SETUP packets

	reply [MaxControlDataSize]byte
	rx    [MaxControlDataSize]byte
}

func (p *ControlPipe) bind(dev *Device, ep hal.Endpoint) {
	p.dev = dev
	p.ep = ep
	p.mps = int(ep.Config().MaxPacketSize)
	ep.OnReceive(p.receive)
}

func (p *ControlPipe) reset() {
	p.stage = stageIdle
	p.answered = false
	p.onData = nil
	p.onStatus = nil
	p.rxLen = 0
}

// Setup returns the SETUP packet being handled.
func (p *ControlPipe) Setup() *SetupPacket { return &p.setup }

// Buffer returns scratch space for building a reply in place.
func (p *ControlPipe) Buffer() []byte { return p.reply[:] }

func (p *ControlPipe) receive(data []byte, setup bool) {
	if setup {
		p.handleSetup(data)
		return
	}
	switch p.stage {
	case stageDataOut:
		p.collect(data)
	case stageDataIn:
		// Status OUT from the host, possibly before every IN packet was read.
		p.stage = stageIdle
	default:
		pkg.LogDebug(pkg.ComponentControl, "unexpected OUT on control endpoint", "count", len(data))
	}
}

func (p *ControlPipe) handleSetup(data []byte) {
	p.reset()
	p.seq++
	if err := ParseSetupPacket(data, &p.setup); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "malformed SETUP", "error", err)
		p.Stall()
		return
	}
	if pkg.Enabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentControl, "setup", "packet", p.setup.String())
	}

	err := p.dev.handleSetup(p, &p.setup)
	switch {
	case err != nil:
		pkg.LogDebug(pkg.ComponentControl, "request stalled", "request", p.setup.Request, "error", err)
		p.Stall()
	case !p.answered:
		pkg.LogWarn(pkg.ComponentControl, "request not answered", "request", p.setup.Request)
		p.Stall()
	}
}

func (p *ControlPipe) answer() error {
	if p.answered {
		return fmt.Errorf("request 0x%02X answered twice: %w", p.setup.Request, pkg.ErrInvalidState)
	}
	p.answered = true
	return nil
}

// Reply queues data as the IN data stage. Data longer than the host
// requested is truncated to wLength; a reply shorter than wLength that
// fills its last packet is terminated with a zero-length packet.
func (p *ControlPipe) Reply(data []byte) error {
	if !p.setup.IsDeviceToHost() {
		return fmt.Errorf("reply to host-to-device request: %w", pkg.ErrInvalidRequest)
	}
	if len(data) > len(p.reply) {
		return fmt.Errorf("reply of %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
	}
	if err := p.answer(); err != nil {
		return err
	}
	want := int(p.setup.Length)
	n := copy(p.reply[:], data[:min(len(data), want)])
	zlp := n < want && n%p.mps == 0
	p.stage = stageDataIn
	p.ep.SendDataZLP(p.reply[:n], zlp, nil)
	return nil
}

// Receive collects the OUT data stage, at most wLength bytes, and calls
// fn with it once complete: when wLength bytes arrived or a short packet
// ended the stage. The status stage is queued after fn returns nil; an
// error from fn stalls instead. A request without a data stage calls fn
// with no data immediately.
func (p *ControlPipe) Receive(fn func(data []byte) error) error {
	if p.setup.IsDeviceToHost() {
		return fmt.Errorf("receive on device-to-host request: %w", pkg.ErrInvalidRequest)
	}
	if int(p.setup.Length) > len(p.rx) {
		return fmt.Errorf("data stage of %d bytes: %w", p.setup.Length, pkg.ErrBufferTooSmall)
	}
	if p.setup.Length == 0 {
		if err := fn(nil); err != nil {
			return err
		}
		return p.Ack()
	}
	if err := p.answer(); err != nil {
		return err
	}
	p.onData = fn
	p.rxLen = 0
	p.stage = stageDataOut
	return nil
}

func (p *ControlPipe) collect(data []byte) {
	want := int(p.setup.Length)
	n := copy(p.rx[p.rxLen:want], data)
	if n < len(data) {
		pkg.LogWarn(pkg.ComponentControl, "OUT data beyond wLength dropped", "extra", len(data)-n)
	}
	p.rxLen += n
	if p.rxLen < want && len(data) == p.mps {
		return
	}

	fn := p.onData
	p.onData = nil
	p.stage = stageIdle
	if err := fn(p.rx[:p.rxLen]); err != nil {
		pkg.LogDebug(pkg.ComponentControl, "OUT data rejected", "request", p.setup.Request, "error", err)
		p.Stall()
		return
	}
	p.sendStatus()
}

// Ack completes a request without a data stage, or after its OUT data
// stage, with a zero-length status IN.
func (p *ControlPipe) Ack() error {
	if err := p.answer(); err != nil {
		return err
	}
	p.sendStatus()
	return nil
}

// AckThen is Ack with fn run once the host has acknowledged the status
// stage.
func (p *ControlPipe) AckThen(fn func()) error {
	p.onStatus = fn
	return p.Ack()
}

// sendStatus queues the zero-length status IN. Its completion may run
// after the next SETUP was handled in the same poll, so the callback is
// bound to the request now and the stage is only reset if no newer
// request has started.
func (p *ControlPipe) sendStatus() {
	p.stage = stageStatusIn
	fn, seq := p.onStatus, p.seq
	p.onStatus = nil
	p.ep.SendDataZLP(nil, false, func() {
		if p.seq == seq {
			p.stage = stageIdle
		}
		if fn != nil {
			fn()
		}
	})
}

// Stall rejects the current request in both directions until the next
// SETUP.
func (p *ControlPipe) Stall() {
	p.answered = true
	p.onData = nil
	p.onStatus = nil
	p.stage = stageStalled
	p.ep.SetTxStatus(hal.StatusStall)
	p.ep.SetRxStatus(hal.StatusStall)
}
