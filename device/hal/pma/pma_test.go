package pma

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/device/hal/haltest"
	"github.com/ardnew/mcusb/device/layout"
	"github.com/ardnew/mcusb/pkg"
)

var (
	ep0      = hal.EndpointConfig{Number: 0, Direction: hal.DirBidirectional, Type: hal.TypeControl, MaxPacketSize: 64}
	bulkOut1 = hal.EndpointConfig{Number: 1, Direction: hal.DirOut, Type: hal.TypeBulk, MaxPacketSize: 64}
	bulkIn1  = hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64}
	intrIn2  = hal.EndpointConfig{Number: 2, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 16, Interval: 10}
	dblOut3  = hal.EndpointConfig{Number: 3, Direction: hal.DirOut, Type: hal.TypeBulkDoubleBuffered, MaxPacketSize: 32}
	dblIn4   = hal.EndpointConfig{Number: 4, Direction: hal.DirIn, Type: hal.TypeBulkDoubleBuffered, MaxPacketSize: 32}
)

type rig struct {
	t    *testing.T
	sim  *Sim
	ctrl *Controller
	eps  []hal.EndpointConfig
}

func newRig(t *testing.T, opts Options, eps ...hal.EndpointConfig) *rig {
	t.Helper()
	sim := NewSim(opts)
	ctrl := New(sim, opts)
	if err := ctrl.Configure(eps); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := ctrl.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	r := &rig{t: t, sim: sim, ctrl: ctrl, eps: eps}
	r.resetAll()
	return r
}

func (r *rig) resetAll() {
	for _, ep := range r.eps {
		dir := ep.Direction
		if dir == hal.DirBidirectional {
			dir = hal.DirOut
		}
		r.ctrl.Endpoint(ep.Number, dir).Reset()
	}
}

func (r *rig) poll() {
	r.ctrl.Poll(func(ev hal.Event) {
		if ev.Kind != hal.EventTransfer {
			return
		}
		if ep := r.ctrl.Endpoint(ev.Number, ev.Dir); ep != nil {
			ep.Handle(ev)
		}
	})
}

func (r *rig) bus() *haltest.Bus {
	return &haltest.Bus{Host: r.sim, Poll: r.poll}
}

func TestInitDescriptorTable(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, bulkOut1, bulkIn1, intrIn2)

	tests := []struct {
		slot int
		cell uint16
		want uint16
	}{
		{0, cellAddrTx, 88},
		{0, cellAddrRx, 24},
		{0, cellCountRx, countBLSIZE | 1<<numBlockShift},
		{1, cellAddrRx, 152},
		{1, cellAddrTx, 216},
		{2, cellAddrTx, 280},
		{2, cellCountTx, 0},
	}
	for _, tt := range tests {
		if got := r.sim.cell(tt.slot, tt.cell); got != tt.want {
			t.Errorf("slot %d cell %d = 0x%04X, want 0x%04X", tt.slot, tt.cell, got, tt.want)
		}
	}
	if addr, enabled := r.sim.Address(); addr != 0 || !enabled {
		t.Errorf("Address() = %d, %v, want 0, true", addr, enabled)
	}
}

func TestRxCountCell(t *testing.T) {
	for _, size := range []uint16{2, 8, 16, 62, 64, 96, 512} {
		if got := rxCellSize(rxCountCell(size)); got != size {
			t.Errorf("rxCellSize(rxCountCell(%d)) = %d", size, got)
		}
	}
}

func TestInitRequiresConfigure(t *testing.T) {
	ctrl := New(NewSim(DefaultOptions), DefaultOptions)
	if err := ctrl.Init(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Init() error = %v, want ErrInvalidState", err)
	}
}

func TestInitClock(t *testing.T) {
	clock := &hal.FixedClock{Hz: 72_000_000}
	opts := Options{Clock: clock}
	ctrl := New(NewSim(opts), opts)
	if err := ctrl.Configure([]hal.EndpointConfig{ep0}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := ctrl.Init(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Init() error = %v, want ErrInvalidParameter", err)
	}
	if !clock.Enabled {
		t.Error("clock not enabled before register access")
	}

	clock.Hz = USBClockHz
	if err := ctrl.Init(); err != nil {
		t.Errorf("Init() error = %v", err)
	}
}

func TestConfigureImage(t *testing.T) {
	eps := []hal.EndpointConfig{ep0, bulkOut1, bulkIn1}
	plan, err := layout.PlanBDT(eps, layout.DefaultBDTOptions)
	if err != nil {
		t.Fatalf("PlanBDT() error = %v", err)
	}
	img, err := plan.Image().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	opts := Options{Image: img}
	if err := New(NewSim(opts), opts).Configure(eps); err != nil {
		t.Errorf("Configure() with matching image error = %v", err)
	}
	if err := New(NewSim(opts), opts).Configure(append(eps, intrIn2)); err == nil {
		t.Error("Configure() with stale image error = nil")
	}
}

func TestResetIdempotent(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, bulkOut1, bulkIn1, intrIn2, dblOut3, dblIn4)

	var once [8]uint16
	for slot := range once {
		once[slot] = r.sim.Register(slot)
	}
	r.resetAll()
	for slot := range once {
		if got := r.sim.Register(slot); got != once[slot] {
			t.Errorf("slot %d after second Reset = 0x%04X, want 0x%04X", slot, got, once[slot])
		}
	}
}

func TestResetStatus(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, bulkOut1, bulkIn1, intrIn2)

	tests := []struct {
		n      uint8
		dir    hal.Direction
		rx, tx hal.Status
	}{
		{0, hal.DirOut, hal.StatusValid, hal.StatusNak},
		{1, hal.DirOut, hal.StatusValid, hal.StatusDisabled},
		{1, hal.DirIn, hal.StatusDisabled, hal.StatusNak},
		{2, hal.DirIn, hal.StatusDisabled, hal.StatusNak},
	}
	for _, tt := range tests {
		ep := r.ctrl.Endpoint(tt.n, tt.dir)
		if got := ep.RxStatus(); got != tt.rx {
			t.Errorf("ep%d %v RxStatus() = %v, want %v", tt.n, tt.dir, got, tt.rx)
		}
		if got := ep.TxStatus(); got != tt.tx {
			t.Errorf("ep%d %v TxStatus() = %v, want %v", tt.n, tt.dir, got, tt.tx)
		}
	}

	if got := r.sim.Register(1) & (epTYPE | epEA); got != epTypeBulk|1 {
		t.Errorf("slot 1 type/address = 0x%04X, want bulk ep1", got)
	}
	if got := r.sim.Register(0) & epTYPE; got != epTypeControl {
		t.Errorf("slot 0 type = 0x%04X, want control", got)
	}
}

func TestSendPackets(t *testing.T) {
	tests := []struct {
		name  string
		cfg   hal.EndpointConfig
		size  int
		sizes []int
	}{
		{"exact multiple", bulkIn1, 128, []int{64, 64, 0}},
		{"short tail", bulkIn1, 100, []int{64, 36}},
		{"empty", bulkIn1, 0, []int{0}},
		{"suppressed", hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64, NoZLP: true}, 128, []int{64, 64}},
		{"double buffered", dblIn4, 96, []int{32, 32, 32, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, DefaultOptions, ep0, tt.cfg)
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}
			done := 0
			r.ctrl.Endpoint(tt.cfg.Number, hal.DirIn).SendData(data, func() { done++ })

			b := r.bus()
			var got []byte
			var sizes []int
			for range tt.sizes {
				p, h := b.In(0, tt.cfg.Number)
				if h != haltest.ACK {
					t.Fatalf("In() = %v after %v", h, sizes)
				}
				sizes = append(sizes, len(p))
				got = append(got, p...)
			}
			if _, h := b.Host.In(0, tt.cfg.Number); h != haltest.NAK {
				t.Errorf("extra In() = %v, want NAK", h)
			}

			if diff := cmp.Diff(tt.sizes, sizes); diff != "" {
				t.Errorf("packet sizes (-want +got):\n%s", diff)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(data))
			}
			if done != 1 {
				t.Errorf("callback ran %d times, want 1", done)
			}
			if r.ctrl.Transfers().At(tt.cfg.Number, hal.DirIn).Active() {
				t.Error("transfer context still active")
			}
		})
	}
}

func TestCallbackAfterLastAck(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, bulkIn1)
	done := false
	r.ctrl.Endpoint(1, hal.DirIn).SendData(make([]byte, 64), func() { done = true })

	b := r.bus()
	b.In(0, 1)
	if done {
		t.Fatal("callback ran before the zero-length packet was acknowledged")
	}
	b.In(0, 1)
	if !done {
		t.Error("callback did not run after the zero-length packet")
	}
}

func TestReceive(t *testing.T) {
	for _, doubling := range []bool{false, true} {
		name := "plain"
		if doubling {
			name = "address doubling"
		}
		t.Run(name, func(t *testing.T) {
			r := newRig(t, Options{AddressDoubling: doubling}, ep0, bulkOut1, bulkIn1)
			var got [][]byte
			r.ctrl.Endpoint(1, hal.DirOut).OnReceive(func(data []byte, setup bool) {
				if setup {
					t.Error("OUT packet flagged as SETUP")
				}
				got = append(got, append([]byte(nil), data...))
			})

			b := r.bus()
			for _, p := range [][]byte{[]byte("hello, world"), []byte("abc"), {}} {
				if h := b.Out(0, 1, p); h != haltest.ACK {
					t.Fatalf("Out(%q) = %v", p, h)
				}
			}
			want := [][]byte{[]byte("hello, world"), []byte("abc"), {}}
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("received (-want +got):\n%s", diff)
			}

			r.ctrl.Endpoint(1, hal.DirIn).SendData([]byte("xyz"), nil)
			if p, _ := b.In(0, 1); string(p) != "xyz" {
				t.Errorf("In() = %q, want xyz", p)
			}
		})
	}
}

func TestReceiveDoubleBuffered(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, dblOut3)
	var got []string
	r.ctrl.Endpoint(3, hal.DirOut).OnReceive(func(data []byte, _ bool) {
		got = append(got, string(data))
	})

	// Until software takes the filled buffer, the next packet is refused.
	if h := r.sim.Out(0, 3, []byte("one")); h != haltest.ACK {
		t.Fatalf("Out(one) = %v", h)
	}
	if h := r.sim.Out(0, 3, []byte("two")); h != haltest.NAK {
		t.Fatalf("Out(two) before drain = %v, want NAK", h)
	}
	r.poll()
	if h := r.sim.Out(0, 3, []byte("two")); h != haltest.ACK {
		t.Fatalf("Out(two) = %v", h)
	}
	r.poll()
	if h := r.sim.Out(0, 3, []byte("three")); h != haltest.ACK {
		t.Fatalf("Out(three) = %v", h)
	}
	r.poll()

	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Errorf("received (-want +got):\n%s", diff)
	}
}

func TestStall(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, bulkOut1, bulkIn1)
	out, in := r.ctrl.Endpoint(1, hal.DirOut), r.ctrl.Endpoint(1, hal.DirIn)

	// Move the IN toggle to DATA1.
	in.SendData([]byte{1}, nil)
	r.bus().In(0, 1)
	if r.sim.Register(1)&epDTOGTx == 0 {
		t.Fatal("IN toggle did not advance")
	}

	out.SetRxStatus(hal.StatusStall)
	in.SetTxStatus(hal.StatusStall)

	if h := r.sim.Out(0, 1, []byte{1}); h != haltest.STALL {
		t.Errorf("Out() = %v, want STALL", h)
	}
	if _, h := r.sim.In(0, 1); h != haltest.STALL {
		t.Errorf("In() = %v, want STALL", h)
	}
	if got := in.RxStatus(); got != hal.StatusDisabled {
		t.Errorf("IN half RxStatus() = %v, want disabled", got)
	}

	out.SetRxStatus(hal.StatusValid)
	in.SetTxStatus(hal.StatusNak)
	if h := r.sim.Out(0, 1, []byte{1}); h != haltest.ACK {
		t.Errorf("Out() after clear = %v, want ACK", h)
	}
	if r.sim.Register(1)&epDTOGTx != 0 {
		t.Error("IN toggle not restarted at DATA0")
	}
}

func TestPollReset(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0)
	r.sim.Reset()

	var kinds []hal.EventKind
	r.ctrl.Poll(func(ev hal.Event) { kinds = append(kinds, ev.Kind) })
	if diff := cmp.Diff([]hal.EventKind{hal.EventReset}, kinds); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if n := r.ctrl.Poll(func(hal.Event) {}); n != 0 {
		t.Errorf("second Poll() = %d events, want 0", n)
	}
}

func TestPollUnhandled(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0, bulkOut1)
	r.sim.Out(0, 1, []byte{1})

	events := 0
	r.ctrl.Poll(func(hal.Event) { events++ })
	if events != 1 {
		t.Errorf("Poll() dispatched %d events, want 1", events)
	}
	if r.sim.Register(1)&epCTRRx != 0 {
		t.Error("unhandled CTR_RX left set")
	}
}

func TestSetupSupersedesTransmit(t *testing.T) {
	r := newRig(t, DefaultOptions, ep0)
	ep := r.ctrl.Endpoint(0, hal.DirOut)

	var order []string
	ep.OnReceive(func(data []byte, setup bool) {
		if setup {
			order = append(order, "setup")
			ep.SendData([]byte{0xAA}, func() { order = append(order, "reply sent") })
		}
	})

	// A status-stage ZLP is acknowledged and the next SETUP arrives before
	// the interrupt is serviced.
	ep.SendData(nil, func() { order = append(order, "status done") })
	if _, h := r.sim.In(0, 0); h != haltest.ACK {
		t.Fatalf("In() = %v", h)
	}
	r.sim.Setup(0, haltest.SetupPacket(0x80, 6, 0x0100, 0, 1))
	r.poll()

	want := []string{"setup", "status done"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	p, h := r.sim.In(0, 0)
	if h != haltest.ACK || !bytes.Equal(p, []byte{0xAA}) {
		t.Errorf("In() = %v %v, want reply", p, h)
	}
	r.poll()
	if got := order[len(order)-1]; got != "reply sent" {
		t.Errorf("last event = %q, want reply sent", got)
	}
}
