package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/device/hal/haltest"
	"github.com/ardnew/mcusb/device/hal/otg"
	"github.com/ardnew/mcusb/device/hal/pma"
	"github.com/ardnew/mcusb/pkg"
)

var (
	bulkOut1 = hal.EndpointConfig{Number: 1, Direction: hal.DirOut, Type: hal.TypeBulk, MaxPacketSize: 64}
	bulkIn1  = hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64}
	intrIn2  = hal.EndpointConfig{Number: 2, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 8, Interval: 10}
)

// backend builds a controller and the simulated host wired to it.
type backend struct {
	name string
	new  func() (hal.Controller, haltest.Host)
}

var backends = []backend{
	{"pma", func() (hal.Controller, haltest.Host) {
		sim := pma.NewSim(pma.DefaultOptions)
		return pma.New(sim, pma.DefaultOptions), sim
	}},
	{"otg", func() (hal.Controller, haltest.Host) {
		sim := otg.NewSim()
		return otg.New(sim, otg.Options{}), sim
	}},
}

// countingController records how often each endpoint realization is reset.
type countingController struct {
	hal.Controller
	eps    map[hal.Endpoint]*countingEndpoint
	resets map[uint8]int // By endpoint address
}

type countingEndpoint struct {
	hal.Endpoint
	c *countingController
}

func (e *countingEndpoint) Reset() {
	e.c.resets[e.Config().Address()]++
	e.Endpoint.Reset()
}

func (c *countingController) Endpoint(n uint8, dir hal.Direction) hal.Endpoint {
	ep := c.Controller.Endpoint(n, dir)
	if ep == nil {
		return nil
	}
	if w, ok := c.eps[ep]; ok {
		return w
	}
	w := &countingEndpoint{Endpoint: ep, c: c}
	c.eps[ep] = w
	return w
}

type harness struct {
	t    *testing.T
	dev  *Device
	ctrl *countingController
	host haltest.Host
	bus  *haltest.Bus
	addr uint8
	mps  int
}

func newHarness(t *testing.T, be backend, b *DeviceBuilder) *harness {
	t.Helper()
	ctrl, host := be.new()
	cc := &countingController{
		Controller: ctrl,
		eps:        map[hal.Endpoint]*countingEndpoint{},
		resets:     map[uint8]int{},
	}
	dev, err := b.Build(cc)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := dev.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h := &harness{t: t, dev: dev, ctrl: cc, host: host, mps: int(dev.Descriptor.MaxPacketSize0)}
	h.bus = &haltest.Bus{Host: host, Poll: func() { dev.Poll() }}
	return h
}

func bulkDevice() *DeviceBuilder {
	return NewDeviceBuilder().
		WithVendorProduct(0x1209, 0x0001).
		WithStrings("mcusb", "Loopback", "0001").
		AddConfiguration(1).
		AddInterface(ClassVendor, 0, 0).
		AddEndpoint(bulkOut1).
		AddEndpoint(bulkIn1)
}

func (h *harness) controlIn(rt, req uint8, value, index, length uint16) ([]byte, error) {
	return h.bus.ControlIn(h.addr, haltest.SetupPacket(rt, req, value, index, length), h.mps)
}

func (h *harness) controlOut(rt, req uint8, value, index uint16, data []byte) error {
	setup := haltest.SetupPacket(rt, req, value, index, uint16(len(data)))
	return h.bus.ControlOut(h.addr, setup, data, h.mps)
}

func (h *harness) mustOut(rt, req uint8, value, index uint16, data []byte) {
	h.t.Helper()
	if err := h.controlOut(rt, req, value, index, data); err != nil {
		h.t.Fatalf("control OUT 0x%02X error = %v", req, err)
	}
}

func (h *harness) mustIn(rt, req uint8, value, index, length uint16) []byte {
	h.t.Helper()
	data, err := h.controlIn(rt, req, value, index, length)
	if err != nil {
		h.t.Fatalf("control IN 0x%02X error = %v", req, err)
	}
	return data
}

// enumerate resets the bus, assigns address 5 and selects configuration 1.
func (h *harness) enumerate() {
	h.t.Helper()
	h.bus.Reset()
	h.addr = 0
	h.mustOut(0x00, RequestSetAddress, 5, 0, nil)
	h.addr = 5
	h.mustOut(0x00, RequestSetConfiguration, 1, 0, nil)
	if h.dev.State() != StateConfigured {
		h.t.Fatalf("State() = %v, want %v", h.dev.State(), StateConfigured)
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, be backend)) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) { fn(t, be) })
	}
}

func TestEnumeration(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		var states []State
		h.dev.SetOnStateChange(func(_, s State) { states = append(states, s) })

		if h.dev.State() != StateDetached {
			t.Fatalf("State() = %v, want %v", h.dev.State(), StateDetached)
		}
		h.bus.Reset()

		desc := h.mustIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeDevice)<<8, 0, 64)
		var dd DeviceDescriptor
		if err := ParseDeviceDescriptor(desc, &dd); err != nil {
			t.Fatalf("ParseDeviceDescriptor() error = %v", err)
		}
		if dd.VendorID != 0x1209 || dd.NumConfigurations != 1 || dd.ProductIndex != 2 {
			t.Errorf("device descriptor = %+v", dd)
		}

		h.mustOut(0x00, RequestSetAddress, 5, 0, nil)
		h.addr = 5
		if got := h.dev.Address(); got != 5 {
			t.Errorf("Address() = %d, want 5", got)
		}

		cfg := h.mustIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeConfiguration)<<8, 0, 255)
		var cd ConfigurationDescriptor
		if err := ParseConfigurationDescriptor(cfg, &cd); err != nil {
			t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
		}
		if int(cd.TotalLength) != len(cfg) || len(cfg) != 9+9+7+7 {
			t.Errorf("wTotalLength = %d, got %d bytes", cd.TotalLength, len(cfg))
		}

		h.mustOut(0x00, RequestSetConfiguration, 1, 0, nil)
		if got := h.mustIn(0x80, RequestGetConfiguration, 0, 0, 1); !cmp.Equal(got, []byte{1}) {
			t.Errorf("GET_CONFIGURATION = % X, want 01", got)
		}

		want := []State{StateDefault, StateAddressed, StateConfigured}
		if diff := cmp.Diff(want, states); diff != "" {
			t.Errorf("state changes mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestGetDescriptorTruncated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.bus.Reset()

		got := h.mustIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeDevice)<<8, 0, 8)
		if len(got) != 8 {
			t.Fatalf("GET_DESCRIPTOR(Device, 8) = %d bytes, want 8", len(got))
		}
		if got[0] != DeviceDescriptorSize || got[7] != 64 {
			t.Errorf("GET_DESCRIPTOR(Device, 8) = % X", got)
		}
	})
}

func TestReplyZeroLengthPacket(t *testing.T) {
	// "abcdefg" is 16 bytes as a string descriptor: two full 8-byte packets.
	tests := []struct {
		name    string
		length  uint16
		wantZLP bool
	}{
		{"shorter than request", 255, true},
		{"exactly as requested", 16, false},
	}
	for _, tt := range tests {
		forEachBackend(t, func(t *testing.T, be backend) {
			t.Run(tt.name, func(t *testing.T) {
				b := bulkDevice().WithMaxPacketSize0(8).WithString(4, "abcdefg")
				h := newHarness(t, be, b)
				h.bus.Reset()

				got := h.mustIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeString)<<8|4, LangIDUSEnglish, tt.length)
				if len(got) != 16 {
					t.Fatalf("GET_DESCRIPTOR(String 4) = %d bytes, want 16", len(got))
				}
				var sizes []int
				for _, tr := range h.host.Transactions() {
					if tr.Token == haltest.TokenIn && tr.Result == haltest.ACK {
						sizes = append(sizes, len(tr.Data))
					}
				}
				want := []int{8, 8}
				if tt.wantZLP {
					want = append(want, 0)
				}
				if diff := cmp.Diff(want, sizes); diff != "" {
					t.Errorf("IN packet sizes mismatch (-want +got):\n%s", diff)
				}
			})
		})
	}
}

func TestSetAddressAfterStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.bus.Reset()

		if hs := h.bus.Setup(0, haltest.SetupPacket(0x00, RequestSetAddress, 7, 0, 0)); hs != haltest.ACK {
			t.Fatalf("SETUP = %v, want ACK", hs)
		}
		if _, hs := h.host.In(7, 0); hs != haltest.NoResponse {
			t.Errorf("IN at new address before status = %v, want none", hs)
		}
		if h.dev.State() != StateDefault {
			t.Errorf("State() before status = %v, want %v", h.dev.State(), StateDefault)
		}
		data, hs := h.bus.In(0, 0)
		if hs != haltest.ACK || len(data) != 0 {
			t.Fatalf("status IN = %d bytes %v, want zero-length ACK", len(data), hs)
		}
		if h.dev.State() != StateAddressed || h.dev.Address() != 7 {
			t.Errorf("after status: State() = %v, Address() = %d", h.dev.State(), h.dev.Address())
		}
		if hs := h.bus.Setup(0, haltest.SetupPacket(0x80, RequestGetStatus, 0, 0, 2)); hs != haltest.NoResponse {
			t.Errorf("SETUP at old address = %v, want none", hs)
		}
	})
}

func TestSetAddressInvalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.enumerate()

		if err := h.controlOut(0x00, RequestSetAddress, 9, 0, nil); !errors.Is(err, pkg.ErrStall) {
			t.Errorf("SET_ADDRESS while configured error = %v, want stall", err)
		}
		if err := h.controlOut(0x00, RequestSetAddress, 200, 0, nil); !errors.Is(err, pkg.ErrStall) {
			t.Errorf("SET_ADDRESS 200 error = %v, want stall", err)
		}
		if h.dev.Address() != 5 {
			t.Errorf("Address() = %d, want 5", h.dev.Address())
		}
	})
}

func TestStallRecovers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.bus.Reset()

		_, err := h.controlIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeString)<<8|9, 0, 255)
		if !errors.Is(err, pkg.ErrStall) {
			t.Fatalf("GET_DESCRIPTOR(String 9) error = %v, want stall", err)
		}
		_, err = h.controlIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeDeviceQualifier)<<8, 0, 10)
		if !errors.Is(err, pkg.ErrStall) {
			t.Fatalf("GET_DESCRIPTOR(Qualifier) error = %v, want stall", err)
		}
		got := h.mustIn(0x80, RequestGetDescriptor, uint16(DescriptorTypeString)<<8, 0, 255)
		if diff := cmp.Diff(LanguageDescriptor(LangIDUSEnglish), got); diff != "" {
			t.Errorf("GET_DESCRIPTOR(String 0) mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBackToBackControl(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.bus.Reset()

		getDevice := haltest.SetupPacket(0x80, RequestGetDescriptor, uint16(DescriptorTypeDevice)<<8, 0, 18)
		if hs := h.bus.Setup(0, getDevice); hs != haltest.ACK {
			t.Fatalf("SETUP = %v", hs)
		}
		if _, err := h.bus.ReadIn(0, 0, h.mps, 18); err != nil {
			t.Fatalf("data IN error = %v", err)
		}
		// Status OUT and the next SETUP land before the device polls.
		if hs := h.host.Out(0, 0, nil); hs != haltest.ACK {
			t.Fatalf("status OUT = %v, want ACK", hs)
		}
		h.host.Setup(0, haltest.SetupPacket(0x80, RequestGetStatus, 0, 0, 2))
		h.dev.Poll()

		data, err := h.bus.ReadIn(0, 0, h.mps, 2)
		if err != nil {
			t.Fatalf("GET_STATUS data error = %v", err)
		}
		if !cmp.Equal(data, []byte{0, 0}) {
			t.Errorf("GET_STATUS = % X, want 00 00", data)
		}
	})
}

func TestSetAddressStatusWithNextSetup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.bus.Reset()

		if hs := h.bus.Setup(0, haltest.SetupPacket(0x00, RequestSetAddress, 7, 0, 0)); hs != haltest.ACK {
			t.Fatalf("SETUP = %v", hs)
		}
		// Status IN and the next SETUP land before the device polls.
		if _, hs := h.host.In(0, 0); hs != haltest.ACK {
			t.Fatalf("status IN = %v, want ACK", hs)
		}
		h.host.Setup(0, haltest.SetupPacket(0x80, RequestGetStatus, 0, 0, 2))
		h.dev.Poll()

		if h.dev.State() != StateAddressed || h.dev.Address() != 7 {
			t.Errorf("State() = %v, Address() = %d, want %v and 7", h.dev.State(), h.dev.Address(), StateAddressed)
		}
		data, err := h.bus.ReadIn(7, 0, h.mps, 2)
		if err != nil {
			t.Fatalf("GET_STATUS data error = %v", err)
		}
		if !cmp.Equal(data, []byte{0, 0}) {
			t.Errorf("GET_STATUS = % X, want 00 00", data)
		}
	})
}

func TestSetConfigurationResetsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		b := bulkDevice().AddInterface(ClassVendor, 0, 0).AddEndpoint(intrIn2)
		h := newHarness(t, be, b)
		h.bus.Reset()
		if got := h.ctrl.resets[0x00]; got != 1 {
			t.Errorf("control endpoint resets after bus reset = %d, want 1", got)
		}

		clear(h.ctrl.resets)
		h.mustOut(0x00, RequestSetAddress, 5, 0, nil)
		h.addr = 5
		h.mustOut(0x00, RequestSetConfiguration, 1, 0, nil)

		want := map[uint8]int{0x01: 1, 0x81: 1, 0x82: 1}
		if diff := cmp.Diff(want, h.ctrl.resets); diff != "" {
			t.Errorf("endpoint resets mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBusResetDisablesEndpoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.enumerate()

		if hs := h.bus.Out(5, 1, []byte("ping")); hs != haltest.ACK {
			t.Fatalf("OUT 1 while configured = %v, want ACK", hs)
		}

		h.bus.Reset()
		if h.dev.State() != StateDefault || h.dev.Address() != 0 || h.dev.ActiveConfiguration() != nil {
			t.Errorf("after reset: State() = %v, Address() = %d", h.dev.State(), h.dev.Address())
		}
		if hs := h.host.Out(0, 1, []byte("ping")); hs != haltest.NoResponse {
			t.Errorf("OUT 1 after reset = %v, want none", hs)
		}
		if got := h.ctrl.Transfers().ActiveCount(); got != 0 {
			t.Errorf("active transfers after reset = %d, want 0", got)
		}
	})
}

func TestSetConfigurationZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.enumerate()

		h.mustOut(0x00, RequestSetConfiguration, 0, 0, nil)
		if h.dev.State() != StateAddressed {
			t.Errorf("State() = %v, want %v", h.dev.State(), StateAddressed)
		}
		if hs := h.host.Out(5, 1, []byte("x")); hs != haltest.NoResponse {
			t.Errorf("OUT 1 after deconfigure = %v, want none", hs)
		}
		if err := h.controlOut(0x00, RequestSetConfiguration, 3, 0, nil); !errors.Is(err, pkg.ErrStall) {
			t.Errorf("SET_CONFIGURATION 3 error = %v, want stall", err)
		}
	})
}

func TestEndpointHalt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.enumerate()

		h.mustOut(0x02, RequestSetFeature, FeatureEndpointHalt, 0x81, nil)
		if _, hs := h.host.In(5, 1); hs != haltest.STALL {
			t.Errorf("IN 1 after halt = %v, want STALL", hs)
		}
		if got := h.mustIn(0x82, RequestGetStatus, 0, 0x81, 2); !cmp.Equal(got, []byte{1, 0}) {
			t.Errorf("GET_STATUS(0x81) = % X, want 01 00", got)
		}
		if got := h.mustIn(0x82, RequestGetStatus, 0, 0x01, 2); !cmp.Equal(got, []byte{0, 0}) {
			t.Errorf("GET_STATUS(0x01) = % X, want 00 00", got)
		}

		h.mustOut(0x02, RequestClearFeature, FeatureEndpointHalt, 0x81, nil)
		if _, hs := h.host.In(5, 1); hs != haltest.NAK {
			t.Errorf("IN 1 after clear = %v, want NAK", hs)
		}

		h.mustOut(0x02, RequestSetFeature, FeatureEndpointHalt, 0x01, nil)
		if hs := h.host.Out(5, 1, []byte("x")); hs != haltest.STALL {
			t.Errorf("OUT 1 after halt = %v, want STALL", hs)
		}
		h.mustOut(0x02, RequestClearFeature, FeatureEndpointHalt, 0x01, nil)
		if hs := h.bus.Out(5, 1, []byte("x")); hs != haltest.ACK {
			t.Errorf("OUT 1 after clear = %v, want ACK", hs)
		}

		if err := h.controlOut(0x02, RequestSetFeature, FeatureEndpointHalt, 0x85, nil); !errors.Is(err, pkg.ErrStall) {
			t.Errorf("SET_FEATURE(HALT) on undeclared endpoint error = %v, want stall", err)
		}
	})
}

func TestDeviceStatusAndRemoteWakeup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		b := bulkDevice().SelfPowered().RemoteWakeup()
		h := newHarness(t, be, b)
		h.enumerate()

		if got := h.mustIn(0x80, RequestGetStatus, 0, 0, 2); !cmp.Equal(got, []byte{1, 0}) {
			t.Errorf("GET_STATUS = % X, want 01 00", got)
		}
		h.mustOut(0x00, RequestSetFeature, FeatureDeviceRemoteWakeup, 0, nil)
		if !h.dev.RemoteWakeupEnabled() {
			t.Error("RemoteWakeupEnabled() = false after SET_FEATURE")
		}
		if got := h.mustIn(0x80, RequestGetStatus, 0, 0, 2); !cmp.Equal(got, []byte{3, 0}) {
			t.Errorf("GET_STATUS = % X, want 03 00", got)
		}
		h.mustOut(0x00, RequestClearFeature, FeatureDeviceRemoteWakeup, 0, nil)
		if h.dev.RemoteWakeupEnabled() {
			t.Error("RemoteWakeupEnabled() = true after CLEAR_FEATURE")
		}
	})
}

func TestRemoteWakeupUnsupported(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be backend) {
		h := newHarness(t, be, bulkDevice())
		h.enumerate()
		if err := h.controlOut(0x00, RequestSetFeature, FeatureDeviceRemoteWakeup, 0, nil); !errors.Is(err, pkg.ErrStall) {
			t.Errorf("SET_FEATURE(REMOTE_WAKEUP) error = %v, want stall", err)
		}
	})
}

func TestSuspendResume(t *testing.T) {
	h := newHarness(t, backends[0], bulkDevice())
	var events []string
	h.dev.SetOnSuspend(func() { events = append(events, "suspend") })
	h.dev.SetOnResume(func() { events = append(events, "resume") })

	h.dev.dispatch(hal.Event{Kind: hal.EventSuspend})
	if !h.dev.Suspended() {
		t.Error("Suspended() = false after suspend")
	}
	h.dev.dispatch(hal.Event{Kind: hal.EventResume})
	if h.dev.Suspended() {
		t.Error("Suspended() = true after resume")
	}
	if diff := cmp.Diff([]string{"suspend", "resume"}, events); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
}

func TestSetConfigurationInvalidState(t *testing.T) {
	h := newHarness(t, backends[0], bulkDevice())
	h.bus.Reset()
	if err := h.dev.SetConfiguration(1); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("SetConfiguration() in Default error = %v, want %v", err, pkg.ErrInvalidState)
	}
}

func TestDeviceBuilder(t *testing.T) {
	ctrl, _ := backends[0].new()
	dev, err := bulkDevice().WithClass(ClassMisc, 0x02, 0x01).Build(ctrl)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if dev.Descriptor.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", dev.Descriptor.NumConfigurations)
	}
	if dev.Endpoint(0x81) == nil || dev.Endpoint(0x01) == nil || dev.Endpoint(0x00) == nil {
		t.Error("Endpoint() returned nil for a declared endpoint")
	}
	if dev.Endpoint(0x83) != nil {
		t.Error("Endpoint(0x83) returned a realization for an undeclared endpoint")
	}
	s, err := ParseStringDescriptor(dev.String(2))
	if err != nil || s != "Loopback" {
		t.Errorf("String(2) = %q, %v, want Loopback", s, err)
	}
}

func TestDeviceBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *DeviceBuilder
		wantErr error
	}{
		{
			name:    "no configuration",
			build:   NewDeviceBuilder,
			wantErr: pkg.ErrInvalidState,
		},
		{
			name:    "interface before configuration",
			build:   func() *DeviceBuilder { return NewDeviceBuilder().AddInterface(ClassVendor, 0, 0) },
			wantErr: pkg.ErrInvalidState,
		},
		{
			name:    "configuration value 0",
			build:   func() *DeviceBuilder { return NewDeviceBuilder().AddConfiguration(0) },
			wantErr: pkg.ErrInvalidParameter,
		},
		{
			name:    "bad control packet size",
			build:   func() *DeviceBuilder { return bulkDevice().WithMaxPacketSize0(48) },
			wantErr: pkg.ErrMaxPacketSize,
		},
		{
			name:    "duplicate endpoint",
			build:   func() *DeviceBuilder { return bulkDevice().AddEndpoint(bulkIn1) },
			wantErr: pkg.ErrDuplicateEndpoint,
		},
		{
			name: "conflicting declaration in another configuration",
			build: func() *DeviceBuilder {
				intrIn1 := hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 8, Interval: 1}
				return bulkDevice().AddConfiguration(2).AddInterface(ClassVendor, 0, 0).AddEndpoint(intrIn1)
			},
			wantErr: pkg.ErrDuplicateEndpoint,
		},
		{
			name:    "control endpoint on interface",
			build:   func() *DeviceBuilder { return bulkDevice().AddEndpoint(ControlEndpoint(64)) },
			wantErr: pkg.ErrInvalidEndpoint,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _ := backends[0].new()
			_, err := tt.build().Build(ctrl)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
