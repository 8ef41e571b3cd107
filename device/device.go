package device

import (
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/device/layout"
	"github.com/ardnew/mcusb/pkg"
)

// Device owns the control endpoint and the enumeration state machine, and
// routes controller events to endpoint realizations.
type Device struct {
	Descriptor DeviceDescriptor
	Qualifier  *QualifierDescriptor // Nil stalls GET_DESCRIPTOR(Qualifier)

	ctrl     hal.Controller
	configs  []*Configuration
	active   *Configuration
	strings  [MaxStrings][]byte
	handlers [16][2]hal.Endpoint // Realizations by number and direction

	state        State
	suspended    bool
	address      uint8
	remoteWakeup bool

	pipe ControlPipe

	onStateChange func(old, new State)
	onReset       func()
	onSuspend     func()
	onResume      func()
	onConfigured  func(value uint8)
}

// ControlEndpoint returns the endpoint 0 declaration for a device with
// max packet size mps.
func ControlEndpoint(mps uint8) hal.EndpointConfig {
	return hal.EndpointConfig{Number: 0, Direction: hal.DirBidirectional, Type: hal.TypeControl, MaxPacketSize: uint16(mps)}
}

// Endpoints returns the full declaration set of the device: endpoint 0
// and every endpoint of every configuration, normalized.
func (d *Device) Endpoints() ([]hal.EndpointConfig, error) {
	all := []hal.EndpointConfig{ControlEndpoint(d.Descriptor.MaxPacketSize0)}
	for _, c := range d.configs {
		all = append(all, c.Endpoints()...)
	}
	return layout.Normalize(all)
}

// bind plans the controller for every declared endpoint and builds the
// routing table. A declaration the controller did not realize is a
// configuration error.
func (d *Device) bind(ctrl hal.Controller) error {
	eps, err := d.Endpoints()
	if err != nil {
		return err
	}
	if err := ctrl.Configure(eps); err != nil {
		return err
	}
	d.ctrl = ctrl
	for _, ep := range eps {
		for _, dir := range []hal.Direction{hal.DirOut, hal.DirIn} {
			if (dir == hal.DirOut && !ep.HasOut()) || (dir == hal.DirIn && !ep.HasIn()) {
				continue
			}
			r := ctrl.Endpoint(ep.Number, dir)
			if r == nil {
				err := pkg.NewEndpointError(ep.Address(), pkg.ErrInvalidEndpoint)
				pkg.LogError(pkg.ComponentDevice, "endpoint not realized", "endpoint", ep)
				return fmt.Errorf("bind: %w", err)
			}
			d.handlers[ep.Number][half(dir)] = r
		}
	}
	for _, c := range d.configs {
		for _, iface := range c.interfaces {
			iface.dev = d
		}
	}
	d.pipe.bind(d, d.handlers[0][0])
	return nil
}

func half(dir hal.Direction) int {
	if dir == hal.DirIn {
		return 1
	}
	return 0
}

func (d *Device) endpoint(n uint8, dir hal.Direction) hal.Endpoint {
	return d.handlers[n&0x0F][half(dir)]
}

// Endpoint returns the realization serving endpoint address addr.
func (d *Device) Endpoint(addr uint8) hal.Endpoint {
	dir := hal.DirOut
	if addr&0x80 != 0 {
		dir = hal.DirIn
	}
	return d.endpoint(addr, dir)
}

// Controller returns the controller the device was built on.
func (d *Device) Controller() hal.Controller { return d.ctrl }

// Start initializes the controller and connects to the bus. The device
// stays Detached until the host resets the bus.
func (d *Device) Start() error {
	if d.ctrl == nil {
		return fmt.Errorf("start unbuilt device: %w", pkg.ErrInvalidState)
	}
	if err := d.ctrl.Init(); err != nil {
		return err
	}
	d.ctrl.Connect(true)
	pkg.LogInfo(pkg.ComponentDevice, "device started")
	return nil
}

// Stop disconnects from the bus.
func (d *Device) Stop() {
	if d.ctrl != nil {
		d.ctrl.Connect(false)
	}
	d.setState(StateDetached)
}

// Poll services pending controller events and returns how many were
// dispatched. Firmware calls it from the peripheral's interrupt handler.
func (d *Device) Poll() int {
	return d.ctrl.Poll(d.dispatch)
}

func (d *Device) dispatch(ev hal.Event) {
	switch ev.Kind {
	case hal.EventReset:
		d.busReset()
	case hal.EventSuspend:
		d.suspended = true
		pkg.LogInfo(pkg.ComponentDevice, "suspended")
		if d.onSuspend != nil {
			d.onSuspend()
		}
	case hal.EventResume:
		d.suspended = false
		pkg.LogInfo(pkg.ComponentDevice, "resumed")
		if d.onResume != nil {
			d.onResume()
		}
	case hal.EventTransfer, hal.EventRxData:
		h := d.endpoint(ev.Number, ev.Dir)
		if h == nil {
			pkg.LogError(pkg.ComponentDevice, "event for unmapped endpoint", "event", ev)
			return
		}
		h.Handle(ev)
	}
}

// busReset returns to Default from any state: every transfer is dropped,
// every endpoint reinitialized, and all but endpoint 0 disabled.
func (d *Device) busReset() {
	d.ctrl.Transfers().ClearAll()
	d.ctrl.SetAddress(0)
	d.address = 0
	d.active = nil
	d.remoteWakeup = false
	d.suspended = false
	d.pipe.reset()

	for n := range d.handlers {
		var last hal.Endpoint
		for _, r := range d.handlers[n] {
			if r == nil || r == last {
				continue
			}
			last = r
			r.Reset()
			if n != 0 {
				r.SetRxStatus(hal.StatusDisabled)
				r.SetTxStatus(hal.StatusDisabled)
			}
		}
	}

	pkg.LogInfo(pkg.ComponentDevice, "bus reset")
	d.setState(StateDefault)
	if d.onReset != nil {
		d.onReset()
	}
}

// State returns the enumeration state.
func (d *Device) State() State { return d.state }

// Suspended reports whether the bus is suspended.
func (d *Device) Suspended() bool { return d.suspended }

// Address returns the address applied to hardware.
func (d *Device) Address() uint8 { return d.address }

// ActiveConfiguration returns the selected configuration, or nil.
func (d *Device) ActiveConfiguration() *Configuration { return d.active }

// Configuration returns the configuration with bConfigurationValue value.
func (d *Device) Configuration(value uint8) *Configuration {
	for _, c := range d.configs {
		if c.Value == value {
			return c
		}
	}
	return nil
}

// Configurations returns every configuration. Do not modify.
func (d *Device) Configurations() []*Configuration { return d.configs }

// RemoteWakeupEnabled reports whether the host enabled remote wakeup.
func (d *Device) RemoteWakeupEnabled() bool { return d.remoteWakeup }

func (d *Device) setState(s State) {
	old := d.state
	d.state = s
	if old == s {
		return
	}
	pkg.LogInfo(pkg.ComponentDevice, "state changed", "from", old.String(), "to", s.String())
	if d.onStateChange != nil {
		d.onStateChange(old, s)
	}
}

// applyAddress is run after the status stage of SET_ADDRESS.
func (d *Device) applyAddress(addr uint8) {
	d.ctrl.SetAddress(addr)
	d.address = addr
	if addr == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddressed)
	}
	pkg.LogInfo(pkg.ComponentDevice, "address applied", "address", addr)
}

// SetConfiguration selects configuration value, or returns to Addressed
// for 0. The endpoints of the selected configuration are reset once each;
// those of a previously selected one are disabled.
func (d *Device) SetConfiguration(value uint8) error {
	if d.state != StateAddressed && d.state != StateConfigured {
		return fmt.Errorf("set configuration %d in state %v: %w", value, d.state, pkg.ErrInvalidState)
	}
	var next *Configuration
	if value != 0 {
		if next = d.Configuration(value); next == nil {
			return fmt.Errorf("configuration %d: %w", value, pkg.ErrInvalidRequest)
		}
	}
	if d.active != nil {
		d.active.disable()
	}
	d.active = next
	if next == nil {
		d.setState(StateAddressed)
		return nil
	}
	next.reset()
	d.setState(StateConfigured)
	if d.onConfigured != nil {
		d.onConfigured(value)
	}
	return nil
}

// SetString stores s as string descriptor index. Index 0 is the language
// table and cannot be set.
func (d *Device) SetString(index uint8, s string) error {
	if index == 0 || int(index) >= MaxStrings {
		return fmt.Errorf("string index %d: %w", index, pkg.ErrInvalidParameter)
	}
	desc, err := StringDescriptor(s)
	if err != nil {
		return err
	}
	if d.strings[0] == nil {
		d.strings[0] = LanguageDescriptor(LangIDUSEnglish)
	}
	d.strings[index] = desc
	return nil
}

// String returns string descriptor index, or nil.
func (d *Device) String(index uint8) []byte {
	if int(index) >= MaxStrings {
		return nil
	}
	return d.strings[index]
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(fn func(old, new State)) { d.onStateChange = fn }

// SetOnReset sets the bus reset callback.
func (d *Device) SetOnReset(fn func()) { d.onReset = fn }

// SetOnSuspend sets the suspend callback.
func (d *Device) SetOnSuspend(fn func()) { d.onSuspend = fn }

// SetOnResume sets the resume callback.
func (d *Device) SetOnResume(fn func()) { d.onResume = fn }

// SetOnConfigured sets the callback run after a configuration is selected.
func (d *Device) SetOnConfigured(fn func(value uint8)) { d.onConfigured = fn }
