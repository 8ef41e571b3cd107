package device

import (
	"errors"
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// ClassDriver handles the SETUP requests addressed to one interface.
//
// HandleSetup answers through ctl with exactly one of Reply, Receive, Ack
// or Stall, or returns an error, which stalls the request. Returning
// [pkg.ErrNotSupported] for a standard request falls back to the
// interface's default handling.
type ClassDriver interface {
	HandleSetup(iface *Interface, ctl *ControlPipe, setup *SetupPacket) error
}

// Resetter is implemented by class drivers that keep state tied to the
// configuration. Reset runs after the interface's endpoints are reset,
// whenever its configuration is selected or its alternate setting changes.
type Resetter interface {
	Reset(iface *Interface)
}

// AlternateSetter is implemented by class drivers with more than one
// alternate setting.
type AlternateSetter interface {
	SetAlternate(iface *Interface, alt uint8) error
}

// Interface groups endpoints under one interface descriptor.
type Interface struct {
	Number           uint8
	AlternateSetting uint8 // Current alternate setting
	Alternates       uint8 // Alternate settings supported; 0 means 1
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8

	endpoints  []hal.EndpointConfig
	functional []FunctionalDescriptor
	driver     ClassDriver
	dev        *Device
}

// NewInterface returns an interface with no endpoints.
func NewInterface(number, class, subClass, protocol uint8) *Interface {
	return &Interface{Number: number, Class: class, SubClass: subClass, Protocol: protocol}
}

// AddEndpoint declares an endpoint of this interface. Endpoint 0 belongs
// to the device and cannot be added.
func (i *Interface) AddEndpoint(cfg hal.EndpointConfig) error {
	if cfg.Number == 0 {
		return fmt.Errorf("interface %d: %w", i.Number, pkg.NewEndpointError(cfg.Address(), pkg.ErrInvalidEndpoint))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("interface %d: %w", i.Number, err)
	}
	for _, ep := range i.endpoints {
		if ep.Number == cfg.Number && (ep.Direction == cfg.Direction ||
			ep.Direction == hal.DirBidirectional || cfg.Direction == hal.DirBidirectional) {
			return fmt.Errorf("interface %d: %w", i.Number, pkg.NewEndpointError(cfg.Address(), pkg.ErrDuplicateEndpoint))
		}
	}
	i.endpoints = append(i.endpoints, cfg)
	pkg.LogDebug(pkg.ComponentDevice, "endpoint added to interface", "interface", i.Number, "endpoint", cfg)
	return nil
}

// AddFunctional appends a class-specific descriptor, emitted between the
// interface descriptor and its endpoint descriptors.
func (i *Interface) AddFunctional(f FunctionalDescriptor) {
	i.functional = append(i.functional, f)
}

// SetClassDriver installs the handler for requests addressed to this
// interface.
func (i *Interface) SetClassDriver(d ClassDriver) { i.driver = d }

// ClassDriver returns the installed class driver.
func (i *Interface) ClassDriver() ClassDriver { return i.driver }

// Endpoints returns the declared endpoints. Do not modify.
func (i *Interface) Endpoints() []hal.EndpointConfig { return i.endpoints }

// Device returns the device the interface was built into, or nil.
func (i *Interface) Device() *Device { return i.dev }

// Endpoint returns the realization of endpoint number n in direction dir,
// or nil before the device is built.
func (i *Interface) Endpoint(n uint8, dir hal.Direction) hal.Endpoint {
	if i.dev == nil {
		return nil
	}
	return i.dev.endpoint(n, dir)
}

// NumEndpointDescriptors counts the endpoint descriptors this interface
// emits. A bidirectional declaration emits one per direction.
func (i *Interface) NumEndpointDescriptors() int {
	n := 0
	for _, ep := range i.endpoints {
		if ep.Direction == hal.DirBidirectional {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Descriptor returns the interface descriptor.
func (i *Interface) Descriptor() InterfaceDescriptor {
	return InterfaceDescriptor{
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.AlternateSetting,
		NumEndpoints:      uint8(i.NumEndpointDescriptors()),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
}

// DescriptorSize returns the bytes MarshalTo writes.
func (i *Interface) DescriptorSize() int {
	n := InterfaceDescriptorSize + i.NumEndpointDescriptors()*EndpointDescriptorSize
	for k := range i.functional {
		n += i.functional[k].Size()
	}
	return n
}

// MarshalTo writes the interface descriptor, its functional descriptors
// and its endpoint descriptors, OUT before IN for a bidirectional
// endpoint. Returns the number of bytes written, or 0 if buf is too small.
func (i *Interface) MarshalTo(buf []byte) int {
	if len(buf) < i.DescriptorSize() {
		return 0
	}
	desc := i.Descriptor()
	off := desc.MarshalTo(buf)
	for k := range i.functional {
		off += i.functional[k].MarshalTo(buf[off:])
	}
	for _, ep := range i.endpoints {
		if ep.HasOut() {
			d := EndpointDescriptorOf(ep, hal.DirOut)
			off += d.MarshalTo(buf[off:])
		}
		if ep.HasIn() {
			d := EndpointDescriptorOf(ep, hal.DirIn)
			off += d.MarshalTo(buf[off:])
		}
	}
	return off
}

// Reset resets every endpoint realization of the interface once, then
// the class driver.
func (i *Interface) Reset() {
	if i.dev != nil {
		for _, ep := range i.endpoints {
			if r := i.dev.endpoint(ep.Number, primary(ep.Direction)); r != nil {
				r.Reset()
			}
		}
	}
	if r, ok := i.driver.(Resetter); ok {
		r.Reset(i)
	}
}

// disable turns off every endpoint of the interface.
func (i *Interface) disable() {
	if i.dev == nil {
		return
	}
	for _, ep := range i.endpoints {
		if r := i.dev.endpoint(ep.Number, primary(ep.Direction)); r != nil {
			r.SetRxStatus(hal.StatusDisabled)
			r.SetTxStatus(hal.StatusDisabled)
		}
	}
}

// primary is the direction under which a declaration's realization is
// looked up.
func primary(dir hal.Direction) hal.Direction {
	if dir == hal.DirBidirectional {
		return hal.DirOut
	}
	return dir
}

// HandleSetup dispatches a request addressed to this interface: first to
// the class driver, then, for standard requests it does not handle, to
// the default GET_STATUS, GET_INTERFACE and SET_INTERFACE handling.
func (i *Interface) HandleSetup(ctl *ControlPipe, setup *SetupPacket) error {
	if i.driver != nil {
		err := i.driver.HandleSetup(i, ctl, setup)
		if !setup.IsStandard() || !errors.Is(err, pkg.ErrNotSupported) {
			return err
		}
	}
	if !setup.IsStandard() {
		return fmt.Errorf("interface %d request 0x%02X: %w", i.Number, setup.Request, pkg.ErrNotSupported)
	}

	switch setup.Request {
	case RequestGetStatus:
		return ctl.Reply([]byte{0, 0})
	case RequestGetInterface:
		return ctl.Reply([]byte{i.AlternateSetting})
	case RequestSetInterface:
		alt := uint8(setup.Value)
		if alt >= max(i.Alternates, 1) {
			return fmt.Errorf("interface %d alternate %d: %w", i.Number, alt, pkg.ErrInvalidRequest)
		}
		if s, ok := i.driver.(AlternateSetter); ok {
			if err := s.SetAlternate(i, alt); err != nil {
				return err
			}
		}
		i.AlternateSetting = alt
		i.Reset()
		return ctl.Ack()
	}
	return fmt.Errorf("interface %d request 0x%02X: %w", i.Number, setup.Request, pkg.ErrInvalidRequest)
}
