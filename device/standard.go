package device

import (
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// handleSetup routes a SETUP packet by recipient. A returned error stalls
// the control pipe.
func (d *Device) handleSetup(ctl *ControlPipe, setup *SetupPacket) error {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		if !setup.IsStandard() {
			return fmt.Errorf("device request type 0x%02X: %w", setup.Type(), pkg.ErrNotSupported)
		}
		return d.deviceRequest(ctl, setup)
	case RequestRecipientInterface:
		return d.interfaceRequest(ctl, setup)
	case RequestRecipientEndpoint:
		if !setup.IsStandard() {
			return fmt.Errorf("endpoint request type 0x%02X: %w", setup.Type(), pkg.ErrNotSupported)
		}
		return d.endpointRequest(ctl, setup)
	}
	return fmt.Errorf("recipient %d: %w", setup.Recipient(), pkg.ErrNotSupported)
}

func (d *Device) deviceRequest(ctl *ControlPipe, setup *SetupPacket) error {
	switch setup.Request {
	case RequestGetStatus:
		return d.getStatus(ctl)
	case RequestClearFeature, RequestSetFeature:
		return d.deviceFeature(ctl, setup)
	case RequestSetAddress:
		return d.setAddress(ctl, setup)
	case RequestGetDescriptor:
		return d.getDescriptor(ctl, setup)
	case RequestGetConfiguration:
		var v uint8
		if d.active != nil {
			v = d.active.Value
		}
		return ctl.Reply([]byte{v})
	case RequestSetConfiguration:
		if err := d.SetConfiguration(uint8(setup.Value)); err != nil {
			return err
		}
		return ctl.Ack()
	}
	return fmt.Errorf("device request 0x%02X: %w", setup.Request, pkg.ErrNotSupported)
}

func (d *Device) getStatus(ctl *ControlPipe) error {
	c := d.active
	if c == nil && len(d.configs) > 0 {
		c = d.configs[0]
	}
	var status uint8
	if c != nil && c.IsSelfPowered() {
		status |= 0x01
	}
	if d.remoteWakeup {
		status |= 0x02
	}
	return ctl.Reply([]byte{status, 0})
}

func (d *Device) deviceFeature(ctl *ControlPipe, setup *SetupPacket) error {
	if setup.Value != FeatureDeviceRemoteWakeup {
		return fmt.Errorf("device feature %d: %w", setup.Value, pkg.ErrNotSupported)
	}
	if d.active == nil || !d.active.SupportsRemoteWakeup() {
		return fmt.Errorf("remote wakeup: %w", pkg.ErrNotSupported)
	}
	d.remoteWakeup = setup.Request == RequestSetFeature
	return ctl.Ack()
}

// setAddress defers the hardware update until the host has acknowledged
// the status stage, which it sends to address 0.
func (d *Device) setAddress(ctl *ControlPipe, setup *SetupPacket) error {
	if setup.IsDeviceToHost() || setup.Length != 0 || setup.Value > 127 {
		return fmt.Errorf("set address %d: %w", setup.Value, pkg.ErrInvalidRequest)
	}
	if d.state != StateDefault && d.state != StateAddressed {
		return fmt.Errorf("set address in state %v: %w", d.state, pkg.ErrInvalidState)
	}
	addr := uint8(setup.Value)
	return ctl.AckThen(func() { d.applyAddress(addr) })
}

func (d *Device) getDescriptor(ctl *ControlPipe, setup *SetupPacket) error {
	buf := ctl.Buffer()
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		desc := d.Descriptor
		desc.NumConfigurations = uint8(len(d.configs))
		n := desc.MarshalTo(buf)
		return ctl.Reply(buf[:n])

	case DescriptorTypeConfiguration:
		i := int(setup.DescriptorIndex())
		if i >= len(d.configs) {
			return fmt.Errorf("configuration index %d: %w", i, pkg.ErrInvalidRequest)
		}
		n := d.configs[i].MarshalTo(buf)
		if n == 0 {
			return fmt.Errorf("configuration %d: %w", i, pkg.ErrBufferTooSmall)
		}
		return ctl.Reply(buf[:n])

	case DescriptorTypeString:
		s := d.String(setup.DescriptorIndex())
		if s == nil {
			return fmt.Errorf("string index %d: %w", setup.DescriptorIndex(), pkg.ErrInvalidRequest)
		}
		return ctl.Reply(s)

	case DescriptorTypeDeviceQualifier:
		if d.Qualifier == nil {
			return fmt.Errorf("device qualifier: %w", pkg.ErrNotSupported)
		}
		n := d.Qualifier.MarshalTo(buf)
		return ctl.Reply(buf[:n])
	}
	return fmt.Errorf("descriptor type 0x%02X: %w", setup.DescriptorType(), pkg.ErrNotSupported)
}

func (d *Device) interfaceRequest(ctl *ControlPipe, setup *SetupPacket) error {
	if d.state != StateConfigured || d.active == nil {
		return fmt.Errorf("interface request in state %v: %w", d.state, pkg.ErrInvalidState)
	}
	iface := d.active.Interface(setup.InterfaceNumber())
	if iface == nil {
		return fmt.Errorf("interface %d: %w", setup.InterfaceNumber(), pkg.ErrInvalidRequest)
	}
	return iface.HandleSetup(ctl, setup)
}

// endpointRequest handles GET_STATUS and the HALT feature. Halting
// endpoint 0 is accepted without effect.
func (d *Device) endpointRequest(ctl *ControlPipe, setup *SetupPacket) error {
	addr := setup.EndpointAddress()
	ep := d.Endpoint(addr)
	if ep == nil {
		return fmt.Errorf("endpoint request: %w", pkg.NewEndpointError(addr, pkg.ErrInvalidEndpoint))
	}
	if addr&0x0F != 0 && d.state != StateConfigured {
		return fmt.Errorf("endpoint request in state %v: %w", d.state, pkg.ErrInvalidState)
	}
	in := addr&0x80 != 0

	switch setup.Request {
	case RequestGetStatus:
		var halted bool
		if in {
			halted = ep.TxStatus() == hal.StatusStall
		} else {
			halted = ep.RxStatus() == hal.StatusStall
		}
		var status uint8
		if halted {
			status = 0x01
		}
		return ctl.Reply([]byte{status, 0})

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return fmt.Errorf("endpoint feature %d: %w", setup.Value, pkg.ErrNotSupported)
		}
		if addr&0x0F == 0 {
			return ctl.Ack()
		}
		halt := setup.Request == RequestSetFeature
		switch {
		case in && halt:
			ep.SetTxStatus(hal.StatusStall)
		case in:
			ep.SetTxStatus(hal.StatusNak)
		case halt:
			ep.SetRxStatus(hal.StatusStall)
		default:
			ep.SetRxStatus(hal.StatusValid)
		}
		pkg.LogDebug(pkg.ComponentDevice, "endpoint halt", "endpoint", addr, "halt", halt)
		return ctl.Ack()
	}
	return fmt.Errorf("endpoint request 0x%02X: %w", setup.Request, pkg.ErrNotSupported)
}
