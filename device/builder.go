package device

import (
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// DeviceBuilder provides a fluent API for building devices. The first
// error recorded by any step is returned by Build.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	errors []error
}

// NewDeviceBuilder creates a builder for a USB 2.0 device with a 64 byte
// control endpoint.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{device: &Device{
		Descriptor: DeviceDescriptor{
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		},
	}}
}

// WithDescriptor replaces the device descriptor.
// bNumConfigurations is derived from the configurations added.
func (b *DeviceBuilder) WithDescriptor(desc DeviceDescriptor) *DeviceBuilder {
	b.device.Descriptor = desc
	return b
}

// WithVendorProduct sets vendor and product IDs.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithMaxPacketSize0 sets the control endpoint packet size.
func (b *DeviceBuilder) WithMaxPacketSize0(mps uint8) *DeviceBuilder {
	switch mps {
	case 8, 16, 32, 64:
		b.device.Descriptor.MaxPacketSize0 = mps
	default:
		b.fail(fmt.Errorf("control packet size %d: %w", mps, pkg.ErrMaxPacketSize))
	}
	return b
}

// WithClass sets the device class triple.
func (b *DeviceBuilder) WithClass(class, subClass, protocol uint8) *DeviceBuilder {
	b.device.Descriptor.DeviceClass = class
	b.device.Descriptor.DeviceSubClass = subClass
	b.device.Descriptor.DeviceProtocol = protocol
	return b
}

// WithStrings sets the manufacturer, product, and serial strings at
// indices 1 to 3. Empty strings are omitted.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	for i, s := range []string{manufacturer, product, serial} {
		if s == "" {
			continue
		}
		idx := uint8(i + 1)
		if err := b.device.SetString(idx, s); err != nil {
			b.fail(err)
			continue
		}
		switch idx {
		case 1:
			b.device.Descriptor.ManufacturerIndex = idx
		case 2:
			b.device.Descriptor.ProductIndex = idx
		case 3:
			b.device.Descriptor.SerialNumberIndex = idx
		}
	}
	return b
}

// WithString sets an additional string descriptor.
func (b *DeviceBuilder) WithString(index uint8, s string) *DeviceBuilder {
	if err := b.device.SetString(index, s); err != nil {
		b.fail(err)
	}
	return b
}

// WithQualifier enables GET_DESCRIPTOR(Device Qualifier).
func (b *DeviceBuilder) WithQualifier(q QualifierDescriptor) *DeviceBuilder {
	b.device.Qualifier = &q
	return b
}

// AddConfiguration starts a new configuration.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if value == 0 || b.device.Configuration(value) != nil {
		b.fail(fmt.Errorf("configuration value %d: %w", value, pkg.ErrInvalidParameter))
		return b
	}
	if len(b.device.configs) >= MaxConfigurations {
		b.fail(fmt.Errorf("configuration %d: %w", value, pkg.ErrBufferTooSmall))
		return b
	}
	b.config = NewConfiguration(value)
	b.iface = nil
	b.device.configs = append(b.device.configs, b.config)
	return b
}

// SelfPowered marks the current configuration self-powered.
func (b *DeviceBuilder) SelfPowered() *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.config.SetSelfPowered(true)
	return b
}

// RemoteWakeup marks the current configuration as supporting remote
// wakeup.
func (b *DeviceBuilder) RemoteWakeup() *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.config.SetRemoteWakeup(true)
	return b
}

// MaxPower sets the current configuration's bMaxPower in 2 mA units.
func (b *DeviceBuilder) MaxPower(units uint8) *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.config.MaxPower = units
	return b
}

// AddInterface adds the next interface to the current configuration.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	iface := NewInterface(uint8(len(b.config.interfaces)), class, subClass, protocol)
	if err := b.config.AddInterface(iface); err != nil {
		b.fail(err)
		return b
	}
	b.iface = iface
	return b
}

// Attach adds prebuilt interfaces, such as those of a class function, to
// the current configuration.
func (b *DeviceBuilder) Attach(ifaces ...*Interface) *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	for _, iface := range ifaces {
		if err := b.config.AddInterface(iface); err != nil {
			b.fail(err)
			return b
		}
		b.iface = iface
	}
	return b
}

// AddAssociation adds an interface association descriptor to the current
// configuration.
func (b *DeviceBuilder) AddAssociation(iad InterfaceAssociationDescriptor) *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.config.AddAssociation(iad)
	return b
}

// AddEndpoint declares an endpoint on the current interface.
func (b *DeviceBuilder) AddEndpoint(cfg hal.EndpointConfig) *DeviceBuilder {
	if b.iface == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	if err := b.iface.AddEndpoint(cfg); err != nil {
		b.fail(err)
	}
	return b
}

// WithClassDriver sets the class driver of the current interface.
func (b *DeviceBuilder) WithClassDriver(d ClassDriver) *DeviceBuilder {
	if b.iface == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.iface.SetClassDriver(d)
	return b
}

// Build configures ctrl for every declared endpoint and returns the
// device, Detached until Start.
func (b *DeviceBuilder) Build(ctrl hal.Controller) (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.device.configs) == 0 {
		return nil, fmt.Errorf("device without configuration: %w", pkg.ErrInvalidState)
	}
	d := b.device
	d.Descriptor.NumConfigurations = uint8(len(d.configs))
	if err := d.bind(ctrl); err != nil {
		return nil, err
	}
	d.state = StateDetached
	return d, nil
}

func (b *DeviceBuilder) fail(err error) {
	b.errors = append(b.errors, err)
}
