package device

import (
	"fmt"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// Configuration groups interfaces behind one configuration descriptor.
type Configuration struct {
	Value       uint8 // bConfigurationValue, nonzero
	Attributes  uint8 // Self-powered and remote-wakeup bits
	MaxPower    uint8 // 2 mA units
	StringIndex uint8

	interfaces   []*Interface
	associations []InterfaceAssociationDescriptor
	lookup       [MaxInterfacesPerConfiguration]*Interface
}

// NewConfiguration returns a bus-powered configuration drawing 100 mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{Value: value, MaxPower: 50}
}

// AddInterface appends iface. Interface numbers must be unique and below
// [MaxInterfacesPerConfiguration].
func (c *Configuration) AddInterface(iface *Interface) error {
	if int(iface.Number) >= MaxInterfacesPerConfiguration {
		return fmt.Errorf("configuration %d interface %d: %w", c.Value, iface.Number, pkg.ErrInvalidParameter)
	}
	if c.lookup[iface.Number] != nil {
		return fmt.Errorf("configuration %d interface %d declared twice: %w", c.Value, iface.Number, pkg.ErrInvalidParameter)
	}
	c.lookup[iface.Number] = iface
	c.interfaces = append(c.interfaces, iface)
	pkg.LogDebug(pkg.ComponentDevice, "interface added to configuration", "config", c.Value, "interface", iface.Number)
	return nil
}

// AddAssociation appends an interface association descriptor, emitted
// just before the interface it names first.
func (c *Configuration) AddAssociation(iad InterfaceAssociationDescriptor) {
	c.associations = append(c.associations, iad)
}

// Interface returns the interface numbered n, or nil.
func (c *Configuration) Interface(n uint8) *Interface {
	if int(n) >= MaxInterfacesPerConfiguration {
		return nil
	}
	return c.lookup[n]
}

// Interfaces returns every interface in declaration order. Do not modify.
func (c *Configuration) Interfaces() []*Interface { return c.interfaces }

// Endpoints returns every endpoint declared by the interfaces.
func (c *Configuration) Endpoints() []hal.EndpointConfig {
	var out []hal.EndpointConfig
	for _, iface := range c.interfaces {
		out = append(out, iface.endpoints...)
	}
	return out
}

// TotalLength returns the configuration header plus every nested
// descriptor, in bytes.
func (c *Configuration) TotalLength() int {
	n := ConfigurationDescriptorSize + len(c.associations)*IADSize
	for _, iface := range c.interfaces {
		n += iface.DescriptorSize()
	}
	return n
}

// Descriptor returns the configuration header.
func (c *Configuration) Descriptor() ConfigurationDescriptor {
	return ConfigurationDescriptor{
		TotalLength:        uint16(c.TotalLength()),
		NumInterfaces:      uint8(len(c.interfaces)),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the full configuration descriptor set to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	if len(buf) < c.TotalLength() {
		return 0
	}
	desc := c.Descriptor()
	off := desc.MarshalTo(buf)
	emitted := make([]bool, len(c.associations))
	for _, iface := range c.interfaces {
		for k := range c.associations {
			if !emitted[k] && c.associations[k].FirstInterface == iface.Number {
				emitted[k] = true
				off += c.associations[k].MarshalTo(buf[off:])
			}
		}
		off += iface.MarshalTo(buf[off:])
	}
	// Associations naming no declared interface trail the set.
	for k := range c.associations {
		if !emitted[k] {
			off += c.associations[k].MarshalTo(buf[off:])
		}
	}
	return off
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(on bool) { c.setAttr(ConfigAttrSelfPowered, on) }

// SetRemoteWakeup sets or clears the remote-wakeup attribute.
func (c *Configuration) SetRemoteWakeup(on bool) { c.setAttr(ConfigAttrRemoteWakeup, on) }

// IsSelfPowered reports the self-powered attribute.
func (c *Configuration) IsSelfPowered() bool { return c.Attributes&ConfigAttrSelfPowered != 0 }

// SupportsRemoteWakeup reports the remote-wakeup attribute.
func (c *Configuration) SupportsRemoteWakeup() bool {
	return c.Attributes&ConfigAttrRemoteWakeup != 0
}

func (c *Configuration) setAttr(bit uint8, on bool) {
	if on {
		c.Attributes |= bit
	} else {
		c.Attributes &^= bit
	}
}

// reset restores alternate setting 0 and resets every interface.
func (c *Configuration) reset() {
	for _, iface := range c.interfaces {
		iface.AlternateSetting = 0
		iface.Reset()
	}
}

func (c *Configuration) disable() {
	for _, iface := range c.interfaces {
		iface.disable()
	}
}
