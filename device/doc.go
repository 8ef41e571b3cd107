// Package device implements the device side of a USB Full-Speed stack on
// top of a [hal.Controller].
//
// A [Device] is assembled with [DeviceBuilder]: configurations hold
// [Interface] values, interfaces declare their endpoints as
// [hal.EndpointConfig] values and may carry a [ClassDriver]. Build hands
// the union of every declaration, plus endpoint 0, to the controller,
// which plans its buffer memory once.
//
// # Enumeration
//
// The device moves through
//
//	Detached → Default → Addressed → Configured
//
// A bus reset returns it to Default from any state, drops every pending
// transfer and disables all endpoints but endpoint 0. SET_ADDRESS takes
// effect only after the host acknowledges its status stage.
//
// # Control Transfers
//
// Standard requests are answered by the device. Requests addressed to an
// interface go to its class driver first; a driver answers through the
// [ControlPipe] exactly once, with Reply, Receive, Ack or an error, which
// stalls the pipe until the next SETUP.
//
// # Concurrency
//
// Nothing in this package locks. Firmware calls [Device.Poll] from the
// peripheral's interrupt handler and must not call into the device from
// another context at the same time.
//
// # Example
//
//	ctrl := pma.New(pma.MMIO{Regs: 0x40005C00, PMA: 0x40006000}, pma.DefaultOptions)
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1209, 0x0001).
//	    WithStrings("Acme", "Widget", "0001").
//	    AddConfiguration(1).
//	    Attach(serial.Interfaces()...).
//	    Build(ctrl)
//	if err != nil {
//	    return err
//	}
//	return dev.Start()
package device
