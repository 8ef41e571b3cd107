// Package hid implements the USB Human Interface Device class.
//
// A HID function is one interface with an interrupt IN endpoint for input
// reports and an optional interrupt OUT endpoint for output reports. The
// class descriptor is placed in the configuration descriptor ahead of the
// endpoints, and the report descriptor is served by GET_DESCRIPTOR on the
// interface.
//
//	kbd, err := hid.New(hid.KeyboardConfig, hid.KeyboardReportDescriptor)
//	if err != nil {
//		return err
//	}
//	kbd.SetOnSetReport(func(typ, id uint8, data []byte) {
//		if len(data) > 0 {
//			setLEDs(data[0])
//		}
//	})
//	dev, err := kbd.Attach(device.NewDeviceBuilder().
//		WithVendorProduct(0x1209, 0x0002).
//		AddConfiguration(1)).
//		Build(ctrl)
//
// Once the host selects the configuration, SendKeyboard, SendMouse or
// SendReport queue an input report. Only one report is in flight at a
// time; a second call returns pkg.ErrBusy until the host has read the
// first.
package hid
