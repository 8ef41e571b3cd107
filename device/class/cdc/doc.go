// Package cdc implements the CDC Abstract Control Model, the USB class of
// virtual serial ports.
//
// An [ACM] is a function of two interfaces: a communications interface
// carrying the class requests and a notification endpoint, and a data
// interface with one bulk endpoint per direction. They are grouped by an
// interface association so composite devices enumerate correctly.
//
//	acm, err := cdc.NewACM(cdc.DefaultConfig)
//	if err != nil {
//	    return err
//	}
//	acm.SetOnReceive(func(p []byte) { acm.Write(p) })
//	b := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1209, 0x0001).
//	    WithClass(device.ClassMisc, 0x02, 0x01).
//	    AddConfiguration(1)
//	dev, err := acm.Attach(b).Build(ctrl)
//
// Line coding and the DTR and RTS lines are stored and reported through
// callbacks; the function does not drive a UART.
package cdc
