// Package usbid resolves vendor and product IDs against the usb.ids
// database shipped with usbutils and hwdata.
//
//	db, err := usbid.Open(usbid.DefaultPaths...)
//	if err == nil {
//		fmt.Println(db.Describe(0x1209, 0x0001))
//	}
//
// A Database is read-only once parsed and safe for concurrent lookups.
package usbid
