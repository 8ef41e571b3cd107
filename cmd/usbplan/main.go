// Command usbplan computes endpoint buffer layouts ahead of time.
//
// It reads declaration files (JSON or CBOR) listing a device's endpoints
// and the backend they target, runs the same planner the device runs at
// startup, and prints, encodes or generates Go source for the result.
//
//	usbplan plan serial.json keyboard.json
//	usbplan image -o serial.plan serial.json
//	usbplan image --check serial.plan serial.json
//	usbplan gen -p board -o plan_gen.go serial.json
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "usbplan:", err)
		os.Exit(1)
	}
}
