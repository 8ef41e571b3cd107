//go:build tinygo

package otg

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO is a Bus over the memory-mapped core.
type MMIO uintptr

func (m MMIO) reg(off uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(m) + uintptr(off)))
}

func (m MMIO) Read(off uint32) uint32     { return m.reg(off).Get() }
func (m MMIO) Write(off uint32, v uint32) { m.reg(off).Set(v) }
