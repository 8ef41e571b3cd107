//go:build tinygo

package pma

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO is a Bus over memory-mapped hardware.
type MMIO struct {
	Regs uintptr // Register base
	PMA  uintptr // Packet memory base
}

func (m MMIO) reg(off uint32) *volatile.Register16 {
	return (*volatile.Register16)(unsafe.Pointer(m.Regs + uintptr(off)))
}

func (m MMIO) mem(off uint32) *volatile.Register16 {
	return (*volatile.Register16)(unsafe.Pointer(m.PMA + uintptr(off)))
}

func (m MMIO) ReadReg(off uint32) uint16     { return m.reg(off).Get() }
func (m MMIO) WriteReg(off uint32, v uint16) { m.reg(off).Set(v) }
func (m MMIO) ReadPMA(off uint32) uint16     { return m.mem(off).Get() }
func (m MMIO) WritePMA(off uint32, v uint16) { m.mem(off).Set(v) }
