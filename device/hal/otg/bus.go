package otg

// Bus is 32-bit access to the core's registers and FIFO windows, by
// offset from the core base.
type Bus interface {
	Read(off uint32) uint32
	Write(off uint32, v uint32)
}
