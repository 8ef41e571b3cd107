package pma

// Bus is raw access to the peripheral: 16-bit registers at offsets from
// the register base, and 16-bit packet memory words at physical byte
// offsets from the packet memory base.
type Bus interface {
	ReadReg(off uint32) uint16
	WriteReg(off uint32, v uint16)
	ReadPMA(off uint32) uint16
	WritePMA(off uint32, v uint16)
}
