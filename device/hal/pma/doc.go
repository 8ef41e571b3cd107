// Package pma is the buffer descriptor table backend: a full-speed device
// peripheral with up to eight endpoint registers and a small packet memory
// shared with software.
//
// Packet memory begins with the buffer descriptor table, one 8-byte entry
// per endpoint register slot holding the transmit address and count and
// the receive address and count. Endpoint buffers follow, placed by
// [layout.PlanBDT]. Some parts reach packet memory as 16-bit words on a
// 32-bit stride; set [Options.AddressDoubling] for those.
//
// Endpoint register status and data toggle fields are toggle-on-write and
// the transfer-complete flags are clear-on-write-zero, so every register
// update reads, masks, and writes back the difference.
//
// [Sim] models the peripheral for tests and plays the host through
// [haltest.Host].
package pma
