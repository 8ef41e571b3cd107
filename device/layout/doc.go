// Package layout plans how a fixed endpoint set is placed in a USB
// peripheral's transfer memory.
//
// Two planners cover the two backend families:
//
//   - [PlanBDT] assigns endpoint register slots and byte offsets in packet
//     memory for buffer descriptor table peripherals. Each slot owns an
//     8-byte descriptor at the base of packet memory. Two endpoint halves
//     share a slot only when they have the same number and type and
//     neither is exclusive (control, double-buffered, bidirectional).
//   - [PlanFIFO] sizes the shared receive FIFO and one transmit FIFO per
//     IN endpoint, laid out contiguously in FIFO RAM.
//
// Planning runs once, before the device is built, and every failure is a
// configuration error. The result is cached in a plan value holding an
// entry arena and a fixed [16][2] index by endpoint number and half.
//
// A plan can be recorded as an [Image] (CBOR plus a CRC-8) and endpoint
// sets can be read from JSON or CBOR declaration files; the usbplan
// command uses both to check layouts on the host and to generate Go
// source for firmware.
package layout
