// Package otg is the FIFO backend: a full-speed OTG-style device core with
// one shared receive FIFO and one transmit FIFO per IN endpoint number.
//
// FIFO RAM is split by [layout.PlanFIFO]. Received packets are announced
// by status entries popped from the receive FIFO; their bytes are read
// through the endpoint 0 FIFO window and accumulated per endpoint until
// the core raises transfer complete. Transmit packets are pushed a word at
// a time through the endpoint's own window after the transfer size
// register is programmed.
//
// Endpoint handshakes map to direct control bits: STALL, set and clear
// NAK, and endpoint enable. [Sim] models the core for tests and plays the
// host through [haltest.Host].
package otg
