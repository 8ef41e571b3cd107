// Package hal defines the contract between the device stack and a USB
// peripheral backend.
//
// An endpoint set is declared once as a slice of [EndpointConfig]. A
// [Controller] plans its hardware buffer layout from that set in
// [Controller.Configure], then realizes each declaration as an [Endpoint].
// Two backends implement the contract:
//
//   - [github.com/ardnew/mcusb/device/hal/pma]: a buffer descriptor table
//     in shared packet memory, endpoint register slots with toggle bits
//   - [github.com/ardnew/mcusb/device/hal/otg]: a shared receive FIFO and
//     one transmit FIFO per IN endpoint
//
// # Endpoint kinds
//
// Behavior that depends on the declared type and direction is looked up
// in one table, [KindOf]:
//
//	Type                   Direction      Exclusive  Buffers
//	control variants       any            yes        2
//	bulk-double-buffered   out or in      yes        2
//	any                    bidirectional  yes        2
//	bulk/interrupt/iso     out or in      no         1
//
// An exclusive endpoint never shares its register slot with another
// address half.
//
// # Transfer state
//
// Transfer progress lives in a [Table] of [TransferContext] values indexed
// by endpoint number and half, owned by the controller. Tests inspect it
// directly through [Controller.Transfers].
//
// # Interrupt model
//
// The stack is single threaded. [Controller.Poll] is called from the
// interrupt handler (or a polling loop) and decodes hardware flags into
// [Event] values; every callback runs synchronously inside it.
package hal
