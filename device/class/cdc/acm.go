package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/mcusb/device"
	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// MaxTxBufferSize is the most bytes one Write queues.
const MaxTxBufferSize = 256

// Config places an ACM function: its two interface numbers and its three
// endpoints.
type Config struct {
	CommInterface uint8 // The data interface is CommInterface+1
	Notify        hal.EndpointConfig
	DataOut       hal.EndpointConfig
	DataIn        hal.EndpointConfig
}

// DefaultConfig uses interfaces 0 and 1, bulk endpoint 1 in both
// directions and interrupt IN endpoint 2.
var DefaultConfig = Config{
	CommInterface: 0,
	Notify:        hal.EndpointConfig{Number: 2, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 16, Interval: 16},
	DataOut:       hal.EndpointConfig{Number: 1, Direction: hal.DirOut, Type: hal.TypeBulk, MaxPacketSize: 64},
	DataIn:        hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64},
}

// ACM is a CDC Abstract Control Model function: a virtual serial port
// made of a communications interface and a data interface.
type ACM struct {
	cfg  Config
	comm *device.Interface
	data *device.Interface

	lineCoding   LineCoding
	controlState uint16
	serialState  uint16

	onLineCoding   func(LineCoding)
	onControlState func(dtr, rts bool)
	onBreak        func(millis uint16)
	onReceive      func(data []byte)
	onWriteDone    func()

	txBusy     bool
	notifyBusy bool
	txBuf      [MaxTxBufferSize]byte
	notifyBuf  [10]byte
}

// NewACM builds the two interfaces of an ACM function.
func NewACM(cfg Config) (*ACM, error) {
	if cfg.Notify.Direction != hal.DirIn || cfg.Notify.Type != hal.TypeInterrupt {
		return nil, fmt.Errorf("notification endpoint %v: %w", cfg.Notify, pkg.ErrInvalidParameter)
	}
	a := &ACM{cfg: cfg, lineCoding: DefaultLineCoding}

	dataNum := cfg.CommInterface + 1
	a.comm = device.NewInterface(cfg.CommInterface, device.ClassCDC, SubclassACM, ProtocolAT)
	a.comm.AddFunctional(HeaderFunctional(0x0110))
	a.comm.AddFunctional(CallManagementFunctional(0, dataNum))
	a.comm.AddFunctional(ACMFunctional(ACMCapLineCoding | ACMCapSendBreak))
	a.comm.AddFunctional(UnionFunctional(cfg.CommInterface, dataNum))
	if err := a.comm.AddEndpoint(cfg.Notify); err != nil {
		return nil, err
	}
	a.comm.SetClassDriver(a)

	a.data = device.NewInterface(dataNum, device.ClassCDCData, 0, 0)
	for _, ep := range []hal.EndpointConfig{cfg.DataOut, cfg.DataIn} {
		if err := a.data.AddEndpoint(ep); err != nil {
			return nil, err
		}
	}
	a.data.SetClassDriver(a)
	return a, nil
}

// Interfaces returns the communications and data interfaces.
func (a *ACM) Interfaces() []*device.Interface {
	return []*device.Interface{a.comm, a.data}
}

// Association returns the interface association grouping both interfaces.
func (a *ACM) Association() device.InterfaceAssociationDescriptor {
	return device.InterfaceAssociationDescriptor{
		FirstInterface:   a.cfg.CommInterface,
		InterfaceCount:   2,
		FunctionClass:    device.ClassCDC,
		FunctionSubClass: SubclassACM,
		FunctionProtocol: ProtocolAT,
	}
}

// Attach adds the association and both interfaces to the builder's
// current configuration.
func (a *ACM) Attach(b *device.DeviceBuilder) *device.DeviceBuilder {
	return b.AddAssociation(a.Association()).Attach(a.Interfaces()...)
}

// SetOnLineCoding sets the callback run after SET_LINE_CODING.
func (a *ACM) SetOnLineCoding(fn func(LineCoding)) { a.onLineCoding = fn }

// SetOnControlState sets the callback run after SET_CONTROL_LINE_STATE.
func (a *ACM) SetOnControlState(fn func(dtr, rts bool)) { a.onControlState = fn }

// SetOnBreak sets the callback run after SEND_BREAK.
func (a *ACM) SetOnBreak(fn func(millis uint16)) { a.onBreak = fn }

// SetOnReceive sets the callback receiving data OUT packets. The slice is
// only valid during the call.
func (a *ACM) SetOnReceive(fn func(data []byte)) { a.onReceive = fn }

// SetOnWriteDone sets the callback run when a Write has been sent.
func (a *ACM) SetOnWriteDone(fn func()) { a.onWriteDone = fn }

// LineCoding returns the line coding last set by the host.
func (a *ACM) LineCoding() LineCoding { return a.lineCoding }

// DTR reports the Data Terminal Ready line.
func (a *ACM) DTR() bool { return a.controlState&ControlLineDTR != 0 }

// RTS reports the Request To Send line.
func (a *ACM) RTS() bool { return a.controlState&ControlLineRTS != 0 }

// HandleSetup answers the ACM class requests addressed to the
// communications interface.
func (a *ACM) HandleSetup(iface *device.Interface, ctl *device.ControlPipe, setup *device.SetupPacket) error {
	if iface != a.comm || !setup.IsClass() {
		return pkg.ErrNotSupported
	}
	switch setup.Request {
	case RequestSetLineCoding:
		return ctl.Receive(a.setLineCoding)

	case RequestGetLineCoding:
		var buf [LineCodingSize]byte
		n := a.lineCoding.MarshalTo(buf[:])
		return ctl.Reply(buf[:n])

	case RequestSetControlLineState:
		a.controlState = setup.Value
		pkg.LogDebug(pkg.ComponentClass, "control line state", "dtr", a.DTR(), "rts", a.RTS())
		if a.onControlState != nil {
			a.onControlState(a.DTR(), a.RTS())
		}
		return ctl.Ack()

	case RequestSendBreak:
		pkg.LogDebug(pkg.ComponentClass, "break", "millis", setup.Value)
		if a.onBreak != nil {
			a.onBreak(setup.Value)
		}
		return ctl.Ack()
	}
	return fmt.Errorf("ACM request 0x%02X: %w", setup.Request, pkg.ErrNotSupported)
}

func (a *ACM) setLineCoding(data []byte) error {
	var lc LineCoding
	if err := ParseLineCoding(data, &lc); err != nil {
		return err
	}
	a.lineCoding = lc
	pkg.LogDebug(pkg.ComponentClass, "line coding",
		"baud", lc.BaudRate,
		"dataBits", lc.DataBits,
		"parity", lc.ParityType,
		"stopBits", lc.CharFormat)
	if a.onLineCoding != nil {
		a.onLineCoding(lc)
	}
	return nil
}

// Reset is run when the configuration holding the function is selected.
// It installs the data OUT handler and drops any pending write state.
func (a *ACM) Reset(iface *device.Interface) {
	switch iface {
	case a.comm:
		a.controlState = 0
		a.notifyBusy = false
	case a.data:
		a.txBusy = false
		if ep := a.data.Endpoint(a.cfg.DataOut.Number, hal.DirOut); ep != nil {
			ep.OnReceive(a.receive)
		}
	}
}

func (a *ACM) receive(data []byte, _ bool) {
	if a.onReceive != nil {
		a.onReceive(data)
	}
}

func (a *ACM) ready() bool {
	dev := a.data.Device()
	return dev != nil && dev.State() == device.StateConfigured && dev.ActiveConfiguration().Interface(a.data.Number) == a.data
}

// Write copies up to MaxTxBufferSize bytes of p and queues them on the
// data IN endpoint. It returns the number of bytes queued.
func (a *ACM) Write(p []byte) (int, error) {
	if !a.ready() {
		return 0, fmt.Errorf("ACM write: %w", pkg.ErrInvalidState)
	}
	if a.txBusy {
		return 0, fmt.Errorf("ACM write: %w", pkg.ErrBusy)
	}
	ep := a.data.Endpoint(a.cfg.DataIn.Number, hal.DirIn)
	n := copy(a.txBuf[:], p)
	a.txBusy = true
	ep.SendData(a.txBuf[:n], a.writeDone)
	return n, nil
}

func (a *ACM) writeDone() {
	a.txBusy = false
	if a.onWriteDone != nil {
		a.onWriteDone()
	}
}

// WriteBusy reports whether a Write is still being sent.
func (a *ACM) WriteBusy() bool { return a.txBusy }

// SendSerialState sends a SERIAL_STATE notification on the interrupt
// endpoint.
func (a *ACM) SendSerialState(state uint16) error {
	if !a.ready() {
		return fmt.Errorf("serial state: %w", pkg.ErrInvalidState)
	}
	if a.notifyBusy {
		return fmt.Errorf("serial state: %w", pkg.ErrBusy)
	}
	a.serialState = state
	buf := a.notifyBuf[:]
	buf[0] = device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface
	buf[1] = NotificationSerialState
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(a.cfg.CommInterface))
	binary.LittleEndian.PutUint16(buf[6:8], 2)
	binary.LittleEndian.PutUint16(buf[8:10], state)

	a.notifyBusy = true
	ep := a.comm.Endpoint(a.cfg.Notify.Number, hal.DirIn)
	ep.SendData(buf, func() { a.notifyBusy = false })
	return nil
}

// SerialState returns the state last sent.
func (a *ACM) SerialState() uint16 { return a.serialState }

var (
	_ device.ClassDriver = (*ACM)(nil)
	_ device.Resetter    = (*ACM)(nil)
)
