package hid

import (
	"fmt"

	"github.com/ardnew/mcusb/device"
	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// MaxReportSize is the largest input report SendReport queues.
const MaxReportSize = 64

// Config places a HID function.
type Config struct {
	Interface   uint8
	SubClass    uint8
	Protocol    uint8
	CountryCode uint8
	In          hal.EndpointConfig  // Interrupt IN, required
	Out         *hal.EndpointConfig // Interrupt OUT, optional
}

// KeyboardConfig is a boot keyboard on interface 0 reporting through
// interrupt IN endpoint 1.
var KeyboardConfig = Config{
	SubClass: SubclassBoot,
	Protocol: ProtocolKeyboard,
	In:       hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 8, Interval: 10},
}

// MouseConfig is a boot mouse on interface 0 reporting through interrupt
// IN endpoint 1.
var MouseConfig = Config{
	SubClass: SubclassBoot,
	Protocol: ProtocolMouse,
	In:       hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 4, Interval: 10},
}

// GetReportFunc fills buf with the current report of the given type and
// ID and returns its length. A negative length stalls the request.
type GetReportFunc func(reportType, reportID uint8, buf []byte) int

// HID is a Human Interface Device function on a single interface.
type HID struct {
	cfg    Config
	iface  *device.Interface
	desc   Descriptor
	report []byte

	protocol uint8
	idle     [256]uint8 // Duration per report ID, 4 ms units

	onGetReport GetReportFunc
	onSetReport func(reportType, reportID uint8, data []byte)
	onProtocol  func(protocol uint8)
	onSendDone  func()

	setReportType uint8
	setReportID   uint8

	sendBusy bool
	sendBuf  [MaxReportSize]byte
}

// New builds the interface of a HID function describing its reports with
// reportDescriptor.
func New(cfg Config, reportDescriptor []byte) (*HID, error) {
	if cfg.In.Direction != hal.DirIn || cfg.In.Type != hal.TypeInterrupt {
		return nil, fmt.Errorf("HID input endpoint %v: %w", cfg.In, pkg.ErrInvalidParameter)
	}
	if cfg.Out != nil && (cfg.Out.Direction != hal.DirOut || cfg.Out.Type != hal.TypeInterrupt) {
		return nil, fmt.Errorf("HID output endpoint %v: %w", *cfg.Out, pkg.ErrInvalidParameter)
	}
	if len(reportDescriptor) == 0 || len(reportDescriptor) > device.MaxControlDataSize {
		return nil, fmt.Errorf("report descriptor of %d bytes: %w", len(reportDescriptor), pkg.ErrInvalidParameter)
	}
	h := &HID{
		cfg:      cfg,
		report:   reportDescriptor,
		protocol: ProtocolReport,
		desc: Descriptor{
			Version:          0x0111,
			CountryCode:      cfg.CountryCode,
			ReportDescLength: uint16(len(reportDescriptor)),
		},
	}
	h.iface = device.NewInterface(cfg.Interface, device.ClassHID, cfg.SubClass, cfg.Protocol)
	h.iface.AddFunctional(h.desc.Functional())
	if err := h.iface.AddEndpoint(cfg.In); err != nil {
		return nil, err
	}
	if cfg.Out != nil {
		if err := h.iface.AddEndpoint(*cfg.Out); err != nil {
			return nil, err
		}
	}
	h.iface.SetClassDriver(h)
	return h, nil
}

// Interface returns the HID interface.
func (h *HID) Interface() *device.Interface { return h.iface }

// Attach adds the interface to the builder's current configuration.
func (h *HID) Attach(b *device.DeviceBuilder) *device.DeviceBuilder {
	return b.Attach(h.iface)
}

// SetOnGetReport sets the callback answering GET_REPORT. Without one the
// request stalls.
func (h *HID) SetOnGetReport(fn GetReportFunc) { h.onGetReport = fn }

// SetOnSetReport sets the callback receiving output and feature reports,
// from SET_REPORT or the interrupt OUT endpoint. The slice is only valid
// during the call.
func (h *HID) SetOnSetReport(fn func(reportType, reportID uint8, data []byte)) {
	h.onSetReport = fn
}

// SetOnProtocol sets the callback run after SET_PROTOCOL.
func (h *HID) SetOnProtocol(fn func(protocol uint8)) { h.onProtocol = fn }

// SetOnSendDone sets the callback run when a SendReport has been sent.
func (h *HID) SetOnSendDone(fn func()) { h.onSendDone = fn }

// Protocol returns ProtocolBoot or ProtocolReport.
func (h *HID) Protocol() uint8 { return h.protocol }

// Idle returns the idle rate of reportID in 4 ms units. Zero means
// reports are sent only on change.
func (h *HID) Idle(reportID uint8) uint8 { return h.idle[reportID] }

// HandleSetup answers the standard descriptor requests of the interface
// and the HID class requests.
func (h *HID) HandleSetup(iface *device.Interface, ctl *device.ControlPipe, setup *device.SetupPacket) error {
	if setup.IsStandard() {
		if setup.Request != device.RequestGetDescriptor {
			return pkg.ErrNotSupported
		}
		switch setup.DescriptorType() {
		case DescriptorTypeHID:
			buf := ctl.Buffer()
			return ctl.Reply(buf[:h.desc.MarshalTo(buf)])
		case DescriptorTypeReport:
			return ctl.Reply(h.report)
		}
		return fmt.Errorf("HID descriptor 0x%02X: %w", setup.DescriptorType(), pkg.ErrNotSupported)
	}
	if !setup.IsClass() {
		return pkg.ErrNotSupported
	}

	reportType, reportID := uint8(setup.Value>>8), uint8(setup.Value)
	switch setup.Request {
	case RequestGetReport:
		if h.onGetReport == nil {
			return fmt.Errorf("GET_REPORT: %w", pkg.ErrStall)
		}
		buf := ctl.Buffer()
		n := h.onGetReport(reportType, reportID, buf)
		if n < 0 {
			return fmt.Errorf("GET_REPORT type %d id %d: %w", reportType, reportID, pkg.ErrStall)
		}
		return ctl.Reply(buf[:min(n, len(buf))])

	case RequestSetReport:
		if reportType != ReportTypeOutput && reportType != ReportTypeFeature {
			return fmt.Errorf("SET_REPORT type %d: %w", reportType, pkg.ErrInvalidRequest)
		}
		h.setReportType, h.setReportID = reportType, reportID
		return ctl.Receive(h.setReport)

	case RequestGetIdle:
		return ctl.Reply([]byte{h.idle[reportID]})

	case RequestSetIdle:
		rate := uint8(setup.Value >> 8)
		if reportID == 0 {
			for i := range h.idle {
				h.idle[i] = rate
			}
		} else {
			h.idle[reportID] = rate
		}
		pkg.LogDebug(pkg.ComponentClass, "idle rate", "id", reportID, "rate", rate)
		return ctl.Ack()

	case RequestGetProtocol:
		return ctl.Reply([]byte{h.protocol})

	case RequestSetProtocol:
		p := uint8(setup.Value)
		if p != ProtocolBoot && p != ProtocolReport {
			return fmt.Errorf("protocol %d: %w", p, pkg.ErrInvalidRequest)
		}
		if h.cfg.SubClass != SubclassBoot && p == ProtocolBoot {
			return fmt.Errorf("boot protocol on non-boot interface: %w", pkg.ErrNotSupported)
		}
		h.protocol = p
		pkg.LogDebug(pkg.ComponentClass, "protocol", "value", p)
		if h.onProtocol != nil {
			h.onProtocol(p)
		}
		return ctl.Ack()
	}
	return fmt.Errorf("HID request 0x%02X: %w", setup.Request, pkg.ErrNotSupported)
}

func (h *HID) setReport(data []byte) error {
	if h.onSetReport != nil {
		h.onSetReport(h.setReportType, h.setReportID, data)
	}
	return nil
}

// Reset is run when the configuration holding the function is selected.
func (h *HID) Reset(*device.Interface) {
	h.sendBusy = false
	h.protocol = ProtocolReport
	h.idle = [256]uint8{}
	if h.cfg.Out != nil {
		if ep := h.iface.Endpoint(h.cfg.Out.Number, hal.DirOut); ep != nil {
			ep.OnReceive(h.receive)
		}
	}
}

func (h *HID) receive(data []byte, _ bool) {
	if h.onSetReport != nil {
		h.onSetReport(ReportTypeOutput, 0, data)
	}
}

// SendReport copies an input report and queues it on the interrupt IN
// endpoint.
func (h *HID) SendReport(report []byte) error {
	dev := h.iface.Device()
	if dev == nil || dev.State() != device.StateConfigured || dev.ActiveConfiguration().Interface(h.iface.Number) != h.iface {
		return fmt.Errorf("HID report: %w", pkg.ErrInvalidState)
	}
	if len(report) > MaxReportSize {
		return fmt.Errorf("HID report of %d bytes: %w", len(report), pkg.ErrBufferTooSmall)
	}
	if h.sendBusy {
		return fmt.Errorf("HID report: %w", pkg.ErrBusy)
	}
	n := copy(h.sendBuf[:], report)
	h.sendBusy = true
	// A report ends with its last packet; the host knows its length.
	h.iface.Endpoint(h.cfg.In.Number, hal.DirIn).SendDataZLP(h.sendBuf[:n], false, h.sendDone)
	return nil
}

func (h *HID) sendDone() {
	h.sendBusy = false
	if h.onSendDone != nil {
		h.onSendDone()
	}
}

// SendBusy reports whether a report is still being sent.
func (h *HID) SendBusy() bool { return h.sendBusy }

// SendKeyboard sends a boot keyboard report.
func (h *HID) SendKeyboard(r *KeyboardReport) error {
	var buf [KeyboardReportSize]byte
	return h.SendReport(buf[:r.MarshalTo(buf[:])])
}

// SendMouse sends a mouse report.
func (h *HID) SendMouse(r *MouseReport) error {
	var buf [MouseReportSize]byte
	return h.SendReport(buf[:r.MarshalTo(buf[:])])
}

var (
	_ device.ClassDriver = (*HID)(nil)
	_ device.Resetter    = (*HID)(nil)
)
