package layout

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"text/tabwriter"

	"github.com/ardnew/mcusb/device/hal"
)

// WriteTable prints the plan as an aligned table.
func (img *Image) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch img.Backend {
	case BackendOTG:
		fmt.Fprintf(tw, "rx fifo\t0\t%d words\n", img.RxWords)
		fmt.Fprintln(tw, "EP\tDIR\tTYPE\tMPS\tFIFO\tOFFSET\tWORDS")
		for _, e := range img.Entries {
			if e.Size[0] == 0 {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t-\t-\t-\n", e.Number, e.Direction, e.Type, e.MaxPacketSize)
				continue
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\n",
				e.Number, e.Direction, e.Type, e.MaxPacketSize, e.Slot, e.Offset[0], e.Size[0])
		}
		fmt.Fprintf(tw, "used\t%d/%d words\n", img.Used, img.Capacity)
	default:
		fmt.Fprintf(tw, "descriptor table\t0\t%d bytes\n", img.Header)
		fmt.Fprintln(tw, "EP\tDIR\tTYPE\tMPS\tSLOT\tBUFFER 0\tBUFFER 1")
		for _, e := range img.Entries {
			b1 := "-"
			if e.Size[1] != 0 {
				b1 = fmt.Sprintf("%d+%d", e.Offset[1], e.Size[1])
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d+%d\t%s\n",
				e.Number, e.Direction, e.Type, e.MaxPacketSize, e.Slot, e.Offset[0], e.Size[0], b1)
		}
		fmt.Fprintf(tw, "used\t%d/%d bytes\n", img.Used, img.Capacity)
	}
	return tw.Flush()
}

var dirIdent = map[hal.Direction]string{
	hal.DirOut:           "hal.DirOut",
	hal.DirIn:            "hal.DirIn",
	hal.DirBidirectional: "hal.DirBidirectional",
}

var typeIdent = map[hal.TransferType]string{
	hal.TypeControl:            "hal.TypeControl",
	hal.TypeIsochronous:        "hal.TypeIsochronous",
	hal.TypeBulk:               "hal.TypeBulk",
	hal.TypeInterrupt:          "hal.TypeInterrupt",
	hal.TypeControlStatusOut:   "hal.TypeControlStatusOut",
	hal.TypeBulkDoubleBuffered: "hal.TypeBulkDoubleBuffered",
}

// WriteGo emits a gofmt-formatted Go file declaring eps as Endpoints and
// the encoded image as PlanImage, for firmware that wants the plan checked
// against a build-time copy.
func WriteGo(w io.Writer, pkgName string, eps []hal.EndpointConfig, img *Image) error {
	data, err := img.MarshalBinary()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by usbplan. DO NOT EDIT.\n\npackage %s\n\n", pkgName)
	fmt.Fprintf(&buf, "import \"github.com/ardnew/mcusb/device/hal\"\n\n")
	fmt.Fprintf(&buf, "// Endpoints is the declared endpoint set.\nvar Endpoints = []hal.EndpointConfig{\n")
	for _, ep := range eps {
		fmt.Fprintf(&buf, "{Number: %d, Direction: %s, Type: %s, MaxPacketSize: %d",
			ep.Number, dirIdent[ep.Direction], typeIdent[ep.Type], ep.MaxPacketSize)
		if ep.Interval != 0 {
			fmt.Fprintf(&buf, ", Interval: %d", ep.Interval)
		}
		if ep.NoZLP {
			fmt.Fprintf(&buf, ", NoZLP: true")
		}
		fmt.Fprintf(&buf, "},\n")
	}
	fmt.Fprintf(&buf, "}\n\n// PlanImage is the %s layout computed for Endpoints.\nvar PlanImage = []byte{", img.Backend)
	for i, b := range data {
		if i%12 == 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "0x%02x, ", b)
	}
	buf.WriteString("\n}\n")

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("format generated source: %w", err)
	}
	_, err = w.Write(src)
	return err
}
