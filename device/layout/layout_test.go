package layout

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

var (
	ep0      = hal.EndpointConfig{Number: 0, Direction: hal.DirBidirectional, Type: hal.TypeControl, MaxPacketSize: 64}
	bulkOut1 = hal.EndpointConfig{Number: 1, Direction: hal.DirOut, Type: hal.TypeBulk, MaxPacketSize: 64}
	bulkIn1  = hal.EndpointConfig{Number: 1, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64}
	intrIn2  = hal.EndpointConfig{Number: 2, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 16, Interval: 10}
)

func cdcSet() []hal.EndpointConfig {
	return []hal.EndpointConfig{intrIn2, bulkIn1, ep0, bulkOut1}
}

func TestPlanBDTCDC(t *testing.T) {
	p, err := PlanBDT(cdcSet(), DefaultBDTOptions)
	if err != nil {
		t.Fatalf("PlanBDT() error = %v", err)
	}

	if p.Slots != 3 {
		t.Errorf("Slots = %d, want 3", p.Slots)
	}
	if p.HeaderSize != 24 {
		t.Errorf("HeaderSize = %d, want 24", p.HeaderSize)
	}

	type placement struct {
		Number uint8
		Slot   uint8
		Bufs   [2]Region
	}
	var got []placement
	for _, e := range p.Entries {
		got = append(got, placement{e.Endpoint.Number, e.Slot, e.Buffers})
	}
	want := []placement{
		{0, 0, [2]Region{{24, 64}, {88, 64}}},
		{1, 1, [2]Region{{152, 64}}},
		{1, 1, [2]Region{{216, 64}}},
		{2, 2, [2]Region{{280, 16}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("placements mismatch (-want +got):\n%s", diff)
	}
	if p.Used != 296 {
		t.Errorf("Used = %d, want 296", p.Used)
	}

	sizes := []uint16{}
	for _, e := range p.Entries {
		var total uint16
		for b := 0; b < e.Kind.Buffers; b++ {
			total += e.Buffers[b].Size
		}
		sizes = append(sizes, total)
	}
	if diff := cmp.Diff([]uint16{128, 64, 64, 16}, sizes); diff != "" {
		t.Errorf("footprints mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanBDTLookup(t *testing.T) {
	p, err := PlanBDT(cdcSet(), DefaultBDTOptions)
	if err != nil {
		t.Fatalf("PlanBDT() error = %v", err)
	}

	tests := []struct {
		n    uint8
		dir  hal.Direction
		want hal.EndpointConfig
		ok   bool
	}{
		{0, hal.DirOut, ep0, true},
		{0, hal.DirIn, ep0, true},
		{1, hal.DirOut, bulkOut1, true},
		{1, hal.DirIn, bulkIn1, true},
		{2, hal.DirIn, intrIn2, true},
		{2, hal.DirOut, hal.EndpointConfig{}, false},
		{7, hal.DirIn, hal.EndpointConfig{}, false},
	}
	for _, tt := range tests {
		e, ok := p.Lookup(tt.n, tt.dir)
		if ok != tt.ok {
			t.Errorf("Lookup(%d, %v) ok = %v, want %v", tt.n, tt.dir, ok, tt.ok)
			continue
		}
		if ok && e.Endpoint != tt.want {
			t.Errorf("Lookup(%d, %v) = %v, want %v", tt.n, tt.dir, e.Endpoint, tt.want)
		}
	}
	if got := p.SlotOf(2); got != 2 {
		t.Errorf("SlotOf(2) = %d, want 2", got)
	}
	if got := p.SlotOf(9); got != -1 {
		t.Errorf("SlotOf(9) = %d, want -1", got)
	}
}

func checkDisjoint(t *testing.T, regions []Region, capacity uint16) {
	t.Helper()
	for i, a := range regions {
		if a.End() > capacity {
			t.Errorf("region %d %+v exceeds capacity %d", i, a, capacity)
		}
		for j, b := range regions {
			if i < j && a.Overlaps(b) {
				t.Errorf("regions %d %+v and %d %+v overlap", i, a, j, b)
			}
		}
	}
}

func TestPlanBDTDisjoint(t *testing.T) {
	sets := map[string][]hal.EndpointConfig{
		"cdc": cdcSet(),
		"composite": {
			ep0, bulkOut1, bulkIn1, intrIn2,
			{Number: 3, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 8},
			{Number: 4, Direction: hal.DirOut, Type: hal.TypeBulkDoubleBuffered, MaxPacketSize: 64},
			{Number: 5, Direction: hal.DirIn, Type: hal.TypeIsochronous, MaxPacketSize: 33},
		},
		"odd sizes": {
			{Number: 0, Direction: hal.DirBidirectional, Type: hal.TypeControl, MaxPacketSize: 8},
			{Number: 1, Direction: hal.DirOut, Type: hal.TypeInterrupt, MaxPacketSize: 7},
			{Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 63},
		},
	}

	for name, eps := range sets {
		t.Run(name, func(t *testing.T) {
			p, err := PlanBDT(eps, DefaultBDTOptions)
			if err != nil {
				t.Fatalf("PlanBDT() error = %v", err)
			}
			checkDisjoint(t, p.Regions(), p.Capacity)
			for _, e := range p.Entries {
				for b := 0; b < e.Kind.Buffers; b++ {
					if e.Buffers[b].Offset%2 != 0 {
						t.Errorf("ep%d buffer %d at odd offset %d", e.Endpoint.Number, b, e.Buffers[b].Offset)
					}
				}
			}
		})
	}
}

func TestPlanBDTErrors(t *testing.T) {
	tests := []struct {
		name    string
		eps     []hal.EndpointConfig
		opts    BDTOptions
		wantErr error
	}{
		{
			name:    "control shares slot",
			eps:     []hal.EndpointConfig{{Number: 0, Direction: hal.DirOut, Type: hal.TypeControl, MaxPacketSize: 64}, {Number: 0, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64}},
			opts:    DefaultBDTOptions,
			wantErr: pkg.ErrSlotConflict,
		},
		{
			name:    "double buffered shares slot",
			eps:     []hal.EndpointConfig{ep0, {Number: 1, Direction: hal.DirOut, Type: hal.TypeBulkDoubleBuffered, MaxPacketSize: 64}, bulkIn1},
			opts:    DefaultBDTOptions,
			wantErr: pkg.ErrSlotConflict,
		},
		{
			name:    "bidirectional shares slot",
			eps:     []hal.EndpointConfig{ep0, {Number: 1, Direction: hal.DirBidirectional, Type: hal.TypeBulk, MaxPacketSize: 64}, bulkIn1},
			opts:    DefaultBDTOptions,
			wantErr: pkg.ErrSlotConflict,
		},
		{
			name:    "mixed types share slot",
			eps:     []hal.EndpointConfig{ep0, bulkOut1, {Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 64}},
			opts:    DefaultBDTOptions,
			wantErr: pkg.ErrSlotConflict,
		},
		{
			name:    "conflicting duplicate",
			eps:     []hal.EndpointConfig{ep0, bulkIn1, {Number: 1, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 32}},
			opts:    DefaultBDTOptions,
			wantErr: pkg.ErrDuplicateEndpoint,
		},
		{
			name:    "overflow",
			eps:     cdcSet(),
			opts:    BDTOptions{Capacity: 256, MaxSlots: 8},
			wantErr: pkg.ErrLayoutOverflow,
		},
		{
			name:    "too many slots",
			eps:     cdcSet(),
			opts:    BDTOptions{Capacity: 512, MaxSlots: 2},
			wantErr: pkg.ErrTooManySlots,
		},
		{
			name:    "bad packet size",
			eps:     []hal.EndpointConfig{{Number: 0, Direction: hal.DirBidirectional, Type: hal.TypeControl, MaxPacketSize: 65}},
			opts:    DefaultBDTOptions,
			wantErr: pkg.ErrMaxPacketSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PlanBDT(tt.eps, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PlanBDT() error = %v, want %v", err, tt.wantErr)
			}
			if p != nil {
				t.Error("PlanBDT() returned a plan with an error")
			}
		})
	}
}

func TestPlanBDTDeduplicates(t *testing.T) {
	p, err := PlanBDT(append(cdcSet(), bulkIn1, ep0), DefaultBDTOptions)
	if err != nil {
		t.Fatalf("PlanBDT() error = %v", err)
	}
	if got := len(p.Entries); got != 4 {
		t.Errorf("len(Entries) = %d, want 4", got)
	}
}

func TestPlanBDTConflictNamesEndpoint(t *testing.T) {
	_, err := PlanBDT([]hal.EndpointConfig{ep0, bulkOut1, {Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 8}}, DefaultBDTOptions)
	var epErr *pkg.EndpointError
	if !errors.As(err, &epErr) {
		t.Fatalf("PlanBDT() error = %v, want EndpointError", err)
	}
	if epErr.Address != 0x81 {
		t.Errorf("Address = 0x%02X, want 0x81", epErr.Address)
	}
}

func TestBufferSize(t *testing.T) {
	tests := []struct{ mps, want uint16 }{
		{1, 2}, {7, 8}, {8, 8}, {62, 62}, {63, 64}, {64, 64}, {65, 96}, {1023, 1024},
	}
	for _, tt := range tests {
		if got := BufferSize(tt.mps); got != tt.want {
			t.Errorf("BufferSize(%d) = %d, want %d", tt.mps, got, tt.want)
		}
	}
}

func TestPlanFIFO(t *testing.T) {
	p, err := PlanFIFO(cdcSet(), DefaultFIFOOptions)
	if err != nil {
		t.Fatalf("PlanFIFO() error = %v", err)
	}

	// 64/4 + 1 + 10 overhead.
	if p.RxWords != 27 {
		t.Errorf("RxWords = %d, want 27", p.RxWords)
	}
	want := []FIFOEntry{
		{Endpoint: ep0, FIFO: 0, Offset: 27, Words: 32},
		{Endpoint: bulkIn1, FIFO: 1, Offset: 59, Words: 32},
		{Endpoint: intrIn2, FIFO: 2, Offset: 91, Words: 16},
	}
	if diff := cmp.Diff(want, p.Tx); diff != "" {
		t.Errorf("Tx mismatch (-want +got):\n%s", diff)
	}
	if p.Used != 107 {
		t.Errorf("Used = %d, want 107", p.Used)
	}
	checkDisjoint(t, p.Regions(), p.Capacity)

	if e, ok := p.TxFIFO(2); !ok || e.Offset != 91 {
		t.Errorf("TxFIFO(2) = %+v, %v", e, ok)
	}
	if _, ok := p.TxFIFO(3); ok {
		t.Error("TxFIFO(3) found a FIFO for an undeclared endpoint")
	}
}

func TestPlanFIFOMinimums(t *testing.T) {
	eps := []hal.EndpointConfig{
		{Number: 0, Direction: hal.DirBidirectional, Type: hal.TypeControl, MaxPacketSize: 8},
		{Number: 1, Direction: hal.DirIn, Type: hal.TypeInterrupt, MaxPacketSize: 4},
	}
	p, err := PlanFIFO(eps, DefaultFIFOOptions)
	if err != nil {
		t.Fatalf("PlanFIFO() error = %v", err)
	}
	if p.RxWords != 16 {
		t.Errorf("RxWords = %d, want 16 (minimum)", p.RxWords)
	}
	for _, e := range p.Tx {
		if e.Words != 16 {
			t.Errorf("FIFO %d depth = %d, want 16 (minimum)", e.FIFO, e.Words)
		}
	}
}

func TestPlanFIFOErrors(t *testing.T) {
	tests := []struct {
		name    string
		eps     []hal.EndpointConfig
		opts    FIFOOptions
		wantErr error
	}{
		{
			name:    "no FIFO for endpoint 4",
			eps:     []hal.EndpointConfig{ep0, {Number: 4, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64}},
			opts:    DefaultFIFOOptions,
			wantErr: pkg.ErrTooManyFIFOs,
		},
		{
			name:    "FIFO RAM exhausted",
			eps:     cdcSet(),
			opts:    FIFOOptions{Words: 80, MaxTx: 4, RxOverhead: 10, MinWords: 16},
			wantErr: pkg.ErrFIFOOverflow,
		},
		{
			name:    "bidirectional next to in",
			eps:     []hal.EndpointConfig{ep0, {Number: 0, Direction: hal.DirIn, Type: hal.TypeBulk, MaxPacketSize: 64}},
			opts:    DefaultFIFOOptions,
			wantErr: pkg.ErrSlotConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PlanFIFO(tt.eps, tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("PlanFIFO() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestImageRoundTrip(t *testing.T) {
	p, err := PlanBDT(cdcSet(), DefaultBDTOptions)
	if err != nil {
		t.Fatalf("PlanBDT() error = %v", err)
	}
	img := p.Image()
	data, err := img.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	got, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage() error = %v", err)
	}
	if diff := cmp.Diff(img, got, cmp.AllowUnexported(ImageEntry{})); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
	if err := img.Matches(data); err != nil {
		t.Errorf("Matches() error = %v", err)
	}

	data[3] ^= 0x01
	if _, err := UnmarshalImage(data); !errors.Is(err, pkg.ErrChecksum) {
		t.Errorf("UnmarshalImage(corrupt) error = %v, want ErrChecksum", err)
	}
}

func TestImageInsideCBOR(t *testing.T) {
	p, err := PlanFIFO(cdcSet(), DefaultFIFOOptions)
	if err != nil {
		t.Fatalf("PlanFIFO() error = %v", err)
	}
	img := p.Image()
	// The encoder hands an embedded image to MarshalBinary.
	data, err := cbor.Marshal(struct{ Plan *Image }{img})
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}
	var wrapped struct{ Plan []byte }
	if err := cbor.Unmarshal(data, &wrapped); err != nil {
		t.Fatalf("cbor.Unmarshal() error = %v", err)
	}
	got, err := UnmarshalImage(wrapped.Plan)
	if err != nil {
		t.Fatalf("UnmarshalImage() error = %v", err)
	}
	if diff := cmp.Diff(img, got, cmp.AllowUnexported(ImageEntry{})); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
}

func TestDeclarationJSON(t *testing.T) {
	src := `{
		"name": "cdc",
		"backend": "pma",
		"endpoints": [
			{"number": 0, "direction": "bidirectional", "type": "control", "maxPacketSize": 64},
			{"number": 1, "direction": "out", "type": "bulk", "maxPacketSize": 64},
			{"number": 1, "direction": "in", "type": "bulk", "maxPacketSize": 64},
			{"number": 2, "direction": "in", "type": "interrupt", "maxPacketSize": 16, "interval": 10}
		]
	}`
	d, err := LoadDeclaration(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadDeclaration() error = %v", err)
	}
	eps, err := d.Configs()
	if err != nil {
		t.Fatalf("Configs() error = %v", err)
	}
	if diff := cmp.Diff([]hal.EndpointConfig{ep0, bulkOut1, bulkIn1, intrIn2}, eps); diff != "" {
		t.Errorf("Configs() mismatch (-want +got):\n%s", diff)
	}

	img, err := d.Plan()
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if img.Header != 24 || img.Used != 296 {
		t.Errorf("Plan() header=%d used=%d, want 24 and 296", img.Header, img.Used)
	}
}

func TestDeclarationCBOR(t *testing.T) {
	d := NewDeclaration("cdc", BackendOTG, cdcSet())
	data, err := d.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR() error = %v", err)
	}
	got, err := ParseDeclaration(data)
	if err != nil {
		t.Fatalf("ParseDeclaration() error = %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("declaration mismatch (-want +got):\n%s", diff)
	}
	img, err := got.Plan()
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if img.Backend != BackendOTG || img.RxWords != 27 {
		t.Errorf("Plan() = %+v, want otg with 27 rx words", img)
	}
}

func TestDeclarationErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown backend", `{"backend": "usbhs", "endpoints": []}`},
		{"bad json", `{"backend": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDeclaration([]byte(tt.src)); err == nil {
				t.Error("ParseDeclaration() error = nil")
			}
		})
	}

	d := &Declaration{Endpoints: []EndpointDecl{{Direction: "sideways", Type: "bulk", MaxPacketSize: 8}}}
	if _, err := d.Configs(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Configs() error = %v, want ErrInvalidParameter", err)
	}
}

func TestWriteTable(t *testing.T) {
	p, err := PlanBDT(cdcSet(), DefaultBDTOptions)
	if err != nil {
		t.Fatalf("PlanBDT() error = %v", err)
	}
	var buf bytes.Buffer
	if err := p.Image().WriteTable(&buf); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"descriptor table", "24+64", "88+64", "280+16", "296/512"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestWriteGo(t *testing.T) {
	p, err := PlanFIFO(cdcSet(), DefaultFIFOOptions)
	if err != nil {
		t.Fatalf("PlanFIFO() error = %v", err)
	}
	var buf bytes.Buffer
	if err := WriteGo(&buf, "board", p.Endpoints, p.Image()); err != nil {
		t.Fatalf("WriteGo() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"package board",
		"Direction: hal.DirBidirectional, Type: hal.TypeControl",
		"Interval: 10",
		"var PlanImage = []byte{",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("generated source missing %q:\n%s", want, out)
		}
	}
}
