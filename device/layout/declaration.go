package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// Backend names used in declaration files.
const (
	BackendPMA = "pma"
	BackendOTG = "otg"
)

// EndpointDecl is one endpoint as written in a declaration file.
type EndpointDecl struct {
	Number        uint8  `json:"number" cbor:"number"`
	Direction     string `json:"direction" cbor:"direction"`
	Type          string `json:"type" cbor:"type"`
	MaxPacketSize uint16 `json:"maxPacketSize" cbor:"maxPacketSize"`
	Interval      uint8  `json:"interval,omitempty" cbor:"interval,omitempty"`
	NoZLP         bool   `json:"noZLP,omitempty" cbor:"noZLP,omitempty"`
}

// Declaration is the endpoint set of one device plus the backend it
// targets. The IDs are informational.
type Declaration struct {
	Name      string         `json:"name" cbor:"name"`
	Backend   string         `json:"backend" cbor:"backend"`
	VendorID  uint16         `json:"vendorId,omitempty" cbor:"vendorId,omitempty"`
	ProductID uint16         `json:"productId,omitempty" cbor:"productId,omitempty"`
	Endpoints []EndpointDecl `json:"endpoints" cbor:"endpoints"`
}

// ParseDeclaration decodes a declaration. Input starting with '{' is
// read as JSON, anything else as CBOR.
func ParseDeclaration(data []byte) (*Declaration, error) {
	var d Declaration
	trimmed := bytes.TrimSpace(data)
	var err error
	if len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &d)
	} else {
		err = cbor.Unmarshal(data, &d)
	}
	if err != nil {
		return nil, fmt.Errorf("decode declaration: %w", err)
	}
	if d.Backend == "" {
		d.Backend = BackendPMA
	}
	if d.Backend != BackendPMA && d.Backend != BackendOTG {
		return nil, fmt.Errorf("backend %q: %w", d.Backend, pkg.ErrInvalidParameter)
	}
	return &d, nil
}

// LoadDeclaration reads and decodes a declaration from r.
func LoadDeclaration(r io.Reader) (*Declaration, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseDeclaration(data)
}

// Configs converts the file form into endpoint declarations.
func (d *Declaration) Configs() ([]hal.EndpointConfig, error) {
	out := make([]hal.EndpointConfig, 0, len(d.Endpoints))
	for i, e := range d.Endpoints {
		dir, err := hal.ParseDirection(e.Direction)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		typ, err := hal.ParseTransferType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		out = append(out, hal.EndpointConfig{
			Number:        e.Number,
			Direction:     dir,
			Type:          typ,
			MaxPacketSize: e.MaxPacketSize,
			Interval:      e.Interval,
			NoZLP:         e.NoZLP,
		})
	}
	return out, nil
}

// NewDeclaration builds the file form of eps.
func NewDeclaration(name, backend string, eps []hal.EndpointConfig) *Declaration {
	d := &Declaration{Name: name, Backend: backend}
	for _, ep := range eps {
		d.Endpoints = append(d.Endpoints, EndpointDecl{
			Number:        ep.Number,
			Direction:     ep.Direction.String(),
			Type:          ep.Type.String(),
			MaxPacketSize: ep.MaxPacketSize,
			Interval:      ep.Interval,
			NoZLP:         ep.NoZLP,
		})
	}
	return d
}

// MarshalCBOR encodes the declaration as CBOR.
func (d *Declaration) MarshalCBOR() ([]byte, error) {
	type plain Declaration
	return cbor.Marshal((*plain)(d))
}

// Plan runs the planner for the declared backend and returns its image.
func (d *Declaration) Plan() (*Image, error) {
	eps, err := d.Configs()
	if err != nil {
		return nil, err
	}
	switch d.Backend {
	case BackendOTG:
		p, err := PlanFIFO(eps, DefaultFIFOOptions)
		if err != nil {
			return nil, err
		}
		return p.Image(), nil
	default:
		p, err := PlanBDT(eps, DefaultBDTOptions)
		if err != nil {
			return nil, err
		}
		return p.Image(), nil
	}
}
