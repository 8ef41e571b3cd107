package layout

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/sigurn/crc8"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

var imageCRC = crc8.MakeTable(crc8.CRC8_MAXIM)

// Image is the compact, backend-neutral record of a computed plan. Its
// encoding is CBOR followed by one CRC-8 byte; firmware can embed a
// generated image and compare it against the plan computed at startup.
type Image struct {
	Backend  string       `cbor:"1,keyasint"`
	Capacity uint16       `cbor:"2,keyasint"`
	Header   uint16       `cbor:"3,keyasint,omitempty"` // Descriptor table bytes
	RxWords  uint16       `cbor:"4,keyasint,omitempty"` // Receive FIFO words
	Used     uint16       `cbor:"5,keyasint"`
	Entries  []ImageEntry `cbor:"6,keyasint"`
}

// ImageEntry is one endpoint placement. For FIFO plans Slot is the
// transmit FIFO number and the first region is in words.
type ImageEntry struct {
	_             struct{} `cbor:",toarray"`
	Number        uint8
	Direction     hal.Direction
	Type          hal.TransferType
	MaxPacketSize uint16
	Slot          uint8
	Offset        [2]uint16
	Size          [2]uint16
}

// Image returns the record of p.
func (p *BDTPlan) Image() *Image {
	img := &Image{Backend: BackendPMA, Capacity: p.Capacity, Header: p.HeaderSize, Used: p.Used}
	for _, e := range p.Entries {
		img.Entries = append(img.Entries, ImageEntry{
			Number:        e.Endpoint.Number,
			Direction:     e.Endpoint.Direction,
			Type:          e.Endpoint.Type,
			MaxPacketSize: e.Endpoint.MaxPacketSize,
			Slot:          e.Slot,
			Offset:        [2]uint16{e.Buffers[0].Offset, e.Buffers[1].Offset},
			Size:          [2]uint16{e.Buffers[0].Size, e.Buffers[1].Size},
		})
	}
	return img
}

// Image returns the record of p. Only IN endpoints carry a FIFO region.
func (p *FIFOPlan) Image() *Image {
	img := &Image{Backend: BackendOTG, Capacity: p.Capacity, RxWords: p.RxWords, Used: p.Used}
	for _, ep := range p.Endpoints {
		entry := ImageEntry{
			Number:        ep.Number,
			Direction:     ep.Direction,
			Type:          ep.Type,
			MaxPacketSize: ep.MaxPacketSize,
		}
		if tx, ok := p.TxFIFO(ep.Number); ok && ep.HasIn() {
			entry.Slot = tx.FIFO
			entry.Offset[0] = tx.Offset
			entry.Size[0] = tx.Words
		}
		img.Entries = append(img.Entries, entry)
	}
	return img
}

// plainImage has no methods, so the cbor encoder does not call back into
// MarshalBinary.
type plainImage Image

// MarshalBinary encodes the image with its trailing checksum.
func (img *Image) MarshalBinary() ([]byte, error) {
	data, err := cbor.Marshal((*plainImage)(img))
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return append(data, crc8.Checksum(data, imageCRC)), nil
}

// UnmarshalImage verifies the checksum and decodes an image.
func UnmarshalImage(data []byte) (*Image, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("decode image: %w", pkg.ErrBufferTooSmall)
	}
	body, sum := data[:len(data)-1], data[len(data)-1]
	if crc8.Checksum(body, imageCRC) != sum {
		return nil, fmt.Errorf("decode image: %w", pkg.ErrChecksum)
	}
	var img Image
	if err := cbor.Unmarshal(body, (*plainImage)(&img)); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &img, nil
}

// Matches reports whether data encodes exactly img.
func (img *Image) Matches(data []byte) error {
	want, err := img.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := UnmarshalImage(data); err != nil {
		return err
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("image differs from computed plan: %w", pkg.ErrInvalidParameter)
	}
	return nil
}
