package layout

import (
	"cmp"
	"fmt"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"github.com/ardnew/mcusb/device/hal"
	"github.com/ardnew/mcusb/pkg"
)

// Region is a byte (or word, for FIFOs) range inside transfer memory.
type Region struct {
	Offset uint16
	Size   uint16
}

// End returns the first offset past the region.
func (r Region) End() uint16 { return r.Offset + r.Size }

// Overlaps reports whether r and o share at least one unit.
func (r Region) Overlaps(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Offset < o.End() && o.Offset < r.End()
}

func ceilDiv[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}

func alignUp[T constraints.Integer](n, a T) T {
	return ceilDiv(n, a) * a
}

func sortKey(c hal.EndpointConfig) int {
	k := int(c.Number) * 2
	if c.Direction == hal.DirIn {
		k++
	}
	return k
}

// Normalize validates every declaration, orders the set by endpoint number
// with OUT before IN, and removes exact duplicates. Two different
// declarations for the same address half, or a bidirectional endpoint
// declared next to another endpoint with its number, are errors.
func Normalize(eps []hal.EndpointConfig) ([]hal.EndpointConfig, error) {
	out := slices.Clone(eps)
	for _, ep := range out {
		if err := ep.Validate(); err != nil {
			return nil, err
		}
	}
	slices.SortStableFunc(out, func(a, b hal.EndpointConfig) int {
		return cmp.Compare(sortKey(a), sortKey(b))
	})
	out = slices.Compact(out)

	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if prev.Number != cur.Number {
			continue
		}
		if prev.Direction == hal.DirBidirectional || cur.Direction == hal.DirBidirectional {
			return nil, pkg.NewEndpointError(cur.Address(), pkg.ErrSlotConflict)
		}
		if sortKey(prev) == sortKey(cur) {
			return nil, pkg.NewEndpointError(cur.Address(), pkg.ErrDuplicateEndpoint)
		}
	}
	return out, nil
}

func fail(err error, msg string) error {
	pkg.LogError(pkg.ComponentLayout, msg, "error", err)
	return fmt.Errorf("%s: %w", msg, err)
}
