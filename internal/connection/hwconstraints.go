// Package connection implements the plugin-side connection of spec.md
// §4.9: the shared-memory aggregate binding the two IPC endpoints, the
// hardware-constraints descriptor, the ring-buffer handle, the FD
// signal, and the open-once lock into one named object, built once by a
// creator (server) and found by a finder (client).
package connection

// maxConstraintValues bounds each constraint's enumerated-list form, per
// spec.md's data model ("a small bounded list *and* a (min,max) pair").
const maxConstraintValues = 8

// BoundedRange is one hardware constraint: an optional short enumerated
// list of allowed values, plus a (min, max) pair always kept in sync so
// a consumer that only understands ranges still works.
type BoundedRange struct {
	Len    int32
	Values [maxConstraintValues]int32
	Min    int32
	Max    int32
}

// NewRange builds a BoundedRange from an explicit value list.
func NewRange(values ...int32) BoundedRange {
	var r BoundedRange
	r.Len = int32(len(values))
	if r.Len > maxConstraintValues {
		r.Len = maxConstraintValues
	}
	copy(r.Values[:], values[:r.Len])
	r.Min, r.Max = values[0], values[0]
	for _, v := range values {
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
	}
	return r
}

// NewMinMax builds a BoundedRange carrying only a (min, max) pair, no
// enumerated list.
func NewMinMax(min, max int32) BoundedRange {
	return BoundedRange{Min: min, Max: max}
}

// HasList reports whether this range carries a non-empty enumerated
// list, per spec.md §4.10's HW constraints translation rule ("if ...
// carries a non-empty list, forward it as an enumerated list;
// otherwise forward the (min, max) pair").
func (r BoundedRange) HasList() bool { return r.Len > 0 }

// List returns the enumerated values.
func (r BoundedRange) List() []int32 { return r.Values[:r.Len] }

// HwConstraints is the hardware-constraints descriptor of spec.md's data
// model table: published once by the server, read-only for the client.
type HwConstraints struct {
	Valid int32

	Formats       BoundedRange
	AccessLayouts BoundedRange
	Channels      BoundedRange
	Rates         BoundedRange
	PeriodSizes   BoundedRange
	PeriodCounts  BoundedRange
	BufferSizes   BoundedRange
}
