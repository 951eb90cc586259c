// Package ringbuffer implements the two RingBuffer arms of spec.md §4.5
// and §4.6 (real, in-shm PCM storage; mirror, an adapter over a host
// device's own mmap buffer) behind a common facade, plus the factory of
// §4.7 that builds either kind and remembers which allocator backs it.
//
// Per spec.md §9 ("Polymorphism"): the RingBuffer facade dispatching to
// either arm maps directly to a tagged variant with two arms; operations
// either forward to the active arm or reject with ErrNotAllowed when the
// operation only makes sense on one arm.
package ringbuffer

import (
	"github.com/ias-audio/smartx-bridge/internal/area"
)

// Access direction.
type Access int

const (
	Read Access = iota
	Write
)

// DeviceType mirrors the server-side device role, determined from the
// connection name's suffix per spec.md §4.9.
type DeviceType int

const (
	Source DeviceType = iota // "_p" connection (plugin playback)
	Sink                     // "_c" connection (plugin capture)
)

// StreamingState gates which direction may currently progress, per
// spec.md §4.5.
type StreamingState int

const (
	Running StreamingState = iota
	StopWrite
	StopRead
)

// Params describes a ring buffer's shape at creation time, per spec.md
// §4.7.
type Params struct {
	PeriodSize  int // frames
	NumPeriods  int
	NumChannels int
	Format      area.Format
	Name        string
	DeviceType  DeviceType
}

// RingBuffer is the common facade both arms implement, per spec.md
// §4.5/§4.6 and the tagged-variant design note in §9.
type RingBuffer interface {
	UpdateAvailable(access Access) (int, error)
	BeginAccess(access Access, frames int) (offset, granted int, err error)
	EndAccess(access Access, offset, frames int) error
	WaitRead(numPeriods, timeoutMs int) error
	WaitWrite(numPeriods, timeoutMs int) error
	GetAreas() ([]area.Area, error)
	SetStreamingState(s StreamingState) error
	SetAvailMin(frames int) error
	PeriodSize() int
	NumPeriods() int
	NumChannels() int
	Format() area.Format
}
