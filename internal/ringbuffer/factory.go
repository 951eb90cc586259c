package ringbuffer

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/metadata"
	"github.com/ias-audio/smartx-bridge/internal/shm"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var factoryLog = logctx.For("ringbuffer.factory")

const dataAlignment = 16

// Kind selects one of the three creation paths of spec.md §4.7.
type Kind int

const (
	SharedReal Kind = iota
	LocalReal
	LocalMirror
)

// PeriodMeta is the per-period side-band record every ring buffer
// carries alongside its PCM data, per spec.md §4.4's metadata factory.
// Timestamp is a placeholder payload; real deployments pick their own
// record shape, but every one needs a Header per spec.md §4.4.
type PeriodMeta struct {
	Header    metadata.Header
	TimestampUs int64
}

func periodMetaHeader(m *PeriodMeta) *metadata.Header { return &m.Header }

const periodMetaMagic = 0x50455231 // "PER1"

// Factory is the process-singleton of spec.md §4.7: it remembers which
// allocator backs each ring buffer it created or found, so Release can
// tear the right one down.
type Factory struct {
	mu    sync.Mutex
	paths config.Paths
	live  map[string]*entry
}

type entry struct {
	kind    Kind
	region  *shm.Region
	rb      RingBuffer
	periods []metadata.Handle[PeriodMeta]
}

// NewFactory constructs the process-singleton per spec.md §4.7.
func NewFactory(paths config.Paths) *Factory {
	return &Factory{paths: paths, live: make(map[string]*entry)}
}

// TotalMemorySize computes spec.md §4.7's "Total required memory"
// formula: sample_size*num_channels*num_periods*period_size, plus the
// RingBufferReal record, plus the metadata factory's footprint, plus
// generous directory/header slack.
func TotalMemorySize(p Params) int {
	data := DataSize(p)
	metaSize := p.NumPeriods*int(unsafe.Sizeof(PeriodMeta{})) + p.NumPeriods*int(unsafe.Sizeof(metadata.Handle[PeriodMeta]{}))
	return data + StateSize() + metaSize + 4096
}

func validateParams(p Params) error {
	if p.PeriodSize <= 0 || p.NumPeriods <= 0 || p.NumChannels <= 0 || p.Name == "" {
		return xerr.ErrInvalidParam
	}
	if p.Format.SampleSize() != 2 && p.Format.SampleSize() != 4 {
		return xerr.ErrInvalidParam
	}
	return nil
}

// CreateSharedReal is spec.md §4.7's first creation path: a shared-memory
// region, a 16-byte-aligned data area, a metadata factory, a
// RingBufferReal record, then ring-buffer init.
func (f *Factory) CreateSharedReal(p Params) (RingBuffer, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := config.SanitizeName(p.Name)
	region, err := shm.NewShared(f.paths.ShmRoot, name, TotalMemorySize(p), shm.Create, f.paths.Group)
	if err != nil {
		return nil, fmt.Errorf("ringbuffer factory: create shared region %s: %w", name, err)
	}

	rb, periods, err := buildReal(region, p)
	if err != nil {
		region.Remove()
		region.Close()
		return nil, err
	}

	f.live[name] = &entry{kind: SharedReal, region: region, rb: rb, periods: periods}
	factoryLog.Info("created shared ring buffer", "name", name, "periods", p.NumPeriods, "period_size", p.PeriodSize)
	return rb, nil
}

// CreateLocalReal is spec.md §4.7's second creation path: identical to
// CreateSharedReal but the allocator is heap-backed, for process-private
// buffers that never cross a process boundary.
func (f *Factory) CreateLocalReal(p Params) (RingBuffer, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	region, err := shm.NewLocal(p.Name, TotalMemorySize(p))
	if err != nil {
		return nil, err
	}
	rb, periods, err := buildReal(region, p)
	if err != nil {
		return nil, err
	}
	f.live[p.Name] = &entry{kind: LocalReal, region: region, rb: rb, periods: periods}
	return rb, nil
}

// buildReal allocates the 16-byte-aligned data area, the control-state
// block, and the per-period metadata records inside region, then hands
// everything to InitReal, per spec.md §4.7's "Shared real"/"Local real"
// creation paths.
func buildReal(region *shm.Region, p Params) (*Real, []metadata.Handle[PeriodMeta], error) {
	dataPtr, err := region.AllocateBytes("data", DataSize(p), dataAlignment)
	if err != nil {
		return nil, nil, err
	}
	data := unsafeBytes(dataPtr, DataSize(p))

	statePtr, err := region.AllocateBytes("state", StateSize(), int(unsafe.Alignof(uintptr(0))))
	if err != nil {
		return nil, nil, err
	}

	mf := metadata.New[PeriodMeta](periodMetaMagic, periodMetaHeader)
	periods, err := mf.Create(region, "meta", p.NumPeriods, uint32(unsafe.Sizeof(PeriodMeta{})))
	if err != nil {
		return nil, nil, err
	}

	rb, err := InitReal(unsafe.Pointer(statePtr), data, p)
	if err != nil {
		return nil, nil, err
	}
	return rb, periods, nil
}

func unsafeBytes(p *byte, n int) []byte {
	return unsafe.Slice(p, n)
}

// CreateLocalMirror is spec.md §4.7's third creation path: no data
// region of its own (it adapts the device's own mmap buffer), just a
// RingBufferMirror record and ring-buffer init from the mirror.
func (f *Factory) CreateLocalMirror(name string, dev Device, periodSize int, nonBlocking bool, timeoutMs int) (RingBuffer, error) {
	if name == "" || periodSize <= 0 || dev == nil {
		return nil, xerr.ErrInvalidParam
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rb := NewMirror(dev, periodSize, nonBlocking, timeoutMs)
	f.live[name] = &entry{kind: LocalMirror, rb: rb}
	return rb, nil
}

// FindRingBuffer connects to the named shared region, locates the
// embedded real-buffer record, and builds a fresh handle bound to it via
// Setup, per spec.md §4.7. Every partially-acquired resource is released
// if any step fails.
func (f *Factory) FindRingBuffer(p Params) (RingBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := config.SanitizeName(p.Name)
	region, err := shm.NewShared(f.paths.ShmRoot, name, 0, shm.Connect, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", xerr.ErrNotFound, name)
	}

	dataPtr, dataCount, err := shm.FindT[byte](region, "data")
	if err != nil {
		region.Close()
		return nil, err
	}
	statePtr, _, err := shm.FindT[byte](region, "state")
	if err != nil {
		region.Close()
		return nil, err
	}

	rb, err := AttachReal(unsafe.Pointer(statePtr), unsafeBytes(dataPtr, dataCount))
	if err != nil {
		region.Close()
		return nil, err
	}

	mf := metadata.New[PeriodMeta](periodMetaMagic, periodMetaHeader)
	periods, err := mf.Find(region, "meta")
	if err != nil {
		region.Close()
		return nil, err
	}

	f.live[name] = &entry{kind: SharedReal, region: region, rb: rb, periods: periods}
	factoryLog.Debug("found ring buffer", "name", name)
	return rb, nil
}

// Release tears down the named buffer's backing allocator. Only the
// creator should remove a shared region (spec.md §7); connectors should
// Close without Remove, which Release cannot tell apart on its own, so
// callers pass remove explicitly.
func (f *Factory) Release(name string, remove bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = config.SanitizeName(name)
	e, ok := f.live[name]
	if !ok {
		return fmt.Errorf("%w: %s", xerr.ErrNotFound, name)
	}
	delete(f.live, name)
	if e.region == nil {
		return nil
	}
	if remove {
		_ = e.region.Remove()
	}
	return e.region.Close()
}
