package ringbuffer

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/fdsignal"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/procsync"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var log = logctx.For("ringbuffer")

// sharedState is the part of a Real ring buffer's bookkeeping that must
// live in the backing memory (shared or local-heap), per spec.md's data
// model table for "Ring-buffer metadata". Every field here is plain
// data or a raw pthread object; nothing here is a Go pointer, so it is
// safe to place inside a shm region shared across processes.
type sharedState struct {
	periodSize  int64
	numPeriods  int64
	numChannels int64
	dataFormat  int32
	sampleSize  int64

	readOffset  int64
	writeOffset int64
	bufferLevel int64

	readInProgress  int32
	writeInProgress int32

	streamingState int32
	availMin       int64

	hwPtrRead  int64
	hwPtrWrite int64
	boundary   int64

	readWaitLevel  int64
	writeWaitLevel int64

	lastAccessReadUs  int64
	lastAccessWriteUs int64
	txCountRead       int64
	txCountWrite      int64

	deviceType int32

	masterMutex    [procsync.SizeofMutex]byte
	readProgMutex  [procsync.SizeofMutex]byte
	writeProgMutex [procsync.SizeofMutex]byte
	readWaitCond   [procsync.SizeofCond]byte
	writeWaitCond  [procsync.SizeofCond]byte
}

// Real is the in-shm PCM ring buffer of spec.md §4.5.
type Real struct {
	st   *sharedState
	data []byte // period_size * num_periods * num_channels * sample_size bytes

	masterMu    *procsync.Mutex
	readProgMu  *procsync.Mutex
	writeProgMu *procsync.Mutex
	readCond    *procsync.Cond
	writeCond   *procsync.Cond

	areas    []area.Area
	fdSignal *fdsignal.Signal
}

// StateSize and DataSize let the factory compute the total allocation
// per spec.md §4.7's "Total required memory" formula.
func StateSize() int { return int(unsafe.Sizeof(sharedState{})) }

func DataSize(p Params) int {
	return p.Format.SampleSize() * p.NumChannels * p.NumPeriods * p.PeriodSize
}

// InitReal constructs a Real ring buffer's control structures in place
// at stateAddr, owning dataBuf as its PCM storage, and initialises the
// process-shared primitives (spec.md §4.5's "On init").
func InitReal(stateAddr unsafe.Pointer, dataBuf []byte, p Params) (*Real, error) {
	if p.PeriodSize <= 0 || p.NumPeriods <= 0 || p.NumChannels <= 0 || p.Name == "" {
		return nil, xerr.ErrInvalidParam
	}
	if p.Format.SampleSize() == 0 {
		return nil, xerr.ErrInvalidParam
	}

	st := (*sharedState)(stateAddr)
	*st = sharedState{}
	st.periodSize = int64(p.PeriodSize)
	st.numPeriods = int64(p.NumPeriods)
	st.numChannels = int64(p.NumChannels)
	st.dataFormat = int32(p.Format)
	st.sampleSize = int64(p.Format.SampleSize())
	st.deviceType = int32(p.DeviceType)

	// boundary must remain representable by a 32-bit signed frame
	// counter (spec.md's ring-buffer invariant), so "LONG_MAX" here is
	// math.MaxInt32 rather than the full int64 range.
	const longMax = int64(math.MaxInt32)
	boundary := st.periodSize * st.numPeriods
	for 2*boundary+st.periodSize*st.numPeriods <= longMax {
		boundary *= 2
	}
	st.boundary = boundary

	r := &Real{st: st, data: dataBuf}

	var err error
	if r.masterMu, err = procsync.InitMutexAt(unsafe.Pointer(&st.masterMutex[0])); err != nil {
		return nil, err
	}
	if r.readProgMu, err = procsync.InitMutexAt(unsafe.Pointer(&st.readProgMutex[0])); err != nil {
		return nil, err
	}
	if r.writeProgMu, err = procsync.InitMutexAt(unsafe.Pointer(&st.writeProgMutex[0])); err != nil {
		return nil, err
	}
	if r.readCond, err = procsync.InitCondAt(unsafe.Pointer(&st.readWaitCond[0])); err != nil {
		return nil, err
	}
	if r.writeCond, err = procsync.InitCondAt(unsafe.Pointer(&st.writeWaitCond[0])); err != nil {
		return nil, err
	}

	if err := r.Setup(); err != nil {
		return nil, err
	}
	return r, nil
}

// AttachReal rebinds a Real handle to control structures a peer process
// already initialised, per spec.md §4.7's findRingBuffer path.
func AttachReal(stateAddr unsafe.Pointer, dataBuf []byte) (*Real, error) {
	st := (*sharedState)(stateAddr)
	r := &Real{
		st:          st,
		data:        dataBuf,
		masterMu:    procsync.AttachMutexAt(unsafe.Pointer(&st.masterMutex[0])),
		readProgMu:  procsync.AttachMutexAt(unsafe.Pointer(&st.readProgMutex[0])),
		writeProgMu: procsync.AttachMutexAt(unsafe.Pointer(&st.writeProgMutex[0])),
		readCond:    procsync.AttachCondAt(unsafe.Pointer(&st.readWaitCond[0])),
		writeCond:   procsync.AttachCondAt(unsafe.Pointer(&st.writeWaitCond[0])),
	}
	if err := r.Setup(); err != nil {
		return nil, err
	}
	return r, nil
}

// Setup rebuilds the per-channel audio-area array from the current data
// pointer and shape, per spec.md's data model ("Rebuilt on each buffer
// setup").
func (r *Real) Setup() error {
	n := int(r.st.numChannels)
	size := int(r.st.sampleSize)
	areas := make([]area.Area, n)
	for ch := 0; ch < n; ch++ {
		areas[ch] = area.Area{
			Base:     unsafe.Pointer(&r.data[ch*size]),
			FirstBit: 0,
			StepBits: n * size * 8,
			Channel:  ch,
			MaxIndex: n - 1,
		}
	}
	r.areas = areas
	return nil
}

// BindFDSignal wires the FD signal this buffer fires on endAccess when
// availability crosses avail_min, per spec.md §4.9's createRingBuffer.
func (r *Real) BindFDSignal(s *fdsignal.Signal) { r.fdSignal = s }

func (r *Real) capacity() int64 { return r.st.periodSize * r.st.numPeriods }

// UpdateAvailable returns, under the master lock, the frames available
// for the given direction, per spec.md §4.5.
func (r *Real) UpdateAvailable(access Access) (int, error) {
	if err := r.masterMu.Lock(); err != nil {
		return 0, err
	}
	defer r.masterMu.Unlock()
	if access == Read {
		return int(r.st.bufferLevel), nil
	}
	return int(r.capacity() - r.st.bufferLevel), nil
}

func (r *Real) streamGates(access Access) bool {
	s := StreamingState(atomic.LoadInt32(&r.st.streamingState))
	return (access == Write && s == StopWrite) || (access == Read && s == StopRead)
}

// BeginAccess implements spec.md §4.5's begin-access protocol.
func (r *Real) BeginAccess(access Access, frames int) (offset, granted int, err error) {
	progMu := r.directionMutex(access)
	flag := r.directionFlag(access)

	if err := progMu.Lock(); err != nil {
		return 0, 0, err
	}
	if atomic.LoadInt32(flag) != 0 {
		progMu.Unlock()
		return 0, 0, fmt.Errorf("%w: access already in progress", xerr.ErrNotAllowed)
	}
	atomic.StoreInt32(flag, 1)

	var curOffset int64
	if access == Read {
		curOffset = r.st.readOffset
	} else {
		curOffset = r.st.writeOffset
	}

	if r.streamGates(access) {
		return int(curOffset), 0, nil
	}

	avail, err := r.UpdateAvailable(access)
	if err != nil {
		atomic.StoreInt32(flag, 0)
		progMu.Unlock()
		return 0, 0, err
	}
	if frames > avail {
		frames = avail
	}
	linearRemaining := int(r.capacity() - curOffset)
	if frames > linearRemaining {
		frames = linearRemaining
	}
	if frames < 0 {
		frames = 0
	}
	return int(curOffset), frames, nil
}

// directionMutex/Flag/waitLevel/condForOpposite are small dispatch
// helpers so BeginAccess/EndAccess read the same whichever direction is
// active, per spec.md §4.5's symmetric read/write treatment.
func (r *Real) directionMutex(access Access) *procsync.Mutex {
	if access == Read {
		return r.readProgMu
	}
	return r.writeProgMu
}

func (r *Real) directionFlag(access Access) *int32 {
	if access == Read {
		return &r.st.readInProgress
	}
	return &r.st.writeInProgress
}

// EndAccess implements spec.md §4.5's end-access protocol, including the
// FD-signal firing rule.
func (r *Real) EndAccess(access Access, offset, frames int) error {
	progMu := r.directionMutex(access)
	flag := r.directionFlag(access)

	if access == Read {
		if int64(frames) > r.st.bufferLevel {
			progMu.Unlock()
			atomic.StoreInt32(flag, 0)
			return xerr.ErrInvalidParam
		}
	} else {
		if int64(frames)+r.st.bufferLevel > r.capacity() {
			progMu.Unlock()
			atomic.StoreInt32(flag, 0)
			return xerr.ErrInvalidParam
		}
	}

	if err := r.masterMu.Lock(); err != nil {
		atomic.StoreInt32(flag, 0)
		progMu.Unlock()
		return err
	}

	now := time.Now().UnixMicro()
	cap_ := r.capacity()
	var peerAvail int64
	if access == Read {
		r.st.readOffset = (r.st.readOffset + int64(frames)) % cap_
		r.st.bufferLevel -= int64(frames)
		r.st.hwPtrRead = (r.st.hwPtrRead + int64(frames)) % r.st.boundary
		r.st.lastAccessReadUs = now
		r.st.txCountRead += int64(frames)
		peerAvail = cap_ - r.st.bufferLevel // writer's availability
	} else {
		r.st.writeOffset = (r.st.writeOffset + int64(frames)) % cap_
		r.st.bufferLevel += int64(frames)
		r.st.hwPtrWrite = (r.st.hwPtrWrite + int64(frames)) % r.st.boundary
		r.st.lastAccessWriteUs = now
		r.st.txCountWrite += int64(frames)
		peerAvail = r.st.bufferLevel // reader's availability
	}
	level := r.st.bufferLevel
	availMin := r.st.availMin
	r.masterMu.Unlock()

	atomic.StoreInt32(flag, 0)
	progMu.Unlock()

	// Signal the opposite side's condvar if its threshold is now met.
	if access == Read && level <= r.st.writeWaitLevel {
		_ = r.writeCond.Signal()
	}
	if access == Write && level >= r.st.readWaitLevel {
		_ = r.readCond.Signal()
	}

	// Fire the FD signal only after the critical section above has
	// completed, per spec.md's FD-signal ordering guarantee, and only
	// when the peer's availability has crossed avail_min.
	if r.fdSignal != nil && peerAvail >= availMin {
		if err := r.fdSignal.Write(); err != nil {
			log.Warn("fd signal write failed", "err", err)
		}
	}
	return nil
}

// WaitRead blocks until at least numPeriods*period_size frames are
// available to read, or timeoutMs elapses, per spec.md §4.5.
func (r *Real) WaitRead(numPeriods, timeoutMs int) error {
	return r.wait(Read, int64(numPeriods)*r.st.periodSize, timeoutMs)
}

// WaitWrite is the write-direction symmetric counterpart.
func (r *Real) WaitWrite(numPeriods, timeoutMs int) error {
	threshold := (r.st.numPeriods - int64(numPeriods)) * r.st.periodSize
	return r.wait(Write, threshold, timeoutMs)
}

func (r *Real) wait(access Access, threshold int64, timeoutMs int) error {
	if err := r.masterMu.Lock(); err != nil {
		return err
	}
	if access == Read {
		r.st.readWaitLevel = threshold
	} else {
		r.st.writeWaitLevel = threshold
	}
	for {
		met := r.st.bufferLevel >= threshold
		if access == Write {
			met = r.st.bufferLevel <= threshold
		}
		if met {
			r.masterMu.Unlock()
			return nil
		}
		cond := r.readCond
		if access == Write {
			cond = r.writeCond
		}
		timedOut, err := cond.WaitTimeout(r.masterMu, timeoutMs)
		if err != nil {
			r.masterMu.Unlock()
			return err
		}
		if timedOut {
			r.masterMu.Unlock()
			return xerr.ErrTimeout
		}
	}
}

// ResetFromWriter zeroes both offsets and the buffer level, holding the
// reader's in-progress mutex so no reader is concurrently touching
// pointers, per spec.md §4.5.
func (r *Real) ResetFromWriter() error {
	return r.reset(r.readProgMu)
}

// ResetFromReader is the symmetric counterpart.
func (r *Real) ResetFromReader() error {
	return r.reset(r.writeProgMu)
}

func (r *Real) reset(otherProgMu *procsync.Mutex) error {
	if err := otherProgMu.Lock(); err != nil {
		return err
	}
	defer otherProgMu.Unlock()
	if err := r.masterMu.Lock(); err != nil {
		return err
	}
	r.st.readOffset = 0
	r.st.writeOffset = 0
	r.st.bufferLevel = 0
	r.masterMu.Unlock()
	return nil
}

// ZeroOut overwrites the data region with zeros without changing any
// pointer or level, holding both in-progress mutexes, per spec.md §4.5.
func (r *Real) ZeroOut() error {
	if err := r.readProgMu.Lock(); err != nil {
		return err
	}
	defer r.readProgMu.Unlock()
	if err := r.writeProgMu.Lock(); err != nil {
		return err
	}
	defer r.writeProgMu.Unlock()
	for i := range r.data {
		r.data[i] = 0
	}
	return nil
}

// SetBoundary primes a capture device so a downstream ALSA-style
// snd_pcm_avail call reports the correct initial availability, per
// spec.md §4.5.
func (r *Real) SetBoundary() error {
	if err := r.masterMu.Lock(); err != nil {
		return err
	}
	defer r.masterMu.Unlock()
	r.st.hwPtrRead = 0
	r.st.hwPtrWrite = r.st.availMin
	return nil
}

func (r *Real) SetStreamingState(s StreamingState) error {
	atomic.StoreInt32(&r.st.streamingState, int32(s))
	return nil
}

func (r *Real) StreamingState() StreamingState {
	return StreamingState(atomic.LoadInt32(&r.st.streamingState))
}

func (r *Real) SetAvailMin(frames int) error {
	r.st.availMin = int64(frames)
	return nil
}

func (r *Real) GetAreas() ([]area.Area, error) { return r.areas, nil }

func (r *Real) PeriodSize() int     { return int(r.st.periodSize) }
func (r *Real) NumPeriods() int     { return int(r.st.numPeriods) }
func (r *Real) NumChannels() int    { return int(r.st.numChannels) }
func (r *Real) Format() area.Format { return area.Format(r.st.dataFormat) }
func (r *Real) BufferLevel() int    { return int(r.st.bufferLevel) }
func (r *Real) HwPtrRead() int64    { return r.st.hwPtrRead }
func (r *Real) HwPtrWrite() int64   { return r.st.hwPtrWrite }
func (r *Real) Boundary() int64     { return r.st.boundary }
func (r *Real) ReadOffset() int64   { return r.st.readOffset }
func (r *Real) WriteOffset() int64  { return r.st.writeOffset }
func (r *Real) DeviceType() DeviceType {
	return DeviceType(r.st.deviceType)
}

var _ RingBuffer = (*Real)(nil)
