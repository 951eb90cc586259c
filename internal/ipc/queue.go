package ipc

import (
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/procsync"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// Depth is the queue's fixed capacity, per spec.md §4.8's "fixed-
// capacity lock-free queue of containers" and §6's default of 100 slots.
const Depth = 100

// queueState is the part of a Queue that lives in shared memory.
// Head/tail/count are only ever touched under mutex, so despite the
// spec calling this queue "lock-free" in its source framework, the
// process-shared mutex this package already depends on for the condvar
// pairing is reused to guard them rather than hand-rolling a lock-free
// ring with atomics across a shared-memory boundary Go's memory model
// does not give clear guarantees over.
type queueState struct {
	head  int64
	tail  int64
	count int64

	stashValid int32
	stash      Container

	slots [Depth]Container

	mutex [procsync.SizeofMutex]byte
	cond  [procsync.SizeofCond]byte
}

// Queue is the IPC command channel of spec.md §4.8.
type Queue struct {
	st   *queueState
	mu   *procsync.Mutex
	cond *procsync.Cond
}

// StateSize lets the caller (the connection layer, per spec.md §4.9) size
// a shared-memory allocation that will hold one Queue.
func StateSize() int { return int(unsafe.Sizeof(queueState{})) }

// InitQueue constructs a fresh queue in place at addr.
func InitQueue(addr unsafe.Pointer) (*Queue, error) {
	st := (*queueState)(addr)
	*st = queueState{}
	q := &Queue{st: st}
	var err error
	if q.mu, err = procsync.InitMutexAt(unsafe.Pointer(&st.mutex[0])); err != nil {
		return nil, err
	}
	if q.cond, err = procsync.InitCondAt(unsafe.Pointer(&st.cond[0])); err != nil {
		return nil, err
	}
	return q, nil
}

// AttachQueue binds to a queue a peer process already initialised.
func AttachQueue(addr unsafe.Pointer) *Queue {
	st := (*queueState)(addr)
	return &Queue{
		st:   st,
		mu:   procsync.AttachMutexAt(unsafe.Pointer(&st.mutex[0])),
		cond: procsync.AttachCondAt(unsafe.Pointer(&st.cond[0])),
	}
}

// Push serialises record and enqueues it, signalling one waiter on
// success, per spec.md §4.8's push operation.
func Push[T any](q *Queue, record T) error {
	c, err := Encode(record)
	if err != nil {
		return err
	}
	if err := q.mu.Lock(); err != nil {
		return err
	}
	if q.st.count >= Depth {
		q.mu.Unlock()
		return xerr.ErrBufferFull
	}
	q.st.slots[q.st.tail] = c
	q.st.tail = (q.st.tail + 1) % Depth
	q.st.count++
	_ = q.cond.Signal()
	q.mu.Unlock()
	return nil
}

// dequeueLocked pops the next container off the ring. Caller holds mu.
func (q *Queue) dequeueLocked() (Container, bool) {
	if q.st.count == 0 {
		return Container{}, false
	}
	c := q.st.slots[q.st.head]
	q.st.head = (q.st.head + 1) % Depth
	q.st.count--
	return c, true
}

// PopNoblock implements spec.md §4.8's pop_noblock<T>: a prefetched
// (stashed) container is tried first; otherwise one is dequeued and its
// CRC verified. A tag mismatch stashes the container for the next call.
func PopNoblock[T any](q *Queue, out *T) error {
	if err := q.mu.Lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()

	var c Container
	if q.st.stashValid != 0 {
		c = q.st.stash
		q.st.stashValid = 0
	} else {
		raw, ok := q.dequeueLocked()
		if !ok {
			return xerr.ErrEmpty
		}
		if !raw.VerifyCRC() {
			return xerr.ErrCRC
		}
		c = raw
	}

	if err := Decode(&c, out); err != nil {
		q.st.stash = c
		q.st.stashValid = 1
		return xerr.ErrInvalidParam
	}
	return nil
}

// packagesAvailable reports whether Pop would find something without
// blocking, per spec.md §4.8's pop/pop_timed_wait wait condition.
func (q *Queue) packagesAvailable() bool {
	return q.st.stashValid != 0 || q.st.count > 0
}

// Pop blocks until a container is available, then behaves like
// PopNoblock, per spec.md §4.8.
func Pop[T any](q *Queue, out *T) error {
	if err := q.mu.Lock(); err != nil {
		return err
	}
	for !q.packagesAvailable() {
		if err := q.cond.Wait(q.mu); err != nil {
			q.mu.Unlock()
			return err
		}
	}
	q.mu.Unlock()
	return PopNoblock(q, out)
}

// PopTimedWait is Pop with a deadline, per spec.md §4.8's
// pop_timed_wait<T>(timeout_ms).
func PopTimedWait[T any](q *Queue, out *T, timeoutMs int) error {
	if err := q.mu.Lock(); err != nil {
		return err
	}
	for !q.packagesAvailable() {
		timedOut, err := q.cond.WaitTimeout(q.mu, timeoutMs)
		if err != nil {
			q.mu.Unlock()
			return err
		}
		if timedOut {
			q.mu.Unlock()
			return xerr.ErrTimeout
		}
	}
	q.mu.Unlock()
	return PopNoblock(q, out)
}

// Peek returns the next container's tag without consuming it, per
// spec.md §4.8's diagnostic operations.
func (q *Queue) Peek() (tag uint32, ok bool) {
	if err := q.mu.Lock(); err != nil {
		return 0, false
	}
	defer q.mu.Unlock()
	if q.st.stashValid != 0 {
		return q.st.stash.Tag, true
	}
	if q.st.count == 0 {
		return 0, false
	}
	return q.st.slots[q.st.head].Tag, true
}

// GetNextId is Peek without the bool, returning TagInvalid when there is
// nothing to look at.
func (q *Queue) GetNextId() uint32 {
	tag, ok := q.Peek()
	if !ok {
		return TagInvalid
	}
	return tag
}

// DiscardNext drops the next container (stashed or queued) without
// decoding it.
func (q *Queue) DiscardNext() error {
	if err := q.mu.Lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()
	if q.st.stashValid != 0 {
		q.st.stashValid = 0
		return nil
	}
	if _, ok := q.dequeueLocked(); !ok {
		return xerr.ErrEmpty
	}
	return nil
}

// DiscardAll empties the queue, including any stashed container, per
// the resolution of spec.md's open question in SPEC_FULL.md §C.
func (q *Queue) DiscardAll() error {
	if err := q.mu.Lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()
	q.st.head = 0
	q.st.tail = 0
	q.st.count = 0
	q.st.stashValid = 0
	q.st.stash = Container{}
	return nil
}
