// Package procsync provides a process-shared, robust mutex and a
// process-shared, monotonic-clock condition variable, per spec.md §4.1.
// These are the two primitives every other shared-memory structure in
// this repository (ring buffer, IPC queue) is built on.
//
// Go has no native PTHREAD_PROCESS_SHARED support, so this package is
// one of the few places in the repository that reaches for cgo to speak
// the host platform's C ABI directly. The mutex and condvar are plain
// pthread objects placed in shared memory by internal/shm; this package
// only knows how to initialise, use, and tear them down in place --
// never where the memory comes from.
package procsync

/*
#include <pthread.h>
#include <time.h>
#include <errno.h>
#include <string.h>

static int init_shared_mutex(pthread_mutex_t *m) {
	pthread_mutexattr_t attr;
	int rc = pthread_mutexattr_init(&attr);
	if (rc != 0) return rc;
	rc = pthread_mutexattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) goto done;
	rc = pthread_mutexattr_setrobust(&attr, PTHREAD_MUTEX_ROBUST);
	if (rc != 0) goto done;
	#ifdef PTHREAD_PRIO_INHERIT
	pthread_mutexattr_setprotocol(&attr, PTHREAD_PRIO_INHERIT);
	#endif
	rc = pthread_mutex_init(m, &attr);
done:
	pthread_mutexattr_destroy(&attr);
	return rc;
}

static int init_shared_cond(pthread_cond_t *c) {
	pthread_condattr_t attr;
	int rc = pthread_condattr_init(&attr);
	if (rc != 0) return rc;
	rc = pthread_condattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) goto done;
	rc = pthread_condattr_setclock(&attr, CLOCK_MONOTONIC);
	if (rc != 0) goto done;
	rc = pthread_cond_init(c, &attr);
done:
	pthread_condattr_destroy(&attr);
	return rc;
}

static int cond_timedwait_monotonic(pthread_cond_t *c, pthread_mutex_t *m, long timeout_ms) {
	struct timespec ts;
	clock_gettime(CLOCK_MONOTONIC, &ts);
	ts.tv_sec  += timeout_ms / 1000;
	ts.tv_nsec += (timeout_ms % 1000) * 1000000L;
	if (ts.tv_nsec >= 1000000000L) {
		ts.tv_nsec -= 1000000000L;
		ts.tv_sec++;
	}
	return pthread_cond_timedwait(c, m, &ts);
}
*/
import "C"

import (
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// SizeofMutex and SizeofCond let internal/shm size an allocation that
// will hold one of these in place.
const (
	SizeofMutex = C.sizeof_pthread_mutex_t
	SizeofCond  = C.sizeof_pthread_cond_t
)

// Mutex is a robust, process-shared, priority-inheriting mutex living at
// a caller-supplied address (normally inside a shared-memory region).
type Mutex struct {
	ptr   *C.pthread_mutex_t
	ready bool
}

// InitMutexAt constructs the pthread object in place. addr must point at
// at least SizeofMutex bytes that will remain valid and shared for the
// mutex's lifetime.
func InitMutexAt(addr unsafe.Pointer) (*Mutex, error) {
	m := &Mutex{ptr: (*C.pthread_mutex_t)(addr)}
	if rc := C.init_shared_mutex(m.ptr); rc != 0 {
		return nil, xerr.ErrMutexLockFailed
	}
	m.ready = true
	return m, nil
}

// AttachMutexAt binds to a mutex a peer process already initialised at
// addr (the usual client-side "connect" path).
func AttachMutexAt(addr unsafe.Pointer) *Mutex {
	return &Mutex{ptr: (*C.pthread_mutex_t)(addr), ready: true}
}

// Lock acquires the mutex, repairing it transparently if the previous
// owner died holding it (spec.md §4.1: "mark it consistent and
// immediately unlock and re-acquire; if repair fails, lock fails with
// MutexLockFailed").
func (m *Mutex) Lock() error {
	if !m.ready {
		return xerr.ErrNotInitialised
	}
	rc := C.pthread_mutex_lock(m.ptr)
	if rc == C.int(C.EOWNERDEAD) {
		if crc := C.pthread_mutex_consistent(m.ptr); crc != 0 {
			C.pthread_mutex_unlock(m.ptr)
			return xerr.ErrMutexLockFailed
		}
		C.pthread_mutex_unlock(m.ptr)
		rc = C.pthread_mutex_lock(m.ptr)
	}
	if rc != 0 {
		return xerr.ErrMutexLockFailed
	}
	return nil
}

// TryLock attempts a non-blocking lock, applying the same robust-mutex
// repair policy as Lock.
func (m *Mutex) TryLock() (bool, error) {
	if !m.ready {
		return false, xerr.ErrNotInitialised
	}
	rc := C.pthread_mutex_trylock(m.ptr)
	if rc == C.int(C.EOWNERDEAD) {
		if crc := C.pthread_mutex_consistent(m.ptr); crc != 0 {
			C.pthread_mutex_unlock(m.ptr)
			return false, xerr.ErrMutexLockFailed
		}
		return true, nil
	}
	if rc == C.int(C.EBUSY) {
		return false, nil
	}
	if rc != 0 {
		return false, xerr.ErrMutexLockFailed
	}
	return true, nil
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() error {
	if !m.ready {
		return xerr.ErrNotInitialised
	}
	if rc := C.pthread_mutex_unlock(m.ptr); rc != 0 {
		return xerr.ErrMutexLockFailed
	}
	return nil
}

// Addr exposes the raw pointer, e.g. so a Cond can be told which mutex
// it pairs with at the C level.
func (m *Mutex) Addr() unsafe.Pointer { return unsafe.Pointer(m.ptr) }

// Cond is a process-shared condition variable backed by CLOCK_MONOTONIC,
// so timeouts are immune to wall-clock jumps (spec.md §4.1).
type Cond struct {
	ptr     *C.pthread_cond_t
	ready   bool
	initErr error
}

// InitCondAt constructs the pthread condvar object in place.
func InitCondAt(addr unsafe.Pointer) (*Cond, error) {
	c := &Cond{ptr: (*C.pthread_cond_t)(addr)}
	if rc := C.init_shared_cond(c.ptr); rc != 0 {
		c.initErr = xerr.ErrCondWaitFailed
		return c, c.initErr
	}
	c.ready = true
	return c, nil
}

// AttachCondAt binds to a condvar a peer process already initialised.
func AttachCondAt(addr unsafe.Pointer) *Cond {
	return &Cond{ptr: (*C.pthread_cond_t)(addr), ready: true}
}

// Wait blocks on the condvar until signalled. Initialisation failures
// are latched and returned from every method, per spec.md §4.1.
func (c *Cond) Wait(m *Mutex) error {
	if c.initErr != nil {
		return c.initErr
	}
	if !c.ready || !m.ready {
		return xerr.ErrNotInitialised
	}
	if rc := C.pthread_cond_wait(c.ptr, m.ptr); rc != 0 {
		return xerr.ErrCondWaitFailed
	}
	return nil
}

// WaitTimeout waits up to timeoutMs, converting the caller's relative
// timeout into the condvar's CLOCK_MONOTONIC epoch. Returns (true, nil)
// on timeout, per spec.md §4.1's Ok/Timeout/CondWaitFailed trichotomy.
func (c *Cond) WaitTimeout(m *Mutex, timeoutMs int) (timedOut bool, err error) {
	if c.initErr != nil {
		return false, c.initErr
	}
	if !c.ready || !m.ready {
		return false, xerr.ErrNotInitialised
	}
	rc := C.cond_timedwait_monotonic(c.ptr, m.ptr, C.long(timeoutMs))
	switch rc {
	case 0:
		return false, nil
	case C.int(C.ETIMEDOUT):
		return true, nil
	default:
		return false, xerr.ErrCondWaitFailed
	}
}

// Signal wakes one waiter.
func (c *Cond) Signal() error {
	if c.initErr != nil {
		return c.initErr
	}
	if !c.ready {
		return xerr.ErrNotInitialised
	}
	if rc := C.pthread_cond_signal(c.ptr); rc != 0 {
		return xerr.ErrCondWaitFailed
	}
	return nil
}

// Destroy reinitialises the condvar before destroying it, so a
// destruction can never block on a waiter referenced from a dead peer
// (spec.md §4.1's destruction policy).
func (c *Cond) Destroy() error {
	if !c.ready {
		return nil
	}
	if rc := C.init_shared_cond(c.ptr); rc != 0 {
		c.ready = false
		return xerr.ErrCondWaitFailed
	}
	C.pthread_cond_destroy(c.ptr)
	c.ready = false
	return nil
}

// DestroyMutex releases the pthread mutex's resources.
func DestroyMutex(m *Mutex) {
	if m.ready {
		C.pthread_mutex_destroy(m.ptr)
		m.ready = false
	}
}
