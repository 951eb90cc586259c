package shm

import (
	"fmt"
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

func ptrAt(data []byte, offset int) unsafe.Pointer {
	return unsafe.Pointer(&data[offset])
}

func alignUp(off, align int) int {
	if align <= 1 {
		return off
	}
	return (off + align - 1) &^ (align - 1)
}

// Allocate reserves size bytes at the given alignment from the region's
// bump heap and returns their offset. It is the raw primitive beneath
// the typed helpers below.
func (r *Region) Allocate(alignment, size int) (offset int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := alignUp(int(r.hdr.bumpOffset), alignment)
	end := start + size
	if end > r.total {
		return 0, xerr.ErrMemory
	}
	r.hdr.bumpOffset = uint64(end)
	return start, nil
}

func (r *Region) putDirEntry(name string, offset, size, count int) error {
	if name == "" {
		return nil
	}
	if int(r.hdr.numObjects) >= maxObjects {
		return xerr.ErrMemory
	}
	if len(name) >= nameLen {
		return xerr.ErrInvalidParam
	}
	e := &r.hdr.objects[r.hdr.numObjects]
	copy(e.name[:], name)
	e.offset = uint64(offset)
	e.size = uint64(size)
	e.count = uint64(count)
	r.hdr.numObjects++
	return nil
}

func (r *Region) lookup(name string) (offset, size, count int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < int(r.hdr.numObjects); i++ {
		e := &r.hdr.objects[i]
		n := clen(e.name[:])
		if string(e.name[:n]) == name {
			return int(e.offset), int(e.size), int(e.count), true
		}
	}
	return 0, 0, 0, false
}

func clen(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

// AllocateBytes reserves size raw bytes at the given alignment, optionally
// under a name, for callers that need alignment control AllocateT's
// per-T alignment can't express (e.g. spec.md §4.7's 16-byte-aligned PCM
// data area).
func (r *Region) AllocateBytes(name string, size, alignment int) (*byte, error) {
	off, err := r.Allocate(alignment, size)
	if err != nil {
		return nil, err
	}
	if err := r.putDirEntry(name, off, size, size); err != nil {
		return nil, err
	}
	return (*byte)(ptrAt(r.data, off)), nil
}

// AllocateT reserves count contiguous T's, optionally under a name
// ("" for anonymous), matching spec.md §4.3's
// "allocate<T>(name, count) and allocate<T>(count)".
func AllocateT[T any](r *Region, name string, count int) (*T, error) {
	var zero T
	sz := int(unsafe.Sizeof(zero)) * count
	align := int(unsafe.Alignof(zero))
	off, err := r.Allocate(align, sz)
	if err != nil {
		return nil, err
	}
	if err := r.putDirEntry(name, off, sz, count); err != nil {
		return nil, err
	}
	return (*T)(ptrAt(r.data, off)), nil
}

// FindT locates a previously-allocated, named typed object, per
// spec.md §4.3's find<T>(name).
func FindT[T any](r *Region, name string) (*T, int, error) {
	off, _, count, ok := r.lookup(name)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", xerr.ErrNotFound, name)
	}
	return (*T)(ptrAt(r.data, off)), count, nil
}

// Deallocate removes a name from the directory. The bump heap is never
// reclaimed (documented limitation: this allocator only grows within a
// region's lifetime; whole-region teardown is the only real reclaim
// path, matching the server's "ring buffer content lives until server
// deletes the buffer" lifecycle in spec.md's data model).
func (r *Region) Deallocate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int(r.hdr.numObjects)
	for i := 0; i < n; i++ {
		e := &r.hdr.objects[i]
		if string(e.name[:clen(e.name[:])]) == name {
			r.hdr.objects[i] = r.hdr.objects[n-1]
			r.hdr.objects[n-1] = directoryEntry{}
			r.hdr.numObjects--
			return nil
		}
	}
	return fmt.Errorf("%w: %s", xerr.ErrNotFound, name)
}
