// Package shm implements the named shared-memory allocator of spec.md
// §4.3: a fixed-size named region, heap-backed (local) or shm-backed
// (shared), with a small bump-pointer heap and a named-object directory
// so peers can look up previously-allocated objects by name.
//
// Shared memory is a platform-ABI boundary the same way device I/O is,
// so this package leans on golang.org/x/sys/unix
// (open/ftruncate/mmap/fchown) rather than reinventing syscalls.
package shm

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var log = logctx.For("shm")

const (
	maxObjects = 64
	nameLen    = 64
	pageSize   = 4096
)

// directoryEntry describes one named allocation inside a region.
type directoryEntry struct {
	name   [nameLen]byte
	offset uint64
	size   uint64
	count  uint64
}

// header sits at the start of every region's backing bytes, shared or
// local, so Connect-mode peers can find the bump offset and the
// directory without any side-channel.
type header struct {
	bumpOffset uint64
	numObjects uint64
	objects    [maxObjects]directoryEntry
}

var headerSize = int(unsafe.Sizeof(header{}))

// Mode selects how Region.Init treats the name.
type Mode int

const (
	Create Mode = iota
	Connect
)

// Region is one named shared-memory (or heap) block with a bump
// allocator and object directory, per spec.md §4.3.
type Region struct {
	mu     sync.Mutex
	name   string
	path   string // "" for a local (heap-backed) region
	fd     int
	shared bool
	data   []byte
	hdr    *header
	total  int
}

// roundUpPage adds room for the region header (the bookkeeping
// directory) to size and rounds the sum up to a whole number of pages.
func roundUpPage(size int) int {
	return ((size + headerSize + pageSize - 1) / pageSize) * pageSize
}

// NewLocal creates a heap-backed region. Only heap-backed ("local")
// regions exist for process-private use; they never support Connect.
func NewLocal(name string, size int) (*Region, error) {
	total := roundUpPage(size)
	r := &Region{name: name, data: make([]byte, total), total: total}
	r.hdr = (*header)(ptrAt(r.data, 0))
	*r.hdr = header{bumpOffset: uint64(headerSize)}
	return r, nil
}

// NewShared creates or connects to a shm-backed region at
// <shmRoot>/<name>, per spec.md §4.3 and §6.
//
// Creating a shared region first removes any stale one of the same name
// (spec.md §4.3's "creating a shared region first removes any stale one
// with the same name"); Connect never creates and never unlinks.
func NewShared(shmRoot, name string, size int, mode Mode, group string) (*Region, error) {
	path := shmRoot + "/" + name
	switch mode {
	case Create:
		_ = unix.Unlink(path)
		total := roundUpPage(size)
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0660)
		if err != nil {
			return nil, fmt.Errorf("shm: create %s: %w", path, err)
		}
		if err := unix.Ftruncate(fd, int64(total)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
		}
		data, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
		}
		r := &Region{name: name, path: path, fd: fd, shared: true, data: data, total: total}
		r.hdr = (*header)(ptrAt(r.data, 0))
		*r.hdr = header{bumpOffset: uint64(headerSize)}
		if group != "" {
			if err := r.ChangeGroup(group); err != nil {
				log.Warn("could not set shm group", "path", path, "err", err)
			}
		}
		return r, nil

	case Connect:
		fd, err := unix.Open(path, unix.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", xerr.ErrNotFound, path)
		}
		st, err := os.Stat(path)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		total := int(st.Size())
		data, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
		}
		r := &Region{name: name, path: path, fd: fd, shared: true, data: data, total: total}
		r.hdr = (*header)(ptrAt(r.data, 0))
		return r, nil
	}
	return nil, xerr.ErrInvalidParam
}

// Close unmaps (and for shared regions, closes the fd -- the file
// itself is only removed by the creator via Remove).
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shared {
		if err := unix.Munmap(r.data); err != nil {
			return err
		}
		return unix.Close(r.fd)
	}
	return nil
}

// Remove deletes the backing shm file; only the creator should call
// this (spec.md §7: "a stale shared-memory region prevents creation
// until removed (creators always remove first)").
func (r *Region) Remove() error {
	if !r.shared {
		return nil
	}
	return unix.Unlink(r.path)
}

// GetFreeMemory reports bytes remaining in the bump heap.
func (r *Region) GetFreeMemory() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total - int(r.hdr.bumpOffset)
}

// ChangeGroup looks up the named group, chowns and chmods the backing
// file to 0660, per spec.md §4.3. Only meaningful for shared regions.
func (r *Region) ChangeGroup(groupName string) error {
	if !r.shared {
		return xerr.ErrNotAllowed
	}
	gid, err := lookupGroupID(groupName)
	if err != nil {
		return err
	}
	if err := unix.Fchown(r.fd, -1, gid); err != nil {
		return err
	}
	return unix.Fchmod(r.fd, 0660)
}
