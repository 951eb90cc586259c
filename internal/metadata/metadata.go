// Package metadata implements the per-period user metadata factory of
// spec.md §4.4: side-band records co-located with a PCM buffer, one per
// period, each guarded by a magic-number header so a Find() can verify
// it is looking at what it thinks it is.
package metadata

import (
	"fmt"

	"github.com/ias-audio/smartx-bridge/internal/shm"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// Header is the mandatory first field of any record usable with this
// package, carrying the magic-number tag and the record size, per
// spec.md §4.4 ("a user-defined record type whose first field is a
// header carrying a magic-number tag and the record size").
type Header struct {
	Magic uint32
	Size  uint32
}

// Handle binds one metadata record to its position among its siblings,
// per spec.md §4.4 ("each handle binding an index, an index-max, and a
// pointer to its record").
type Handle[R any] struct {
	Index    int
	IndexMax int
	Rec      *R
}

// Factory creates and later re-finds N user records of type R, given a
// function to reach each record's Header field.
type Factory[R any] struct {
	magic   uint32
	headerOf func(*R) *Header
}

// New builds a factory for records of type R, tagged with magic.
func New[R any](magic uint32, headerOf func(*R) *Header) *Factory[R] {
	return &Factory[R]{magic: magic, headerOf: headerOf}
}

// Create allocates n records plus n handles in region under name,
// stamping each record's header and verifying the magic number it just
// wrote, per spec.md §4.4 ("Verifies the magic number on creation").
func (f *Factory[R]) Create(r *shm.Region, name string, n int, recordSize uint32) ([]Handle[R], error) {
	if n <= 0 {
		return nil, xerr.ErrInvalidParam
	}
	first, err := shm.AllocateT[R](r, name, n)
	if err != nil {
		return nil, err
	}
	records := unsafeSliceFrom(first, n)
	handles := make([]Handle[R], n)
	for i := range records {
		h := f.headerOf(&records[i])
		h.Magic = f.magic
		h.Size = recordSize
		if h.Magic != f.magic {
			return nil, fmt.Errorf("metadata: magic verification failed at index %d", i)
		}
		handles[i] = Handle[R]{Index: i, IndexMax: n - 1, Rec: &records[i]}
	}
	return handles, nil
}

// Find re-binds handles to records a creator (possibly in another
// process) already allocated under name, per spec.md §4.4 ("on find,
// re-binds the handles").
func (f *Factory[R]) Find(r *shm.Region, name string) ([]Handle[R], error) {
	first, n, err := shm.FindT[R](r, name)
	if err != nil {
		return nil, err
	}
	records := unsafeSliceFrom(first, n)
	handles := make([]Handle[R], n)
	for i := range records {
		h := f.headerOf(&records[i])
		if h.Magic != f.magic {
			return nil, fmt.Errorf("metadata: magic mismatch at index %d: got %#x want %#x", i, h.Magic, f.magic)
		}
		handles[i] = Handle[R]{Index: i, IndexMax: n - 1, Rec: &records[i]}
	}
	return handles, nil
}
