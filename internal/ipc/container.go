// Package ipc implements the command channel of spec.md §4.8: a
// fixed-capacity queue of fixed-width message containers living in
// shared memory, guarded by a process-shared mutex and condvar, used to
// carry the handshake vocabulary (GetLatency/Start/Pause/Resume/
// Stop/Drain/Parameters and their ACK/NAK replies) between a connector
// and its server.
package ipc

import (
	"hash/crc32"
	"reflect"
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// PayloadCap is the message container's compile-time payload capacity,
// per spec.md §6's default of 100 bytes. Every registered record's
// encoded size must fit inside it.
const PayloadCap = 100

// Container is the fixed-width envelope every queue slot holds: a type
// tag, the size actually written, and the CRC32 of (tag, payload[:size]).
type Container struct {
	Tag     uint32
	Size    uint32
	CRC     uint32
	Payload [PayloadCap]byte
}

func crcOf(tag uint32, payload []byte) uint32 {
	h := crc32.NewIEEE()
	var tagBuf [4]byte
	tagBuf[0] = byte(tag)
	tagBuf[1] = byte(tag >> 8)
	tagBuf[2] = byte(tag >> 16)
	tagBuf[3] = byte(tag >> 24)
	h.Write(tagBuf[:])
	h.Write(payload)
	return h.Sum32()
}

var typeToID = map[reflect.Type]uint32{}

// Register associates T with a nonzero compile-time ID, per spec.md
// §4.8's "compile-time type→ID map". More than one type may share an ID
// when they are different encodings of the same logical message (e.g. a
// bare GetLatency request and its int32-carrying reply both travel under
// the GetLatency tag). It panics if id is zero or if T's encoded size
// exceeds PayloadCap -- the nearest Go equivalent of a static assertion,
// since Go cannot fail this at actual compile time.
func Register[T any](id uint32) {
	if id == 0 {
		panic("ipc: tag 0 is reserved for Invalid")
	}
	var zero T
	t := reflect.TypeOf(zero)
	if int(unsafe.Sizeof(zero)) > PayloadCap {
		panic("ipc: " + t.String() + " exceeds payload capacity")
	}
	typeToID[t] = id
}

func idOf[T any]() (uint32, bool) {
	var zero T
	id, ok := typeToID[reflect.TypeOf(zero)]
	return id, ok
}

// Encode serialises record into a fresh Container, per spec.md §4.8's
// push: "payload memcpy, CRC compute".
func Encode[T any](record T) (Container, error) {
	id, ok := idOf[T]()
	if !ok {
		return Container{}, xerr.ErrInvalidParam
	}
	size := int(unsafe.Sizeof(record))
	if size > PayloadCap {
		return Container{}, xerr.ErrSegmentTooLarge
	}
	var c Container
	c.Tag = id
	c.Size = uint32(size)
	src := unsafe.Slice((*byte)(unsafe.Pointer(&record)), size)
	copy(c.Payload[:size], src)
	c.CRC = crcOf(c.Tag, c.Payload[:size])
	return c, nil
}

// VerifyCRC recomputes the CRC over the container's declared size and
// compares, per spec.md §4.8's pop path ("verify CRC; on failure:
// CRCError, container dropped").
func (c *Container) VerifyCRC() bool {
	if c.Size > PayloadCap {
		return false
	}
	return crcOf(c.Tag, c.Payload[:c.Size]) == c.CRC
}

// Decode extracts a T from the container if its tag matches T's
// registered ID, per spec.md §4.8's pop_noblock extraction step. If the
// tag doesn't match, the container is left untouched so the caller can
// stash it.
func Decode[T any](c *Container, out *T) error {
	id, ok := idOf[T]()
	if !ok {
		return xerr.ErrInvalidParam
	}
	if c.Tag != id {
		return xerr.ErrInvalidParam
	}
	size := int(unsafe.Sizeof(*out))
	if int(c.Size) < size {
		size = int(c.Size)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(out)), int(unsafe.Sizeof(*out)))
	copy(dst, c.Payload[:size])
	return nil
}
