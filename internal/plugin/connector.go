// Package plugin implements the plugin connector of spec.md §4.10: the
// client-side lifecycle (init, HW-constraints translation, parameter
// negotiation, start/stop/drain, the transfer loop, frame-pointer and
// poll-event queries) that sits behind whatever C-linkage surface the
// host audio framework requires. That C surface itself -- the
// framework's plugin loader, its callback signatures, and the shape of
// its own HW-constraints struct -- is out of scope per spec.md §1; a
// thin cgo shim (cmd/smartx-plugin) is the only place that would ever
// need to know it, translating to and from the types this package
// exports.
package plugin

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/connection"
	"github.com/ias-audio/smartx-bridge/internal/fdsignal"
	"github.com/ias-audio/smartx-bridge/internal/ipc"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// Direction is the stream direction a connector was opened for.
type Direction int

const (
	Playback Direction = iota
	Capture
)

// State is the connector's fault state, per spec.md §4.10's transferJob.
type State int32

const (
	StateNormal State = iota
	StateXRun
)

const maxNameLen = 256

// Connector is the plugin-side object of spec.md §4.10.
type Connector struct {
	log *log.Logger

	deviceName string
	fullName   string
	direction  Direction
	nonBlock   bool

	conn   *connection.Connection
	params ipc.SetParameters

	hostAreas []area.Area

	fdSig      *fdsignal.Signal
	lockFile   *os.File
	timeoutMs  int
	state      int32 // State, atomic
	rest       int   // partial-period tail left by the last transfer

	rbFactory *ringbuffer.Factory
}

// fullyQualifiedName builds spec.md §4.10's "config name with ':'
// replaced by '_', suffixed with '_p' for playback or '_c' for capture".
func fullyQualifiedName(name string, dir Direction) string {
	clean := strings.ReplaceAll(name, ":", "_")
	if dir == Playback {
		return clean + "_p"
	}
	return clean + "_c"
}

// Init is spec.md §4.10's init(name, stream_direction, mode).
func Init(paths config.Paths, rbFactory *ringbuffer.Factory, name string, dir Direction, nonBlock bool) (*Connector, error) {
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: device name too long", xerr.ErrInvalidParam)
	}

	full := fullyQualifiedName(name, dir)
	c := &Connector{
		deviceName: name,
		fullName:   full,
		direction:  dir,
		nonBlock:   nonBlock,
		rbFactory:  rbFactory,
	}
	c.log = logctx.For("plugin." + full)

	lockFile, err := openOnceLock(paths.LockDir, full)
	if err != nil {
		return nil, err
	}
	c.lockFile = lockFile

	conn, err := connection.FindConnection(paths, rbFactory, full)
	if err != nil {
		c.releaseLock()
		return nil, err
	}
	c.conn = conn

	sig, err := fdsignal.Open(paths.RuntimeDir+"/"+config.SanitizeName(full), false)
	if err != nil {
		c.releaseLock()
		return nil, err
	}
	c.fdSig = sig

	if dir == Playback && nonBlock {
		if rb, rerr := conn.VerifyAndGetRingBuffer(ringbuffer.Params{}); rerr == nil {
			_ = rb.SetStreamingState(ringbuffer.StopRead)
		}
	}

	return c, nil
}

// openOnceLock implements spec.md §4.10 step 3's open-once contract: a
// non-blocking POSIX advisory lock whose payload is the holder's pid, so
// a stale lock owned by the same pid that somehow still holds the lock
// (rather than having been released on process exit) is detectable.
func openOnceLock(lockDir, fullName string) (*os.File, error) {
	path := lockDir + "/" + fullName + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock %s: %v", xerr.ErrBusy, path, err)
	}

	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk); err != nil {
		f.Close()
		if err == unix.EACCES || err == unix.EAGAIN {
			return nil, fmt.Errorf("%w: device already open elsewhere", xerr.ErrBusy)
		}
		return nil, err
	}

	var buf [4]byte
	n, _ := f.ReadAt(buf[:], 0)
	pid := os.Getpid()
	if n == 4 {
		prev := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16 | int(buf[3])<<24
		if prev == pid {
			f.Close()
			return nil, fmt.Errorf("%w: device already open in this process", xerr.ErrBusy)
		}
	}

	buf[0] = byte(pid)
	buf[1] = byte(pid >> 8)
	buf[2] = byte(pid >> 16)
	buf[3] = byte(pid >> 24)
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (c *Connector) releaseLock() {
	if c.lockFile == nil {
		return
	}
	_ = c.lockFile.Truncate(0)
	_ = unix.FcntlFlock(c.lockFile.Fd(), unix.F_SETLK, &unix.Flock_t{Type: unix.F_UNLCK})
	_ = c.lockFile.Close()
	c.lockFile = nil
}

// PollFd exposes the FD signal's descriptor for the framework's poll
// set, per spec.md §4.10 step 4.
func (c *Connector) PollFd() int { return c.fdSig.Fd() }

func (c *Connector) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }
func (c *Connector) loadState() State { return State(atomic.LoadInt32(&c.state)) }
