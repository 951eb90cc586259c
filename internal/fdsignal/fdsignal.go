// Package fdsignal implements the FD signal of spec.md §4.2: a named
// FIFO under a well-known runtime directory providing a one-bit
// level-change edge from server to client, consumed by the client's
// poll loop so that a cross-process wait can satisfy the host
// framework's poll()/snd_pcm_wait() contract.
package fdsignal

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var log = logctx.For("fdsignal")

// Signal is one named FIFO side channel.
type Signal struct {
	path        string
	fd          int
	eagainTimes int
}

// Create creates the FIFO if missing, or chowns an existing one and
// continues, per spec.md §4.2. Only the server calls Create; it fails
// if the runtime directory is absent.
func Create(runtimeDir, name, group string) (string, error) {
	path := runtimeDir + "/" + config.SanitizeName(name)

	err := unix.Mkfifo(path, 0660)
	switch {
	case err == nil:
		// created fresh
	case err == unix.EEXIST:
		// fall through to chown below
	case err == unix.ENOENT:
		return "", fmt.Errorf("fdsignal: runtime dir %s absent: %w", runtimeDir, err)
	default:
		return "", fmt.Errorf("fdsignal: mkfifo %s: %w", path, err)
	}

	if group != "" {
		gid, gerr := lookupGroupID(group)
		if gerr == nil {
			_ = unix.Chown(path, -1, gid)
		}
	}
	_ = unix.Chmod(path, 0660)
	return path, nil
}

// Open opens the FIFO non-blocking. Writers open O_RDWR so open never
// fails for lack of a reader and EPIPE is avoided; readers open
// O_RDONLY, per spec.md §4.2.
func Open(path string, forWrite bool) (*Signal, error) {
	flags := unix.O_NONBLOCK
	if forWrite {
		flags |= unix.O_RDWR
	} else {
		flags |= unix.O_RDONLY
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("fdsignal: open %s: %w", path, err)
	}
	return &Signal{path: path, fd: fd}, nil
}

// Fd exposes the underlying file descriptor for inclusion in the host
// framework's poll set.
func (s *Signal) Fd() int { return s.fd }

// Write pushes one byte. EAGAIN (pipe full / no reader) is not an
// error: it is logged once, then suppressed, per spec.md §4.2 and the
// open question in §9 about whether to escalate after N consecutive
// coercions -- this implementation does not escalate, but does count
// occurrences so a future revision can.
func (s *Signal) Write() error {
	one := [1]byte{1}
	_, err := unix.Write(s.fd, one[:])
	if err == nil {
		s.eagainTimes = 0
		return nil
	}
	if err == unix.EAGAIN {
		s.eagainTimes++
		if logctx.Throttle("fdsignal-eagain:"+s.path, 1) && s.eagainTimes == 1 {
			log.Debug("signal write would block, no reader or pipe full", "path", s.path)
		}
		return nil
	}
	log.Error("signal write failed", "path", s.path, "err", err)
	return fmt.Errorf("fdsignal: write %s: %w", s.path, err)
}

// Read drains the FIFO in a loop until a read returns less than one
// byte, per spec.md §4.2.
func (s *Signal) Read() error {
	var buf [64]byte
	for {
		n, err := unix.Read(s.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return fmt.Errorf("fdsignal: read %s: %w", s.path, err)
		}
		if n < 1 {
			return nil
		}
	}
}

// Close closes the fd (the FIFO's directory entry survives until the
// server removes it).
func (s *Signal) Close() error {
	if s == nil || s.fd == 0 {
		return nil
	}
	return unix.Close(s.fd)
}

// Remove unlinks the FIFO's directory entry; only the server calls this
// on teardown.
func Remove(path string) error {
	if path == "" {
		return xerr.ErrInvalidParam
	}
	return unix.Unlink(path)
}
