package xerr

import "errors"

// Negerrno maps an internal sentinel error to the negative errno the host
// framework expects at a plugin callback boundary. Internal code never
// works in errno space; only internal/plugin and the cmd/ cgo shims
// call this.
func Negerrno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrXRun), errors.Is(err, ErrSuspended):
		return -EPIPE
	case errors.Is(err, ErrTimeout):
		return -EAGAIN
	case errors.Is(err, ErrNotInitialised), errors.Is(err, ErrNotFound):
		return -EBADFD
	case errors.Is(err, ErrInvalidParam):
		return -EINVAL
	case errors.Is(err, ErrBusy):
		return -EBUSY
	default:
		return -EIO
	}
}

// Deliberately not importing syscall here: the errno values used in the
// plugin<->framework contract are fixed Linux constants regardless of the
// build's GOOS, since the framework side is always the Linux host stack.
const (
	EPIPE  = 32
	EAGAIN = 11
	EBADFD = 77
	EINVAL = 22
	EIO    = 5
	EBUSY  = 16
)
