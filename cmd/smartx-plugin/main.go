// Command smartx-plugin is the cgo-linkage boundary for the host audio
// framework's plugin loader. It exists to document the //export surface
// a real build would need; the framework's own callback signatures and
// HW-constraints struct are out of scope for this module (see
// internal/plugin's package doc), so every exported function here is a
// thin translation into internal/plugin's pure-Go API.
package main

import "C"

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/plugin"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var (
	paths     = config.Default()
	rbFactory = ringbuffer.NewFactory(paths)
	open      = map[int]*plugin.Connector{}
	nextID    int
)

//export smartx_plugin_open
func smartx_plugin_open(cName *C.char, capture C.int, nonBlock C.int) C.int {
	name := C.GoString(cName)
	dir := plugin.Playback
	if capture != 0 {
		dir = plugin.Capture
	}
	c, err := plugin.Init(paths, rbFactory, name, dir, nonBlock != 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "smartx-plugin: open:", err)
		return C.int(xerr.Negerrno(err))
	}
	nextID++
	id := nextID
	open[id] = c
	return C.int(id)
}

//export smartx_plugin_close
func smartx_plugin_close(handle C.int) C.int {
	c, ok := open[int(handle)]
	if !ok {
		return C.int(-xerr.EBADFD)
	}
	delete(open, int(handle))
	return C.int(xerr.Negerrno(c.Close()))
}

//export smartx_plugin_poll_fd
func smartx_plugin_poll_fd(handle C.int) C.int {
	c, ok := open[int(handle)]
	if !ok {
		return -1
	}
	return C.int(c.PollFd())
}

//export smartx_plugin_start
func smartx_plugin_start(handle C.int) C.int {
	c, ok := open[int(handle)]
	if !ok {
		return C.int(-xerr.EBADFD)
	}
	return C.int(xerr.Negerrno(c.Start()))
}

//export smartx_plugin_stop
func smartx_plugin_stop(handle C.int) C.int {
	c, ok := open[int(handle)]
	if !ok {
		return C.int(-xerr.EBADFD)
	}
	return C.int(xerr.Negerrno(c.Stop()))
}

//export smartx_plugin_drain
func smartx_plugin_drain(handle C.int) C.int {
	c, ok := open[int(handle)]
	if !ok {
		return C.int(-xerr.EBADFD)
	}
	return C.int(xerr.Negerrno(c.Drain()))
}

//export smartx_plugin_get_path_delay
func smartx_plugin_get_path_delay(handle C.int, framesOut *C.int) C.int {
	c, ok := open[int(handle)]
	if !ok {
		return C.int(-xerr.EBADFD)
	}
	frames, err := c.GetPathDelay()
	if err != nil {
		return C.int(xerr.Negerrno(err))
	}
	*framesOut = C.int(frames)
	return 0
}

func main() {
	_ = unsafe.Pointer(nil) // keep cgo pointer-passing rules in scope for future callback plumbing
}
