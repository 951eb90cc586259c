// Command smartx-rate-plugin is the cgo-linkage boundary for the host
// framework's rate-conversion plugin slot (spec.md §4.14). Like
// cmd/smartx-plugin, the framework's own callback signatures are out of
// scope; every exported function here translates into internal/src's
// pure-Go Wrapper API.
package main

import "C"

import (
	"unsafe"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/src"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var (
	open   = map[int]*src.Wrapper{}
	nextID int
)

// cAreas describes a conventional interleaved PCM buffer of numChannels
// channels in the given format as an area.Area per channel.
func cAreas(base unsafe.Pointer, numChannels int, f area.Format) []area.Area {
	stepBits := f.SampleSize() * 8 * numChannels
	areas := make([]area.Area, numChannels)
	for ch := range areas {
		areas[ch] = area.Area{Base: base, FirstBit: ch * f.SampleSize() * 8, StepBits: stepBits, Channel: ch, MaxIndex: numChannels - 1}
	}
	return areas
}

//export smartx_rate_plugin_open
func smartx_rate_plugin_open(
	srcBase, dstBase unsafe.Pointer,
	srcFmt, dstFmt C.int,
	srcRate, dstRate, channels, startChannel C.int,
) C.int {
	sFmt := area.Format(srcFmt)
	dFmt := area.Format(dstFmt)
	total := int(channels) + int(startChannel)
	srcAreas := cAreas(srcBase, total, sFmt)
	dstAreas := cAreas(dstBase, total, dFmt)

	w, err := src.Init(srcAreas, dstAreas, sFmt, dFmt, int(srcRate), int(dstRate), int(channels), int(startChannel))
	if err != nil {
		return C.int(xerr.Negerrno(err))
	}
	nextID++
	id := nextID
	open[id] = w
	return C.int(id)
}

//export smartx_rate_plugin_process
func smartx_rate_plugin_process(handle C.int, dstOffset, srcOffset, numOut C.int, consumedOut *C.int) C.int {
	w, ok := open[int(handle)]
	if !ok {
		return C.int(-xerr.EBADFD)
	}
	consumed, err := w.Process(int(dstOffset), int(srcOffset), int(numOut))
	*consumedOut = C.int(consumed)
	if err != nil {
		return C.int(xerr.Negerrno(err))
	}
	return 0
}

//export smartx_rate_plugin_close
func smartx_rate_plugin_close(handle C.int) C.int {
	if _, ok := open[int(handle)]; !ok {
		return C.int(-xerr.EBADFD)
	}
	delete(open, int(handle))
	return 0
}

func main() {}
