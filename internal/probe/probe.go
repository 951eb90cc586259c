// Package probe implements the data probe of spec.md §4.11: an
// optional recorder/injector that can be spliced into any transfer
// path to capture frames to, or replay frames from, per-channel WAV
// files, self-terminating after a configured duration.
package probe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/lestrrat-go/strftime"
	"golang.org/x/sync/errgroup"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var log = logctx.For("probe")

// Mode is the probe's atomic state, per spec.md §4.11's "two modes,
// mutually exclusive, plus an idle mode".
type Mode int32

const (
	Idle Mode = iota
	Recording
	Injecting
)

// StartParams is the parameter bundle spec.md §4.11 lists for both
// startRecording and startInject.
type StartParams struct {
	Prefix            string
	Channels          int
	SampleRate        int
	Format            area.Format
	StartChannel      int
	ProbingBufferSize int
	DurationSeconds   float64
}

type channelFile struct {
	f      *os.File
	frames int64 // frames written (recording) or available (injecting)
	done   int64
}

// Probe is one recorder/injector instance, safe for one transfer-path
// caller to drive from its hot path and another goroutine to Stop.
type Probe struct {
	mode Mode // atomic

	channels     int
	startChannel int
	bufSize      int
	format       area.Format
	rate         int

	remaining int64 // frames left in the configured duration
	files     []*channelFile

	interBufs  [][]byte
	interAreas []area.Area
}

func (p *Probe) loadMode() Mode  { return Mode(atomic.LoadInt32((*int32)(&p.mode))) }
func (p *Probe) storeMode(m Mode) { atomic.StoreInt32((*int32)(&p.mode), int32(m)) }

func unsafeBase(buf []byte) unsafe.Pointer { return unsafe.Pointer(&buf[0]) }

// resolvePrefix expands a strftime pattern in prefix when the caller
// opted in by including a '%' token, per spec.md §4.11.
func resolvePrefix(prefix string) (string, error) {
	if !strings.Contains(prefix, "%") {
		return prefix, nil
	}
	formatted, err := strftime.Format(prefix, time.Now())
	if err != nil {
		return "", fmt.Errorf("probe: bad prefix pattern %q: %w", prefix, err)
	}
	return formatted, nil
}

func channelPath(prefix string, ch int) string {
	return fmt.Sprintf("%s_ch%d.wav", prefix, ch)
}

func (p *Probe) allocIntermediate() {
	size := p.bufSize * p.format.SampleSize()
	p.interBufs = make([][]byte, p.channels)
	p.interAreas = make([]area.Area, p.channels)
	for ch := 0; ch < p.channels; ch++ {
		p.interBufs[ch] = make([]byte, size)
		p.interAreas[ch] = area.Area{
			Base:     unsafeBase(p.interBufs[ch]),
			FirstBit: 0,
			StepBits: p.format.SampleSize() * 8,
			Channel:  ch,
			MaxIndex: p.channels - 1,
		}
	}
}

// StartRecording implements spec.md §4.11's startRecording: opens one
// WAV file per channel for write and arms the duration budget. It
// rejects a concurrent start in either mode.
func (p *Probe) StartRecording(sp StartParams) error {
	if !atomic.CompareAndSwapInt32((*int32)(&p.mode), int32(Idle), int32(Recording)) {
		return fmt.Errorf("%w: probe already active", xerr.ErrBusy)
	}

	prefix, err := resolvePrefix(sp.Prefix)
	if err != nil {
		p.storeMode(Idle)
		return err
	}

	p.channels = sp.Channels
	p.startChannel = sp.StartChannel
	p.bufSize = sp.ProbingBufferSize
	p.format = sp.Format
	p.rate = sp.SampleRate
	p.remaining = int64(sp.DurationSeconds * float64(sp.SampleRate))

	p.files = make([]*channelFile, sp.Channels)
	for ch := 0; ch < sp.Channels; ch++ {
		f, err := os.Create(channelPath(prefix, ch))
		if err != nil {
			p.closeFilesLocked()
			p.storeMode(Idle)
			return fmt.Errorf("probe: create channel %d file: %w", ch, err)
		}
		if err := writeWavHeader(f, wavHeader{Format: sp.Format, SampleRate: sp.SampleRate}); err != nil {
			f.Close()
			p.closeFilesLocked()
			p.storeMode(Idle)
			return err
		}
		if _, err := f.Seek(wavHeaderSize, 0); err != nil {
			f.Close()
			p.closeFilesLocked()
			p.storeMode(Idle)
			return err
		}
		p.files[ch] = &channelFile{f: f}
	}

	p.allocIntermediate()
	log.Info("probe recording started", "prefix", prefix, "channels", sp.Channels, "duration_s", sp.DurationSeconds)
	return nil
}

// StartInject implements spec.md §4.11's startInject: opens one WAV
// file per channel for read, verifies each header's rate/format match
// the request, and clamps the duration to the shortest available file.
func (p *Probe) StartInject(sp StartParams) error {
	if !atomic.CompareAndSwapInt32((*int32)(&p.mode), int32(Idle), int32(Injecting)) {
		return fmt.Errorf("%w: probe already active", xerr.ErrBusy)
	}

	prefix, err := resolvePrefix(sp.Prefix)
	if err != nil {
		p.storeMode(Idle)
		return err
	}

	p.channels = sp.Channels
	p.startChannel = sp.StartChannel
	p.bufSize = sp.ProbingBufferSize
	p.format = sp.Format
	p.rate = sp.SampleRate

	shortest := int64(sp.DurationSeconds * float64(sp.SampleRate))
	p.files = make([]*channelFile, sp.Channels)
	for ch := 0; ch < sp.Channels; ch++ {
		f, err := os.Open(channelPath(prefix, ch))
		if err != nil {
			p.closeFilesLocked()
			p.storeMode(Idle)
			return fmt.Errorf("probe: open channel %d file: %w", ch, err)
		}
		hdr, frames, err := readWavHeader(f)
		if err != nil {
			f.Close()
			p.closeFilesLocked()
			p.storeMode(Idle)
			return err
		}
		if hdr.SampleRate != sp.SampleRate || hdr.Format != sp.Format {
			f.Close()
			p.closeFilesLocked()
			p.storeMode(Idle)
			return fmt.Errorf("%w: channel %d file rate/format mismatch", xerr.ErrInvalidParam, ch)
		}
		if frames < shortest {
			shortest = frames
		}
		if _, err := f.Seek(wavHeaderSize, 0); err != nil {
			f.Close()
			p.closeFilesLocked()
			p.storeMode(Idle)
			return err
		}
		p.files[ch] = &channelFile{f: f, frames: frames}
	}
	p.remaining = shortest

	p.allocIntermediate()
	log.Info("probe injecting started", "prefix", prefix, "channels", sp.Channels, "frames", shortest)
	return nil
}

func (p *Probe) closeFilesLocked() {
	for _, cf := range p.files {
		if cf != nil && cf.f != nil {
			cf.f.Close()
		}
	}
	p.files = nil
}

// stop tears the probe down, finalizing WAV headers when recording.
func (p *Probe) stop() {
	mode := p.loadMode()
	for ch, cf := range p.files {
		if cf == nil || cf.f == nil {
			continue
		}
		if mode == Recording {
			_ = finalizeWavHeader(cf.f, cf.done, p.format.SampleSize())
		}
		_ = cf.f.Close()
		_ = ch
	}
	p.files = nil
	p.storeMode(Idle)
}

// Stop is the externally callable version of stop, for an operator
// abort rather than the duration budget expiring.
func (p *Probe) Stop() {
	if p.loadMode() == Idle {
		return
	}
	p.stop()
}

// Process implements spec.md §4.11's process(areas, offset, num_frames):
// called from the transfer path. Mode is loaded with a relaxed atomic
// read so the hot path only pays for it when the probe is active.
func (p *Probe) Process(areas []area.Area, offset, numFrames int) (processed int, finished bool, err error) {
	mode := p.loadMode()
	if mode == Idle {
		return 0, false, nil
	}
	if numFrames > p.bufSize {
		return 0, false, nil
	}

	if mode == Recording {
		if err := area.CopyAudioAreaBuffers(p.interAreas, areas, 0, offset, p.format, p.format, numFrames, numFrames); err != nil {
			return 0, false, err
		}
		if err := p.writeChannels(numFrames); err != nil {
			return 0, false, err
		}
	} else {
		if err := p.readChannels(numFrames); err != nil {
			return 0, false, err
		}
		if err := area.CopyAudioAreaBuffers(areas, p.interAreas, offset, 0, p.format, p.format, numFrames, numFrames); err != nil {
			return 0, false, err
		}
	}

	p.remaining -= int64(numFrames)
	if p.remaining <= 0 {
		p.stop()
		return numFrames, true, nil
	}
	return numFrames, false, nil
}

func (p *Probe) writeChannels(numFrames int) error {
	g, _ := errgroup.WithContext(context.Background())
	sampleSize := p.format.SampleSize()
	for ch := range p.files {
		ch, buf := ch, p.interBufs[ch][:numFrames*sampleSize]
		g.Go(func() error {
			cf := p.files[ch]
			if _, err := cf.f.Write(buf); err != nil {
				return err
			}
			atomic.AddInt64(&cf.done, int64(numFrames))
			return nil
		})
	}
	return g.Wait()
}

func (p *Probe) readChannels(numFrames int) error {
	g, _ := errgroup.WithContext(context.Background())
	sampleSize := p.format.SampleSize()
	for ch := range p.files {
		ch, buf := ch, p.interBufs[ch][:numFrames*sampleSize]
		g.Go(func() error {
			cf := p.files[ch]
			_, err := cf.f.Read(buf)
			return err
		})
	}
	return g.Wait()
}

// UpdateFilePosition implements spec.md §4.11's updateFilePosition:
// advances every channel's file position by numFrames (used when the
// surrounding transfer path skipped frames), auto-stopping when the
// duration budget is exhausted.
func (p *Probe) UpdateFilePosition(numFrames int) {
	if p.loadMode() == Idle {
		return
	}
	sampleSize := p.format.SampleSize()
	for _, cf := range p.files {
		if cf == nil {
			continue
		}
		_, _ = cf.f.Seek(int64(numFrames*sampleSize), 1)
	}
	p.remaining -= int64(numFrames)
	if p.remaining <= 0 {
		p.stop()
	}
}

// Mode reports the probe's current state.
func (p *Probe) Mode() Mode { return p.loadMode() }
