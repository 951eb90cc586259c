package probe

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// libsndfile-compatible WAV format tags, per spec.md §4.11's "building a
// libsndfile-compatible format code from the data format".
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

func formatTag(f area.Format) (uint16, error) {
	switch f {
	case area.I16, area.I32:
		return wavFormatPCM, nil
	case area.F32:
		return wavFormatFloat, nil
	default:
		return 0, xerr.ErrInvalidParam
	}
}

func tagToFormat(tag uint16, bits uint16) (area.Format, error) {
	switch {
	case tag == wavFormatPCM && bits == 16:
		return area.I16, nil
	case tag == wavFormatPCM && bits == 32:
		return area.I32, nil
	case tag == wavFormatFloat && bits == 32:
		return area.F32, nil
	default:
		return area.FormatUndefined, fmt.Errorf("%w: unsupported wav format tag=%d bits=%d", xerr.ErrInvalidParam, tag, bits)
	}
}

// wavHeader is the canonical 44-byte PCM WAV header layout (no extension
// chunks): RIFF/WAVE, one fmt chunk, one data chunk.
type wavHeader struct {
	Format     area.Format
	SampleRate int
}

const wavHeaderSize = 44

// writeWavHeader writes a placeholder header (sizes filled in by
// finalizeWavHeader once the frame count is known) for one mono channel
// file, per spec.md §4.11's "prefix extended with _chN.wav".
func writeWavHeader(f *os.File, h wavHeader) error {
	tag, err := formatTag(h.Format)
	if err != nil {
		return err
	}
	bits := uint16(h.Format.SampleSize() * 8)
	blockAlign := uint16(h.Format.SampleSize())
	byteRate := uint32(h.SampleRate) * uint32(blockAlign)

	buf := make([]byte, wavHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36) // patched later
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], tag)
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono per-channel file
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bits)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], 0) // patched later

	_, err = f.WriteAt(buf, 0)
	return err
}

// finalizeWavHeader patches the RIFF and data chunk sizes once the
// channel file's frame count is final.
func finalizeWavHeader(f *os.File, frames int64, sampleSize int) error {
	dataBytes := uint32(frames * int64(sampleSize))
	var riffSize [4]byte
	binary.LittleEndian.PutUint32(riffSize[:], 36+dataBytes)
	if _, err := f.WriteAt(riffSize[:], 4); err != nil {
		return err
	}
	var dataSize [4]byte
	binary.LittleEndian.PutUint32(dataSize[:], dataBytes)
	if _, err := f.WriteAt(dataSize[:], 40); err != nil {
		return err
	}
	return nil
}

// readWavHeader parses a canonical PCM WAV header and returns the
// format, sample rate, and frame count implied by the data chunk size,
// per spec.md §4.11's startInject header verification.
func readWavHeader(f *os.File) (h wavHeader, frames int64, err error) {
	buf := make([]byte, wavHeaderSize)
	if _, err = f.ReadAt(buf, 0); err != nil {
		return wavHeader{}, 0, err
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return wavHeader{}, 0, fmt.Errorf("%w: not a wav file", xerr.ErrInvalidParam)
	}
	tag := binary.LittleEndian.Uint16(buf[20:22])
	rate := int(binary.LittleEndian.Uint32(buf[24:28]))
	bits := binary.LittleEndian.Uint16(buf[34:36])
	dataBytes := binary.LittleEndian.Uint32(buf[40:44])

	fmtVal, ferr := tagToFormat(tag, bits)
	if ferr != nil {
		return wavHeader{}, 0, ferr
	}
	frames = int64(dataBytes) / int64(fmtVal.SampleSize())
	return wavHeader{Format: fmtVal, SampleRate: rate}, frames, nil
}
