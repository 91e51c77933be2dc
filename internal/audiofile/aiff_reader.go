package audiofile

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
)

// aiffReader adapts github.com/go-audio/aiff the same way wavReader adapts
// github.com/go-audio/wav: the library's own decoder is used once, at
// open, to locate the sound-data chunk and read the format; every
// ReadInto seeks the underlying *os.File directly. AIFF is big-endian.
type aiffReader struct {
	f           *os.File
	sampleRate  int
	channels    int
	bitDepth    int
	dataOffset  int64
	totalFrames int64
	frameBytes  int
}

func openAIFF(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	dec := aiff.NewDecoder(f)
	dec.ReadInfo()
	if dec.Err() != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %q: %v", ErrOpen, path, dec.Err())
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %q: seeking to PCM data: %v", ErrOpen, path, err)
	}
	dataOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %q: %v", ErrOpen, path, err)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %q: %v", ErrOpen, path, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	frameBytes := channels * bitDepth / 8
	if channels < 1 || bitDepth < 8 || frameBytes == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %q: unsupported format (channels=%d bitDepth=%d)", ErrOpen, path, channels, bitDepth)
	}

	return &aiffReader{
		f:           f,
		sampleRate:  int(dec.SampleRate),
		channels:    channels,
		bitDepth:    bitDepth,
		dataOffset:  dataOffset,
		totalFrames: (end - dataOffset) / int64(frameBytes),
		frameBytes:  frameBytes,
	}, nil
}

func (r *aiffReader) SampleRate() int    { return r.sampleRate }
func (r *aiffReader) Channels() int      { return r.channels }
func (r *aiffReader) TotalFrames() int64 { return r.totalFrames }
func (r *aiffReader) Close() error       { return r.f.Close() }

func (r *aiffReader) ReadInto(dst [][]float32, startFrame int64, frames int) (int, error) {
	if startFrame >= r.totalFrames {
		return 0, nil
	}
	if startFrame+int64(frames) > r.totalFrames {
		frames = int(r.totalFrames - startFrame)
	}
	if frames <= 0 {
		return 0, nil
	}

	byteOff := r.dataOffset + startFrame*int64(r.frameBytes)
	if _, err := r.f.Seek(byteOff, io.SeekStart); err != nil {
		return 0, fmt.Errorf("aiff: seek: %w", err)
	}
	raw := make([]byte, frames*r.frameBytes)
	n, err := io.ReadFull(r.f, raw)
	gotFrames := n / r.frameBytes
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("aiff: read: %w", err)
	}
	raw = raw[:gotFrames*r.frameBytes]

	switch r.bitDepth {
	case 16:
		deinterleaveInt16BE(raw, r.channels, gotFrames, dst)
	case 24:
		deinterleaveInt24(raw, r.channels, gotFrames, dst, true)
	case 32:
		deinterleaveInt32(raw, r.channels, gotFrames, dst, true)
	default:
		return 0, fmt.Errorf("aiff: unsupported bit depth %d", r.bitDepth)
	}
	return gotFrames, nil
}
