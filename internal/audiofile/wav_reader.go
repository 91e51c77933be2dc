package audiofile

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// wavReader adapts github.com/go-audio/wav. The decoder's own PCMBuffer
// API only reads forward; to satisfy Reader's arbitrary-startFrame
// contract we use it once, at open, to find the byte offset of the data
// chunk and the format, then seek the underlying *os.File directly for
// every ReadInto call.
type wavReader struct {
	f           *os.File
	sampleRate  int
	channels    int
	bitDepth    int
	isFloat     bool
	dataOffset  int64
	totalFrames int64
	frameBytes  int
}

func openWAV(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %q: not a valid WAV file", ErrOpen, path)
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

	return &wavReader{
		f:           f,
		sampleRate:  int(dec.SampleRate),
		channels:    channels,
		bitDepth:    bitDepth,
		isFloat:     dec.WavAudioFormat == 3,
		dataOffset:  dataOffset,
		totalFrames: (end - dataOffset) / int64(frameBytes),
		frameBytes:  frameBytes,
	}, nil
}

func (r *wavReader) SampleRate() int     { return r.sampleRate }
func (r *wavReader) Channels() int       { return r.channels }
func (r *wavReader) TotalFrames() int64  { return r.totalFrames }
func (r *wavReader) Close() error        { return r.f.Close() }

func (r *wavReader) ReadInto(dst [][]float32, startFrame int64, frames int) (int, error) {
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
		return 0, fmt.Errorf("wav: seek: %w", err)
	}
	raw := make([]byte, frames*r.frameBytes)
	n, err := io.ReadFull(r.f, raw)
	gotFrames := n / r.frameBytes
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("wav: read: %w", err)
	}
	raw = raw[:gotFrames*r.frameBytes]

	switch {
	case r.isFloat && r.bitDepth == 32:
		deinterleaveFloat32LE(raw, r.channels, gotFrames, dst)
	case r.bitDepth == 16:
		deinterleaveInt16LE(raw, r.channels, gotFrames, dst)
	case r.bitDepth == 24:
		deinterleaveInt24(raw, r.channels, gotFrames, dst, false)
	case r.bitDepth == 32:
		deinterleaveInt32(raw, r.channels, gotFrames, dst, false)
	default:
		return 0, fmt.Errorf("wav: unsupported bit depth %d", r.bitDepth)
	}
	return gotFrames, nil
}
