package audiofile

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// flacReader adapts github.com/mewkiz/flac, whose Stream only decodes
// forward frame-by-frame — there is no native seek-to-frame API. Playback
// access in this engine is itself almost entirely forward (a voice reads
// its preload once at frame 0, then the streamer advances its "next
// source frame to fetch" monotonically forward in Chunk-sized steps), so
// a reopen-and-skip-forward fallback for the rare backward seek is the
// pragmatic choice rather than reverse-engineering the bitstream's frame
// index.
type flacReader struct {
	path        string
	stream      *flac.Stream
	sampleRate  int
	channels    int
	bitDepth    int
	scale       float32
	totalFrames int64
	pos         int64 // next frame ParseNext() will return, i.e. current decode position
	pending     [][]int32 // samples decoded but not yet consumed, channel-planar
}

func openFLAC(path string) (Reader, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrOpen, path, err)
	}
	info := stream.Info
	bitDepth := int(info.BitsPerSample)
	return &flacReader{
		path:        path,
		stream:      stream,
		sampleRate:  int(info.SampleRate),
		channels:    int(info.NChannels),
		bitDepth:    bitDepth,
		scale:       1.0 / float32(int64(1)<<uint(bitDepth-1)),
		totalFrames: int64(info.NSamples),
	}, nil
}

func (r *flacReader) SampleRate() int    { return r.sampleRate }
func (r *flacReader) Channels() int      { return r.channels }
func (r *flacReader) TotalFrames() int64 { return r.totalFrames }

func (r *flacReader) Close() error {
	return r.stream.Close()
}

func (r *flacReader) reopen() error {
	if err := r.stream.Close(); err != nil {
		return err
	}
	stream, err := flac.Open(r.path)
	if err != nil {
		return err
	}
	r.stream = stream
	r.pos = 0
	r.pending = nil
	return nil
}

// ReadInto decodes forward from the current position (reopening and
// re-decoding from frame 0 if startFrame lies behind it) until startFrame
// is reached, then copies up to `frames` frames into dst.
func (r *flacReader) ReadInto(dst [][]float32, startFrame int64, frames int) (int, error) {
	if startFrame >= r.totalFrames {
		return 0, nil
	}
	if startFrame < r.pos {
		if err := r.reopen(); err != nil {
			return 0, fmt.Errorf("flac: reopen for backward seek: %w", err)
		}
	}

	// Discard decoded-but-unconsumed samples that fall before startFrame.
	for r.pos < startFrame {
		toSkip := startFrame - r.pos
		if len(r.pending) > 0 && int64(len(r.pending[0])) > 0 {
			avail := int64(len(r.pending[0]))
			skip := toSkip
			if skip > avail {
				skip = avail
			}
			for c := range r.pending {
				r.pending[c] = r.pending[c][skip:]
			}
			r.pos += skip
			continue
		}
		if err := r.decodeNextFrame(); err != nil {
			return 0, err
		}
	}

	if startFrame+int64(frames) > r.totalFrames {
		frames = int(r.totalFrames - startFrame)
	}
	got := 0
	for got < frames {
		if len(r.pending) == 0 || len(r.pending[0]) == 0 {
			if err := r.decodeNextFrame(); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return got, err
			}
		}
		avail := len(r.pending[0])
		take := frames - got
		if take > avail {
			take = avail
		}
		// mewkiz/flac returns samples at the stream's native bit depth,
		// not left-shifted to a common scale, so the divisor must track
		// the actual source depth (r.scale, set from info.BitsPerSample
		// at open).
		for c := 0; c < r.channels; c++ {
			for i := 0; i < take; i++ {
				dst[c][got+i] = float32(r.pending[c][i]) * r.scale
			}
			r.pending[c] = r.pending[c][take:]
		}
		got += take
		r.pos += int64(take)
	}
	return got, nil
}

func (r *flacReader) decodeNextFrame() error {
	f, err := r.stream.ParseNext()
	if err != nil {
		return err
	}
	if r.pending == nil {
		r.pending = make([][]int32, r.channels)
	}
	for c := 0; c < r.channels && c < len(f.Subframes); c++ {
		r.pending[c] = append(r.pending[c][:0], f.Subframes[c].Samples...)
	}
	return nil
}
