package audiofile

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Reader adapts github.com/hajimehoshi/go-mp3, which decodes strictly
// forward and always emits 16-bit stereo PCM regardless of the source
// channel count. As with flacReader, backward seeks reopen the file and
// re-decode from the start; forward access (the engine's dominant access
// pattern — see flacReader's doc comment) just keeps consuming.
type mp3Reader struct {
	f           *os.File
	dec         *mp3.Decoder
	sampleRate  int
	totalFrames int64
	pos         int64
	carry       []byte // undersized tail of a Read() that didn't land on a frame boundary
}

const mp3Channels = 2 // go-mp3 always decodes to stereo

func openMP3(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %q: %v", ErrOpen, path, err)
	}
	frameBytes := mp3Channels * 2 // 16-bit stereo
	total := dec.Length() / int64(frameBytes)
	return &mp3Reader{
		f:           f,
		dec:         dec,
		sampleRate:  dec.SampleRate(),
		totalFrames: total,
	}, nil
}

func (r *mp3Reader) SampleRate() int    { return r.sampleRate }
func (r *mp3Reader) Channels() int      { return mp3Channels }
func (r *mp3Reader) TotalFrames() int64 { return r.totalFrames }

func (r *mp3Reader) Close() error { return r.f.Close() }

func (r *mp3Reader) reopen() error {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec, err := mp3.NewDecoder(r.f)
	if err != nil {
		return err
	}
	r.dec = dec
	r.pos = 0
	r.carry = nil
	return nil
}

func (r *mp3Reader) ReadInto(dst [][]float32, startFrame int64, frames int) (int, error) {
	if startFrame >= r.totalFrames {
		return 0, nil
	}
	if startFrame < r.pos {
		if err := r.reopen(); err != nil {
			return 0, fmt.Errorf("mp3: reopen for backward seek: %w", err)
		}
	}
	frameBytes := mp3Channels * 2

	for r.pos < startFrame {
		toSkip := startFrame - r.pos
		buf := make([]byte, 32*1024)
		if int64(len(buf)) > toSkip*int64(frameBytes) {
			buf = buf[:toSkip*int64(frameBytes)]
		}
		n, err := r.dec.Read(buf)
		if n == 0 && err != nil {
			return 0, fmt.Errorf("mp3: skip: %w", err)
		}
		r.pos += int64(n / frameBytes)
	}

	if startFrame+int64(frames) > r.totalFrames {
		frames = int(r.totalFrames - startFrame)
	}
	if frames <= 0 {
		return 0, nil
	}

	need := frames * frameBytes
	raw := append([]byte(nil), r.carry...)
	r.carry = nil
	for len(raw) < need {
		buf := make([]byte, need-len(raw))
		n, err := r.dec.Read(buf)
		raw = append(raw, buf[:n]...)
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	gotFrames := len(raw) / frameBytes
	consumed := gotFrames * frameBytes
	// Preserve any sub-frame remainder instead of dropping it, so the next
	// call's frame alignment isn't skewed by a short underlying Read().
	r.carry = append(r.carry[:0], raw[consumed:]...)
	raw = raw[:consumed]
	deinterleaveInt16LE(raw, mp3Channels, gotFrames, dst)
	r.pos += int64(gotFrames)
	return gotFrames, nil
}
