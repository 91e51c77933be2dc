// Package streamer implements the single background disk-reading thread
// that refills every active voice's ring buffer, per spec.md §4.6. It
// never touches the instrument map's write lock and never blocks the
// audio thread — synchronization is entirely through each voice's ring
// buffer atomics and needs-data flag.
package streamer

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audioforge/polysampler/internal/audiofile"
	"github.com/audioforge/polysampler/internal/ringbuffer"
	"github.com/audioforge/polysampler/internal/voice"
)

// tickInterval is the streamer loop's sleep between scans, within the
// spec's 1-5ms range.
const tickInterval = 2 * time.Millisecond

// chunkFrames is the maximum number of source frames fetched per voice
// per refill, per spec.md §4.6.
const chunkFrames = ringbuffer.Chunk

// candidate is one voice found to need a refill this tick, annotated with
// its current readable frames for urgency sorting (smallest first).
type candidate struct {
	index int
	avail int
}

// DiskStreamer owns a fixed set of voices, registered by stable index at
// construction, and services all of them from one goroutine. Grounded on
// the teacher's goroutine+context+doneCh shutdown idiom: Start launches
// the loop under a cancellable context, Stop cancels it and waits for the
// loop to fully exit before returning.
type DiskStreamer struct {
	voices []*voice.Voice

	mu     sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}

	readers map[string]audiofile.Reader

	windowStart    time.Time
	windowBytes    int64
	throughputMBps atomic.Uint64 // float64 bits, read by observability snapshot
}

// New creates a DiskStreamer over the given fixed voice pool. The slice
// index of each voice is its stable registration index for the lifetime
// of this streamer.
func New(voices []*voice.Voice) *DiskStreamer {
	return &DiskStreamer{
		voices:  voices,
		readers: make(map[string]audiofile.Reader),
	}
}

// Start launches the background loop. A second call while already running
// is a no-op.
func (s *DiskStreamer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	doneCh := make(chan struct{})
	s.doneCh = doneCh
	s.windowStart = time.Now()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit, then closes every
// reader opened during this run — required before an instrument reload
// swaps the map, per spec.md §4.6's "streamer is stopped, ... restarted"
// sequencing.
func (s *DiskStreamer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	doneCh := s.doneCh
	s.cancel = nil
	s.doneCh = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if doneCh != nil {
		<-doneCh
	}

	for path, r := range s.readers {
		if err := r.Close(); err != nil {
			log.Printf("streamer: close %q: %v", path, err)
		}
	}
	s.readers = make(map[string]audiofile.Reader)
}

// ThroughputMBps returns the most recent one-second disk throughput
// measurement.
func (s *DiskStreamer) ThroughputMBps() float64 {
	return math.Float64frombits(s.throughputMBps.Load())
}

// tick performs one scan-sort-refill pass over the voice pool.
func (s *DiskStreamer) tick() {
	candidates := s.collectCandidates()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].avail < candidates[j].avail })

	var transferred int64
	for _, c := range candidates {
		v := s.voices[c.index]
		n := s.refill(v)
		transferred += n
	}
	s.updateThroughput(transferred)
}

func (s *DiskStreamer) collectCandidates() []candidate {
	candidates := make([]candidate, 0, len(s.voices))
	for i, v := range s.voices {
		if !v.IsActive() || !v.Ring().NeedsDataFlag() {
			continue
		}
		candidates = append(candidates, candidate{index: i, avail: v.Ring().AvailableToRead()})
	}
	return candidates
}

// refill reads up to ringbuffer.Chunk source frames for one voice and
// writes them into its ring buffer, advancing the voice's next-fetch
// position. Returns bytes transferred (frames * channels * 4).
func (s *DiskStreamer) refill(v *voice.Voice) int64 {
	rec := v.Record()
	if rec == nil {
		return 0
	}
	r, err := s.readerFor(rec.Path)
	if err != nil {
		log.Printf("streamer: open %q: %v", rec.Path, err)
		return 0
	}

	startFrame := v.StreamFrame()
	if startFrame >= rec.TotalFrames {
		v.Ring().SetEndOfStream()
		return 0
	}

	frames := chunkFrames
	if remaining := rec.TotalFrames - startFrame; remaining < int64(frames) {
		frames = int(remaining)
	}

	channels := rec.Channels
	planar := make([][]float32, channels)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}
	n, err := r.ReadInto(planar, startFrame, frames)
	if err != nil {
		log.Printf("streamer: read %q at frame %d: %v", rec.Path, startFrame, err)
		return 0
	}
	if n == 0 {
		v.Ring().SetEndOfStream()
		return 0
	}

	interleaved := make([]float32, n*channels)
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			interleaved[i*channels+c] = planar[c][i]
		}
	}

	written := v.Ring().Write(interleaved[:n*channels])
	v.AdvanceStreamFrame(int64(written))
	if startFrame+int64(written) >= rec.TotalFrames {
		v.Ring().SetEndOfStream()
	}
	return int64(written) * int64(channels) * 4
}

func (s *DiskStreamer) readerFor(path string) (audiofile.Reader, error) {
	if r, ok := s.readers[path]; ok {
		return r, nil
	}
	r, err := audiofile.Open(path)
	if err != nil {
		return nil, err
	}
	s.readers[path] = r
	return r, nil
}

func (s *DiskStreamer) updateThroughput(transferredBytes int64) {
	s.windowBytes += transferredBytes
	elapsed := time.Since(s.windowStart)
	if elapsed < time.Second {
		return
	}
	mbps := float64(s.windowBytes) / (1024 * 1024) / elapsed.Seconds()
	s.throughputMBps.Store(math.Float64bits(mbps))
	s.windowBytes = 0
	s.windowStart = time.Now()
}
