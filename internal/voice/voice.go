// Package voice implements a single playing articulation: its ADSR
// envelope, its pitch-shifted read position, and the preload-then-ring-
// buffer source switch described in spec.md §4.5. A Voice is touched by
// exactly two threads: the audio thread (play state, rendering) and the
// disk thread (only the ring buffer's write side and the "next source
// frame to fetch" counter).
package voice

import (
	"math"
	"sync/atomic"

	"github.com/audioforge/polysampler/internal/instrument"
	"github.com/audioforge/polysampler/internal/ringbuffer"
)

// Stage is one state of the ADSR envelope state machine (spec.md §4.5).
type Stage int32

const (
	StageIdle Stage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAttack:
		return "attack"
	case StageDecay:
		return "decay"
	case StageSustain:
		return "sustain"
	case StageRelease:
		return "release"
	default:
		return "unknown"
	}
}

// quickFadeSeconds is the fixed click-free fade duration used both for
// voice stealing and for the per-note cap's oldest voice. A voice
// superseded by a same-note retrigger goes through Release instead.
const quickFadeSeconds = 0.010

// streamWindowFrames is the size of a voice's local interleaved lookahead
// window pulled from its ring buffer — large enough to always hold the
// two frames a block's interpolation needs plus slack for one streamer
// refill cycle. Allocated once at construction; never grown.
const streamWindowFrames = ringbuffer.Chunk * 2

// ADSRParams is the envelope configuration snapshot the engine reads once
// per block and hands to every active voice's Render call. All
// seconds fields are clamped to a 1ms minimum before use, per spec.md §4.5.
type ADSRParams struct {
	AttackSeconds          float64
	DecaySeconds           float64
	SustainLevel           float64
	ReleaseSeconds         float64
	SameNoteReleaseSeconds float64
}

func clampSeconds(s float64) float64 {
	const minSeconds = 0.001
	if s < minSeconds {
		return minSeconds
	}
	return s
}

// Voice is one of the engine's fixed pool of playing slots. Fields other
// than active and streamFrame are owned exclusively by the audio thread;
// active and streamFrame are atomics so the disk thread's streamer loop
// can observe them without a lock.
type Voice struct {
	active atomic.Bool

	record     *instrument.ArticulationRecord
	midiNote   int // the sounding MIDI note (after transpose)
	sourceNote int // the note the articulation was authored at (after sample-offset/fallback)
	pitchRatio float64
	position   float64 // fractional frame position into the source, post-fallback-and-offset

	stage     Stage
	level     float64
	increment float64

	quickFadeOut  bool
	fadeGain      float64
	fadeIncrement float64

	startCounter uint64

	ring *ringbuffer.RingBuffer

	// streamFrame is the next source frame (absolute, in the source file's
	// own frame numbering) the disk thread should fetch into ring. Set by
	// the audio thread at trigger time, before active is raised; advanced
	// only by the disk thread afterward.
	streamFrame atomic.Int64

	// Local lookahead window over frames already pulled from ring,
	// interleaved to match RingBuffer's layout. windowBase is the absolute
	// source frame that window[0] holds; it starts at the record's
	// preload-end boundary.
	window      []float32
	windowBase  int64
	windowValid int
	pullScratch []float32
	sampleA     []float32
	sampleB     []float32
}

// New allocates a Voice with its ring buffer and scratch windows sized for
// up to maxChannels channels. Called once per pool slot at engine
// construction; never again after that (no further allocation).
func New(maxChannels int) *Voice {
	return &Voice{
		ring:        ringbuffer.New(maxChannels),
		window:      make([]float32, streamWindowFrames*maxChannels),
		pullScratch: make([]float32, ringbuffer.Chunk*maxChannels),
		sampleA:     make([]float32, maxChannels),
		sampleB:     make([]float32, maxChannels),
	}
}

// IsActive reports whether the voice is currently producing sound. Safe
// from any thread.
func (v *Voice) IsActive() bool { return v.active.Load() }

// MIDINote is the sounding note this voice was triggered for.
func (v *Voice) MIDINote() int { return v.midiNote }

// StartCounter is the monotonic trigger order, used for age-based
// stealing and "oldest on this note" selection.
func (v *Voice) StartCounter() uint64 { return v.startCounter }

// IsQuickFading reports whether the voice is in its click-free fade-out,
// used by the engine to leave already-fading voices out of same-note
// release.
func (v *Voice) IsQuickFading() bool { return v.quickFadeOut }

// Stage returns the voice's current ADSR stage.
func (v *Voice) Stage() Stage { return v.stage }

// Record returns the articulation record this voice is currently playing,
// for the streamer to read path/format facts from.
func (v *Voice) Record() *instrument.ArticulationRecord { return v.record }

// Ring returns the voice's ring buffer, for the streamer's refill loop.
func (v *Voice) Ring() *ringbuffer.RingBuffer { return v.ring }

// IsStreaming reports whether this voice's play position has crossed its
// record's preload boundary and is therefore drawing from the ring buffer
// rather than the in-memory preload — used for the engine's observable
// "streaming voice count".
func (v *Voice) IsStreaming() bool {
	if !v.active.Load() || v.record == nil {
		return false
	}
	return int64(v.position) >= v.record.PreloadEndFrame()
}

// StreamFrame is the next source frame the disk thread should fetch.
func (v *Voice) StreamFrame() int64        { return v.streamFrame.Load() }
func (v *Voice) AdvanceStreamFrame(n int64) { v.streamFrame.Add(n) }

// Trigger activates the voice on a new articulation: resets position and
// ring state, arms the Attack stage, and assigns startCounter (the
// engine's monotonic trigger order). Called by the audio thread before
// raising active.
func (v *Voice) Trigger(rec *instrument.ArticulationRecord, midiNote, sourceNote int, pitchRatio float64, startCounter uint64, adsr ADSRParams, hostSampleRate int) {
	v.record = rec
	v.midiNote = midiNote
	v.sourceNote = sourceNote
	v.pitchRatio = pitchRatio
	v.position = 0
	v.startCounter = startCounter
	v.quickFadeOut = false
	v.fadeGain = 1

	v.stage = StageAttack
	v.level = 0
	v.increment = 1 / (clampSeconds(adsr.AttackSeconds) * float64(hostSampleRate))

	v.ring.Reset()
	v.streamFrame.Store(rec.PreloadEndFrame())
	v.windowBase = rec.PreloadEndFrame()
	v.windowValid = 0

	v.active.Store(true)
}

// Release transitions the voice into its Release stage. useSameNoteTime
// selects sameNoteRelease over the normal release time — used when this
// voice is being superseded by a same-note retrigger (spec.md §4.7).
func (v *Voice) Release(adsr ADSRParams, useSameNoteTime bool, hostSampleRate int) {
	if v.stage == StageIdle || v.quickFadeOut {
		return
	}
	releaseSeconds := adsr.ReleaseSeconds
	if useSameNoteTime {
		releaseSeconds = adsr.SameNoteReleaseSeconds
	}
	v.stage = StageRelease
	v.increment = -v.level / (clampSeconds(releaseSeconds) * float64(hostSampleRate))
}

// TriggerQuickFade arms the click-free 10ms fade-to-zero used before the
// voice is stolen or forcibly reused. A no-op if already fading.
func (v *Voice) TriggerQuickFade(hostSampleRate int) {
	if v.quickFadeOut {
		return
	}
	v.quickFadeOut = true
	v.fadeGain = 1
	v.fadeIncrement = -1 / (quickFadeSeconds * float64(hostSampleRate))
}

// ForceStop deactivates the voice immediately at whatever volume it was
// at — the spec's last-resort fallback when no quick-faded slot can be
// found in time (spec.md §4.7, §9 "tail-stealing with quick fade").
func (v *Voice) ForceStop() {
	v.deactivate()
}

func (v *Voice) deactivate() {
	v.stage = StageIdle
	v.level = 0
	v.quickFadeOut = false
	v.active.Store(false)
}

// advanceEnvelope moves the ADSR state machine forward by one sample,
// per the transition table in spec.md §4.5. Returns false once the voice
// has reached Idle (caller should stop rendering this block).
func (v *Voice) advanceEnvelope(adsr ADSRParams, hostSampleRate int) bool {
	switch v.stage {
	case StageAttack:
		v.level += v.increment
		if v.level >= 1 {
			v.level = 1
			v.stage = StageDecay
			v.increment = (adsr.SustainLevel - 1) / (clampSeconds(adsr.DecaySeconds) * float64(hostSampleRate))
		}
	case StageDecay:
		v.level += v.increment
		if v.level <= adsr.SustainLevel {
			v.level = adsr.SustainLevel
			v.stage = StageSustain
			v.increment = 0
		}
	case StageSustain:
		v.level = adsr.SustainLevel
	case StageRelease:
		v.level += v.increment
		if v.level <= 0 {
			v.level = 0
			v.stage = StageIdle
			return false
		}
	case StageIdle:
		return false
	}

	if v.quickFadeOut {
		v.fadeGain += v.fadeIncrement
		if v.fadeGain <= 0 {
			v.fadeGain = 0
			v.stage = StageIdle
			return false
		}
	}
	return true
}

// Render produces up to blockFrames frames of this voice's output into
// out (one []float32 per channel, pre-zeroed or pre-filled by the caller
// — Render mix-adds), per spec.md §4.5's per-block algorithm. underruns
// is incremented once per sample starved by an empty ring buffer. A
// no-op if the voice is inactive.
func (v *Voice) Render(out [][]float32, blockFrames, hostSampleRate int, adsr ADSRParams, underruns *atomic.Int64) {
	if !v.active.Load() {
		return
	}
	rec := v.record
	channels := len(out)
	srcLen := float64(rec.TotalFrames)

	for i := 0; i < blockFrames; i++ {
		if !v.advanceEnvelope(adsr, hostSampleRate) {
			v.deactivate()
			return
		}
		if v.position >= srcLen-1 {
			v.deactivate()
			return
		}

		pos0 := int64(math.Floor(v.position))
		frac := float32(v.position - float64(pos0))

		ok0 := v.sampleAt(pos0, channels, v.sampleA)
		if !ok0 {
			underruns.Add(1)
			v.position += v.pitchRatio
			continue
		}
		if !v.sampleAt(pos0+1, channels, v.sampleB) {
			copy(v.sampleB, v.sampleA)
		}

		gain := float32(v.level)
		if v.quickFadeOut {
			gain *= float32(v.fadeGain)
		}
		for c := 0; c < channels; c++ {
			sample := v.sampleA[c] + frac*(v.sampleB[c]-v.sampleA[c])
			out[c][i] += sample * gain
		}
		v.position += v.pitchRatio
	}

	if v.ring.NeedsData() {
		v.ring.MarkNeedsData()
	} else {
		v.ring.ClearNeedsData()
	}
}

// sampleAt fills dst (length >= channels) with the sample at absolute
// source frame `frame`, reading from the preload buffer below the
// preload-end boundary and from the local stream window above it.
// Returns false if the data isn't available yet (preload exhausted
// mid-file, or the ring hasn't delivered that far — an underrun).
func (v *Voice) sampleAt(frame int64, channels int, dst []float32) bool {
	preloadEnd := v.record.PreloadEndFrame()
	if frame < preloadEnd {
		data := v.record.PreloadData()
		if data == nil || frame < 0 {
			return false
		}
		for c := 0; c < channels && c < len(data); c++ {
			if int(frame) >= len(data[c]) {
				return false
			}
			dst[c] = data[c][frame]
		}
		return true
	}
	return v.streamSampleAt(frame, channels, dst)
}

// streamSampleAt serves a frame at or beyond the preload boundary from
// the local lookahead window, pulling more frames from the ring buffer
// as needed. No allocation: window, pullScratch are fixed-capacity
// buffers sized at construction.
func (v *Voice) streamSampleAt(frame int64, channels int, dst []float32) bool {
	capFrames := len(v.window) / channels
	for {
		localIdx := frame - v.windowBase
		if localIdx >= 0 && localIdx < int64(v.windowValid) {
			off := int(localIdx) * channels
			copy(dst[:channels], v.window[off:off+channels])
			return true
		}
		if localIdx < 0 {
			return false
		}

		drop := localIdx
		if drop > int64(v.windowValid) {
			drop = int64(v.windowValid)
		}
		if drop > 0 {
			remaining := v.windowValid - int(drop)
			copy(v.window[:remaining*channels], v.window[int(drop)*channels:v.windowValid*channels])
			v.windowValid = remaining
			v.windowBase += drop
		}

		room := capFrames - v.windowValid
		if room <= 0 {
			return false
		}
		pull := room
		if pull > len(v.pullScratch)/channels {
			pull = len(v.pullScratch) / channels
		}
		n := v.ring.Read(v.pullScratch[:pull*channels])
		if n == 0 {
			return false
		}
		copy(v.window[v.windowValid*channels:(v.windowValid+n)*channels], v.pullScratch[:n*channels])
		v.windowValid += n
	}
}
