// Package instrument builds and maintains the InstrumentMap: the
// note -> velocity-layer -> round-robin index that maps incoming MIDI
// events to a specific audio file, plus the fallback table and the
// selective-preload policy that responds to live limit changes.
package instrument

import (
	"sync"
	"sync/atomic"
)

// ArticulationKey uniquely identifies one audio file within an
// instrument: (note, velocity-layer index, round-robin). VelocityLayerIndex is
// the position of this layer in the note's sorted layer list, not the raw
// velocity value parsed from the filename.
type ArticulationKey struct {
	Note               int
	VelocityLayerIndex int
	RoundRobin         int
}

// VelocityLayer is one intensity tier for a note: the raw velocity value
// read from the filename, plus the inclusive [RangeStart, RangeEnd] band
// derived once all of a note's layers are known.
type VelocityLayer struct {
	VelocityValue int
	RangeStart    int
	RangeEnd      int
}

// NoteMapping is the per-note entry of the instrument map: its velocity
// layers (sorted ascending by VelocityValue, possibly empty) and the
// fallback note to source audio from when this note has none of its own.
type NoteMapping struct {
	Layers       []VelocityLayer
	HasFallback  bool
	FallbackNote int // only meaningful when HasFallback
}

// preloadBuffer is the preloaded head of one articulation's source file,
// channel-planar (one []float32 per channel). Swapped as a whole via
// atomic.Pointer so the audio thread never takes a lock to read it.
type preloadBuffer struct {
	data   [][]float32
	frames int64
}

// ArticulationRecord describes one parsed sample file. Everything except
// the preload fields is immutable for the record's lifetime; preload is
// mutated by Reconcile (never by the audio thread) via the atomics below,
// so a Voice can read Preloaded()/Preload() without taking any lock.
type ArticulationRecord struct {
	Key           ArticulationKey
	VelocityValue int // the note's layer velocity this record was filed under
	Path          string
	SampleRate    int
	Channels      int
	TotalFrames   int64

	preloaded       atomic.Bool
	preload         atomic.Pointer[preloadBuffer]
	preloadEndFrame atomic.Int64
}

// Preloaded reports whether this record currently has preload data
// resident in memory.
func (r *ArticulationRecord) Preloaded() bool { return r.preloaded.Load() }

// PreloadData returns the current channel-planar preload buffer, or nil if
// the record isn't preloaded. Safe to call from the audio thread.
func (r *ArticulationRecord) PreloadData() [][]float32 {
	p := r.preload.Load()
	if p == nil {
		return nil
	}
	return p.data
}

// PreloadEndFrame is the source-file frame position at which the preload
// ends and ring-buffer streaming takes over.
func (r *ArticulationRecord) PreloadEndFrame() int64 { return r.preloadEndFrame.Load() }

// InstrumentMap is the immutable-except-preload bundle described by
// spec.md §3/§4.4. A SamplerEngine holds one via atomic.Pointer and swaps
// the whole bundle in on every (re)load; individual records' preload
// buffers are mutated in place, under reconcileMu, when limits change.
type InstrumentMap struct {
	notes   [128]NoteMapping
	records []*ArticulationRecord

	maxRoundRobins    int
	maxVelocityLayers int

	velocityLayerLimit atomic.Int32
	roundRobinLimit    atomic.Int32
	preloadKB          atomic.Int32

	totalFileSizeBytes atomic.Int64
	preloadMemoryBytes atomic.Int64

	folder string

	// reconcileMu serializes concurrent Reconcile passes against each
	// other (e.g. two limit setters firing back to back); it is never
	// taken by Find or by any audio/disk-thread code.
	reconcileMu sync.Mutex

	// debounceOnce/debounced back the setters' debounced reconcile: a
	// burst of setter calls in one user gesture collapses to one pass.
	debounceOnce sync.Once
	debounced    func(func())
}

// Folder returns the directory this map was loaded from.
func (m *InstrumentMap) Folder() string { return m.folder }

// MaxRoundRobins is the maximum round-robin index over all parsed files.
func (m *InstrumentMap) MaxRoundRobins() int { return m.maxRoundRobins }

// MaxVelocityLayers is the maximum layer count over all notes.
func (m *InstrumentMap) MaxVelocityLayers() int { return m.maxVelocityLayers }

// VelocityLayerLimit is the current selective-preload velocity-layer limit.
func (m *InstrumentMap) VelocityLayerLimit() int { return int(m.velocityLayerLimit.Load()) }

// RoundRobinLimit is the current selective-preload round-robin limit.
func (m *InstrumentMap) RoundRobinLimit() int { return int(m.roundRobinLimit.Load()) }

// PreloadSizeKB is the current per-sample preload size in KB.
func (m *InstrumentMap) PreloadSizeKB() int { return int(m.preloadKB.Load()) }

// TotalFileSizeBytes sums the on-disk size of every parsed file.
func (m *InstrumentMap) TotalFileSizeBytes() int64 { return m.totalFileSizeBytes.Load() }

// PreloadMemoryBytes is the current aggregate preload memory footprint.
func (m *InstrumentMap) PreloadMemoryBytes() int64 { return m.preloadMemoryBytes.Load() }

// NoteMapping returns the mapping for a MIDI note in 0..=127, or the zero
// value if note is out of range.
func (m *InstrumentMap) NoteMapping(note int) NoteMapping {
	if note < 0 || note > 127 {
		return NoteMapping{}
	}
	return m.notes[note]
}

// Records returns every parsed articulation record. Callers must not
// mutate the returned slice's contents.
func (m *InstrumentMap) Records() []*ArticulationRecord { return m.records }
