package instrument

import (
	"log"
	"time"

	"github.com/bep/debounce"

	"github.com/audioforge/polysampler/internal/audiofile"
)

// Find resolves a (note, velocity, round_robin) MIDI event to a specific
// preloaded articulation record, applying fallback and the even-distribution
// velocity remap described in spec.md §4.4. Returns nil if nothing matches.
// Lock-free: safe to call from the audio thread.
func (m *InstrumentMap) Find(note, velocity, roundRobin int) *ArticulationRecord {
	if note < 0 || note > 127 {
		return nil
	}
	targetNote := note
	nm := m.notes[note]
	if len(nm.Layers) == 0 {
		if !nm.HasFallback {
			return nil
		}
		targetNote = nm.FallbackNote
		nm = m.notes[targetNote]
		if len(nm.Layers) == 0 {
			return nil
		}
	}

	layersTotal := len(nm.Layers)
	effectiveLayers := int(m.velocityLayerLimit.Load())
	if effectiveLayers > layersTotal {
		effectiveLayers = layersTotal
	}
	if effectiveLayers < 1 {
		effectiveLayers = 1
	}

	layerIndex := ((velocity - 1) * effectiveLayers) / 127
	if layerIndex < 0 {
		layerIndex = 0
	}
	if layerIndex > effectiveLayers-1 {
		layerIndex = effectiveLayers - 1
	}
	targetVelocity := nm.Layers[layerIndex].VelocityValue

	var firstMatch *ArticulationRecord
	for _, rec := range m.records {
		if rec.Key.Note != targetNote || rec.VelocityValue != targetVelocity || !rec.Preloaded() {
			continue
		}
		if firstMatch == nil {
			firstMatch = rec
		}
		if rec.Key.RoundRobin == roundRobin {
			return rec
		}
	}
	return firstMatch
}

// shouldPreload implements spec.md §4.4's selective-preload predicate.
func (m *InstrumentMap) shouldPreload(rec *ArticulationRecord) bool {
	return rec.Key.VelocityLayerIndex < int(m.velocityLayerLimit.Load()) &&
		rec.Key.RoundRobin >= 1 && rec.Key.RoundRobin <= int(m.roundRobinLimit.Load())
}

// Reconcile synchronously walks every record, loading or freeing its
// preload buffer so that should_preload holds for every record afterward
// (invariant 3, spec.md §8). Called directly by Load and by tests; the
// debounced setters below call it after their quiet period elapses.
func (m *InstrumentMap) Reconcile() {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	var memDelta int64
	for _, rec := range m.records {
		want := m.shouldPreload(rec)
		have := rec.Preloaded()
		switch {
		case want && !have:
			n, err := loadPreload(rec, int(m.preloadKB.Load()))
			if err != nil {
				log.Printf("instrument: preload %q: %v", rec.Path, err)
				continue
			}
			memDelta += n
			rec.preloaded.Store(true)
		case !have && !want:
			// already not preloaded, nothing to do
		case !want && have:
			freed := freePreload(rec)
			memDelta -= freed
			rec.preloaded.Store(false)
		}
	}
	if memDelta != 0 {
		m.preloadMemoryBytes.Add(memDelta)
	}
}

// loadPreload opens rec's file, reads its preload head, and publishes the
// buffer. Returns the buffer's byte footprint.
func loadPreload(rec *ArticulationRecord, preloadKB int) (int64, error) {
	r, err := audiofile.Open(rec.Path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	channels := rec.Channels
	if channels < 1 {
		channels = 1
	}
	frames := int64(preloadKB*1024) / (int64(channels) * 4)
	if frames > rec.TotalFrames {
		frames = rec.TotalFrames
	}
	if frames < 0 {
		frames = 0
	}

	data := make([][]float32, channels)
	for c := range data {
		data[c] = make([]float32, frames)
	}
	n, err := r.ReadInto(data, 0, int(frames))
	if err != nil {
		return 0, err
	}
	for c := range data {
		data[c] = data[c][:n]
	}

	rec.preload.Store(&preloadBuffer{data: data, frames: int64(n)})
	rec.preloadEndFrame.Store(int64(n))
	return int64(n) * int64(channels) * 4, nil
}

// freePreload drops rec's preload buffer and returns the byte footprint
// that was freed.
func freePreload(rec *ArticulationRecord) int64 {
	p := rec.preload.Load()
	if p == nil {
		return 0
	}
	channels := rec.Channels
	if channels < 1 {
		channels = 1
	}
	freed := p.frames * int64(channels) * 4
	rec.preload.Store(nil)
	rec.preloadEndFrame.Store(0)
	return freed
}

// SetVelocityLayerLimit updates the selective-preload velocity-layer limit
// and schedules a debounced reconcile. Safe for the host/UI thread.
func (m *InstrumentMap) SetVelocityLayerLimit(n int) {
	if n < 1 {
		n = 1
	}
	m.velocityLayerLimit.Store(int32(n))
	m.scheduleReconcile()
}

// SetRoundRobinLimit updates the selective-preload round-robin limit and
// schedules a debounced reconcile.
func (m *InstrumentMap) SetRoundRobinLimit(n int) {
	if n < 1 {
		n = 1
	}
	m.roundRobinLimit.Store(int32(n))
	m.scheduleReconcile()
}

// SetPreloadSizeKB updates the per-sample preload size in KB, clamped to
// spec.md §6's 32..1024 range, and schedules a debounced reconcile.
func (m *InstrumentMap) SetPreloadSizeKB(kb int) {
	if kb < 32 {
		kb = 32
	}
	if kb > 1024 {
		kb = 1024
	}
	m.preloadKB.Store(int32(kb))
	m.scheduleReconcile()
}

// scheduleReconcile lazily creates the debounced reconcile closure and
// invokes it; reconcile itself is already serialized by reconcileMu, so
// the debounce only collapses a setter-call burst into one pass.
func (m *InstrumentMap) scheduleReconcile() {
	m.debounceOnce.Do(func() {
		m.debounced = debounce.New(100 * time.Millisecond)
	})
	m.debounced(m.Reconcile)
}
