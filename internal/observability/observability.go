// Package observability exposes the read-only, UI-polled counters
// spec.md §6 names: loading state, loaded folder, memory/size totals,
// voice counts, disk throughput, underruns. Grounded on the teacher's
// IsRecording/GetModelStatuses style — plain atomics snapshotted on
// demand, not a metrics library, since this is UI polling rather than an
// exported metrics endpoint (see DESIGN.md's standard-library
// justification for this package).
package observability

import "sync/atomic"

// Snapshot is one point-in-time read of every observation.
type Snapshot struct {
	Loading             bool
	LoadedFolder        string
	TotalFileSizeBytes  int64
	PreloadMemoryBytes  int64
	ActiveVoiceCount    int
	StreamingVoiceCount int
	DiskThroughputMBps  float64
	UnderrunCount       int64
}

// Source is anything able to report the fields a Snapshot needs; engine.SamplerEngine
// and instrument.InstrumentMap together satisfy it without either package
// depending on this one.
type Source interface {
	ActiveVoiceCount() int
	StreamingVoiceCount() int
	DiskThroughputMBps() float64
	UnderrunCount() int64
}

// MapSource is the subset of instrument.InstrumentMap observability reads;
// kept separate from Source because the map can be nil (nothing loaded
// yet).
type MapSource interface {
	Folder() string
	TotalFileSizeBytes() int64
	PreloadMemoryBytes() int64
}

// Counters tracks the one observation no other component owns: whether a
// load is currently in flight. Everything else is read live from the
// engine and the currently published map at Snapshot time.
type Counters struct {
	loading atomic.Bool
}

// SetLoading marks a load as starting or finishing. Counters does not
// watch loads itself: Loading reports whatever the last SetLoading call
// stored, and is false until one is made.
func (c *Counters) SetLoading(v bool) { c.loading.Store(v) }

// Snapshot reads every observation at once. m may be nil if nothing has
// loaded yet, in which case the map-derived fields are zero.
func (c *Counters) Snapshot(e Source, m MapSource) Snapshot {
	s := Snapshot{
		Loading:             c.loading.Load(),
		ActiveVoiceCount:    e.ActiveVoiceCount(),
		StreamingVoiceCount: e.StreamingVoiceCount(),
		DiskThroughputMBps:  e.DiskThroughputMBps(),
		UnderrunCount:       e.UnderrunCount(),
	}
	if m != nil {
		s.LoadedFolder = m.Folder()
		s.TotalFileSizeBytes = m.TotalFileSizeBytes()
		s.PreloadMemoryBytes = m.PreloadMemoryBytes()
	}
	return s
}
