package instrument

// NewTestRecord builds an ArticulationRecord with its preload buffer
// already allocated and marked preloaded, without going through Load —
// for package consumers (voice, streamer, engine) whose tests need a
// record but not a real sample library on disk. preloadFrames must be
// <= totalFrames; the preload buffer covers exactly preloadFrames
// frames per channel, zero-filled, and the caller may write into it via
// PreloadData() before use.
//
// This is test-only scaffolding exported solely so other packages'
// _test.go files can build a record; it is not part of the engine's
// public API and has no production caller.
func NewTestRecord(channels int, totalFrames, preloadFrames int64) *ArticulationRecord {
	rec := &ArticulationRecord{
		Key:           ArticulationKey{Note: 60, VelocityLayerIndex: 0, RoundRobin: 1},
		VelocityValue: 64,
		Path:          "<test-record>",
		SampleRate:    44100,
		Channels:      channels,
		TotalFrames:   totalFrames,
	}
	data := make([][]float32, channels)
	for c := range data {
		data[c] = make([]float32, preloadFrames)
	}
	rec.preload.Store(&preloadBuffer{data: data, frames: preloadFrames})
	rec.preloadEndFrame.Store(preloadFrames)
	rec.preloaded.Store(true)
	return rec
}
