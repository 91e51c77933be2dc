package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audioforge/polysampler/internal/voice"
)

// writeWAV writes a minimal mono 16-bit PCM WAV with n frames (a ramp 0, 1, 2, …) —
// just enough for instrument.Load to parse format facts and preload a
// buffer, mirroring internal/instrument's own fixture writer.
func writeWAV(t *testing.T, path string, n int) {
	t.Helper()
	dataSize := n * 2
	var buf []byte
	appendU32 := func(v uint32) {
		tmp := make([]byte, 4)
		binary.LittleEndian.PutUint32(tmp, v)
		buf = append(buf, tmp...)
	}
	appendU16 := func(v uint16) {
		tmp := make([]byte, 2)
		binary.LittleEndian.PutUint16(tmp, v)
		buf = append(buf, tmp...)
	}
	buf = append(buf, []byte("RIFF")...)
	appendU32(uint32(36 + dataSize))
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	appendU32(16)
	appendU16(1)
	appendU16(1)
	appendU32(44100)
	appendU32(44100 * 2)
	appendU16(2)
	appendU16(16)
	buf = append(buf, []byte("data")...)
	appendU32(uint32(dataSize))
	for i := 0; i < n; i++ {
		appendU16(uint16(int16(i)))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

// buildLibrary writes a single-note fixture: C4 (note 60) with one
// velocity layer and one round-robin, so note 60 plays it directly, every
// note 0..59 resolves to it via fallback, and every note 61..127 is
// unplayable.
func buildLibrary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "C4_100_01.wav"), 2000)
	return dir
}

func newTestEngine(t *testing.T) *SamplerEngine {
	t.Helper()
	e := New(1000, 1) // low host rate keeps ADSR sample counts small in assertions
	t.Cleanup(e.Close)
	dir := buildLibrary(t)
	require.NoError(t, e.Load(dir, 4, 1, 64))
	return e
}

func TestNoteOnAllocatesVoiceViaFallback(t *testing.T) {
	e := newTestEngine(t)
	e.NoteOn(59, 100) // no own samples; falls back to note 60
	assert.Equal(t, 1, e.ActiveVoiceCount())
}

func TestNoteOnWithNoArticulationIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	e.NoteOn(100, 100) // above the only sampled note, no fallback exists
	assert.Equal(t, 0, e.ActiveVoiceCount())
}

func TestNoteOnVelocityOutOfRangeIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	e.NoteOn(60, 0)
	e.NoteOn(60, 128)
	assert.Equal(t, 0, e.ActiveVoiceCount())
}

func TestSameNoteRetriggerReleasesPriorVoice(t *testing.T) {
	e := newTestEngine(t)
	e.NoteOn(60, 100)
	var first *voice.Voice
	for _, v := range e.voices {
		if v.IsActive() {
			first = v
			break
		}
	}
	require.NotNil(t, first)

	e.NoteOn(60, 100)
	assert.Equal(t, voice.StageRelease, first.Stage())
	assert.Equal(t, 2, e.ActiveVoiceCount())
}

func TestNoteOffTransitionsActiveVoiceToRelease(t *testing.T) {
	e := newTestEngine(t)
	e.NoteOn(60, 100)
	e.NoteOff(60)

	for _, v := range e.voices {
		if v.IsActive() {
			assert.Equal(t, voice.StageRelease, v.Stage())
		}
	}
}

func TestSustainPedalDefersReleaseUntilPedalUp(t *testing.T) {
	e := newTestEngine(t)
	e.SustainPedal(127) // down
	e.NoteOn(60, 100)
	e.NoteOff(60)

	var held *voice.Voice
	for _, v := range e.voices {
		if v.IsActive() {
			held = v
		}
	}
	require.NotNil(t, held)
	assert.NotEqual(t, voice.StageRelease, held.Stage(), "note-off under sustain must not release yet")

	e.SustainPedal(0) // up
	assert.Equal(t, voice.StageRelease, held.Stage())
}

func TestPerNoteCapQuickFadesOldestOnFifthTrigger(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 4; i++ {
		e.NoteOn(60, 100)
	}
	var oldest *voice.Voice
	for _, v := range e.voices {
		if v.IsActive() && (oldest == nil || v.StartCounter() < oldest.StartCounter()) {
			oldest = v
		}
	}
	require.NotNil(t, oldest)
	assert.False(t, oldest.IsQuickFading())

	e.NoteOn(60, 100) // 5th trigger on the same note — count is already at the cap
	assert.True(t, oldest.IsQuickFading())
}

func TestGlobalVoicePoolNeverExceedsCapacity(t *testing.T) {
	e := newTestEngine(t)
	// 60 distinct notes (0..59, all falling back to the single sampled
	// note 60) x3 triggers each == exactly MaxVoices active voices, none
	// of which crosses the per-note cap of 4.
	for note := 0; note < 60; note++ {
		for i := 0; i < 3; i++ {
			e.NoteOn(note, 100)
		}
	}
	require.Equal(t, MaxVoices, e.ActiveVoiceCount())

	// One more trigger must steal a slot (quick-fade then force-stop the
	// globally oldest voice) rather than exceed the pool.
	e.NoteOn(0, 100)
	assert.LessOrEqual(t, e.ActiveVoiceCount(), MaxVoices)
}

func TestRoundRobinAdvancesAndWrapsWithLimit(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, e.InstrumentMap())
	m := e.InstrumentMap()
	m.SetRoundRobinLimit(3)

	assert.Equal(t, int32(1), e.currentRR.Load())
	e.NoteOn(60, 100)
	assert.Equal(t, int32(2), e.currentRR.Load())
	e.NoteOn(60, 100)
	assert.Equal(t, int32(3), e.currentRR.Load())
	e.NoteOn(60, 100)
	assert.Equal(t, int32(1), e.currentRR.Load(), "must wrap back to 1 after reaching the limit")
}

func TestProcessRendersSilenceWhenNothingActive(t *testing.T) {
	e := newTestEngine(t)
	out := [][]float32{make([]float32, 32)}
	for i := range out[0] {
		out[0][i] = 1 // poison with nonzero so a missed clear would be caught
	}
	e.Process(out)
	for _, s := range out[0] {
		assert.Equal(t, float32(0), s)
	}
}

func TestLoadQuiescesSafelyWithConcurrentProcess(t *testing.T) {
	e := newTestEngine(t)
	e.NoteOn(60, 100)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out := [][]float32{make([]float32, 16)}
		for {
			select {
			case <-stop:
				return
			default:
				e.Process(out)
			}
		}
	}()

	dir2 := buildLibrary(t)
	require.NoError(t, e.Load(dir2, 4, 1, 64))
	close(stop)
	wg.Wait()

	// Engine must still be usable after the reload.
	e.NoteOn(60, 100)
	assert.Equal(t, 1, e.ActiveVoiceCount())
}

func TestCloseStopsStreamerWithoutPanic(t *testing.T) {
	e := New(1000, 1)
	dir := buildLibrary(t)
	require.NoError(t, e.Load(dir, 4, 1, 64))
	e.Close()
}

func TestSettersClampToSpecRanges(t *testing.T) {
	e := newTestEngine(t)
	e.SetTranspose(100)
	assert.Equal(t, int32(12), e.transpose.Load())
	e.SetTranspose(-100)
	assert.Equal(t, int32(-12), e.transpose.Load())

	e.SetSameNoteReleaseSeconds(10)
	assert.InDelta(t, 5.0, e.adsrSnapshot().SameNoteReleaseSeconds, 1e-9)
	e.SetSameNoteReleaseSeconds(0)
	assert.InDelta(t, 0.01, e.adsrSnapshot().SameNoteReleaseSeconds, 1e-9)
}
