// Package engine implements SamplerEngine, the top-level coordinator
// described in spec.md §4.7: MIDI dispatch, per-note polyphony and
// voice stealing, same-note handling, sustain pedal, mixing, and the
// atomic-scalar runtime knobs the audio thread snapshots once per block.
package engine

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/audioforge/polysampler/internal/instrument"
	"github.com/audioforge/polysampler/internal/streamer"
	"github.com/audioforge/polysampler/internal/voice"
)

// MaxVoices is the fixed global polyphony pool size (spec.md §2, §8
// invariant 10).
const MaxVoices = 180

// MaxVoicesPerNote is the per-note cap that triggers oldest-voice
// quick-fade on a burst of same-note note-ons (spec.md §4.7, §8
// invariant 9).
const MaxVoicesPerNote = 4

// quickFadeSeconds mirrors voice's fixed click-free fade duration; no
// engine code reads it (the voice package owns the actual ramp).
const quickFadeSeconds = 0.010

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SamplerEngine is the audio-thread-facing coordinator owned by the host.
// Its voice pool is allocated once at construction (spec.md §3 "Voice
// lifecycle"); everything that changes afterward — the instrument map,
// ADSR, transpose, limits — is reached through atomics so Process never
// takes a lock.
type SamplerEngine struct {
	hostSampleRate int
	maxChannels    int

	voices [MaxVoices]*voice.Voice
	disk   *streamer.DiskStreamer

	instrumentMap atomic.Pointer[instrument.InstrumentMap]

	attackSeconds          atomic.Uint64 // float64 bits
	decaySeconds           atomic.Uint64
	sustainLevel           atomic.Uint64
	releaseSeconds         atomic.Uint64
	sameNoteReleaseSeconds atomic.Uint64

	transpose    atomic.Int32
	sampleOffset atomic.Int32

	currentRR atomic.Int32

	sustainPedal   atomic.Bool
	sustainedNotes [128]atomic.Bool

	startCounter atomic.Uint64
	underruns    atomic.Int64

	loadMu sync.Mutex

	quiesceRequested atomic.Bool
	pendingAck       atomic.Pointer[chan struct{}]
}

// New allocates the fixed voice pool and a disk streamer over it. No
// instrument map is loaded yet — Process renders silence until Load
// succeeds. hostSampleRate and maxChannels size every voice's fixed
// buffers once, up front (spec.md §3: voices are created once at engine
// construction, never again).
func New(hostSampleRate, maxChannels int) *SamplerEngine {
	e := &SamplerEngine{
		hostSampleRate: hostSampleRate,
		maxChannels:    maxChannels,
	}
	for i := range e.voices {
		e.voices[i] = voice.New(maxChannels)
	}
	e.disk = streamer.New(e.voices[:])

	e.attackSeconds.Store(math.Float64bits(0.01))
	e.decaySeconds.Store(math.Float64bits(0.1))
	e.sustainLevel.Store(math.Float64bits(0.8))
	e.releaseSeconds.Store(math.Float64bits(0.3))
	e.sameNoteReleaseSeconds.Store(math.Float64bits(0.05))
	e.currentRR.Store(1)

	e.disk.Start()
	return e
}

// Close stops the disk-streaming thread. Call once, at shutdown, after
// the host has stopped calling Process.
func (e *SamplerEngine) Close() {
	e.disk.Stop()
}

func (e *SamplerEngine) adsrSnapshot() voice.ADSRParams {
	return voice.ADSRParams{
		AttackSeconds:          math.Float64frombits(e.attackSeconds.Load()),
		DecaySeconds:           math.Float64frombits(e.decaySeconds.Load()),
		SustainLevel:           math.Float64frombits(e.sustainLevel.Load()),
		ReleaseSeconds:         math.Float64frombits(e.releaseSeconds.Load()),
		SameNoteReleaseSeconds: math.Float64frombits(e.sameNoteReleaseSeconds.Load()),
	}
}

// --- runtime knob setters (host/UI thread; spec.md §6 persisted state) ---

func (e *SamplerEngine) SetAttackSeconds(s float64)  { e.attackSeconds.Store(math.Float64bits(s)) }
func (e *SamplerEngine) SetDecaySeconds(s float64)   { e.decaySeconds.Store(math.Float64bits(s)) }
func (e *SamplerEngine) SetSustainLevel(s float64)   { e.sustainLevel.Store(math.Float64bits(clampFloat(s, 0, 1))) }
func (e *SamplerEngine) SetReleaseSeconds(s float64) { e.releaseSeconds.Store(math.Float64bits(s)) }

// SetSameNoteReleaseSeconds clamps to spec.md §6's 0.01..5.0 range.
func (e *SamplerEngine) SetSameNoteReleaseSeconds(s float64) {
	e.sameNoteReleaseSeconds.Store(math.Float64bits(clampFloat(s, 0.01, 5.0)))
}

// SetTranspose clamps to spec.md §6's -12..12 semitone range.
func (e *SamplerEngine) SetTranspose(semitones int) {
	e.transpose.Store(int32(clampInt(semitones, -12, 12)))
}

// SetSampleOffset clamps to spec.md §6's -12..12 semitone range.
func (e *SamplerEngine) SetSampleOffset(semitones int) {
	e.sampleOffset.Store(int32(clampInt(semitones, -12, 12)))
}

// --- observations (spec.md §6) ---

func (e *SamplerEngine) UnderrunCount() int64 { return e.underruns.Load() }

func (e *SamplerEngine) DiskThroughputMBps() float64 { return e.disk.ThroughputMBps() }

func (e *SamplerEngine) ActiveVoiceCount() int {
	n := 0
	for _, v := range e.voices {
		if v.IsActive() {
			n++
		}
	}
	return n
}

func (e *SamplerEngine) StreamingVoiceCount() int {
	n := 0
	for _, v := range e.voices {
		if v.IsStreaming() {
			n++
		}
	}
	return n
}

// InstrumentMap returns the currently published map, or nil if nothing
// has loaded yet. Safe from any thread.
func (e *SamplerEngine) InstrumentMap() *instrument.InstrumentMap {
	return e.instrumentMap.Load()
}

// --- MIDI dispatch (host/MIDI-source thread; spec.md §4.7) ---

// NoteOn resolves an articulation, applies same-note and per-note-cap
// stealing, allocates a voice, and triggers it. velocity 0 is treated as
// NoteOff per spec.md §6 before this is ever called — midisource makes
// that translation; this method assumes velocity is in 1..127.
//
// The round-robin position advanced on every trigger is the engine's own
// internal current_rr counter (spec.md §4.7's "Advance current_rr"); an
// explicit round_robin_request is not threaded through, matching the
// spec's find(note, velocity, current_rr) call, which consults engine
// state rather than any caller-supplied value.
func (e *SamplerEngine) NoteOn(note, velocity int) {
	m := e.instrumentMap.Load()
	if m == nil || velocity < 1 || velocity > 127 || note < 0 || note > 127 {
		return
	}

	sounding := clampInt(note+int(e.transpose.Load()), 0, 127)
	lookupNote := clampInt(sounding+int(e.sampleOffset.Load()), 0, 127)

	rr := int(e.currentRR.Load())
	rec := m.Find(lookupNote, velocity, rr)
	if rec == nil {
		return
	}

	adsr := e.adsrSnapshot()
	e.releaseSupersededSameNote(sounding, adsr)
	e.enforcePerNoteCap(sounding)

	v := e.allocateVoice()
	if v == nil {
		return
	}

	pitchRatio := (float64(rec.SampleRate) / float64(e.hostSampleRate)) *
		math.Pow(2, float64(sounding-rec.Key.Note)/12)

	sc := e.startCounter.Add(1)
	v.Trigger(rec, sounding, rec.Key.Note, pitchRatio, sc, adsr, e.hostSampleRate)

	e.advanceRoundRobin(m)
}

// releaseSupersededSameNote puts every active, non-quick-fading voice
// already sounding `note` into Release using the same-note release time,
// per spec.md §4.7 — the old articulation decays while a fresh Attack
// begins on a different voice.
func (e *SamplerEngine) releaseSupersededSameNote(note int, adsr voice.ADSRParams) {
	for _, v := range e.voices {
		if v.IsActive() && v.MIDINote() == note && !v.IsQuickFading() {
			v.Release(adsr, true, e.hostSampleRate)
		}
	}
}

// enforcePerNoteCap quick-fades the oldest voice on `note` once the
// count of active voices on that note reaches MaxVoicesPerNote, so the
// incoming trigger below doesn't push it over the cap.
func (e *SamplerEngine) enforcePerNoteCap(note int) {
	count := 0
	var oldest *voice.Voice
	for _, v := range e.voices {
		if v.IsActive() && v.MIDINote() == note {
			count++
			if oldest == nil || v.StartCounter() < oldest.StartCounter() {
				oldest = v
			}
		}
	}
	if count >= MaxVoicesPerNote && oldest != nil {
		oldest.TriggerQuickFade(e.hostSampleRate)
	}
}

// allocateVoice finds a slot for a new trigger: first any inactive slot;
// if none, quick-fades the globally oldest active voice and tries again;
// if still none (the just-faded voice hasn't deactivated yet), force-stops
// the globally oldest voice and reuses it directly (spec.md §4.7, §9
// "tail-stealing with quick fade" — quick-fade is preferred, force-stop is
// the last resort).
func (e *SamplerEngine) allocateVoice() *voice.Voice {
	if v := e.firstInactive(); v != nil {
		return v
	}

	oldest := e.globallyOldest()
	if oldest == nil {
		return nil
	}
	oldest.TriggerQuickFade(e.hostSampleRate)

	if v := e.firstInactive(); v != nil {
		return v
	}

	oldest = e.globallyOldest()
	if oldest == nil {
		return nil
	}
	oldest.ForceStop()
	return oldest
}

func (e *SamplerEngine) firstInactive() *voice.Voice {
	for _, v := range e.voices {
		if !v.IsActive() {
			return v
		}
	}
	return nil
}

func (e *SamplerEngine) globallyOldest() *voice.Voice {
	var oldest *voice.Voice
	for _, v := range e.voices {
		if !v.IsActive() {
			continue
		}
		if oldest == nil || v.StartCounter() < oldest.StartCounter() {
			oldest = v
		}
	}
	return oldest
}

// advanceRoundRobin rotates current_rr through 1..round_robin_limit,
// wrapping, per spec.md §4.7.
func (e *SamplerEngine) advanceRoundRobin(m *instrument.InstrumentMap) {
	limit := m.RoundRobinLimit()
	if limit < 1 {
		limit = 1
	}
	for {
		old := e.currentRR.Load()
		next := (old % int32(limit)) + 1
		if e.currentRR.CompareAndSwap(old, next) {
			return
		}
	}
}

// NoteOff transitions every active voice sounding `note` (after the same
// transpose applied at NoteOn) into Release, unless the sustain pedal is
// down, in which case the note is marked sustained and release is
// deferred to the pedal-up edge (spec.md §4.7).
func (e *SamplerEngine) NoteOff(note int) {
	sounding := clampInt(note+int(e.transpose.Load()), 0, 127)

	if e.sustainPedal.Load() {
		e.sustainedNotes[sounding].Store(true)
		return
	}
	e.releaseNote(sounding)
}

func (e *SamplerEngine) releaseNote(note int) {
	adsr := e.adsrSnapshot()
	for _, v := range e.voices {
		if v.IsActive() && v.MIDINote() == note {
			v.Release(adsr, false, e.hostSampleRate)
		}
	}
}

// SustainPedal handles CC64: >=64 is down, <64 is up (spec.md §6). On the
// down edge it arms pedal tracking; on the up edge it releases every note
// marked sustained since the last down edge and clears the marks.
func (e *SamplerEngine) SustainPedal(value int) {
	down := value >= 64
	was := e.sustainPedal.Swap(down)
	if was && !down {
		for note := 0; note < 128; note++ {
			if e.sustainedNotes[note].Swap(false) {
				e.releaseNote(note)
			}
		}
	}
}

// --- audio thread ---

// Process renders one audio block: clears out, refreshes every active
// voice's envelope from the shared ADSR snapshot, and mix-adds its
// output. out is one []float32 per channel, each pre-sized to the block
// length; Process zeroes it itself. No locks, no allocation, no file I/O
// — the audio-thread contract of spec.md §5.
//
// If a Load is mid-quiesce, Process renders silence and acknowledges the
// quiesce request instead of touching any voice, per DESIGN.md's
// explicit-ack resolution of spec.md §9's swap-strategy open question.
func (e *SamplerEngine) Process(out [][]float32) {
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}

	if e.quiesceRequested.Load() {
		if ack := e.pendingAck.Swap(nil); ack != nil {
			close(*ack)
		}
		e.quiesceRequested.Store(false)
		return
	}

	blockFrames := 0
	if len(out) > 0 {
		blockFrames = len(out[0])
	}
	adsr := e.adsrSnapshot()
	for _, v := range e.voices {
		if v.IsActive() {
			v.Render(out, blockFrames, e.hostSampleRate, adsr, &e.underruns)
		}
	}
}

// --- library load (loader thread; spec.md §4.6, §9) ---

// Load scans folder, builds a fresh InstrumentMap, and atomically swaps
// it in. It joins against any prior Load (loadMu), quiesces the voice
// pool and stops the disk streamer before the swap, then restarts the
// streamer, per spec.md §4.6's reload sequencing and §9's swap strategy.
func (e *SamplerEngine) Load(folder string, velocityLayerLimit, roundRobinLimit, preloadKB int) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	m, err := instrument.Load(folder, velocityLayerLimit, roundRobinLimit, preloadKB)
	if err != nil {
		return err
	}

	e.disk.Stop()
	e.quiesce()
	e.instrumentMap.Store(m)
	e.disk.Start()
	return nil
}

// quiesce deactivates every voice and, if any voice was actually active,
// blocks until the audio thread's Process has observed the quiesced
// state and acknowledged it — so no in-flight render can dereference a
// record from the map about to be replaced. If nothing was active (the
// common case for the very first Load, before the host's audio thread
// has started calling Process at all) there is no render to race
// against, so it returns immediately rather than waiting on an ack no
// one will ever send.
func (e *SamplerEngine) quiesce() {
	hadActive := false
	for _, v := range e.voices {
		if v.IsActive() {
			hadActive = true
			v.ForceStop()
		}
	}
	if !hadActive {
		return
	}

	ack := make(chan struct{})
	e.pendingAck.Store(&ack)
	e.quiesceRequested.Store(true)
	<-ack
}
