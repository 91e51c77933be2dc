// Package midisource abstracts the MIDI transport the engine consumes,
// per spec.md §1's "MIDI transport (delegated to an abstract event
// source)". EventSource decouples SamplerEngine dispatch from how
// events actually arrive — a live port, a scripted sequence for demos
// and tests, or anything else satisfying the backend interface.
package midisource

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// Kind distinguishes the three message types the engine cares about; any
// other incoming MIDI message is ignored by the real backend's decoder.
type Kind int

const (
	NoteOn Kind = iota
	NoteOff
	ControlChange
)

// Event is a single dispatch-ready MIDI event, already decoded from
// whatever wire format the backend speaks.
type Event struct {
	Kind       Kind
	Channel    int
	Note       int
	Velocity   int
	Controller int
	Value      int
}

// Handler receives events in arrival order, on the EventSource's own
// goroutine — never the audio thread.
type Handler func(Event)

// backend abstracts the real transport so tests and demos can inject a
// scripted sequence instead of live hardware, mirroring the
// interface-plus-real-adapter split this pack uses for every external
// collaborator.
type backend interface {
	Open() error
	Close() error
	Events() <-chan Event
}

// EventSource runs one backend's event stream on a dedicated goroutine
// and fans each decoded event out to a single handler.
type EventSource struct {
	mu      sync.Mutex
	backend backend
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// New creates an EventSource backed by a live raw-MIDI byte stream, such
// as a serial port or virtual MIDI cable already opened by the caller.
func New(r io.Reader) *EventSource {
	return &EventSource{backend: newRealBackend(r)}
}

// NewScripted creates an EventSource that replays a fixed, timed sequence
// of events — used by cmd/samplerdemo's demo mode and by this package's
// tests, which need deterministic MIDI input without real hardware.
func NewScripted(events []TimedEvent) *EventSource {
	return &EventSource{backend: newScriptedBackend(events)}
}

// Start opens the backend and begins dispatching events to handle until
// ctx is cancelled, the backend's stream ends, or Stop is called.
func (s *EventSource) Start(ctx context.Context, handle Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Open(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	doneCh := make(chan struct{})
	s.doneCh = doneCh
	events := s.backend.Events()

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				handle(ev)
			}
		}
	}()
	return nil
}

// Stop cancels the dispatch goroutine, waits for it to exit, and closes
// the backend.
func (s *EventSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	doneCh := s.doneCh
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if doneCh != nil {
		<-doneCh
	}
	return s.backend.Close()
}

// --- real backend: live raw MIDI byte stream ---

// realBackend decodes a channel-message byte stream (status, data1,
// data2) using gomidi/midi/v2's Message accessors. The concrete port —
// serial, ALSA raw MIDI, a virtual cable — is the caller's concern; this
// backend only needs an io.Reader of 3-byte channel messages.
type realBackend struct {
	r       io.Reader
	eventCh chan Event
	stopCh  chan struct{}
}

func newRealBackend(r io.Reader) *realBackend {
	return &realBackend{
		r:       r,
		eventCh: make(chan Event, 256),
		stopCh:  make(chan struct{}),
	}
}

func (b *realBackend) Open() error {
	go b.pump()
	return nil
}

func (b *realBackend) Close() error {
	close(b.stopCh)
	return nil
}

func (b *realBackend) Events() <-chan Event { return b.eventCh }

func (b *realBackend) pump() {
	defer close(b.eventCh)
	br := bufio.NewReader(b.r)
	raw := make([]byte, 3)
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		if _, err := io.ReadFull(br, raw); err != nil {
			return
		}
		if ev, ok := decode(raw); ok {
			select {
			case b.eventCh <- ev:
			case <-b.stopCh:
				return
			}
		}
	}
}

// decode translates one 3-byte channel message into an Event, per
// spec.md §6: note-on velocity 0 is a note-off, CC64 is the sustain
// pedal. Anything else (other controllers, system messages) is dropped.
func decode(raw []byte) (Event, bool) {
	msg := midi.Message(raw)

	var ch, key, vel uint8
	if msg.GetNoteOn(&ch, &key, &vel) {
		if vel == 0 {
			return Event{Kind: NoteOff, Channel: int(ch), Note: int(key)}, true
		}
		return Event{Kind: NoteOn, Channel: int(ch), Note: int(key), Velocity: int(vel)}, true
	}
	if msg.GetNoteOff(&ch, &key, &vel) {
		return Event{Kind: NoteOff, Channel: int(ch), Note: int(key)}, true
	}
	var ctrl, val uint8
	if msg.GetControlChange(&ch, &ctrl, &val) {
		return Event{Kind: ControlChange, Channel: int(ch), Controller: int(ctrl), Value: int(val)}, true
	}
	return Event{}, false
}

// --- scripted backend: fixed sequence for demos and tests ---

// TimedEvent schedules an Event at a fixed delay after the scripted
// backend is opened.
type TimedEvent struct {
	After time.Duration
	Event Event
}

type scriptedBackend struct {
	script  []TimedEvent
	eventCh chan Event
	stopCh  chan struct{}
}

func newScriptedBackend(script []TimedEvent) *scriptedBackend {
	return &scriptedBackend{
		script:  script,
		eventCh: make(chan Event, len(script)+1),
		stopCh:  make(chan struct{}),
	}
}

func (b *scriptedBackend) Open() error {
	go b.pump()
	return nil
}

func (b *scriptedBackend) Close() error {
	close(b.stopCh)
	return nil
}

func (b *scriptedBackend) Events() <-chan Event { return b.eventCh }

func (b *scriptedBackend) pump() {
	defer close(b.eventCh)
	start := time.Now()
	for _, te := range b.script {
		deadline := start.Add(te.After)
		wait := time.Until(deadline)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-b.stopCh:
				timer.Stop()
				return
			}
		}
		select {
		case b.eventCh <- te.Event:
		case <-b.stopCh:
			return
		}
	}
}
