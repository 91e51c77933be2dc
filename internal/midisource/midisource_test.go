package midisource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedBackendDeliversEventsInOrder(t *testing.T) {
	script := []TimedEvent{
		{After: time.Millisecond, Event: Event{Kind: NoteOn, Note: 60, Velocity: 100}},
		{After: 5 * time.Millisecond, Event: Event{Kind: NoteOff, Note: 60}},
	}
	src := NewScripted(script)

	var got []Event
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := src.Start(ctx, func(ev Event) {
		got = append(got, ev)
		if len(got) == len(script) {
			close(done)
		}
	})
	require.NoError(t, err)
	defer src.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scripted events")
	}

	require.Len(t, got, 2)
	assert.Equal(t, NoteOn, got[0].Kind)
	assert.Equal(t, 60, got[0].Note)
	assert.Equal(t, 100, got[0].Velocity)
	assert.Equal(t, NoteOff, got[1].Kind)
}

func TestStopCancelsBeforeAllEventsDeliver(t *testing.T) {
	script := []TimedEvent{
		{After: time.Hour, Event: Event{Kind: NoteOn, Note: 60, Velocity: 100}},
	}
	src := NewScripted(script)

	var got []Event
	err := src.Start(context.Background(), func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)

	require.NoError(t, src.Stop())
	assert.Empty(t, got)
}

func TestDecodeNoteOnVelocityZeroIsNoteOff(t *testing.T) {
	ev, ok := decode([]byte{0x90, 60, 0})
	require.True(t, ok)
	assert.Equal(t, NoteOff, ev.Kind)
	assert.Equal(t, 60, ev.Note)
}

func TestDecodeNoteOn(t *testing.T) {
	ev, ok := decode([]byte{0x90, 64, 100})
	require.True(t, ok)
	assert.Equal(t, NoteOn, ev.Kind)
	assert.Equal(t, 64, ev.Note)
	assert.Equal(t, 100, ev.Velocity)
}

func TestDecodeControlChangeSustain(t *testing.T) {
	ev, ok := decode([]byte{0xB0, 64, 127})
	require.True(t, ok)
	assert.Equal(t, ControlChange, ev.Kind)
	assert.Equal(t, 64, ev.Controller)
	assert.Equal(t, 127, ev.Value)
}
