package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	svc := NewAt(filepath.Join(t.TempDir(), "missing.json"))
	state := svc.Load()
	assert.Equal(t, defaultState(), state)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	svc := NewAt(path)

	want := State{
		SampleFolder:       "/instruments/piano",
		Attack:             0.02,
		Decay:              0.2,
		Sustain:            0.7,
		Release:            0.5,
		PreloadSizeKB:      256,
		Transpose:          -3,
		SampleOffset:       5,
		VelocityLayerLimit: 2,
		RoundRobinLimit:    3,
		SameNoteRelease:    0.1,
	}
	require.NoError(t, svc.Save(want))

	got := svc.Load()
	assert.Equal(t, want, got)
}

func TestLoadResetsCorruptFileToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	svc := NewAt(path)
	got := svc.Load()
	assert.Equal(t, defaultState(), got)

	// The corrupt file must have been overwritten with valid defaults.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"attack"`)
}

func TestSaveClampsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	svc := NewAt(path)

	bad := defaultState()
	bad.PreloadSizeKB = 4
	bad.Transpose = 99
	bad.SampleOffset = -99
	bad.RoundRobinLimit = 0
	bad.SameNoteRelease = 10

	require.NoError(t, svc.Save(bad))
	got := svc.Load()

	d := defaultState()
	assert.Equal(t, d.PreloadSizeKB, got.PreloadSizeKB)
	assert.Equal(t, 0, got.Transpose)
	assert.Equal(t, 0, got.SampleOffset)
	assert.Equal(t, d.RoundRobinLimit, got.RoundRobinLimit)
	assert.Equal(t, d.SameNoteRelease, got.SameNoteRelease)
}
