package noteparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 (spec.md §8): literal note-name parse scenarios.
func TestParseNoteNameScenarios(t *testing.T) {
	cases := []struct {
		name string
		want int8
	}{
		{"C4", 60},
		{"G#6", 92},
		{"Db3", 49},
		{"C-1", 0},
		{"G9", 127},
		{"Bb4", 70},
		{"B4", 71},
	}
	for _, c := range cases {
		got, err := ParseNoteName(c.name)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, got, c.name)
	}
}

func TestParseNoteNameA9OutOfRange(t *testing.T) {
	_, err := ParseNoteName("A9")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseNoteNameCaseInsensitive(t *testing.T) {
	got, err := ParseNoteName("c4")
	require.NoError(t, err)
	assert.Equal(t, int8(60), got)
}

func TestParseNoteNameRejectsUnknownLetter(t *testing.T) {
	_, err := ParseNoteName("H4")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseNoteNameRejectsNonDigitOctave(t *testing.T) {
	_, err := ParseNoteName("Cx")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseNoteNameRejectsEmpty(t *testing.T) {
	_, err := ParseNoteName("")
	assert.ErrorIs(t, err, ErrInvalid)
}

// S2 (spec.md §8): literal filename parse scenarios.
func TestParseNameScenarios(t *testing.T) {
	key, err := ParseName("A0_040_01_piano.wav")
	require.NoError(t, err)
	assert.Equal(t, Key{Note: 21, Velocity: 40, RoundRobin: 1}, key)

	_, err = ParseName("C4_000_01.wav")
	assert.ErrorIs(t, err, ErrInvalid, "velocity 0 is out of range")

	_, err = ParseName("C4_127_00.wav")
	assert.ErrorIs(t, err, ErrInvalid, "round-robin 0 is out of range")

	_, err = ParseName("C4.wav")
	assert.ErrorIs(t, err, ErrInvalid, "fewer than 3 tokens")
}

func TestParseNameIgnoresExtraSuffixTokens(t *testing.T) {
	key, err := ParseName("C4_100_02_mf_close.wav")
	require.NoError(t, err)
	assert.Equal(t, Key{Note: 60, Velocity: 100, RoundRobin: 2}, key)
}

func TestParseNameCaseInsensitiveExtension(t *testing.T) {
	_, err := ParseName("C4_100_01.WAV")
	require.NoError(t, err)
}

func TestParseNameUnrecognizedExtensionIsNotStripped(t *testing.T) {
	// Only wav/aif/aiff/flac/mp3 are stripped (spec.md §6). An unknown
	// extension stays glued to the third token, which then fails to
	// parse as a pure-digit round-robin.
	_, err := ParseName("C4_100_01.xyz")
	assert.ErrorIs(t, err, ErrInvalid)
}

// Invariant 4 (spec.md §8): parse then format reproduces the key.
func TestRoundTripParseThenFormat(t *testing.T) {
	names := []string{"A0_040_01_piano.wav", "C4_100_02.aiff", "G9_001_12.flac"}
	for _, n := range names {
		key, err := ParseName(n)
		require.NoError(t, err, n)
		formatted := FormatKey(key)
		roundTripKey, err := ParseName(formatted + ".wav")
		require.NoError(t, err, formatted)
		assert.Equal(t, key, roundTripKey, n)
	}
}

func TestFormatNoteNameUsesSharps(t *testing.T) {
	assert.Equal(t, "C4", FormatNoteName(60))
	assert.Equal(t, "G#6", FormatNoteName(92))
	assert.Equal(t, "C-1", FormatNoteName(0))
	assert.Equal(t, "A#4", FormatNoteName(70)) // Bb4 round-trips as A#4, sharps-only
}
