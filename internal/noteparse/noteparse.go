// Package noteparse turns sample-library filenames into articulation keys.
//
// A filename like "A0_040_01_piano.wav" encodes a MIDI note, a velocity,
// and a round-robin index. Parsing is pure and deterministic: no I/O, no
// global state, a single error kind for every failure mode.
package noteparse

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalid is the sentinel wrapped by every parse failure.
var ErrInvalid = errors.New("noteparse: invalid name")

var recognizedExt = map[string]bool{
	".wav":  true,
	".aif":  true,
	".aiff": true,
	".flac": true,
	".mp3":  true,
}

// Key identifies one articulation: a MIDI note, its velocity value as read
// from the filename (not a layer index — InstrumentMap derives that), and
// a round-robin position.
type Key struct {
	Note       int
	Velocity   int
	RoundRobin int
}

// ParseName parses a sample file's base name into a Key. path may be a bare
// filename or a full path; only the base name is inspected. Any recognized
// audio extension is stripped first. The stem is split on "_"; the first
// three tokens must be a note name, a decimal velocity in 1..=127, and a
// decimal round-robin >= 1. Extra tokens are free-form suffixes and are
// ignored. Any failure returns ErrInvalid.
func ParseName(path string) (Key, error) {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	stem := base
	if recognizedExt[ext] {
		stem = base[:len(base)-len(ext)]
	}

	tokens := strings.Split(stem, "_")
	if len(tokens) < 3 {
		return Key{}, fmt.Errorf("%w: %q: need at least 3 underscore-separated tokens", ErrInvalid, base)
	}

	note, err := ParseNoteName(tokens[0])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalid, base, err)
	}

	velocity, err := parseDecimalInRange(tokens[1], 1, 127)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: bad velocity token %q: %v", ErrInvalid, base, tokens[1], err)
	}

	rr, err := parseDecimalInRange(tokens[2], 1, 1<<30)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: bad round-robin token %q: %v", ErrInvalid, base, tokens[2], err)
	}

	return Key{Note: int(note), Velocity: velocity, RoundRobin: rr}, nil
}

// parseDecimalInRange requires every character to be a decimal digit (no
// sign, no whitespace) and the resulting value to lie in [lo, hi].
func parseDecimalInRange(s string, lo, hi int) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit character %q", r)
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%d out of range [%d,%d]", v, lo, hi)
	}
	return v, nil
}

var baseSemitone = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// ParseNoteName parses a note name such as "C4", "G#6", "Db3", "C-1" into a
// MIDI note number in 0..=127. Case-insensitive. A 'b' is only read as a
// flat when it is immediately followed by a decimal digit (so "B4" is B
// natural, "Bb4" is B-flat). Fails on an unknown letter, a non-digit
// octave, or an out-of-range result.
func ParseNoteName(s string) (int8, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty note name", ErrInvalid)
	}
	upper := strings.ToUpper(s)
	letter := upper[0]
	base, ok := baseSemitone[letter]
	if !ok {
		return 0, fmt.Errorf("%w: unknown note letter %q", ErrInvalid, string(s[0]))
	}

	rest := upper[1:]
	accidental := 0
	if len(rest) > 0 && rest[0] == '#' {
		accidental = 1
		rest = rest[1:]
	} else if len(rest) > 1 && rest[0] == 'B' && rest[1] >= '0' && rest[1] <= '9' {
		accidental = -1
		rest = rest[1:]
	}

	if rest == "" {
		return 0, fmt.Errorf("%w: missing octave in %q", ErrInvalid, s)
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric octave %q", ErrInvalid, rest)
	}

	midi := (octave+1)*12 + base + accidental
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("%w: %q resolves to MIDI %d, out of range", ErrInvalid, s, midi)
	}
	return int8(midi), nil
}

// FormatKey is the inverse of ParseName's key components: it reproduces
// "<Note>_<Velocity:03>_<RR:02>" so library-authoring tools can round-trip
// a Key back into a filename stem. Note names are rendered with sharps,
// never flats (e.g. MIDI 70 -> "A#4"), since ParseNoteName accepts both but
// there's no way to recover which spelling the original file used.
func FormatKey(k Key) string {
	return fmt.Sprintf("%s_%03d_%02d", FormatNoteName(k.Note), k.Velocity, k.RoundRobin)
}

var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// FormatNoteName renders a MIDI note number back into a note name using
// sharps, e.g. 60 -> "C4", 92 -> "G#6", 0 -> "C-1".
func FormatNoteName(midi int) string {
	octave := midi/12 - 1
	name := sharpNames[midi%12]
	return fmt.Sprintf("%s%d", name, octave)
}
