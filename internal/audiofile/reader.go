// Package audiofile defines the abstract random-access reader the engine
// reads sample data through, plus concrete adapters for the file formats
// spec.md §6 accepts. The engine and InstrumentMap only ever see Reader;
// which concrete decoder backs a given file is resolved once, at open
// time, by extension.
package audiofile

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOpen is the sentinel wrapped by every open failure: file unreadable,
// unsupported format, or corrupt header.
var ErrOpen = errors.New("audiofile: open failed")

// ErrUnsupportedFormat is wrapped by ErrOpen when the extension isn't one
// of wav/aif/aiff/flac/mp3.
var ErrUnsupportedFormat = errors.New("audiofile: unsupported format")

// Reader is a thread-safe, per-instance random-access reader over one
// sample file. Open reports format facts up front; ReadInto seeks then
// sequentially delivers frames as channel-planar float32 (one []float32
// per channel, each of length >= frames — see ReadInto for the exact
// contract). Multiple goroutines may hold distinct Reader instances for
// the same file concurrently; a single Reader instance is only ever used
// by one goroutine at a time in this engine (either the loader, for the
// initial preload, or the disk streamer, for refills — never both at
// once for the same articulation record, since preload completes before
// the record is ever selected for playback).
type Reader interface {
	// SampleRate is the file's native sample rate in Hz.
	SampleRate() int
	// Channels is the file's channel count.
	Channels() int
	// TotalFrames is the total number of frames in the file.
	TotalFrames() int64
	// ReadInto seeks to startFrame and reads up to frames frames into dst,
	// one []float32 slice per channel (each pre-allocated by the caller to
	// at least `frames` length). Returns the number of frames actually
	// read (less than requested at end of file).
	ReadInto(dst [][]float32, startFrame int64, frames int) (int, error)
	// Close releases any open file handle.
	Close() error
}

// Open dispatches on the file extension and returns the matching adapter.
func Open(path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return openWAV(path)
	case ".aif", ".aiff":
		return openAIFF(path)
	case ".flac":
		return openFLAC(path)
	case ".mp3":
		return openMP3(path)
	default:
		return nil, fmt.Errorf("%w: %w: %q", ErrOpen, ErrUnsupportedFormat, ext)
	}
}
