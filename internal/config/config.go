// Package config loads and saves the small key-value record the host
// reads and writes verbatim (spec.md §6 "Persisted state"). Grounded on
// the teacher's ConfigService: JSON on disk, defaults filled in for
// anything missing or out of range, atomic write-then-rename on save.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

// State is the persisted record spec.md §6 defines. Every field maps
// directly to one recognized key.
type State struct {
	SampleFolder       string  `json:"sampleFolder"`
	Attack             float64 `json:"attack"`
	Decay              float64 `json:"decay"`
	Sustain            float64 `json:"sustain"`
	Release            float64 `json:"release"`
	PreloadSizeKB      int     `json:"preloadSizeKB"`
	Transpose          int     `json:"transpose"`
	SampleOffset       int     `json:"sampleOffset"`
	VelocityLayerLimit int     `json:"velocityLayerLimit"`
	RoundRobinLimit    int     `json:"roundRobinLimit"`
	SameNoteRelease    float64 `json:"sameNoteRelease"`
}

// defaultState returns factory defaults. The ADSR and same-note release
// values match SamplerEngine's own construction-time settings;
// instrument.Load has no defaults of its own and takes the limits and
// preload size from its caller.
func defaultState() State {
	return State{
		Attack:             0.01,
		Decay:              0.1,
		Sustain:            0.8,
		Release:            0.3,
		PreloadSizeKB:      128,
		Transpose:          0,
		SampleOffset:       0,
		VelocityLayerLimit: 4,
		RoundRobinLimit:    4,
		SameNoteRelease:    0.05,
	}
}

// clamp applies spec.md §6's per-key ranges, used both when loading (in
// case the file was hand-edited or came from an older version) and
// before saving.
func (s *State) clamp() {
	d := defaultState()
	if s.PreloadSizeKB < 32 || s.PreloadSizeKB > 1024 {
		s.PreloadSizeKB = d.PreloadSizeKB
	}
	if s.Transpose < -12 || s.Transpose > 12 {
		s.Transpose = 0
	}
	if s.SampleOffset < -12 || s.SampleOffset > 12 {
		s.SampleOffset = 0
	}
	if s.VelocityLayerLimit < 1 {
		s.VelocityLayerLimit = d.VelocityLayerLimit
	}
	if s.RoundRobinLimit < 1 {
		s.RoundRobinLimit = d.RoundRobinLimit
	}
	if s.SameNoteRelease < 0.01 || s.SameNoteRelease > 5.0 {
		s.SameNoteRelease = d.SameNoteRelease
	}
}

// Service loads and saves a State at a fixed path.
type Service struct {
	path string
}

// New creates a Service pointing at the standard path under the user's
// config directory.
func New() *Service {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Service{path: filepath.Join(dir, "polysampler", "state.json")}
}

// NewAt creates a Service pointing at an explicit path (tests, or a host
// that manages its own project file).
func NewAt(path string) *Service {
	return &Service{path: path}
}

// Load reads State from disk. Returns defaults if the file doesn't
// exist; logs and resets to defaults if it's corrupt, per spec.md §6
// "Restoration must be idempotent and safe". Every field is re-clamped
// after load so a hand-edited or stale file can't hand the engine an
// out-of-range value.
func (c *Service) Load() State {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return defaultState()
	}
	if err != nil {
		log.Printf("config: read %q: %v — using defaults", c.path, err)
		return defaultState()
	}

	state := defaultState()
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("config: parse %q: %v — resetting to defaults", c.path, err)
		fresh := defaultState()
		_ = c.Save(fresh)
		return fresh
	}
	state.clamp()
	return state
}

// Save writes State to disk atomically (write to a temp file, then
// rename), creating the parent directory if needed.
func (c *Service) Save(state State) error {
	state.clamp()
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
