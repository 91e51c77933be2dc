package instrument

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/audioforge/polysampler/internal/audiofile"
	"github.com/audioforge/polysampler/internal/noteparse"
)

// fileInfo is the per-file result of the parallel scan stage: a parsed
// key plus the format facts opening the file cheaply reveals.
type fileInfo struct {
	key         noteparse.Key
	path        string
	sizeBytes   int64
	sampleRate  int
	channels    int
	totalFrames int64
}

// Load scans folder non-recursively, parses every recognized filename,
// opens each file once to capture format facts, and reduces the results
// into a published InstrumentMap with the given initial preload limits.
// Files that don't parse, or that fail to open, are skipped and logged —
// per spec.md §7, load-time errors are local and never fail the whole
// load.
func Load(folder string, velocityLayerLimit, roundRobinLimit, preloadKB int) (*InstrumentMap, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("instrument: read folder %q: %w", folder, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(folder, e.Name()))
	}

	infos := make([]*fileInfo, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			fi, ok := scanOne(p)
			if ok {
				infos[i] = fi
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parsed := lo.Filter(infos, func(fi *fileInfo, _ int) bool { return fi != nil })

	m := &InstrumentMap{folder: folder}
	m.velocityLayerLimit.Store(int32(velocityLayerLimit))
	m.roundRobinLimit.Store(int32(roundRobinLimit))
	m.preloadKB.Store(int32(preloadKB))

	buildNotes(m, parsed)
	buildFallbacks(m)

	var totalSize int64
	for _, fi := range parsed {
		totalSize += fi.sizeBytes
	}
	m.totalFileSizeBytes.Store(totalSize)

	m.Reconcile()
	return m, nil
}

// scanOne parses one filename and, if it parses, opens the file to
// capture format facts. Returns ok=false for anything that should be
// silently skipped.
func scanOne(path string) (*fileInfo, bool) {
	key, err := noteparse.ParseName(path)
	if err != nil {
		log.Printf("instrument: skip %q: %v", path, err)
		return nil, false
	}

	st, err := os.Stat(path)
	if err != nil {
		log.Printf("instrument: skip %q: stat: %v", path, err)
		return nil, false
	}

	r, err := audiofile.Open(path)
	if err != nil {
		log.Printf("instrument: skip %q: %v", path, err)
		return nil, false
	}
	defer r.Close()

	return &fileInfo{
		key:         key,
		path:        path,
		sizeBytes:   st.Size(),
		sampleRate:  r.SampleRate(),
		channels:    r.Channels(),
		totalFrames: r.TotalFrames(),
	}, true
}

// buildNotes performs the single-threaded reduction: group parsed files
// by note, sort each note's distinct velocities ascending, derive
// contiguous layer ranges, and file every record under its resolved
// (note, layer index, round-robin) key. Duplicate (note, velocity,
// round-robin) triples are last-write-wins, logged as a warning — an
// explicit Open Question resolution (see DESIGN.md).
func buildNotes(m *InstrumentMap, parsed []*fileInfo) {
	byNote := lo.GroupBy(parsed, func(fi *fileInfo) int { return fi.key.Note })

	seenKeys := make(map[ArticulationKey]*ArticulationRecord)

	maxRR := 0
	maxLayers := 0

	for note, files := range byNote {
		velocities := lo.Uniq(lo.Map(files, func(fi *fileInfo, _ int) int { return fi.key.Velocity }))
		sort.Ints(velocities)

		layers := make([]VelocityLayer, len(velocities))
		prevEnd := 0
		for i, v := range velocities {
			start := prevEnd + 1
			if i == 0 {
				start = 1
			}
			layers[i] = VelocityLayer{VelocityValue: v, RangeStart: start, RangeEnd: v}
			prevEnd = v
		}
		if len(layers) > maxLayers {
			maxLayers = len(layers)
		}

		velocityToIndex := make(map[int]int, len(layers))
		for i, l := range layers {
			velocityToIndex[l.VelocityValue] = i
		}

		m.notes[note].Layers = layers

		for _, fi := range files {
			if fi.key.RoundRobin > maxRR {
				maxRR = fi.key.RoundRobin
			}
			ak := ArticulationKey{
				Note:               note,
				VelocityLayerIndex: velocityToIndex[fi.key.Velocity],
				RoundRobin:         fi.key.RoundRobin,
			}
			if existing, dup := seenKeys[ak]; dup {
				log.Printf("instrument: duplicate articulation %s (note %d layer %d rr %d): %q replaces %q",
					noteparse.FormatKey(noteparse.Key{Note: note, Velocity: fi.key.Velocity, RoundRobin: fi.key.RoundRobin}),
					note, ak.VelocityLayerIndex, ak.RoundRobin, fi.path, existing.Path)
			}
			rec := &ArticulationRecord{
				Key:           ak,
				VelocityValue: fi.key.Velocity,
				Path:          fi.path,
				SampleRate:    fi.sampleRate,
				Channels:      fi.channels,
				TotalFrames:   fi.totalFrames,
			}
			seenKeys[ak] = rec
		}
	}

	m.records = make([]*ArticulationRecord, 0, len(seenKeys))
	for _, rec := range seenKeys {
		m.records = append(m.records, rec)
	}
	m.maxRoundRobins = maxRR
	m.maxVelocityLayers = maxLayers
}

// buildFallbacks fills in fallback_note for every note with no own
// layers: the smallest note strictly above it that does have layers.
func buildFallbacks(m *InstrumentMap) {
	nextWithLayers := -1
	for note := 127; note >= 0; note-- {
		if len(m.notes[note].Layers) > 0 {
			nextWithLayers = note
			continue
		}
		if nextWithLayers >= 0 {
			m.notes[note].HasFallback = true
			m.notes[note].FallbackNote = nextWithLayers
		}
	}
}
