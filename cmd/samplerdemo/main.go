// Command samplerdemo is a CLI shell around SamplerEngine: it loads an
// instrument folder, opens a PortAudio output stream driven by the
// engine's Process callback, and feeds it either live MIDI bytes or a
// short scripted demo phrase. It replaces the teacher's Wails/GUI
// bootstrap with the same construction order (load config, build
// services, wire callbacks, run) in a headless shell, since the DAW/GUI
// plug-in host is explicitly out of scope (spec.md §1).
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gordonklaus/portaudio"
	flagpkg "github.com/spf13/pflag"

	"github.com/audioforge/polysampler/internal/config"
	"github.com/audioforge/polysampler/internal/engine"
	"github.com/audioforge/polysampler/internal/midisource"
	"github.com/audioforge/polysampler/internal/observability"
)

const (
	defaultBlockSize = 256
	outputChannels   = 2
)

// initLogging mirrors the teacher's initLogging: a log file under the
// user's home directory, duplicated to stdout.
func initLogging() *os.File {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("logging: failed to get home dir: %v", err)
		return nil
	}
	logDir := filepath.Join(home, ".polysampler")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("logging: failed to create log dir: %v", err)
		return nil
	}
	f, err := os.OpenFile(filepath.Join(logDir, "samplerdemo.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Printf("logging: failed to open log file: %v", err)
		return nil
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	return f
}

func main() {
	logFile := initLogging()
	if logFile != nil {
		defer logFile.Close()
	}

	var (
		folderFlag   = flagpkg.String("folder", "", "instrument sample folder (overrides persisted sampleFolder)")
		rateFlag     = flagpkg.Int("rate", 48000, "host output sample rate in Hz")
		blockFlag    = flagpkg.Int("block", defaultBlockSize, "audio callback block size in frames")
		preloadFlag  = flagpkg.Int("preload-kb", 0, "preload size in KB (0 keeps the persisted value)")
		velLayerFlag = flagpkg.Int("velocity-layers", 0, "selective-preload velocity layer limit (0 keeps the persisted value)")
		rrFlag       = flagpkg.Int("round-robins", 0, "selective-preload round-robin limit (0 keeps the persisted value)")
		demoFlag     = flagpkg.Bool("demo", true, "play a short scripted phrase instead of waiting for live MIDI")
	)
	flagpkg.Parse()

	cfgSvc := config.New()
	state := cfgSvc.Load()

	if *folderFlag != "" {
		state.SampleFolder = *folderFlag
	}
	if *preloadFlag != 0 {
		state.PreloadSizeKB = *preloadFlag
	}
	if *velLayerFlag != 0 {
		state.VelocityLayerLimit = *velLayerFlag
	}
	if *rrFlag != 0 {
		state.RoundRobinLimit = *rrFlag
	}
	if state.SampleFolder == "" {
		log.Fatal("samplerdemo: no sample folder given (use --folder or persist sampleFolder)")
	}

	eng := engine.New(*rateFlag, outputChannels)
	defer eng.Close()

	eng.SetAttackSeconds(state.Attack)
	eng.SetDecaySeconds(state.Decay)
	eng.SetSustainLevel(state.Sustain)
	eng.SetReleaseSeconds(state.Release)
	eng.SetSameNoteReleaseSeconds(state.SameNoteRelease)
	eng.SetTranspose(state.Transpose)
	eng.SetSampleOffset(state.SampleOffset)

	log.Printf("samplerdemo: loading %q", state.SampleFolder)
	if err := eng.Load(state.SampleFolder, state.VelocityLayerLimit, state.RoundRobinLimit, state.PreloadSizeKB); err != nil {
		log.Fatalf("samplerdemo: load: %v", err)
	}

	if err := cfgSvc.Save(state); err != nil {
		log.Printf("samplerdemo: save config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runAudio(ctx, eng, *rateFlag, *blockFlag); err != nil {
		log.Fatalf("samplerdemo: audio: %v", err)
	}

	var source *midisource.EventSource
	if *demoFlag {
		source = midisource.NewScripted(demoScript())
	} else {
		source = midisource.New(os.Stdin)
	}
	if err := source.Start(ctx, func(ev midisource.Event) { dispatch(eng, ev) }); err != nil {
		log.Fatalf("samplerdemo: midi source: %v", err)
	}
	defer source.Stop()

	reportObservability(ctx, eng)

	<-ctx.Done()
	log.Println("samplerdemo: shutting down")
}

// dispatch translates one decoded MIDI event into an engine call, per
// spec.md §6: note-on velocity 0 is already normalized to NoteOff by
// midisource's real-backend decoder; CC64 is the sustain pedal.
func dispatch(eng *engine.SamplerEngine, ev midisource.Event) {
	switch ev.Kind {
	case midisource.NoteOn:
		eng.NoteOn(ev.Note, ev.Velocity)
	case midisource.NoteOff:
		eng.NoteOff(ev.Note)
	case midisource.ControlChange:
		if ev.Controller == 64 {
			eng.SustainPedal(ev.Value)
		}
	}
}

// runAudio opens a PortAudio output stream whose callback pulls audio
// from eng.Process — the real-portaudio-backend idiom this module's
// teacher uses for input, run in the opposite direction (spec.md's
// audio-thread contract: no locks, no allocation, no file I/O inside the
// callback itself).
func runAudio(ctx context.Context, eng *engine.SamplerEngine, sampleRate, blockSize int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	callback := func(out [][]float32) {
		eng.Process(out)
	}

	stream, err := portaudio.OpenDefaultStream(0, outputChannels, float64(sampleRate), blockSize, callback)
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		return fmt.Errorf("portaudio open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close() //nolint:errcheck
		portaudio.Terminate()
		return fmt.Errorf("portaudio start stream: %w", err)
	}

	go func() {
		<-ctx.Done()
		stream.Stop()
		stream.Close()
		portaudio.Terminate()
	}()
	return nil
}

// reportObservability polls the engine's exposed counters once a second
// and logs them — a stand-in for the UI polling loop spec.md §6
// describes.
func reportObservability(ctx context.Context, eng *engine.SamplerEngine) {
	var counters observability.Counters
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := eng.InstrumentMap()
				var snap observability.Snapshot
				if m == nil {
					snap = counters.Snapshot(eng, nil)
				} else {
					snap = counters.Snapshot(eng, m)
				}
				log.Printf("samplerdemo: voices=%d streaming=%d underruns=%d disk=%.2fMB/s preload=%dB",
					snap.ActiveVoiceCount, snap.StreamingVoiceCount, snap.UnderrunCount,
					snap.DiskThroughputMBps, snap.PreloadMemoryBytes)
			}
		}
	}()
}

// demoScript is a short, fixed C-major phrase used when --demo is set
// (the default), so the binary produces audible output without needing
// a MIDI controller plugged in.
func demoScript() []midisource.TimedEvent {
	notes := []int{60, 64, 67, 72}
	var script []midisource.TimedEvent
	t := 200 * time.Millisecond
	for _, n := range notes {
		script = append(script, midisource.TimedEvent{
			After: t,
			Event: midisource.Event{Kind: midisource.NoteOn, Note: n, Velocity: 100},
		})
		script = append(script, midisource.TimedEvent{
			After: t + 600*time.Millisecond,
			Event: midisource.Event{Kind: midisource.NoteOff, Note: n},
		})
		t += 400 * time.Millisecond
	}
	return script
}
