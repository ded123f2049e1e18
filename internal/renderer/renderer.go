package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/objectstore"
	"github.com/infinitymix/engine/internal/sidecar"
)

// Config is the subset of spec §6.6 env-bound options the Renderer needs.
type Config struct {
	EncoderPath       string
	OutputBitrateKbps int
	RenderTimeout     time.Duration
	WorkDir           string
}

// Renderer shells out to an external ffmpeg-compatible encoder to build
// the final mashup MP3 from an ordered set of tracks and a Plan.
type Renderer struct {
	store  objectstore.Store
	config Config
	logger *slog.Logger
}

func New(store objectstore.Store, config Config, logger *slog.Logger) *Renderer {
	if config.OutputBitrateKbps == 0 {
		config.OutputBitrateKbps = 192
	}
	if config.RenderTimeout == 0 {
		config.RenderTimeout = 10 * time.Minute
	}
	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}
	return &Renderer{store: store, config: config, logger: logger}
}

// Output is what the Supervisor persists back onto the Mashup.
type Output struct {
	OutputKey        string
	GenerationTimeMs int64
	UsedFallback     bool
}

// Render implements spec §4.5's contract: read buffers via the ObjectStore,
// build the DSP graph, encode, and upload. The simplified fallback graph is
// tried automatically if the main graph's encoder invocation fails — the
// Renderer only returns an error if both graphs fail.
func (r *Renderer) Render(ctx context.Context, mashupID string, plan *domain.Plan, tracks []TrackRef, targetDurationSeconds float64, opts Options) (*Output, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.config.RenderTimeout)
	defer cancel()

	if len(tracks) == 0 {
		return nil, fmt.Errorf("renderer: no tracks to render")
	}
	if targetDurationSeconds <= 0 {
		targetDurationSeconds = 60
	}

	inputPaths, cleanup, err := r.materializeInputs(tracks)
	defer cleanup()
	if err != nil {
		return nil, fmt.Errorf("renderer: fetch inputs: %w", err)
	}

	transitionsIn := toTransitionInputs(plan.Transitions)

	plans := computePlaybackPlans(tracks, transitionsIn, plan.TargetBPM, targetDurationSeconds)

	outPath := filepath.Join(r.config.WorkDir, mashupID+".mp3")
	defer os.Remove(outPath)

	graph := buildMixGraph(tracks, plans, plan.Transitions, opts)
	usedFallback := false
	if err := r.runEncoder(ctx, inputPaths, graph, outPath); err != nil {
		r.logger.Warn("main render graph failed, falling back to simplified graph", "mashup_id", mashupID, "error", err)
		fallbackGraph := buildFallbackGraph(tracks, plans, opts)
		if err := r.runEncoder(ctx, inputPaths, fallbackGraph, outPath); err != nil {
			return nil, fmt.Errorf("renderer: fallback graph also failed: %w", err)
		}
		usedFallback = true
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("renderer: read encoded output: %w", err)
	}

	key := objectstore.MashupKey(mashupID)
	if _, err := r.store.Put(key, data, "audio/mpeg"); err != nil {
		return nil, fmt.Errorf("renderer: upload output: %w", err)
	}

	if err := r.writeSidecar(mashupID, plan, tracks); err != nil {
		r.logger.Error("sidecar bundle write failed", "mashup_id", mashupID, "error", err)
	}

	return &Output{
		OutputKey:        key,
		GenerationTimeMs: time.Since(start).Milliseconds(),
		UsedFallback:     usedFallback,
	}, nil
}

// writeSidecar builds the playlist/plan/cues/checksum bundle for a completed
// render and uploads each artifact to the ObjectStore alongside the audio
// output. A failure here doesn't fail the render itself — the mashup audio
// is already durable — so callers only log the error.
func (r *Renderer) writeSidecar(mashupID string, plan *domain.Plan, tracks []TrackRef) error {
	dir, err := os.MkdirTemp(r.config.WorkDir, mashupID+"-sidecar-")
	if err != nil {
		return fmt.Errorf("renderer: sidecar work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	entries := make([]sidecar.TrackEntry, len(tracks))
	for i, t := range tracks {
		entries[i] = sidecar.TrackEntry{TrackID: t.ID, OriginalName: t.OriginalName, CuePoints: t.CuePoints}
	}

	bundle, err := sidecar.Write(dir, mashupID, plan, entries)
	if err != nil {
		return fmt.Errorf("renderer: write sidecar bundle: %w", err)
	}

	for _, p := range []string{bundle.PlaylistPath, bundle.PlanJSONPath, bundle.CuesCSVPath, bundle.ChecksumsPath, bundle.ArchivePath} {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("renderer: read sidecar artifact %s: %w", filepath.Base(p), err)
		}
		if _, err := r.store.Put(objectstore.SidecarKey(mashupID, filepath.Base(p)), data, mimeFor(p)); err != nil {
			return fmt.Errorf("renderer: upload sidecar artifact %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func mimeFor(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".gz":
		return "application/gzip"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	default:
		return "text/plain"
	}
}

func (r *Renderer) materializeInputs(tracks []TrackRef) ([]string, func(), error) {
	paths := make([]string, len(tracks))
	cleanup := func() {
		for _, p := range paths {
			if p != "" {
				os.Remove(p)
			}
		}
	}
	for i, t := range tracks {
		data, _, err := r.store.Get(t.StorageKey)
		if err != nil {
			return nil, cleanup, fmt.Errorf("fetch track %s: %w", t.ID, err)
		}
		p := filepath.Join(r.config.WorkDir, uuid.NewString()+extFor(t.Mime))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return nil, cleanup, fmt.Errorf("stage track %s: %w", t.ID, err)
		}
		paths[i] = p
	}
	return paths, cleanup, nil
}

func (r *Renderer) runEncoder(ctx context.Context, inputPaths []string, filterComplex, outPath string) error {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	for _, p := range inputPaths {
		args = append(args, "-i", p)
	}
	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "[out]",
		"-ac", "2",
		"-ar", "44100",
		"-b:a", fmt.Sprintf("%dk", r.config.OutputBitrateKbps),
		outPath,
	)
	cmd := exec.CommandContext(ctx, r.config.EncoderPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, string(out))
	}
	return nil
}

func toTransitionInputs(transitions []domain.PlannedTransition) []transitionInput {
	out := make([]transitionInput, len(transitions))
	for i, t := range transitions {
		out[i] = transitionInput{MixInPoint: t.MixInSelection.Point, FadeDuration: t.FadeDuration}
	}
	return out
}

func extFor(mime string) string {
	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	default:
		return ".mp3"
	}
}
