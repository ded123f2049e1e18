package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/infinitymix/engine/internal/domain"
)

func samplePlan() *domain.Plan {
	return &domain.Plan{
		Order:     []string{"t1", "t2"},
		TargetBPM: 128,
		Quality:   90,
		Transitions: []domain.PlannedTransition{
			{FromID: "t1", ToID: "t2", Style: domain.StyleSmooth, FadeDuration: 8},
		},
	}
}

func sampleTracks() []TrackEntry {
	drop := 32.0
	return []TrackEntry{
		{TrackID: "t1", OriginalName: "opener.wav", CuePoints: &domain.CuePoints{MixIn: 4, MixOut: 180, Drop: &drop, Confidence: 0.8}},
		{TrackID: "t2", OriginalName: "closer.wav", CuePoints: &domain.CuePoints{MixIn: 0, MixOut: 200, Confidence: 0.6}},
	}
}

func TestWriteProducesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	b, err := Write(dir, "mashup-1", samplePlan(), sampleTracks())
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for _, p := range []string{b.PlaylistPath, b.PlanJSONPath, b.CuesCSVPath, b.ChecksumsPath, b.ArchivePath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected artifact at %s: %v", p, err)
		}
	}
}

func TestWriteRejectsNilPlan(t *testing.T) {
	if _, err := Write(t.TempDir(), "mashup-1", nil, sampleTracks()); err == nil {
		t.Fatalf("expected error for nil plan")
	}
}

func TestVerifyChecksumsDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	b, err := Write(dir, "mashup-1", samplePlan(), sampleTracks())
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := VerifyChecksums(b.ChecksumsPath, dir); err != nil {
		t.Fatalf("expected verify ok, got %v", err)
	}

	if err := os.WriteFile(b.PlaylistPath, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("failed to corrupt playlist: %v", err)
	}
	if err := VerifyChecksums(b.ChecksumsPath, dir); err == nil {
		t.Fatalf("expected checksum mismatch after corruption")
	}
}

func TestCuesCSVSkipsTracksWithoutCuePoints(t *testing.T) {
	dir := t.TempDir()
	tracks := append(sampleTracks(), TrackEntry{TrackID: "t3", OriginalName: "no-cues.wav"})
	b, err := Write(dir, "mashup-2", samplePlan(), tracks)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(b.CuesCSVPath)
	if err != nil {
		t.Fatalf("read cues csv: %v", err)
	}
	if filepath.Base(b.CuesCSVPath) == "" {
		t.Fatal("unexpected empty csv path")
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty cues csv")
	}
	if strings.Contains(string(data), "t3") {
		t.Errorf("expected track without cue points to be skipped, got:\n%s", data)
	}
}
