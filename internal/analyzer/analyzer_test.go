package analyzer

import (
	"math"
	"testing"

	"github.com/infinitymix/engine/internal/fixtures"
	"github.com/infinitymix/engine/internal/pcm"
)

func TestAnalyzeClickTrackRecoversBPM(t *testing.T) {
	buf := fixtures.GenerateClickTrack(44100, 128, 64)

	result := Analyze(buf)
	if result.BPM == nil {
		t.Fatalf("expected a bpm estimate")
	}
	if math.Abs(*result.BPM-128) > 6 {
		t.Errorf("expected bpm near 128, got %.2f", *result.BPM)
	}
	if result.BPMConfidence <= 0 {
		t.Errorf("expected positive bpm confidence")
	}
}

func TestAnalyzePhraseTrackDetectsStructureAndDrop(t *testing.T) {
	track := fixtures.GeneratePhraseTrack(44100, 128, "8A")

	result := Analyze(track.Buffer)
	if len(result.Structure) == 0 {
		t.Fatalf("expected at least one labeled section")
	}
	if len(result.DropMoments) == 0 {
		t.Fatalf("expected at least one detected drop")
	}
	if len(result.WaveformLite) == 0 || len(result.WaveformLite) > 256 {
		t.Errorf("waveform lite should have 1-256 bins, got %d", len(result.WaveformLite))
	}
	if result.DurationSeconds <= 0 {
		t.Errorf("expected positive duration")
	}
}

func TestAnalyzeEmptyBufferDoesNotPanic(t *testing.T) {
	result := Analyze(&pcm.Buffer{Samples: nil, SampleRate: 44100})
	if result.BPM != nil {
		t.Errorf("expected nil bpm for empty buffer")
	}
	if result.KeySignature != "" {
		t.Errorf("expected no key for empty buffer")
	}
}
