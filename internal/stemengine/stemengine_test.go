package stemengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEngine struct {
	name      string
	available bool
	err       error
}

func (s *stubEngine) Name() string                            { return s.name }
func (s *stubEngine) Available(context.Context) bool           { return s.available }
func (s *stubEngine) Separate(context.Context, *pcm.Buffer) (map[domain.StemKind]*pcm.Buffer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[domain.StemKind]*pcm.Buffer{domain.StemOther: {}}, nil
}

func testBuffer() *pcm.Buffer {
	samples := make([]float64, 44100)
	for i := range samples {
		samples[i] = 0.5
	}
	return &pcm.Buffer{Samples: samples, SampleRate: 44100}
}

func TestSeparateFallsThroughUnavailableEngine(t *testing.T) {
	e := New(testLogger(), &stubEngine{name: "unavailable", available: false})
	result, err := e.Separate(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("separate should never error: %v", err)
	}
	if result.Engine != "frequency-band-fallback" {
		t.Errorf("expected fallback engine, got %s", result.Engine)
	}
	if result.Quality != "draft" {
		t.Errorf("expected draft quality from the fallback, got %s", result.Quality)
	}
}

func TestSeparateFallsThroughFailingEngine(t *testing.T) {
	e := New(testLogger(), &stubEngine{name: "flaky", available: true, err: errors.New("boom")})
	result, err := e.Separate(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("separate should never error: %v", err)
	}
	if result.Engine != "frequency-band-fallback" {
		t.Errorf("expected fallback engine after failure, got %s", result.Engine)
	}
}

func TestSeparatePrefersFirstHealthyEngine(t *testing.T) {
	e := New(testLogger(), &stubEngine{name: "primary", available: true})
	result, err := e.Separate(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Engine != "primary" {
		t.Errorf("expected primary engine to be used, got %s", result.Engine)
	}
	if result.Quality != "hifi" {
		t.Errorf("expected hifi quality from a real engine, got %s", result.Quality)
	}
}

func TestFallbackProducesAllFourStems(t *testing.T) {
	stems, err := (&fallbackEngine{}).Separate(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("fallback must never error: %v", err)
	}
	for _, kind := range []domain.StemKind{domain.StemVocals, domain.StemDrums, domain.StemBass, domain.StemOther} {
		if stems[kind] == nil || len(stems[kind].Samples) == 0 {
			t.Errorf("expected a populated %s stem", kind)
		}
	}
}

func TestLimitClampsPeaks(t *testing.T) {
	in := []float64{2.0, -2.0, 0.1}
	out := limit(in)
	if out[0] != 0.89 || out[1] != -0.89 {
		t.Errorf("expected clamped peaks, got %v", out)
	}
	if out[2] != 0.1 {
		t.Errorf("expected untouched sample within range, got %v", out[2])
	}
}
