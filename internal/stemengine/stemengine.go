// Package stemengine separates a decoded track into vocals/drums/bass/other
// stem buffers. It tries a short ordered list of engines and always
// succeeds: a local engine, a remote HTTP engine, and finally a
// frequency-band fallback that never errors (spec §4.3).
package stemengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

// Engine is one stem-separation backend.
type Engine interface {
	Name() string
	Available(ctx context.Context) bool
	Separate(ctx context.Context, buf *pcm.Buffer) (map[domain.StemKind]*pcm.Buffer, error)
}

// StemEngine tries its engines in order and guarantees a result.
type StemEngine struct {
	engines []Engine
	logger  *slog.Logger
	health  *cache.Cache
}

// New builds a StemEngine with the given ordered engine list. Callers
// typically pass []Engine{localEngine, remoteEngine} — the fallback engine
// is always appended and never needs to be passed explicitly.
func New(logger *slog.Logger, engines ...Engine) *StemEngine {
	return &StemEngine{
		engines: append(append([]Engine(nil), engines...), &fallbackEngine{}),
		logger:  logger,
		health:  cache.New(30*time.Second, time.Minute),
	}
}

// Result is a completed separation with provenance, consumed by the
// Catalog to populate Track.Stems.
type Result struct {
	Stems   map[domain.StemKind]*pcm.Buffer
	Engine  string
	Quality string // "hifi" for a real model, "draft" for the fallback
}

// Separate runs the engine list in order, skipping any engine whose cached
// health probe recently failed, and falls through on any separation error.
// The fallback engine never errors, so Separate always returns a result.
func (e *StemEngine) Separate(ctx context.Context, buf *pcm.Buffer) (*Result, error) {
	for _, eng := range e.engines {
		if !e.isHealthy(ctx, eng) {
			continue
		}
		stems, err := eng.Separate(ctx, buf)
		if err != nil {
			e.logger.Warn("stem engine failed, trying next", "engine", eng.Name(), "error", err)
			e.health.Set(eng.Name(), false, cache.DefaultExpiration)
			continue
		}
		quality := "hifi"
		if _, ok := eng.(*fallbackEngine); ok {
			quality = "draft"
		}
		return &Result{Stems: stems, Engine: eng.Name(), Quality: quality}, nil
	}
	// Unreachable in practice: fallbackEngine.Available always returns true.
	stems, _ := (&fallbackEngine{}).Separate(ctx, buf)
	return &Result{Stems: stems, Engine: "fallback", Quality: "draft"}, nil
}

func (e *StemEngine) isHealthy(ctx context.Context, eng Engine) bool {
	if v, ok := e.health.Get(eng.Name()); ok {
		if healthy, ok := v.(bool); ok && !healthy {
			return false
		}
	}
	healthy := eng.Available(ctx)
	e.health.Set(eng.Name(), healthy, cache.DefaultExpiration)
	return healthy
}
