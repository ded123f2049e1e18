package stemengine

import (
	"context"
	"os/exec"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

// localEngine shells out to a locally installed AI source-separation binary
// (e.g. a demucs-compatible CLI). It is the highest-quality engine in the
// ordered list and the first one tried.
type localEngine struct {
	binaryPath string
	decoder    *pcm.Decoder
}

// NewLocalEngine builds the local-AI StemEngine entry. binaryPath is the
// executable resolved from the STEM_ENGINES config entry; it is run once per
// stem, selected with a -stem flag, reading raw float32 little-endian samples
// from stdin and writing that stem in the same format to stdout.
func NewLocalEngine(binaryPath string, decoder *pcm.Decoder) *localEngine {
	return &localEngine{binaryPath: binaryPath, decoder: decoder}
}

func (l *localEngine) Name() string { return "local-ai" }

func (l *localEngine) Available(ctx context.Context) bool {
	if l.binaryPath == "" {
		return false
	}
	resolved, err := exec.LookPath(l.binaryPath)
	if err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(probeCtx, resolved, "-version").Run() == nil
}

func (l *localEngine) Separate(ctx context.Context, buf *pcm.Buffer) (map[domain.StemKind]*pcm.Buffer, error) {
	out := make(map[domain.StemKind]*pcm.Buffer, 4)
	for _, kind := range []domain.StemKind{domain.StemVocals, domain.StemDrums, domain.StemBass, domain.StemOther} {
		separated, err := l.separateOne(ctx, buf, kind)
		if err != nil {
			return nil, err
		}
		out[kind] = separated
	}
	return out, nil
}

func (l *localEngine) separateOne(ctx context.Context, buf *pcm.Buffer, kind domain.StemKind) (*pcm.Buffer, error) {
	sepCtx, cancel := context.WithTimeout(ctx, separateTimeout)
	defer cancel()

	cmd := exec.CommandContext(sepCtx, l.binaryPath, "-stem", string(kind), "-f", "f32le", "-i", "pipe:0", "pipe:1")
	cmd.Stdin = pcm.NewFloat32Reader(buf.Samples)
	raw, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return &pcm.Buffer{Samples: pcm.DecodeFloat32LE(raw), SampleRate: buf.SampleRate}, nil
}
