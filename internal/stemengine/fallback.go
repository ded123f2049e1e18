package stemengine

import (
	"context"
	"math"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

// fallbackEngine produces four deterministic frequency-band buffers instead
// of a real source-separation model. It never fails, so the pipeline always
// has something to render even with no separation model configured (spec
// §4.3's mandatory-success invariant).
type fallbackEngine struct{}

func (*fallbackEngine) Name() string { return "frequency-band-fallback" }

func (*fallbackEngine) Available(context.Context) bool { return true }

func (*fallbackEngine) Separate(_ context.Context, buf *pcm.Buffer) (map[domain.StemKind]*pcm.Buffer, error) {
	return map[domain.StemKind]*pcm.Buffer{
		domain.StemVocals: {Samples: highPass(buf.Samples, buf.SampleRate, 1200), SampleRate: buf.SampleRate},
		domain.StemDrums:  {Samples: limit(highPass(buf.Samples, buf.SampleRate, 150)), SampleRate: buf.SampleRate},
		domain.StemBass:   {Samples: lowPass(buf.Samples, buf.SampleRate, 150), SampleRate: buf.SampleRate},
		domain.StemOther:  {Samples: append([]float64(nil), buf.Samples...), SampleRate: buf.SampleRate},
	}, nil
}

// highPass is a one-pole RC high-pass filter, cutoff in Hz.
func highPass(in []float64, sampleRate int, cutoffHz float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	out := make([]float64, len(in))
	prevIn := in[0]
	prevOut := 0.0
	out[0] = 0
	for i := 1; i < len(in); i++ {
		out[i] = alpha * (prevOut + in[i] - prevIn)
		prevOut = out[i]
		prevIn = in[i]
	}
	return out
}

// lowPass is a one-pole RC low-pass filter, cutoff in Hz.
func lowPass(in []float64, sampleRate int, cutoffHz float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := dt / (rc + dt)

	out := make([]float64, len(in))
	out[0] = in[0] * alpha
	for i := 1; i < len(in); i++ {
		out[i] = out[i-1] + alpha*(in[i]-out[i-1])
	}
	return out
}

// limit is a simple hard peak limiter at -1dBFS, standing in for the
// dedicated limiter a drums stem needs after high-pass emphasis.
func limit(in []float64) []float64 {
	const ceiling = 0.89
	out := make([]float64, len(in))
	for i, v := range in {
		switch {
		case v > ceiling:
			out[i] = ceiling
		case v < -ceiling:
			out[i] = -ceiling
		default:
			out[i] = v
		}
	}
	return out
}
