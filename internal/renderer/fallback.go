package renderer

import (
	"fmt"
	"strings"

	"github.com/infinitymix/engine/internal/domain"
)

// buildFallbackGraph is spec §4.5's simplified fallback graph: a plain
// trim/fade/delay/mix/limiter chain with no transition effects, EQ, or
// compression. It is tried only after the main graph's encoder invocation
// has already failed once, and it must itself always succeed.
func buildFallbackGraph(tracks []TrackRef, plans []Playback, opts Options) string {
	var parts []string
	var delayed []string

	for i := range tracks {
		pb := plans[i]
		perSegment := pb.TrimEnd - pb.StartOffset
		if perSegment <= 0 {
			perSegment = 1
		}
		fade := pb.FadeOutDuration
		if fade <= 0 {
			fade = pb.FadeInDuration
		}
		fadeIn := minf(fade, perSegment/2)
		fadeOutStart := maxf(0, perSegment-fade)

		chain := fmt.Sprintf("atrim=start=%.4f:end=%.4f,asetpts=PTS-STARTPTS", pb.StartOffset, pb.TrimEnd)
		if fadeIn > 0 {
			chain += fmt.Sprintf(",afade=t=in:st=0:d=%.4f", fadeIn)
		}
		if fade > 0 {
			chain += fmt.Sprintf(",afade=t=out:st=%.4f:d=%.4f", fadeOutStart, fade)
		}

		chainOut := fmt.Sprintf("ft%d", i)
		parts = append(parts, fmt.Sprintf("[%d:a]%s[%s]", i, chain, chainOut))

		delayMs := int(pb.StartTime * 1000)
		delayedOut := fmt.Sprintf("fd%d", i)
		parts = append(parts, fmt.Sprintf("[%s]adelay=%d|%d[%s]", chainOut, delayMs, delayMs, delayedOut))
		delayed = append(delayed, fmt.Sprintf("[%s]", delayedOut))
	}

	parts = append(parts, fmt.Sprintf("%samix=inputs=%d:normalize=0[fmixed]", strings.Join(delayed, ""), len(tracks)))

	final := "[fmixed]"
	if opts.LoudnessNormalization != "" && opts.LoudnessNormalization != domain.LoudnessNone {
		parts = append(parts, "[fmixed]loudnorm=I=-14:TP=-1.5:LRA=11[fnormed]")
		final = "[fnormed]"
	}
	parts = append(parts, fmt.Sprintf("%salimiter=level_in=1:level_out=0.95[out]", final))

	return strings.Join(parts, ";")
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
