package renderer

import (
	"fmt"
	"strings"

	"github.com/infinitymix/engine/internal/domain"
)

// Options carries the optional DSP toggles off a MixRequest (spec §6.1)
// that the filter chain consults at steps 4, 5, 9 and 10.
type Options struct {
	EnableDynamicEQ            bool
	EnableMultibandCompression bool
	EnableSidechainDucking     bool
	EnableFilterSweep          bool
	TempoRampSeconds           float64
	LoudnessNormalization      domain.LoudnessTarget
	TargetLoudness             float64
}

// multibandBand is one row of the per-band compressor table (spec §4.5 step 5).
type multibandBand struct {
	thresholdDB float64
	ratio       float64
}

var multibandBands = map[string]multibandBand{
	"low":  {-24, 2},
	"mid":  {-20, 3},
	"high": {-18, 4},
}

// buildTrackFilter composes one track's linear filter chain (spec §4.5
// steps 1-10), returning the ffmpeg filter fragment for input label
// in and output label out.
func buildTrackFilter(in, out string, pb Playback, opts Options, style domain.TransitionStyle) string {
	var steps []string

	steps = append(steps, "loudnorm=I=-14:TP=-1:LRA=11")

	if opts.TempoRampSeconds > 0 && absf(pb.TempoRatio-1) > 0.01 {
		expr := fmt.Sprintf("1+(%.6f)*min(t/%.4f\\,1)", pb.TempoRatio-1, opts.TempoRampSeconds)
		steps = append(steps, fmt.Sprintf("rubberband=tempo='%s'", expr))
	} else if absf(pb.TempoRatio-1) > 0.001 {
		steps = append(steps, fmt.Sprintf("atempo=%.6f", pb.TempoRatio))
	}

	steps = append(steps, fmt.Sprintf("atrim=start=%.4f:end=%.4f,asetpts=PTS-STARTPTS", pb.StartOffset, pb.TrimEnd))

	if opts.EnableDynamicEQ {
		steps = append(steps, "equalizer=f=500:width_type=o:width=1:g=-2")
		steps = append(steps, "equalizer=f=2500:width_type=o:width=1:g=-2")
	}

	if opts.EnableMultibandCompression {
		steps = append(steps, multibandChain())
	}

	if pb.FadeInDuration > 0 {
		steps = append(steps, fmt.Sprintf("afade=t=in:st=0:d=%.4f", pb.FadeInDuration))
	}

	if pb.FadeOutStart != nil {
		effectStart := *pb.FadeOutStart - pb.StartOffset
		duration := pb.TrimEnd - pb.StartOffset
		if effect := transitionEffect(style, effectStart, duration); effect != "" {
			steps = append(steps, effect)
		}
	}

	if pb.FadeOutStart != nil && pb.FadeOutDuration > 0 {
		steps = append(steps, fmt.Sprintf("afade=t=out:st=%.4f:d=%.4f", *pb.FadeOutStart, pb.FadeOutDuration))
	}

	if opts.EnableSidechainDucking && pb.FadeOutStart != nil && pb.FadeOutDuration > 0 {
		fo := *pb.FadeOutStart
		expr := fmt.Sprintf("1-0.3*(t-%.4f)/%.4f", fo, pb.FadeOutDuration)
		steps = append(steps, fmt.Sprintf("volume='%s':eval=frame", expr))
	}

	if opts.EnableFilterSweep && pb.FadeOutStart != nil {
		fo := pb.FadeOutDuration
		if fo <= 0 {
			fo = 0.5
		}
		expr := fmt.Sprintf("20+2000*t/%.4f", maxf(fo, 0.5))
		steps = append(steps, fmt.Sprintf("highpass=f='%s'", expr))
	}

	chain := strings.Join(steps, ",")
	return fmt.Sprintf("[%s]%s[%s]", in, chain, out)
}

func multibandChain() string {
	low := multibandBands["low"]
	mid := multibandBands["mid"]
	high := multibandBands["high"]
	return fmt.Sprintf(
		"asplit=3[lb][mb][hb];"+
			"[lb]lowpass=f=250,acompressor=threshold=%.0fdB:ratio=%.0f:attack=20:release=100[lc];"+
			"[mb]bandpass=f=2000:width_type=h:width=3750,acompressor=threshold=%.0fdB:ratio=%.0f:attack=20:release=100[mc];"+
			"[hb]highpass=f=4000,acompressor=threshold=%.0fdB:ratio=%.0f:attack=20:release=100[hc];"+
			"[lc][mc][hc]amix=inputs=3:normalize=0",
		low.thresholdDB, low.ratio, mid.thresholdDB, mid.ratio, high.thresholdDB, high.ratio,
	)
}

// transitionEffect is the §4.5-b gating table: most effects apply only from
// effectStart onward within the trimmed segment; backspin, tape_stop and
// stutter_edit are not gated and apply to the whole segment.
func transitionEffect(style domain.TransitionStyle, effectStart, duration float64) string {
	gate := fmt.Sprintf("gte(t\\,%.4f)", effectStart)

	switch style {
	case domain.StyleSmooth, domain.StyleDrop, domain.StyleCut, domain.StyleEnergy:
		return ""
	case domain.StyleFilterSweep:
		return fmt.Sprintf("highpass=f='if(%s, 20+20000*(t-%.4f)/%.4f, 20)'", gate, effectStart, maxf(duration, 0.01))
	case domain.StyleEchoReverb:
		return fmt.Sprintf("aecho=0.8:0.9:1000:0.3:enable='%s'", gate)
	case domain.StyleBackspin:
		return "areverse"
	case domain.StyleTapeStop:
		return "asetrate=22050,aresample=44100"
	case domain.StyleStutterEdit:
		return "atempo=1.5,atempo=0.66"
	case domain.StyleThreeBandSwap:
		return fmt.Sprintf("equalizer=f=200:g=-10:enable='%s',equalizer=f=2500:g=10:enable='%s',equalizer=f=8000:g=-10:enable='%s'", gate, gate, gate)
	case domain.StyleBassDrop:
		return fmt.Sprintf("lowpass=f=200:enable='%s'", gate)
	case domain.StyleSnareRoll:
		return fmt.Sprintf("highpass=f=2000:enable='%s'", gate)
	case domain.StyleNoiseRiser:
		return fmt.Sprintf("highpass=f='if(%s, 500+4000*(t-%.4f)/%.4f, 500)'", gate, effectStart, maxf(duration, 0.01))
	case domain.StyleVocalHandoff:
		return fmt.Sprintf("aecho=0.7:0.8:500:0.4:enable='%s'", gate)
	case domain.StyleBassSwap:
		return fmt.Sprintf("highpass=f=200:poles=2:enable='%s'", gate)
	case domain.StyleReverbWash:
		return fmt.Sprintf("aecho=0.8:0.95:1000|1500:0.5|0.3:enable='%s'", gate)
	case domain.StyleEchoOut:
		return fmt.Sprintf("aecho=0.8:0.85:750:0.5:enable='%s'", gate)
	default:
		return ""
	}
}

// buildMixGraph joins every track's filter fragment with adelay alignment
// and a final N-way amix, then the loudness/limiter tail (spec §4.5's
// "Final processing").
func buildMixGraph(tracks []TrackRef, plans []Playback, transitions []domain.PlannedTransition, opts Options) string {
	var parts []string
	var delayed []string

	for i := range tracks {
		in := fmt.Sprintf("%d:a", i)
		chainOut := fmt.Sprintf("t%d", i)
		var style domain.TransitionStyle
		if i < len(transitions) {
			style = transitions[i].Style
		}
		parts = append(parts, buildTrackFilter(in, chainOut, plans[i], opts, style))

		delayMs := int(plans[i].StartTime * 1000)
		delayedOut := fmt.Sprintf("d%d", i)
		parts = append(parts, fmt.Sprintf("[%s]adelay=%d|%d[%s]", chainOut, delayMs, delayMs, delayedOut))
		delayed = append(delayed, fmt.Sprintf("[%s]", delayedOut))
	}

	parts = append(parts, fmt.Sprintf("%samix=inputs=%d:normalize=0[mixed]", strings.Join(delayed, ""), len(tracks)))

	final := "[mixed]"
	switch opts.LoudnessNormalization {
	case domain.LoudnessEBUR128:
		target := opts.TargetLoudness
		if target == 0 {
			target = -14
		}
		parts = append(parts, fmt.Sprintf("[mixed]loudnorm=I=%.1f:TP=-1.5:LRA=11[normed]", target))
		final = "[normed]"
	case domain.LoudnessPeak:
		parts = append(parts, "[mixed]loudnorm=TP=-1.5:I=-14:LRA=11[normed]")
		final = "[normed]"
	}

	parts = append(parts, fmt.Sprintf("%salimiter=level_in=1:level_out=0.95[out]", final))

	return strings.Join(parts, ";")
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
