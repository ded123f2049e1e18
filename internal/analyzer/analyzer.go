// Package analyzer extracts BPM, key, structure and other descriptive
// metadata from decoded PCM, producing a pure domain.AnalysisResult (spec
// §4.2). It depends on nothing but internal/pcm and internal/domain, so it
// is trivially testable against internal/fixtures synthetic audio.
package analyzer

import (
	"math"
	"sort"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

const analysisVersion = "1"

const (
	frameSize = 1024
	hopSize   = 512
)

// Analyze runs the full pipeline against a decoded buffer. It never
// returns an error for malformed/quiet audio — stages degrade to null
// fields rather than failing, per spec §4.2's partial-output rule.
func Analyze(buf *pcm.Buffer) *domain.AnalysisResult {
	duration := buf.Duration()

	energy := shortTimeEnergy(buf.Samples, frameSize, hopSize)
	onset := onsetEnvelope(energy)

	bpm, bpmConf := estimateBPM(onset, buf.SampleRate, hopSize)
	beatGrid := buildBeatGrid(bpm, duration)

	keySig, camelot, keyConf := estimateKey(buf.Samples, buf.SampleRate)

	smoothedForPhrase := smooth(energy, 4)
	phrases := detectPhrases(smoothedForPhrase, hopSize, buf.SampleRate)

	smoothedForDrop := smooth(energy, 10)
	drops := detectDrops(smoothedForDrop, hopSize, buf.SampleRate)

	structure := labelStructure(phrases, drops, duration)
	waveform := waveformLite(buf.Samples)

	return &domain.AnalysisResult{
		BPM:             bpm,
		BPMConfidence:   bpmConf,
		KeySignature:    keySig,
		CamelotKey:      camelot,
		KeyConfidence:   keyConf,
		DurationSeconds: duration,
		BeatGrid:        beatGrid,
		Phrases:         phrases,
		Structure:       structure,
		DropMoments:     drops,
		WaveformLite:    waveform,
		AnalysisVersion: analysisVersion,
	}
}

// shortTimeEnergy computes per-frame energy E[i] = mean(samples[i..i+frameSize]^2).
func shortTimeEnergy(samples []float64, frame, hop int) []float64 {
	if len(samples) < frame {
		return nil
	}
	n := (len(samples)-frame)/hop + 1
	out := make([]float64, 0, n)
	for start := 0; start+frame <= len(samples); start += hop {
		var sum float64
		for i := start; i < start+frame; i++ {
			sum += samples[i] * samples[i]
		}
		out = append(out, sum/float64(frame))
	}
	return out
}

// onsetEnvelope is the half-wave rectified frame-to-frame energy delta.
func onsetEnvelope(energy []float64) []float64 {
	if len(energy) == 0 {
		return nil
	}
	out := make([]float64, len(energy))
	for i := 1; i < len(energy); i++ {
		d := energy[i] - energy[i-1]
		if d > 0 {
			out[i] = d
		}
	}
	return out
}

// smooth applies a simple moving average of the given window.
func smooth(in []float64, window int) []float64 {
	if window <= 1 || len(in) == 0 {
		return in
	}
	out := make([]float64, len(in))
	for i := range in {
		lo := i - window/2
		if lo < 0 {
			lo = 0
		}
		hi := i + window/2
		if hi >= len(in) {
			hi = len(in) - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += in[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// estimateBPM finds the lag in the onset autocorrelation that best explains
// a tempo in [70, 180] BPM and returns (bpm, confidence), both nil/0 when
// there isn't enough signal.
func estimateBPM(onset []float64, sampleRate, hop int) (*float64, float64) {
	if len(onset) < 4 {
		return nil, 0
	}

	framesPerSec := float64(sampleRate) / float64(hop)
	minLag := int(math.Round(60.0 / 180.0 * framesPerSec))
	maxLag := int(math.Round(60.0 / 70.0 * framesPerSec))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}
	if maxLag <= minLag {
		return nil, 0
	}

	bestLag := minLag
	bestCorr := -2.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := pearson(onset, lag)
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	bpm := 60.0 * framesPerSec / float64(bestLag)
	conf := clamp01((bestCorr + 1) / 2)
	return &bpm, conf
}

func pearson(series []float64, lag int) float64 {
	n := len(series) - lag
	if n <= 1 {
		return 0
	}
	a := series[:n]
	b := series[lag : lag+n]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 || varB <= 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildBeatGrid emits t_k = k*60/bpm, truncated at duration and capped at
// 512 entries, rounded to 3 decimals.
func buildBeatGrid(bpm *float64, duration float64) []float64 {
	if bpm == nil || *bpm <= 0 {
		return nil
	}
	step := 60.0 / *bpm
	var grid []float64
	for k := 0; ; k++ {
		t := float64(k) * step
		if t > duration || len(grid) >= 512 {
			break
		}
		grid = append(grid, round3(t))
	}
	return grid
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// detectPhrases turns a smoothed envelope into active high-energy spans
// using a 1.15*mean enter / 0.75*mean exit hysteresis band.
func detectPhrases(envelope []float64, hop, sampleRate int) []domain.Phrase {
	if len(envelope) == 0 {
		return nil
	}
	mean := meanOf(envelope)
	enterThresh := 1.15 * mean
	exitThresh := 0.75 * mean

	var phrases []domain.Phrase
	active := false
	var start int
	var sum float64
	var count int

	frameTime := func(i int) float64 { return float64(i*hop) / float64(sampleRate) }

	for i, v := range envelope {
		if !active && v >= enterThresh {
			active = true
			start = i
			sum, count = 0, 0
		}
		if active {
			sum += v
			count++
		}
		if active && v <= exitThresh {
			phrases = append(phrases, domain.Phrase{
				Start:  round3(frameTime(start)),
				End:    round3(frameTime(i)),
				Energy: round3(sum / float64(count)),
			})
			active = false
		}
	}
	if active {
		phrases = append(phrases, domain.Phrase{
			Start:  round3(frameTime(start)),
			End:    round3(frameTime(len(envelope) - 1)),
			Energy: round3(sum / float64(count)),
		})
	}
	return phrases
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// detectDrops marks local peaks that clear curr>1.1*prev and curr>=1.4*mean,
// emitting at most 3 times.
func detectDrops(envelope []float64, hop, sampleRate int) []float64 {
	if len(envelope) < 3 {
		return nil
	}
	mean := meanOf(envelope)
	var drops []float64
	for i := 1; i < len(envelope)-1 && len(drops) < 3; i++ {
		curr, prev := envelope[i], envelope[i-1]
		if prev <= 0 {
			continue
		}
		if curr > 1.1*prev && curr >= 1.4*mean {
			t := float64(i*hop) / float64(sampleRate)
			drops = append(drops, round3(t))
		}
	}
	return drops
}

// labelStructure applies the rule-based structure labeling of spec §4.2
// step 10.
func labelStructure(phrases []domain.Phrase, drops []float64, duration float64) []domain.Section {
	var out []domain.Section

	if len(phrases) == 0 {
		introEnd := math.Min(15, duration)
		out = append(out, domain.Section{Label: domain.SectionIntro, Start: 0, End: introEnd, Confidence: 0.5})
		out = append(out, domain.Section{Label: domain.SectionBody, Start: introEnd, End: duration, Confidence: 0.5})
	} else {
		cycle := []domain.SectionLabel{domain.SectionVerse, domain.SectionChorus}
		for i, p := range phrases {
			label := domain.SectionIntro
			if i > 0 {
				label = cycle[(i-1)%len(cycle)]
			}
			out = append(out, domain.Section{Label: label, Start: p.Start, End: p.End, Confidence: 0.7})
		}
	}

	if len(drops) > 0 {
		drop := drops[0]
		start := math.Max(0, drop-1)
		end := math.Min(duration, drop+6)
		out = append(out, domain.Section{Label: domain.SectionDrop, Start: start, End: end, Confidence: 0.8})
	}

	if len(out) > 0 {
		lastEnd := out[len(out)-1].End
		for _, s := range out {
			if s.End > lastEnd {
				lastEnd = s.End
			}
		}
		if duration-lastEnd > 4 {
			out = append(out, domain.Section{Label: domain.SectionOutro, Start: lastEnd, End: duration, Confidence: 0.6})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return mergeOverlaps(out)
}

// mergeOverlaps enforces spec §4.2 step 10's last rule ("merge overlaps by
// earliest start"): out is already sorted by Start. Any section whose Start
// falls before the previous section's End is clipped to begin right after
// it; a section entirely swallowed by its predecessor is dropped.
func mergeOverlaps(sections []domain.Section) []domain.Section {
	if len(sections) == 0 {
		return sections
	}
	merged := sections[:1]
	for _, s := range sections[1:] {
		lastEnd := merged[len(merged)-1].End
		if s.Start < lastEnd {
			s.Start = lastEnd
		}
		if s.Start >= s.End {
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// waveformLite downsamples |samples| into at most 256 mean-amplitude bins.
func waveformLite(samples []float64) []float64 {
	n := len(samples)
	if n == 0 {
		return nil
	}
	binSize := n / 256
	if binSize < 1 {
		binSize = 1
	}
	var out []float64
	for start := 0; start < n; start += binSize {
		end := start + binSize
		if end > n {
			end = n
		}
		var sum float64
		for i := start; i < end; i++ {
			sum += math.Abs(samples[i])
		}
		out = append(out, math.Round(sum/float64(end-start)*1e6)/1e6)
	}
	return out
}
