// Package renderer builds the per-track DSP filter graph described by a
// Plan and shells out to an external encoder binary to produce the final
// mashup MP3 (spec §4.5).
package renderer

import (
	"math"

	"github.com/infinitymix/engine/internal/domain"
)

// TrackRef is everything the Renderer needs about one ordered track.
type TrackRef struct {
	ID              string
	OriginalName    string
	StorageKey      string
	Mime            string
	BPM             *float64
	DurationSeconds float64
	CuePoints       *domain.CuePoints
}

// Playback is the precomputed per-track playback plan (spec §4.5's table).
type Playback struct {
	TempoRatio       float64
	AdjustedDuration float64
	StartOffset      float64
	FadeInDuration   float64
	StartTime        float64
	FadeOutStart     *float64
	FadeOutDuration  float64
	TrimEnd          float64
}

func (p Playback) playable() float64 { return p.TrimEnd - p.StartOffset }

// transitionInput is the subset of a PlannedTransition the playback plan
// needs.
type transitionInput struct {
	MixInPoint   float64
	FadeDuration float64
}

// computePlaybackPlans implements spec §4.5's per-track table and §4.5-a's
// segment-duration formula. targetBPM of 0 disables tempo adjustment
// (ratio stays 1 for every track).
func computePlaybackPlans(tracks []TrackRef, transitions []transitionInput, targetBPM, targetDurationSeconds float64) []Playback {
	n := len(tracks)
	plans := make([]Playback, n)

	meanFade := meanFadeDuration(transitions)
	perTrackTarget := (targetDurationSeconds + float64(n-1)*meanFade) / float64(n)

	for i, tr := range tracks {
		ratio := 1.0
		if targetBPM > 0 && tr.BPM != nil && *tr.BPM > 0 {
			ratio = clamp(targetBPM / *tr.BPM, 0.75, 1.33)
		}
		adjusted := tr.DurationSeconds / ratio

		startOffset := 0.0
		fadeIn := 0.0
		if i > 0 {
			startOffset = clamp(transitions[i-1].MixInPoint/ratio, 0, math.Max(0, adjusted-1))
			fadeIn = transitions[i-1].FadeDuration
		}

		var fadeOutDuration float64
		if i < n-1 {
			fadeOutDuration = transitions[i].FadeDuration
		}

		trimEnd := math.Min(adjusted, startOffset+perTrackTarget)

		var fadeOutStart *float64
		if i < n-1 {
			v := math.Max(startOffset, trimEnd-fadeOutDuration)
			if trimEnd < v+fadeOutDuration {
				trimEnd = v + fadeOutDuration
			}
			fadeOutStart = &v
		}

		plans[i] = Playback{
			TempoRatio:       ratio,
			AdjustedDuration: adjusted,
			StartOffset:      startOffset,
			FadeInDuration:   fadeIn,
			FadeOutStart:     fadeOutStart,
			FadeOutDuration:  fadeOutDuration,
			TrimEnd:          trimEnd,
		}
	}

	plans[0].StartTime = 0
	for i := 1; i < n; i++ {
		prev := plans[i-1]
		plans[i].StartTime = prev.StartTime + math.Max(0, prev.playable()-prev.FadeOutDuration)
	}
	return plans
}

func meanFadeDuration(transitions []transitionInput) float64 {
	if len(transitions) == 0 {
		return 0
	}
	var sum float64
	for _, t := range transitions {
		sum += t.FadeDuration
	}
	return sum / float64(len(transitions))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
