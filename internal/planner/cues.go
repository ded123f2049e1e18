package planner

import (
	"math"

	"github.com/infinitymix/engine/internal/domain"
)

// barSeconds returns one 4-beat bar's duration for the given bpm, falling
// back to 120 bpm when unknown (spec §4.4 step 3a).
func barSeconds(bpm *float64) float64 {
	b := 120.0
	if bpm != nil && *bpm > 0 {
		b = *bpm
	}
	return 60.0 / b * 4
}

// snap rounds t to the nearest multiple of 8 bars.
func snap(t, bar float64) float64 {
	step := 8 * bar
	if step <= 0 {
		return t
	}
	return math.Round(t/step) * step
}

func findSection(structure []domain.Section, label domain.SectionLabel) *domain.Section {
	for i := range structure {
		if structure[i].Label == label {
			return &structure[i]
		}
	}
	return nil
}

// deriveCuePoints re-detects mixIn/mixOut/drop/breakdown from a track's
// structure (spec §4.4 step 3a). Called only when cues are missing or
// mixIn looks degenerate (<4s on a track longer than a minute).
func deriveCuePoints(result *domain.AnalysisResult) *domain.CuePoints {
	bar := barSeconds(result.BPM)
	duration := result.DurationSeconds

	intro := findSection(result.Structure, domain.SectionIntro)
	verse := findSection(result.Structure, domain.SectionVerse)
	buildup := findSection(result.Structure, domain.SectionBuildup)
	outro := findSection(result.Structure, domain.SectionOutro)
	dropSec := findSection(result.Structure, domain.SectionDrop)
	breakdownSec := findSection(result.Structure, domain.SectionBreakdown)

	var mixIn float64
	switch {
	case intro != nil && intro.End > 0:
		mixIn = snap(intro.End, bar)
	case verse != nil:
		mixIn = snap(verse.Start, bar)
	case buildup != nil:
		mixIn = snap(buildup.Start, bar)
	default:
		mixIn = math.Min(16*bar, duration*0.1)
	}

	var drop *float64
	switch {
	case dropSec != nil:
		d := dropSec.Start
		drop = &d
	case len(result.DropMoments) > 0:
		d := result.DropMoments[0]
		drop = &d
	}

	var breakdown *float64
	if breakdownSec != nil {
		b := breakdownSec.Start
		breakdown = &b
	}

	var mixOut float64
	if outro != nil {
		mixOut = snap(outro.Start, bar)
	} else {
		mixOut = math.Max(0, duration-32*bar)
	}

	return &domain.CuePoints{
		MixIn:      mixIn,
		MixOut:     mixOut,
		Drop:       drop,
		Breakdown:  breakdown,
		Confidence: 0.6,
	}
}

// needsCueRederivation reports whether a Track's existing cues look stale
// enough to recompute (spec §4.4 step 3a's "missing or degenerate" rule).
func needsCueRederivation(cues *domain.CuePoints, duration float64) bool {
	if cues == nil {
		return true
	}
	return cues.MixIn < 4 && duration > 60
}
