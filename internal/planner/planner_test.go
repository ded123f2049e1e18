package planner

import (
	"testing"

	"github.com/infinitymix/engine/internal/domain"
)

func buildAnalysis(bpm float64, camelot string, duration float64) *domain.AnalysisResult {
	key := camelot
	return &domain.AnalysisResult{
		BPM:             &bpm,
		BPMConfidence:   0.8,
		CamelotKey:      &key,
		DurationSeconds: duration,
		BeatGrid:        beatGrid(bpm, duration),
		Structure: []domain.Section{
			{Label: domain.SectionIntro, Start: 0, End: 16, Confidence: 0.9},
			{Label: domain.SectionVerse, Start: 16, End: 64, Confidence: 0.8},
			{Label: domain.SectionDrop, Start: 64, End: 96, Confidence: 0.9},
			{Label: domain.SectionOutro, Start: duration - 16, End: duration, Confidence: 0.8},
		},
		DropMoments: []float64{64},
	}
}

func beatGrid(bpm, duration float64) []float64 {
	step := 60.0 / bpm
	var grid []float64
	for t := 0.0; t < duration; t += step {
		grid = append(grid, t)
	}
	return grid
}

func TestPlanReturnsEmptyTransitionsForSingleTrack(t *testing.T) {
	inputs := []TrackInput{{TrackID: "a", Analysis: buildAnalysis(124, "8A", 180)}}
	plan := Plan(inputs, domain.MixRequest{}, nil)
	if len(plan.Transitions) != 0 {
		t.Fatalf("expected no transitions for a single track, got %d", len(plan.Transitions))
	}
	if plan.Order[0] != "a" {
		t.Errorf("expected order to contain the single track")
	}
}

func TestPlanBuildModeOrdersByAscendingBPM(t *testing.T) {
	inputs := []TrackInput{
		{TrackID: "fast", Analysis: buildAnalysis(132, "8A", 200)},
		{TrackID: "slow", Analysis: buildAnalysis(120, "8A", 200)},
		{TrackID: "mid", Analysis: buildAnalysis(126, "8A", 200)},
	}
	plan := Plan(inputs, domain.MixRequest{EnergyMode: domain.EnergyBuild}, nil)

	want := []string{"slow", "mid", "fast"}
	for i, id := range want {
		if plan.Order[i] != id {
			t.Errorf("position %d: expected %s, got %s", i, id, plan.Order[i])
		}
	}
}

func TestPlanKeepOrderPreservesRequestedSequence(t *testing.T) {
	inputs := []TrackInput{
		{TrackID: "b", Analysis: buildAnalysis(120, "8A", 200)},
		{TrackID: "a", Analysis: buildAnalysis(128, "9A", 200)},
	}
	req := domain.MixRequest{KeepOrder: true, TrackIDs: []string{"a", "b"}}
	plan := Plan(inputs, req, nil)

	if plan.Order[0] != "a" || plan.Order[1] != "b" {
		t.Fatalf("expected keep-order to preserve [a b], got %v", plan.Order)
	}
}

func TestPlanDerivesAndPersistsMissingCues(t *testing.T) {
	inputs := []TrackInput{
		{TrackID: "a", Analysis: buildAnalysis(124, "8A", 200)},
		{TrackID: "b", Analysis: buildAnalysis(124, "9A", 200)},
	}
	persisted := map[string]*domain.CuePoints{}
	Plan(inputs, domain.MixRequest{}, func(id string, cues *domain.CuePoints) {
		persisted[id] = cues
	})

	if len(persisted) != 2 {
		t.Fatalf("expected both tracks' cues to be healed, got %d", len(persisted))
	}
}

func TestPlanDropStyleMixesInAtTheDrop(t *testing.T) {
	inputs := []TrackInput{
		{TrackID: "a", Analysis: buildAnalysis(124, "8A", 200)},
		{TrackID: "b", Analysis: buildAnalysis(124, "8A", 200)},
	}
	plan := Plan(inputs, domain.MixRequest{TransitionStyle: domain.StyleDrop}, nil)

	if len(plan.Transitions) != 1 {
		t.Fatalf("expected one transition, got %d", len(plan.Transitions))
	}
	tr := plan.Transitions[0]
	if tr.MixInSelection.Strategy != domain.StrategyDrop {
		t.Errorf("expected drop strategy, got %s", tr.MixInSelection.Strategy)
	}
	if tr.MixInSelection.Point != 64 {
		t.Errorf("expected mix-in at the drop (64s), got %.2f", tr.MixInSelection.Point)
	}
}

func TestPlanFlagsKeyClashInQualityScore(t *testing.T) {
	compatible := []TrackInput{
		{TrackID: "a", Analysis: buildAnalysis(124, "8A", 200)},
		{TrackID: "b", Analysis: buildAnalysis(124, "9A", 200)},
	}
	clashing := []TrackInput{
		{TrackID: "a", Analysis: buildAnalysis(124, "8A", 200)},
		{TrackID: "b", Analysis: buildAnalysis(124, "2B", 200)},
	}

	goodPlan := Plan(compatible, domain.MixRequest{}, nil)
	badPlan := Plan(clashing, domain.MixRequest{}, nil)

	if badPlan.Quality >= goodPlan.Quality {
		t.Errorf("expected a key clash to score lower: good=%.1f bad=%.1f", goodPlan.Quality, badPlan.Quality)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	build := func() []TrackInput {
		return []TrackInput{
			{TrackID: "a", Analysis: buildAnalysis(124, "8A", 200)},
			{TrackID: "b", Analysis: buildAnalysis(128, "9A", 200)},
			{TrackID: "c", Analysis: buildAnalysis(132, "10A", 200)},
		}
	}
	req := domain.MixRequest{EnergyMode: domain.EnergyWave}

	first := Plan(build(), req, nil)
	second := Plan(build(), req, nil)

	if first.Quality != second.Quality {
		t.Errorf("expected identical quality across runs, got %.4f vs %.4f", first.Quality, second.Quality)
	}
	for i := range first.Transitions {
		if first.Transitions[i].BeatOffsetSeconds != second.Transitions[i].BeatOffsetSeconds {
			t.Errorf("beat offset %d not deterministic: %.4f vs %.4f", i, first.Transitions[i].BeatOffsetSeconds, second.Transitions[i].BeatOffsetSeconds)
		}
	}
}
