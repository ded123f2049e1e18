package renderer

import (
	"math"
	"strings"
	"testing"

	"github.com/infinitymix/engine/internal/domain"
)

func bpmPtr(v float64) *float64 { return &v }

func TestComputePlaybackPlansFirstTrackStartsAtZero(t *testing.T) {
	tracks := []TrackRef{
		{ID: "a", BPM: bpmPtr(120), DurationSeconds: 180},
		{ID: "b", BPM: bpmPtr(120), DurationSeconds: 180},
	}
	transitions := []transitionInput{{MixInPoint: 30, FadeDuration: 8}}

	plans := computePlaybackPlans(tracks, transitions, 120, 300)

	if plans[0].StartTime != 0 {
		t.Errorf("expected first track to start at 0, got %.2f", plans[0].StartTime)
	}
	if plans[0].FadeInDuration != 0 {
		t.Errorf("expected no fade-in on the first track, got %.2f", plans[0].FadeInDuration)
	}
	if plans[1].StartOffset <= 0 {
		t.Errorf("expected a positive start offset derived from the mix-in point, got %.2f", plans[1].StartOffset)
	}
	if plans[1].StartTime <= plans[0].StartTime {
		t.Errorf("expected the second track to start after the first, got %.2f", plans[1].StartTime)
	}
}

func TestComputePlaybackPlansClampsTempoRatio(t *testing.T) {
	tracks := []TrackRef{{ID: "a", BPM: bpmPtr(60), DurationSeconds: 120}}
	plans := computePlaybackPlans(tracks, nil, 200, 120)
	if plans[0].TempoRatio != 1.33 {
		t.Errorf("expected tempo ratio clamped to 1.33, got %.4f", plans[0].TempoRatio)
	}
}

func TestComputePlaybackPlansLastTrackTrimsToTarget(t *testing.T) {
	tracks := []TrackRef{
		{ID: "a", BPM: bpmPtr(120), DurationSeconds: 120},
		{ID: "b", BPM: bpmPtr(120), DurationSeconds: 400},
	}
	transitions := []transitionInput{{MixInPoint: 20, FadeDuration: 8}}
	plans := computePlaybackPlans(tracks, transitions, 120, 200)

	// perTrackTarget = (200 + 1*8) / 2 = 104; the last track should trim to
	// its share of the target, not play out its full 400s duration.
	wantTrimEnd := plans[1].StartOffset + 104.0
	if math.Abs(plans[1].TrimEnd-wantTrimEnd) > 1e-9 {
		t.Errorf("expected last track to trim to its target share %.2f, got %.2f", wantTrimEnd, plans[1].TrimEnd)
	}
	if plans[1].TrimEnd >= plans[1].AdjustedDuration {
		t.Errorf("expected the last track to trim well short of its full adjusted duration %.2f, got %.2f", plans[1].AdjustedDuration, plans[1].TrimEnd)
	}
}

func TestBuildTrackFilterIncludesLoudnormAndTrim(t *testing.T) {
	pb := Playback{TempoRatio: 1, TrimEnd: 60, StartOffset: 0}
	frag := buildTrackFilter("0:a", "t0", pb, Options{}, domain.StyleSmooth)

	if !strings.Contains(frag, "loudnorm=I=-14:TP=-1:LRA=11") {
		t.Errorf("expected a loudness pre-gain step, got %s", frag)
	}
	if !strings.Contains(frag, "atrim=start=0.0000:end=60.0000") {
		t.Errorf("expected an atrim step bounding the segment, got %s", frag)
	}
	if strings.Contains(frag, "atempo=") {
		t.Errorf("tempo ratio of 1 should skip the atempo filter, got %s", frag)
	}
}

func TestBuildTrackFilterAppliesTransitionEffect(t *testing.T) {
	fadeOutStart := 50.0
	pb := Playback{TempoRatio: 1, TrimEnd: 60, StartOffset: 0, FadeOutStart: &fadeOutStart, FadeOutDuration: 8}
	frag := buildTrackFilter("0:a", "t0", pb, Options{}, domain.StyleEchoReverb)

	if !strings.Contains(frag, "aecho=0.8:0.9:1000:0.3") {
		t.Errorf("expected echo_reverb's aecho effect, got %s", frag)
	}
}

func TestTransitionEffectPureCrossfadeStylesHaveNoEffect(t *testing.T) {
	for _, style := range []domain.TransitionStyle{domain.StyleSmooth, domain.StyleDrop, domain.StyleCut, domain.StyleEnergy} {
		if eff := transitionEffect(style, 10, 30); eff != "" {
			t.Errorf("expected %s to have no gated effect, got %q", style, eff)
		}
	}
}

func TestBuildMixGraphProducesFinalOutLabel(t *testing.T) {
	tracks := []TrackRef{
		{ID: "a", BPM: bpmPtr(120), DurationSeconds: 180},
		{ID: "b", BPM: bpmPtr(120), DurationSeconds: 180},
	}
	transitions := []domain.PlannedTransition{{Style: domain.StyleSmooth, FadeDuration: 8, MixInSelection: domain.MixInSelection{Point: 30}}}
	plans := computePlaybackPlans(tracks, toTransitionInputs(transitions), 120, 300)

	graph := buildMixGraph(tracks, plans, transitions, Options{})
	if !strings.Contains(graph, "[out]") {
		t.Errorf("expected the graph to terminate at [out], got %s", graph)
	}
	if !strings.Contains(graph, "alimiter=level_in=1:level_out=0.95") {
		t.Errorf("expected a final limiter stage, got %s", graph)
	}
}

func TestMeanFadeDurationHandlesEmpty(t *testing.T) {
	if got := meanFadeDuration(nil); got != 0 {
		t.Errorf("expected 0 for no transitions, got %.2f", got)
	}
}

func TestClampMatchesSpecBounds(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0.5, 0.75},
		{2.0, 1.33},
		{1.0, 1.0},
	}
	for _, c := range cases {
		if got := clamp(c.in, 0.75, 1.33); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("clamp(%.2f) = %.4f, want %.4f", c.in, got, c.want)
		}
	}
}
