// Package planner turns a set of analyzed tracks and a mix request into a
// deterministic Plan: an ordering plus one PlannedTransition per adjacent
// pair (spec §4.4). Nothing here touches I/O; cue-point persistence is
// reported back to the caller via the CuePersister callback so the Catalog
// stays the single writer of Track state.
package planner

import (
	"math"
	"sort"

	"github.com/infinitymix/engine/internal/domain"
)

// TrackInput is everything the Planner needs about one track.
type TrackInput struct {
	TrackID  string
	Analysis *domain.AnalysisResult
	Cues     *domain.CuePoints
}

// CuePersister is invoked once per track whose cues were re-derived, so the
// caller can heal them back into the Catalog (spec §4.4 step 3a).
type CuePersister func(trackID string, cues *domain.CuePoints)

// Plan computes the deterministic mashup plan. Returns a Plan with an empty
// Transitions slice if fewer than 2 tracks are given (spec §4.4's failure
// semantics: the Planner never errors).
func Plan(inputs []TrackInput, req domain.MixRequest, persist CuePersister) *domain.Plan {
	targetBPM := resolveTargetBPM(inputs, req)
	ordered := orderTracks(inputs, req, targetBPM)

	plan := &domain.Plan{
		Order:     idsOf(ordered),
		TargetBPM: targetBPM,
	}
	if len(ordered) < 2 {
		return plan
	}

	for i := range ordered {
		t := &ordered[i]
		if needsCueRederivation(t.Cues, t.Analysis.DurationSeconds) {
			t.Cues = deriveCuePoints(t.Analysis)
			if persist != nil {
				persist(t.TrackID, t.Cues)
			}
		}
	}

	transitions := make([]domain.PlannedTransition, 0, len(ordered)-1)
	for i := 0; i < len(ordered)-1; i++ {
		transitions = append(transitions, planTransition(ordered[i], ordered[i+1], i, len(ordered), req))
	}
	plan.Transitions = transitions

	plan.Quality, plan.Suggestions = scoreQuality(transitions)
	return plan
}

func idsOf(inputs []TrackInput) []string {
	out := make([]string, len(inputs))
	for i, t := range inputs {
		out[i] = t.TrackID
	}
	return out
}

// resolveTargetBPM: request value, else median of known BPMs, else 120.
func resolveTargetBPM(inputs []TrackInput, req domain.MixRequest) float64 {
	if req.TargetBPM != nil {
		return *req.TargetBPM
	}
	var bpms []float64
	for _, t := range inputs {
		if t.Analysis.BPM != nil {
			bpms = append(bpms, *t.Analysis.BPM)
		}
	}
	if len(bpms) == 0 {
		return 120
	}
	sort.Float64s(bpms)
	mid := len(bpms) / 2
	if len(bpms)%2 == 1 {
		return bpms[mid]
	}
	return (bpms[mid-1] + bpms[mid]) / 2
}

// orderTracks implements spec §4.4 step 2's ordering rules.
func orderTracks(inputs []TrackInput, req domain.MixRequest, targetBPM float64) []TrackInput {
	if req.KeepOrder || len(req.TrackIDs) > 0 {
		byID := make(map[string]TrackInput, len(inputs))
		for _, t := range inputs {
			byID[t.TrackID] = t
		}
		if req.KeepOrder && len(req.TrackIDs) == len(inputs) {
			ordered := make([]TrackInput, 0, len(inputs))
			for _, id := range req.TrackIDs {
				if t, ok := byID[id]; ok {
					ordered = append(ordered, t)
				}
			}
			if len(ordered) == len(inputs) {
				return ordered
			}
		}
	}

	ordered := append([]TrackInput(nil), inputs...)

	switch req.EnergyMode {
	case domain.EnergyBuild:
		sort.SliceStable(ordered, func(i, j int) bool {
			return bpmOf(ordered[i]) < bpmOf(ordered[j])
		})
	case domain.EnergyWave:
		sort.SliceStable(ordered, func(i, j int) bool {
			return bpmOf(ordered[i]) < bpmOf(ordered[j])
		})
		mid := len(ordered) / 2
		low := ordered[:mid]
		high := ordered[mid:]
		reverseInPlace(high)
		ordered = interleave(low, high)
	default:
		sort.SliceStable(ordered, func(i, j int) bool {
			return math.Abs(bpmOf(ordered[i])-targetBPM) < math.Abs(bpmOf(ordered[j])-targetBPM)
		})
	}
	return ordered
}

func bpmOf(t TrackInput) float64 {
	if t.Analysis.BPM != nil {
		return *t.Analysis.BPM
	}
	return 120
}

func reverseInPlace(s []TrackInput) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func interleave(a, b []TrackInput) []TrackInput {
	out := make([]TrackInput, 0, len(a)+len(b))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}

// energyPhase is spec §4.4 step 3c.
type energyPhase string

const (
	phaseWarmup   energyPhase = "warmup"
	phaseBuild    energyPhase = "build"
	phasePeak     energyPhase = "peak"
	phaseCooldown energyPhase = "cooldown"
)

func computeEnergyPhase(mode domain.EnergyMode, i, n int) energyPhase {
	switch mode {
	case domain.EnergySteady:
		return phaseBuild
	case domain.EnergyWave:
		cycle := []energyPhase{phaseBuild, phasePeak, phaseCooldown}
		return cycle[i%len(cycle)]
	default:
		if n <= 1 {
			return phaseWarmup
		}
		p := float64(i) / float64(n-1)
		switch {
		case p < 0.25:
			return phaseWarmup
		case p < 0.6:
			return phaseBuild
		case p < 0.9:
			return phasePeak
		default:
			return phaseCooldown
		}
	}
}

// planTransition builds one PlannedTransition (spec §4.4 steps 3b-3k).
func planTransition(from, to TrackInput, i, n int, req domain.MixRequest) domain.PlannedTransition {
	style := req.TransitionStyle
	if style == "" {
		style = domain.StyleSmooth
	}
	preset := presetFor(style)

	fadeReq := preset.duration
	if req.FadeDurationSeconds != nil {
		fadeReq = *req.FadeDurationSeconds
	}
	presetFade := math.Min(8, eventAdjust(req.EventType, fadeReq))

	phase := computeEnergyPhase(req.EnergyMode, i, n)

	mixIn := selectMixIn(to, style, phase, presetFade)

	toBPM := bpmOf(to)
	targetBPM := req.TargetBPM
	var r float64
	if targetBPM != nil {
		r = clamp(*targetBPM/toBPM, 0.75, 1.33)
	} else {
		r = 1.0
	}

	toBar := barSeconds(to.Analysis.BPM)
	fromBar := barSeconds(from.Analysis.BPM)
	bar := (toBar + fromBar) / 2

	beatOffset := alignBeats(from.Analysis.BeatGrid, to.Analysis.BeatGrid, r, bar)

	mp := buildMixPoint(from, to, mixIn, presetFade, bar)
	validateMixPoint(&mp, from.Analysis.Structure, to.Analysis.Structure, mixIn.Strategy, bar)

	collision := detectVocalCollision(from.Analysis.Structure, to.Analysis.Structure, mp, bar)
	diff := bpmDiff(from.Analysis.BPM, to.Analysis.BPM)
	keyDist := keyDistance(camelotOf(from.Analysis), camelotOf(to.Analysis))
	suggested := suggestedType(collision, diff)

	return domain.PlannedTransition{
		FromID:            from.TrackID,
		ToID:              to.TrackID,
		Style:             style,
		FadeDuration:      presetFade,
		BeatOffsetSeconds: beatOffset,
		Curve1:            preset.curve1,
		Curve2:            preset.curve2,
		MixPoint:          mp,
		MixInSelection:    mixIn,
		VocalCollision:    collision,
		BPMDiff:           diff,
		KeyDistance:       keyDist,
		SuggestedType:     suggested,
	}
}

func camelotOf(result *domain.AnalysisResult) string {
	if result.CamelotKey != nil {
		return *result.CamelotKey
	}
	return ""
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

// selectMixIn is spec §4.4 step 3d.
func selectMixIn(to TrackInput, style domain.TransitionStyle, phase energyPhase, presetFade float64) domain.MixInSelection {
	bar := barSeconds(to.Analysis.BPM)
	drop := findSection(to.Analysis.Structure, domain.SectionDrop)
	buildup := findSection(to.Analysis.Structure, domain.SectionBuildup)
	verse := findSection(to.Analysis.Structure, domain.SectionVerse)

	if style == domain.StyleDrop && (drop != nil || to.Cues.Drop != nil) {
		point := dropPoint(drop, to.Cues)
		return domain.MixInSelection{Point: point, Strategy: domain.StrategyDrop, Reason: "transition style requests drop-in"}
	}
	if phase == phasePeak && buildup != nil {
		return domain.MixInSelection{Point: snap(buildup.Start, bar), Strategy: domain.StrategyBuildup, Reason: "peak phase aligns to buildup"}
	}
	if phase == phasePeak && (drop != nil || to.Cues.Drop != nil) {
		return domain.MixInSelection{Point: dropPoint(drop, to.Cues), Strategy: domain.StrategyDrop, Reason: "peak phase falls back to drop"}
	}
	if presetFade < 8*bar {
		return domain.MixInSelection{Point: to.Cues.MixIn, Strategy: domain.StrategyPostIntro, Reason: "short fade keeps mix-in at post-intro cue"}
	}
	if presetFade >= 16*bar {
		return domain.MixInSelection{Point: 0, Strategy: domain.StrategyIntro, Reason: "long fade spans the whole intro"}
	}
	if verse != nil {
		return domain.MixInSelection{Point: snap(verse.Start, bar), Strategy: domain.StrategyVerse, Reason: "verse section available"}
	}
	return domain.MixInSelection{Point: to.Cues.MixIn, Strategy: domain.StrategyPostIntro, Reason: "default post-intro cue"}
}

func dropPoint(drop *domain.Section, cues *domain.CuePoints) float64 {
	if drop != nil {
		return drop.Start
	}
	if cues != nil && cues.Drop != nil {
		return *cues.Drop
	}
	return 0
}

// alignBeats searches offset in [-bar/2, bar/2] minimizing the sum of
// nearest-downbeat distances between the two adjusted beat grids (spec
// §4.4 step 3f). Only downbeats (every 4th beat) are considered, matching
// the "downbeat" alignment mode.
func alignBeats(fromGrid, toGrid []float64, ratio, bar float64) float64 {
	if len(fromGrid) == 0 || len(toGrid) == 0 {
		return 0
	}
	fromDown := everyNth(fromGrid, 4, ratio)
	toDown := everyNth(toGrid, 4, ratio)
	if len(fromDown) == 0 || len(toDown) == 0 {
		return 0
	}

	const steps = 21
	bestOffset := 0.0
	bestCost := math.Inf(1)
	for s := 0; s < steps; s++ {
		offset := -bar/2 + bar*float64(s)/float64(steps-1)
		var cost float64
		for _, g := range fromDown {
			cost += nearestDist(toDown, g+offset)
		}
		if cost < bestCost {
			bestCost = cost
			bestOffset = offset
		}
	}
	return round3(bestOffset)
}

func everyNth(grid []float64, n int, ratio float64) []float64 {
	var out []float64
	for i := 0; i < len(grid); i += n {
		out = append(out, grid[i]/ratio)
	}
	return out
}

func nearestDist(grid []float64, t float64) float64 {
	best := math.Inf(1)
	for _, g := range grid {
		d := math.Abs(g - t)
		if d < best {
			best = d
		}
	}
	return best
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// buildMixPoint is spec §4.4 step 3g.
func buildMixPoint(from, to TrackInput, mixIn domain.MixInSelection, presetFade, bar float64) domain.MixPoint {
	outro := findSection(from.Analysis.Structure, domain.SectionOutro)
	var outStart float64
	if outro != nil {
		outStart = snap(outro.Start, bar)
	} else {
		outStart = math.Max(0, from.Analysis.DurationSeconds-32*bar)
	}

	inStart := snap(mixIn.Point, bar)

	minBars := 4.0
	if mixIn.Strategy == domain.StrategyDrop {
		minBars = 2
	}
	overlapHint := math.Max(presetFade, 1)
	overlapBars := math.Min(16, math.Max(minBars, math.Round(overlapHint/bar)))
	overlapSeconds := overlapBars * bar

	return domain.MixPoint{
		OutStart:       outStart,
		InStart:        inStart,
		OverlapSeconds: overlapSeconds,
		PhraseAligned:  math.Abs(snap(inStart, bar)-inStart) < bar/2,
	}
}

// validateMixPoint is spec §4.4 step 3h. Records warnings rather than
// failing the plan.
func validateMixPoint(mp *domain.MixPoint, fromStructure, toStructure []domain.Section, strategy domain.MixInStrategy, bar float64) {
	if outSec := sectionAt(fromStructure, mp.OutStart); outSec != nil {
		mp.OutSection = string(outSec.Label)
		if mixOutForbidden[outSec.Label] {
			next := nextAllowedStart(fromStructure, mp.OutStart, mixOutAllowed)
			if next == nil {
				lastEnd := 0.0
				for _, s := range fromStructure {
					if s.End > lastEnd {
						lastEnd = s.End
					}
				}
				v := math.Max(0, lastEnd-8*bar)
				next = &v
			}
			mp.OutStart = snap(*next, bar)
			mp.Warnings = append(mp.Warnings, "mix-out point advanced out of forbidden section "+string(outSec.Label))
		}
	}

	if inSec := sectionAt(toStructure, mp.InStart); inSec != nil {
		mp.InSection = string(inSec.Label)
		if mixInForbidden[inSec.Label] && strategy != domain.StrategyDrop {
			mp.InStart = snap(mp.InStart+4*bar, bar)
			mp.Warnings = append(mp.Warnings, "mix-in point pushed forward out of forbidden section "+string(inSec.Label))
		}
	}
}

func sectionAt(structure []domain.Section, t float64) *domain.Section {
	for i := range structure {
		if t >= structure[i].Start && t < structure[i].End {
			return &structure[i]
		}
	}
	return nil
}

func nextAllowedStart(structure []domain.Section, after float64, allowed map[domain.SectionLabel]bool) *float64 {
	var best *float64
	for i := range structure {
		s := &structure[i]
		if s.Start > after && allowed[s.Label] {
			if best == nil || s.Start < *best {
				v := s.Start
				best = &v
			}
		}
	}
	return best
}

// detectVocalCollision is spec §4.4 step 3i.
func detectVocalCollision(fromStructure, toStructure []domain.Section, mp domain.MixPoint, bar float64) domain.VocalCollision {
	vocalLabels := map[domain.SectionLabel]bool{
		domain.SectionVerse: true, domain.SectionChorus: true, domain.SectionBuildup: true,
		domain.SectionBridge: true, domain.SectionHook: true,
	}
	outSec := sectionAt(fromStructure, mp.OutStart)
	inSec := sectionAt(toStructure, mp.InStart)
	if outSec == nil || inSec == nil {
		return domain.VocalCollision{}
	}
	if !vocalLabels[outSec.Label] || !vocalLabels[inSec.Label] {
		return domain.VocalCollision{}
	}
	if mp.OverlapSeconds <= 0 {
		return domain.VocalCollision{}
	}
	severity := domain.CollisionMinor
	if mp.OverlapSeconds > 8*bar {
		severity = domain.CollisionMajor
	}
	return domain.VocalCollision{Detected: true, Severity: severity}
}

// suggestedType is spec §4.4 step 3j.
func suggestedType(collision domain.VocalCollision, diff float64) string {
	switch {
	case collision.Severity == domain.CollisionMajor:
		return "instrumental_bridge"
	case diff > 8:
		return "tempo_ramp"
	default:
		return "standard"
	}
}

// scoreQuality is spec §4.4 step 4.
func scoreQuality(transitions []domain.PlannedTransition) (float64, []string) {
	if len(transitions) == 0 {
		return 100, nil
	}
	var total float64
	suggestionSet := map[string]bool{}

	for _, t := range transitions {
		score := 100.0
		if t.BPMDiff > 8 {
			score -= 15
			suggestionSet["consider a smaller BPM jump or a tempo ramp"] = true
		}
		switch t.VocalCollision.Severity {
		case domain.CollisionMajor:
			score -= 25
			suggestionSet["use an instrumental bridge to avoid a major vocal collision"] = true
		case domain.CollisionMinor:
			score -= 10
			suggestionSet["shorten the overlap to avoid a minor vocal collision"] = true
		}
		if !t.MixPoint.PhraseAligned {
			score -= 5
			suggestionSet["adjust the mix-in point to land on a phrase boundary"] = true
		} else {
			score += 3
		}
		if t.KeyDistance >= 3 {
			score -= 10
			suggestionSet["the keys across this transition clash; consider reordering or a longer filter sweep"] = true
		}
		// AnalysisResult carries no genre field yet, so this is always a
		// no-op (every pair scores distance 0) until a genre classifier
		// populates genreCompatibility.
		if dist := genreDistance("", ""); dist >= 2 {
			score -= 10
			suggestionSet["these tracks are genre-incompatible; consider reordering"] = true
		}
		total += clamp(score, 0, 100)
	}

	suggestions := make([]string, 0, len(suggestionSet))
	for s := range suggestionSet {
		suggestions = append(suggestions, s)
	}
	sort.Strings(suggestions)
	return total / float64(len(transitions)), suggestions
}
