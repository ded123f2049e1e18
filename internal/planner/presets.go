package planner

import "github.com/infinitymix/engine/internal/domain"

// crossfadePreset is one row of the CROSSFADE_PRESETS table (spec §4.4):
// default fade duration and the two curve shapes applied to the outgoing
// and incoming tracks respectively.
type crossfadePreset struct {
	duration float64
	curve1   string
	curve2   string
}

// crossfadePresets maps every closed-set transition style to its default
// fade geometry. Curve names are the symbolic shapes a Renderer filter
// chain understands (tri, exp, log, qsin, hsin, par, cub, lis, sqr, nofade).
var crossfadePresets = map[domain.TransitionStyle]crossfadePreset{
	domain.StyleSmooth:        {8, "tri", "tri"},
	domain.StyleDrop:          {4, "sqr", "sqr"},
	domain.StyleEnergy:        {6, "qsin", "hsin"},
	domain.StyleCut:           {0.1, "nofade", "nofade"},
	domain.StyleFilterSweep:   {10, "exp", "log"},
	domain.StyleEchoReverb:    {8, "exp", "exp"},
	domain.StyleBackspin:      {4, "cub", "cub"},
	domain.StyleTapeStop:      {3, "exp", "log"},
	domain.StyleStutterEdit:   {2, "sqr", "sqr"},
	domain.StyleThreeBandSwap: {8, "lis", "lis"},
	domain.StyleBassDrop:      {6, "par", "par"},
	domain.StyleSnareRoll:     {4, "qsin", "qsin"},
	domain.StyleNoiseRiser:    {8, "exp", "log"},
	domain.StyleVocalHandoff:  {6, "tri", "tri"},
	domain.StyleBassSwap:      {6, "hsin", "hsin"},
	domain.StyleReverbWash:    {10, "exp", "exp"},
	domain.StyleEchoOut:       {8, "exp", "log"},
}

func presetFor(style domain.TransitionStyle) crossfadePreset {
	if p, ok := crossfadePresets[style]; ok {
		return p
	}
	return crossfadePresets[domain.StyleSmooth]
}

// mixOutAllowed / mixOutForbidden / mixInAllowed / mixInForbidden are the
// STRUCTURE_RULES sets of spec §4.4.
var mixOutAllowed = map[domain.SectionLabel]bool{
	domain.SectionOutro:     true,
	domain.SectionBreakdown: true,
	domain.SectionVerse:     true,
}
var mixOutForbidden = map[domain.SectionLabel]bool{
	domain.SectionDrop:     true,
	domain.SectionChorus:   true,
	domain.SectionBuildup:  true,
}
var mixInAllowed = map[domain.SectionLabel]bool{
	domain.SectionIntro:   true,
	domain.SectionBuildup: true,
	domain.SectionVerse:   true,
}
var mixInForbidden = map[domain.SectionLabel]bool{
	domain.SectionDrop:   true,
	domain.SectionChorus: true,
}

// genreCompatibility is a placeholder GENRE_COMPATIBILITY adjacency table.
// Without genre metadata in AnalysisResult, every pair is treated as
// compatible (distance 0); the hook exists so a future genre classifier
// can populate it without touching the scoring algorithm.
var genreCompatibility = map[string]map[string]int{}

func genreDistance(genreA, genreB string) int {
	if genreA == "" || genreB == "" || genreA == genreB {
		return 0
	}
	if row, ok := genreCompatibility[genreA]; ok {
		if d, ok := row[genreB]; ok {
			return d
		}
	}
	return 0
}

// eventAdjust nudges a preset fade duration per spec §4.4 step 3b.
func eventAdjust(eventType domain.EventType, fade float64) float64 {
	switch eventType {
	case domain.EventWedding, domain.EventBirthday:
		return fade + 1.5
	case domain.EventClub:
		return fade - 0.5
	default:
		return fade
	}
}
