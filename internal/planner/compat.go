package planner

import (
	"fmt"
	"math"
)

// keyDistance reports the Camelot-wheel distance between two keys: 0 for
// the same key, 1 for the relative key or an adjacent number in the same
// mode, 2 for two steps away or an adjacent number in the other mode, and 3
// for a clash or an unparseable key. Adapted from a track-similarity scorer that combined
// embedding, tempo and key signals — the embedding term doesn't apply here,
// but the Camelot-wheel distance table is reused as-is for genre-agnostic
// key compatibility scoring (spec §4.4 step 4's genre-incompatible deduction
// rides on the same notion of "distance").
func keyDistance(keyA, keyB string) int {
	numA, modeA := parseCamelot(keyA)
	numB, modeB := parseCamelot(keyB)
	if numA == 0 || numB == 0 {
		return 3
	}
	if numA == numB {
		if modeA == modeB {
			return 0
		}
		return 1
	}
	diff := (numA - numB + 12) % 12
	if modeA == modeB && (diff == 1 || diff == 11) {
		return 1
	}
	if diff == 2 || diff == 10 {
		return 2
	}
	if modeA != modeB && (diff == 1 || diff == 11) {
		return 2
	}
	return 3
}

func parseCamelot(key string) (int, string) {
	if len(key) < 2 {
		return 0, ""
	}
	mode := string(key[len(key)-1])
	if mode != "A" && mode != "B" {
		return 0, ""
	}
	var num int
	if _, err := fmt.Sscanf(key[:len(key)-1], "%d", &num); err != nil {
		return 0, ""
	}
	if num < 1 || num > 12 {
		return 0, ""
	}
	return num, mode
}

// bpmDiff is the absolute BPM delta, 0 when either input is missing.
func bpmDiff(a, b *float64) float64 {
	if a == nil || b == nil {
		return 0
	}
	return math.Abs(*a - *b)
}

// CompatibilityScore ranks how mixable two analyzed tracks are, 0 (best) to
// 100 (worst), combining the same key-distance and BPM-delta signals
// planTransition records on each transition and scoreQuality deducts on.
// Exported so callers outside
// the planning pipeline (the catalog's track-suggestion endpoint) can reuse
// the scoring without re-deriving it.
func CompatibilityScore(keyA string, bpmA *float64, keyB string, bpmB *float64) int {
	dist := keyDistance(keyA, keyB)
	score := dist * 20
	score += int(bpmDiff(bpmA, bpmB))
	if score > 100 {
		score = 100
	}
	return score
}
