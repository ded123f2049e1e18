package analyzer

import "math"

const (
	keyFrameSize = 2048
	keyHopSize   = 1024
	minF0        = 70.0  // Hz, below the singing range
	maxF0        = 1000.0
	yinThreshold = 0.15
)

// krumhanslMajor and krumhanslMinor are the classic Krumhansl-Schmuckler
// key profiles, rooted at C.
var krumhanslMajor = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
var krumhanslMinor = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// camelotMajor and camelotMinor map a pitch-class root to its Camelot
// wheel position for major/minor keys respectively.
var camelotMajor = map[int]string{
	0: "8B", 1: "3B", 2: "10B", 3: "5B", 4: "12B", 5: "7B",
	6: "2B", 7: "9B", 8: "4B", 9: "11B", 10: "6B", 11: "1B",
}
var camelotMinor = map[int]string{
	0: "5A", 1: "12A", 2: "7A", 3: "2A", 4: "9A", 5: "4A",
	6: "11A", 7: "6A", 8: "1A", 9: "8A", 10: "3A", 11: "10A",
}

// estimateKey runs a YIN-style monophonic pitch detector frame by frame,
// accumulates a 12-bin pitch-class histogram, and correlates it against all
// 24 rotated Krumhansl-Schmuckler profiles (spec §4.2 step 6-7).
func estimateKey(samples []float64, sampleRate int) (keySignature string, camelot *string, confidence float64) {
	if len(samples) < keyFrameSize {
		return "", nil, 0
	}

	histogram := make([]float64, 12)
	voiced := false

	for start := 0; start+keyFrameSize <= len(samples); start += keyHopSize {
		frame := samples[start : start+keyFrameSize]
		f0 := yinPitch(frame, sampleRate)
		if f0 <= 0 || f0 < minF0 || f0 > maxF0 {
			continue
		}
		voiced = true
		pc := pitchClass(f0)
		histogram[pc]++
	}

	if !voiced {
		return "", nil, 0
	}
	normalizeHistogram(histogram)

	type scored struct {
		root  int
		minor bool
		score float64
	}
	var results []scored
	for root := 0; root < 12; root++ {
		results = append(results,
			scored{root, false, correlate(histogram, rotate(krumhanslMajor[:], root))},
			scored{root, true, correlate(histogram, rotate(krumhanslMinor[:], root))},
		)
	}

	best, second := results[0], results[0]
	for _, r := range results {
		if r.score > best.score {
			second = best
			best = r
		} else if r.score > second.score && r != best {
			second = r
		}
	}

	mode := "major"
	camelotTable := camelotMajor
	if best.minor {
		mode = "minor"
		camelotTable = camelotMinor
	}
	keySignature = pitchClassNames[best.root] + " " + mode

	conf := 0.0
	if best.score > 0 {
		sb := second.score
		if sb < 0 {
			sb = 0
		}
		conf = clamp01((best.score - sb) / best.score)
	}

	cam := camelotTable[best.root]
	return keySignature, &cam, conf
}

// yinPitch estimates the fundamental frequency of a frame using the
// difference-function/cumulative-mean-normalized-difference YIN method.
func yinPitch(frame []float64, sampleRate int) float64 {
	maxLag := sampleRate / int(minF0)
	if maxLag >= len(frame) {
		maxLag = len(frame) - 1
	}
	if maxLag < 2 {
		return 0
	}

	diff := make([]float64, maxLag+1)
	for lag := 1; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i < len(frame)-lag; i++ {
			d := frame[i] - frame[i+lag]
			sum += d * d
		}
		diff[lag] = sum
	}

	cmnd := make([]float64, maxLag+1)
	cmnd[0] = 1
	var running float64
	for lag := 1; lag <= maxLag; lag++ {
		running += diff[lag]
		if running == 0 {
			cmnd[lag] = 1
		} else {
			cmnd[lag] = diff[lag] * float64(lag) / running
		}
	}

	for lag := 2; lag <= maxLag; lag++ {
		if cmnd[lag] < yinThreshold {
			for lag+1 <= maxLag && cmnd[lag+1] < cmnd[lag] {
				lag++
			}
			if lag == 0 {
				return 0
			}
			return float64(sampleRate) / float64(lag)
		}
	}
	return 0
}

func pitchClass(freq float64) int {
	// MIDI-note-like mapping: pitch class relative to A4=440Hz.
	n := 12*math.Log2(freq/440.0) + 57 // 57 ≡ 69 (MIDI note of A4) mod 12, so pc 0 is C
	pc := int(math.Round(n)) % 12
	if pc < 0 {
		pc += 12
	}
	return pc
}

func normalizeHistogram(h []float64) {
	var sum float64
	for _, v := range h {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range h {
		h[i] /= sum
	}
}

func rotate(profile []float64, by int) []float64 {
	out := make([]float64, len(profile))
	for i := range profile {
		out[(i+by)%len(profile)] = profile[i]
	}
	return out
}

func correlate(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(len(a))
	meanB /= float64(len(b))

	var cov, varA, varB float64
	for i := range a {
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
