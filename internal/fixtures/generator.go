// Package fixtures synthesizes deterministic PCM test audio with known
// ground truth (BPM, Camelot key, phrase boundaries, drop moments), so the
// Analyzer and Planner can be tested without real audio files.
package fixtures

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/pcm"
)

// PhraseTrack is a synthesized buffer plus the ground truth an Analyzer run
// against it should reproduce.
type PhraseTrack struct {
	Buffer      *pcm.Buffer
	BPM         float64
	CamelotKey  string
	Sections    []domain.Section
	DropMoments []float64
}

// sectionDef mirrors a DJ-style phrase structure: intro, verse, build, drop,
// breakdown, outro, each a whole number of 4-beat bars.
type sectionDef struct {
	label domain.SectionLabel
	bars  int
	energy float64
}

var defaultStructure = []sectionDef{
	{domain.SectionIntro, 16, 0.3},
	{domain.SectionVerse, 32, 0.5},
	{domain.SectionBuildup, 16, 0.7},
	{domain.SectionDrop, 32, 1.0},
	{domain.SectionBreakdown, 16, 0.4},
	{domain.SectionOutro, 16, 0.2},
}

var camelotFrequencies = map[string][]float64{
	"8A": {220.0, 261.63, 329.63}, // A minor
	"9A": {164.81, 246.94, 329.63}, // E minor
	"7A": {146.83, 220.0, 293.66}, // D minor
	"8B": {261.63, 329.63, 392.0}, // C major
	"9B": {196.0, 246.94, 293.66}, // G major
	"7B": {174.61, 220.0, 261.63}, // F major
}

// GeneratePhraseTrack renders a synthetic track at the given BPM/key with the
// standard six-section structure, kick on downbeats, bass through
// verse/build/drop, and a lead line in build/drop (spec §4.2's structure
// labels feed directly from this shape).
func GeneratePhraseTrack(sampleRate int, bpm float64, camelotKey string) *PhraseTrack {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	freqs := camelotFrequencies[camelotKey]
	if freqs == nil {
		freqs = camelotFrequencies["8A"]
	}

	secondsPerBeat := 60.0 / bpm
	const beatsPerBar = 4

	sections := make([]domain.Section, 0, len(defaultStructure))
	totalBeats := 0
	for _, def := range defaultStructure {
		beats := def.bars * beatsPerBar
		start := float64(totalBeats) * secondsPerBeat
		totalBeats += beats
		end := float64(totalBeats) * secondsPerBeat
		sections = append(sections, domain.Section{
			Label:      def.label,
			Start:      start,
			End:        end,
			Confidence: 1.0,
		})
	}

	totalDuration := float64(totalBeats) * secondsPerBeat
	totalSamples := int(totalDuration * float64(sampleRate))
	data := make([]float64, totalSamples)

	bassFreq := freqs[0] / 2
	leadFreq := freqs[len(freqs)-1] * 2
	var dropMoments []float64

	for idx, sec := range sections {
		def := defaultStructure[idx]
		startSample := int(sec.Start * float64(sampleRate))
		endSample := int(sec.End * float64(sampleRate))
		if endSample > totalSamples {
			endSample = totalSamples
		}
		energy := def.energy

		if def.label == domain.SectionDrop {
			dropMoments = append(dropMoments, sec.Start)
		}

		startBeat := int(sec.Start / secondsPerBeat)
		endBeat := int(sec.End / secondsPerBeat)
		for beat := startBeat; beat < endBeat; beat++ {
			beatSample := int(float64(beat) * secondsPerBeat * float64(sampleRate))
			if beat%beatsPerBar != 0 {
				continue
			}
			kickLen := int(0.15 * float64(sampleRate))
			for i := 0; i < kickLen && beatSample+i < totalSamples; i++ {
				t := float64(i) / float64(sampleRate)
				kickFreq := 60.0 * math.Exp(-15*t)
				amp := energy * 0.7 * math.Exp(-10*t)
				data[beatSample+i] += amp * math.Sin(2*math.Pi*kickFreq*t)
			}
		}

		if def.label == domain.SectionVerse || def.label == domain.SectionBuildup || def.label == domain.SectionDrop {
			for i := startSample; i < endSample; i++ {
				t := float64(i) / float64(sampleRate)
				data[i] += energy * 0.3 * math.Sin(2*math.Pi*bassFreq*t)
			}
		}
		if def.label == domain.SectionBuildup || def.label == domain.SectionDrop {
			for i := startSample; i < endSample; i++ {
				t := float64(i) / float64(sampleRate)
				data[i] += energy * 0.2 * math.Sin(2*math.Pi*leadFreq*t)
			}
		}
		for _, f := range freqs {
			for i := startSample; i < endSample; i++ {
				t := float64(i) / float64(sampleRate)
				data[i] += energy * 0.08 * math.Sin(2*math.Pi*f*t)
			}
		}
	}

	fadeSamples := int(0.5 * float64(sampleRate))
	if fadeSamples > totalSamples/2 {
		fadeSamples = totalSamples / 2
	}
	for i := 0; i < fadeSamples; i++ {
		gain := float64(i) / float64(fadeSamples)
		data[i] *= gain
		data[totalSamples-1-i] *= gain
	}

	return &PhraseTrack{
		Buffer:      &pcm.Buffer{Samples: data, SampleRate: sampleRate},
		BPM:         bpm,
		CamelotKey:  camelotKey,
		Sections:    sections,
		DropMoments: dropMoments,
	}
}

// GenerateClickTrack renders a plain click track at the given BPM, used by
// Analyzer tests to validate BPM detection in isolation from structure.
func GenerateClickTrack(sampleRate int, bpm float64, beats int) *pcm.Buffer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	secondsPerBeat := 60.0 / bpm
	totalSamples := int(secondsPerBeat * float64(beats) * float64(sampleRate))
	data := make([]float64, totalSamples)

	clickLen := int(0.01 * float64(sampleRate))
	for i := 0; i < beats; i++ {
		offset := int(secondsPerBeat * float64(i) * float64(sampleRate))
		for j := 0; j < clickLen && offset+j < totalSamples; j++ {
			data[offset+j] += math.Exp(-4 * float64(j) / float64(clickLen))
		}
	}
	return &pcm.Buffer{Samples: data, SampleRate: sampleRate}
}

// EncodeWAV serializes a mono float64 buffer as 16-bit PCM WAV bytes, so
// tests can exercise the real pcm.Decoder.Decode path end to end.
func EncodeWAV(buf *pcm.Buffer) []byte {
	samples := make([]int16, len(buf.Samples))
	for i, s := range buf.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		samples[i] = int16(s * 32767)
	}

	dataSize := len(samples) * 2
	byteRate := buf.SampleRate * 2

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(36+dataSize))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(16))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint32(buf.SampleRate))
	binary.Write(&out, binary.LittleEndian, uint32(byteRate))
	binary.Write(&out, binary.LittleEndian, uint16(2))
	binary.Write(&out, binary.LittleEndian, uint16(16))
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(dataSize))
	for _, v := range samples {
		binary.Write(&out, binary.LittleEndian, v)
	}
	return out.Bytes()
}
