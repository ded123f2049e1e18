// Package domain holds the plain data types shared across the pipeline
// stages (PCMDecoder, Analyzer, StemEngine, Planner, Renderer, JobQueue,
// Supervisor). Entities reference each other by id, never by pointer, so
// there is no cyclic graph to own (spec §9).
package domain

import "time"

// AnalysisStatus is a Track's analysis lifecycle state (spec §3).
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisAnalyzing AnalysisStatus = "analyzing"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// SectionLabel is one of the closed structure-label tags.
type SectionLabel string

const (
	SectionIntro     SectionLabel = "intro"
	SectionVerse     SectionLabel = "verse"
	SectionChorus    SectionLabel = "chorus"
	SectionBuildup   SectionLabel = "buildup"
	SectionBridge    SectionLabel = "bridge"
	SectionHook      SectionLabel = "hook"
	SectionBreakdown SectionLabel = "breakdown"
	SectionDrop      SectionLabel = "drop"
	SectionOutro     SectionLabel = "outro"
	SectionBody      SectionLabel = "body"
)

// Phrase is a detected high-energy span (spec §4.2 step 8).
type Phrase struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Energy float64 `json:"energy"`
}

// Section is one labeled structural span (spec §4.2 step 10).
type Section struct {
	Label      SectionLabel `json:"label"`
	Start      float64      `json:"start"`
	End        float64      `json:"end"`
	Confidence float64      `json:"confidence"`
}

// AnalysisResult is the pure output of the Analyzer pipeline (spec §4.2).
type AnalysisResult struct {
	BPM             *float64     `json:"bpm,omitempty"`
	BPMConfidence   float64      `json:"bpmConfidence"`
	KeySignature    string       `json:"keySignature,omitempty"`
	CamelotKey      *string      `json:"camelotKey,omitempty"`
	KeyConfidence   float64      `json:"keyConfidence"`
	DurationSeconds float64      `json:"durationSeconds"`
	BeatGrid        []float64    `json:"beatGrid"`
	Phrases         []Phrase     `json:"phrases"`
	Structure       []Section    `json:"structure"`
	DropMoments     []float64    `json:"dropMoments"`
	WaveformLite    []float64    `json:"waveformLite"`
	AnalysisVersion string       `json:"analysisVersion"`
}

// CuePoints are derived from Structure (spec §3).
type CuePoints struct {
	MixIn      float64  `json:"mixIn"`
	MixOut     float64  `json:"mixOut"`
	Drop       *float64 `json:"drop,omitempty"`
	Breakdown  *float64 `json:"breakdown,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Track is the immutable-identity, mutable-analysis entity of spec §3.
type Track struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"ownerId"`
	OriginalName    string         `json:"originalName"`
	Mime            string         `json:"mime"`
	StorageKey      string         `json:"storageKey"`
	ContentHash     string         `json:"contentHash"`
	AnalysisStatus  AnalysisStatus `json:"analysisStatus"`
	Analysis        *AnalysisResult `json:"analysis,omitempty"`
	CuePoints       *CuePoints      `json:"cuePoints,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StemKind is one of the four separated stem buffers.
type StemKind string

const (
	StemVocals StemKind = "vocals"
	StemDrums  StemKind = "drums"
	StemBass   StemKind = "bass"
	StemOther  StemKind = "other"
)

// StemStatus is a single stem's lifecycle state.
type StemStatus string

const (
	StemPending    StemStatus = "pending"
	StemProcessing StemStatus = "processing"
	StemCompleted  StemStatus = "completed"
	StemFailed     StemStatus = "failed"
)

// Stem is one member of a Track's StemSet.
type Stem struct {
	TrackID    string     `json:"trackId"`
	Kind       StemKind   `json:"kind"`
	StorageKey string     `json:"storageKey"`
	Status     StemStatus `json:"status"`
	Quality    string     `json:"quality"` // "draft" | "hifi"
	Engine     string     `json:"engine"`
}

// TransitionStyle is the closed set from spec §4.4.
type TransitionStyle string

const (
	StyleSmooth        TransitionStyle = "smooth"
	StyleDrop          TransitionStyle = "drop"
	StyleEnergy        TransitionStyle = "energy"
	StyleCut           TransitionStyle = "cut"
	StyleFilterSweep   TransitionStyle = "filter_sweep"
	StyleEchoReverb    TransitionStyle = "echo_reverb"
	StyleBackspin      TransitionStyle = "backspin"
	StyleTapeStop      TransitionStyle = "tape_stop"
	StyleStutterEdit   TransitionStyle = "stutter_edit"
	StyleThreeBandSwap TransitionStyle = "three_band_swap"
	StyleBassDrop      TransitionStyle = "bass_drop"
	StyleSnareRoll     TransitionStyle = "snare_roll"
	StyleNoiseRiser    TransitionStyle = "noise_riser"
	StyleVocalHandoff  TransitionStyle = "vocal_handoff"
	StyleBassSwap      TransitionStyle = "bass_swap"
	StyleReverbWash    TransitionStyle = "reverb_wash"
	StyleEchoOut       TransitionStyle = "echo_out"
)

// EnergyMode controls ordering and per-transition energy phase.
type EnergyMode string

const (
	EnergySteady EnergyMode = "steady"
	EnergyBuild  EnergyMode = "build"
	EnergyWave   EnergyMode = "wave"
)

// EventType nudges preset fade durations.
type EventType string

const (
	EventWedding  EventType = "wedding"
	EventBirthday EventType = "birthday"
	EventSweet16  EventType = "sweet16"
	EventClub     EventType = "club"
	EventDefault  EventType = "default"
)

// LoudnessTarget selects the Renderer's final normalization stage.
type LoudnessTarget string

const (
	LoudnessEBUR128 LoudnessTarget = "ebu_r128"
	LoudnessPeak    LoudnessTarget = "peak"
	LoudnessNone    LoudnessTarget = "none"
)

// MixInStrategy records which rule produced a transition's mix-in point.
type MixInStrategy string

const (
	StrategyDrop      MixInStrategy = "drop"
	StrategyBuildup   MixInStrategy = "buildup"
	StrategyPostIntro MixInStrategy = "post_intro"
	StrategyIntro     MixInStrategy = "intro"
	StrategyVerse     MixInStrategy = "verse"
)

// CollisionSeverity grades a detected vocal collision.
type CollisionSeverity string

const (
	CollisionNone  CollisionSeverity = ""
	CollisionMinor CollisionSeverity = "minor"
	CollisionMajor CollisionSeverity = "major"
)

// VocalCollision describes overlapping vocal sections across a transition.
type VocalCollision struct {
	Detected bool              `json:"detected"`
	Severity CollisionSeverity `json:"severity,omitempty"`
}

// MixInSelection is the result of the mix-in point selection rule (spec §4.4.3d).
type MixInSelection struct {
	Point    float64       `json:"point"`
	Strategy MixInStrategy `json:"strategy"`
	Reason   string        `json:"reason"`
}

// MixPoint is the concrete crossfade geometry for one transition (spec §3).
type MixPoint struct {
	OutStart       float64  `json:"outStart"`
	InStart        float64  `json:"inStart"`
	OverlapSeconds float64  `json:"overlapSeconds"`
	PhraseAligned  bool     `json:"phraseAligned"`
	OutSection     string   `json:"outSection,omitempty"`
	InSection      string   `json:"inSection,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// PlannedTransition is one adjacent-pair decision in a Plan (spec §3).
type PlannedTransition struct {
	FromID            string          `json:"fromId"`
	ToID              string          `json:"toId"`
	Style             TransitionStyle `json:"style"`
	FadeDuration      float64         `json:"fadeDuration"`
	BeatOffsetSeconds float64         `json:"beatOffsetSeconds"`
	Curve1            string          `json:"curve1"`
	Curve2            string          `json:"curve2"`
	MixPoint          MixPoint        `json:"mixPoint"`
	MixInSelection    MixInSelection  `json:"mixInSelection"`
	VocalCollision    VocalCollision  `json:"vocalCollision"`
	BPMDiff           float64         `json:"bpmDiff"`
	KeyDistance       int             `json:"keyDistance"`
	SuggestedType     string          `json:"suggestedType"`
}

// Plan is the deterministic output of the Planner (spec §3, §4.4).
type Plan struct {
	Order       []string             `json:"order"`
	TargetBPM   float64              `json:"targetBpm"`
	Transitions []PlannedTransition  `json:"transitions"`
	Quality     float64              `json:"quality"`
	Suggestions []string             `json:"suggestions,omitempty"`
}

// MashupStatus is the Mashup lifecycle state (spec §3).
type MashupStatus string

const (
	MashupPending    MashupStatus = "pending"
	MashupGenerating MashupStatus = "generating"
	MashupCompleted  MashupStatus = "completed"
	MashupFailed     MashupStatus = "failed"
)

// Mashup is a single mix-production request and its result (spec §3).
type Mashup struct {
	ID                     string       `json:"id"`
	UserID                 string       `json:"userId"`
	Name                   string       `json:"name"`
	TargetDurationSeconds  int          `json:"targetDurationSeconds"`
	Status                 MashupStatus `json:"status"`
	OutputKey              string       `json:"outputKey,omitempty"`
	MixMode                string       `json:"mixMode"`
	Plan                   *Plan        `json:"plan,omitempty"`
	GenerationTimeMs       int64        `json:"generationTimeMs,omitempty"`
	FailureReason          string       `json:"failureReason,omitempty"`
	UsedFallbackGraph      bool         `json:"usedFallbackGraph,omitempty"`
	CreatedAt              time.Time    `json:"createdAt"`
	UpdatedAt              time.Time    `json:"updatedAt"`
}

// JobKind is one of the four pipeline stages driven by the JobQueue.
type JobKind string

const (
	JobAnalyze  JobKind = "analyze"
	JobSeparate JobKind = "separate"
	JobPlan     JobKind = "plan"
	JobRender   JobKind = "render"
)

// JobState is a Job's lifecycle state, owned entirely by the JobQueue.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is one unit of dispatcher work (spec §3).
type Job struct {
	ID          string         `json:"id"`
	Kind        JobKind        `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Attempt     int            `json:"attempt"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
	State       JobState       `json:"state"`
	Error       string         `json:"error,omitempty"`
}

// MixRequest is the line-protocol-neutral mix-creation request (spec §6.1).
type MixRequest struct {
	TrackIDs                   []string        `json:"trackIds"`
	TargetDurationSeconds      int             `json:"targetDurationSeconds"`
	TargetBPM                  *float64        `json:"targetBpm,omitempty"`
	TransitionStyle            TransitionStyle `json:"transitionStyle,omitempty"`
	FadeDurationSeconds        *float64        `json:"fadeDurationSeconds,omitempty"`
	EnergyMode                 EnergyMode      `json:"energyMode,omitempty"`
	KeepOrder                  bool            `json:"keepOrder,omitempty"`
	PreferStems                bool            `json:"preferStems,omitempty"`
	EventType                  EventType       `json:"eventType,omitempty"`
	Name                       string          `json:"name,omitempty"`
	EnableMultibandCompression bool            `json:"enableMultibandCompression,omitempty"`
	EnableSidechainDucking     bool            `json:"enableSidechainDucking,omitempty"`
	EnableDynamicEQ            bool            `json:"enableDynamicEQ,omitempty"`
	LoudnessNormalization      LoudnessTarget  `json:"loudnessNormalization,omitempty"`
	TargetLoudness             *float64        `json:"targetLoudness,omitempty"`
	EnableFilterSweep          bool            `json:"enableFilterSweep,omitempty"`
	TempoRampSeconds           *float64        `json:"tempoRampSeconds,omitempty"`
}
