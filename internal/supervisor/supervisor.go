// Package supervisor orchestrates the mashup lifecycle: on upload it
// enqueues analysis, on mix request it validates readiness and enqueues
// planning, and on render completion it writes back Mashup status (spec
// §4.6). It owns no DSP or persistence logic itself — it wires the
// Catalog, JobQueue, StemEngine, Planner and Renderer together.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/infinitymix/engine/internal/analyzer"
	"github.com/infinitymix/engine/internal/apierr"
	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/jobqueue"
	"github.com/infinitymix/engine/internal/objectstore"
	"github.com/infinitymix/engine/internal/pcm"
	"github.com/infinitymix/engine/internal/planner"
	"github.com/infinitymix/engine/internal/quota"
	"github.com/infinitymix/engine/internal/renderer"
	"github.com/infinitymix/engine/internal/stemengine"
)

// Catalog is the slice of catalog.DB the Supervisor depends on.
type Catalog interface {
	GetTrack(id string) (*domain.Track, error)
	ListTracksByIDs(ids []string) ([]*domain.Track, error)
	SetAnalyzing(trackID string) error
	CompleteAnalysis(trackID string, result *domain.AnalysisResult) error
	FailAnalysis(trackID, reason string) error
	SaveCuePoints(trackID string, cues *domain.CuePoints) error
	UpsertStem(s *domain.Stem) error

	CreateMashup(userID, name string, targetDurationSeconds int, mixMode string) (*domain.Mashup, error)
	GetMashup(id string) (*domain.Mashup, error)
	SetGenerating(id string) error
	SavePlan(id string, plan *domain.Plan) error
	CompleteMashup(id, outputKey string, generationTimeMs int64, usedFallback bool) error
	FailMashup(id, reason string) error
	ListMashupsByStatus(status domain.MashupStatus) ([]*domain.Mashup, error)

	EnqueueJob(kind domain.JobKind, payload map[string]any) (*domain.Job, error)
	ResetStalledJobs() (int64, error)
}

// Supervisor wires the pipeline stages behind the JobQueue.
type Supervisor struct {
	catalog    Catalog
	store      objectstore.Store
	decoder    *pcm.Decoder
	stems      *stemengine.StemEngine
	renderCfg  renderer.Config
	queue      *jobqueue.Queue
	quotaGate  quota.Gate
	logger     *slog.Logger
}

// New wires a Supervisor and registers its job handlers on queue.
func New(catalog Catalog, store objectstore.Store, decoder *pcm.Decoder, stems *stemengine.StemEngine, renderCfg renderer.Config, queue *jobqueue.Queue, quotaGate quota.Gate, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		catalog:   catalog,
		store:     store,
		decoder:   decoder,
		stems:     stems,
		renderCfg: renderCfg,
		queue:     queue,
		quotaGate: quotaGate,
		logger:    logger,
	}
	queue.OnKind(domain.JobAnalyze, s.handleAnalyze)
	queue.OnKind(domain.JobSeparate, s.handleSeparate)
	queue.OnKind(domain.JobPlan, s.handlePlan)
	queue.OnKind(domain.JobRender, s.handleRender)
	return s
}

// Resume re-enqueues work for mashups left pending or generating across a
// restart, and requeues jobs stuck in "running" from a crash (spec §4.6's
// no-leader-election base design still needs to recover from a hard stop).
func (s *Supervisor) Resume(ctx context.Context) error {
	if n, err := s.catalog.ResetStalledJobs(); err != nil {
		return fmt.Errorf("supervisor: reset stalled jobs: %w", err)
	} else if n > 0 {
		s.logger.Info("requeued stalled jobs", "count", n)
	}

	for _, status := range []domain.MashupStatus{domain.MashupPending, domain.MashupGenerating} {
		mashups, err := s.catalog.ListMashupsByStatus(status)
		if err != nil {
			return fmt.Errorf("supervisor: list %s mashups: %w", status, err)
		}
		for _, m := range mashups {
			s.logger.Info("resurrecting mashup", "mashup_id", m.ID, "status", status)
			if _, err := s.catalog.EnqueueJob(domain.JobPlan, map[string]any{"mashupId": m.ID}); err != nil {
				s.logger.Error("failed to resurrect mashup", "mashup_id", m.ID, "error", err)
			}
		}
	}
	return nil
}

// OnUpload enqueues analysis for a freshly created Track (spec §4.6 step 1).
func (s *Supervisor) OnUpload(trackID string) error {
	_, err := s.catalog.EnqueueJob(domain.JobAnalyze, map[string]any{"trackId": trackID})
	return err
}

// RequestMix validates that every requested track has completed analysis,
// gates on quota, creates the Mashup row, and enqueues planning (spec §4.6
// step 2). Track ids that are not yet analyzed produce a KindAnalysisIncomplete
// error rather than silently proceeding.
func (s *Supervisor) RequestMix(ctx context.Context, userID string, req domain.MixRequest, gate quota.Request) (*domain.Mashup, error) {
	tracks, err := s.catalog.ListTracksByIDs(req.TrackIDs)
	if err != nil {
		return nil, fmt.Errorf("supervisor: list tracks: %w", err)
	}
	for _, t := range tracks {
		if t.AnalysisStatus != domain.AnalysisCompleted {
			return nil, apierr.New(apierr.KindAnalysisIncomplete, fmt.Sprintf("track %s has not finished analysis", t.ID))
		}
	}

	if s.quotaGate != nil {
		if err := s.quotaGate.Check(ctx, gate); err != nil {
			return nil, err
		}
	}

	name := req.Name
	if name == "" {
		name = "mashup"
	}
	mashup, err := s.catalog.CreateMashup(userID, name, req.TargetDurationSeconds, string(req.EnergyMode))
	if err != nil {
		return nil, fmt.Errorf("supervisor: create mashup: %w", err)
	}

	payload, err := requestPayload(mashup.ID, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalog.EnqueueJob(domain.JobPlan, payload); err != nil {
		return nil, fmt.Errorf("supervisor: enqueue plan: %w", err)
	}
	return mashup, nil
}

func requestPayload(mashupID string, req domain.MixRequest) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("supervisor: marshal mix request: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("supervisor: remarshal mix request: %w", err)
	}
	asMap["mashupId"] = mashupID
	return asMap, nil
}

func (s *Supervisor) handleAnalyze(ctx context.Context, job *domain.Job) error {
	trackID, _ := job.Payload["trackId"].(string)
	track, err := s.catalog.GetTrack(trackID)
	if err != nil {
		return fmt.Errorf("analyze: load track: %w", err)
	}
	if err := s.catalog.SetAnalyzing(trackID); err != nil {
		return fmt.Errorf("analyze: mark analyzing: %w", err)
	}

	data, mime, err := s.store.Get(track.StorageKey)
	if err != nil {
		_ = s.catalog.FailAnalysis(trackID, err.Error())
		return fmt.Errorf("analyze: fetch bytes: %w", err)
	}

	decodeCtx, cancel := pcm.DecodeTimeout(ctx, 60)
	defer cancel()
	buf, err := s.decoder.Decode(decodeCtx, mime, data)
	if err != nil {
		_ = s.catalog.FailAnalysis(trackID, err.Error())
		return fmt.Errorf("analyze: decode: %w", err)
	}

	result := analyzer.Analyze(buf)
	if err := s.catalog.CompleteAnalysis(trackID, result); err != nil {
		return fmt.Errorf("analyze: persist result: %w", err)
	}

	if _, err := s.catalog.EnqueueJob(domain.JobSeparate, map[string]any{"trackId": trackID}); err != nil {
		s.logger.Error("failed to enqueue separation", "track_id", trackID, "error", err)
	}
	return nil
}

func (s *Supervisor) handleSeparate(ctx context.Context, job *domain.Job) error {
	trackID, _ := job.Payload["trackId"].(string)
	track, err := s.catalog.GetTrack(trackID)
	if err != nil {
		return fmt.Errorf("separate: load track: %w", err)
	}

	data, mime, err := s.store.Get(track.StorageKey)
	if err != nil {
		return fmt.Errorf("separate: fetch bytes: %w", err)
	}
	decodeCtx, cancel := pcm.DecodeTimeout(ctx, 60)
	defer cancel()
	buf, err := s.decoder.Decode(decodeCtx, mime, data)
	if err != nil {
		return fmt.Errorf("separate: decode: %w", err)
	}

	result, err := s.stems.Separate(ctx, buf)
	if err != nil {
		return fmt.Errorf("separate: all engines failed: %w", err)
	}

	type encoded struct {
		kind domain.StemKind
		key  string
	}
	kinds := make([]domain.StemKind, 0, len(result.Stems))
	for kind := range result.Stems {
		kinds = append(kinds, kind)
	}
	uploaded := make([]*encoded, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		i, kind, stemBuf := i, kind, result.Stems[kind]
		g.Go(func() error {
			key := objectstore.StemKey(trackID, string(kind), "wav")
			data, err := pcm.EncodeWAV(stemBuf)
			if err != nil {
				s.logger.Error("failed to encode stem", "track_id", trackID, "kind", kind, "error", err)
				return nil
			}
			if _, err := s.store.Put(key, data, "audio/wav"); err != nil {
				s.logger.Error("failed to upload stem", "track_id", trackID, "kind", kind, "error", err)
				return nil
			}
			uploaded[i] = &encoded{kind: kind, key: key}
			return nil
		})
	}
	_ = g.Wait()

	for _, u := range uploaded {
		if u == nil {
			continue
		}
		stem := &domain.Stem{TrackID: trackID, Kind: u.kind, StorageKey: u.key, Status: domain.StemCompleted, Quality: result.Quality, Engine: result.Engine}
		if err := s.catalog.UpsertStem(stem); err != nil {
			s.logger.Error("failed to index stem", "track_id", trackID, "kind", u.kind, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) handlePlan(ctx context.Context, job *domain.Job) error {
	mashupID, _ := job.Payload["mashupId"].(string)
	var req domain.MixRequest
	if raw, err := json.Marshal(job.Payload); err == nil {
		_ = json.Unmarshal(raw, &req)
	}

	tracks, err := s.catalog.ListTracksByIDs(req.TrackIDs)
	if err != nil {
		return fmt.Errorf("plan: list tracks: %w", err)
	}

	inputs := make([]planner.TrackInput, 0, len(tracks))
	for _, t := range tracks {
		inputs = append(inputs, planner.TrackInput{TrackID: t.ID, Analysis: t.Analysis, Cues: t.CuePoints})
	}
	// Preserve the caller's requested order rather than the catalog's.
	ordered := make([]planner.TrackInput, 0, len(inputs))
	for _, id := range req.TrackIDs {
		for _, in := range inputs {
			if in.TrackID == id {
				ordered = append(ordered, in)
				break
			}
		}
	}
	if len(ordered) == len(inputs) {
		inputs = ordered
	}

	plan := planner.Plan(inputs, req, func(trackID string, cues *domain.CuePoints) {
		if err := s.catalog.SaveCuePoints(trackID, cues); err != nil {
			s.logger.Error("failed to heal cue points", "track_id", trackID, "error", err)
		}
	})

	if err := s.catalog.SavePlan(mashupID, plan); err != nil {
		return fmt.Errorf("plan: persist: %w", err)
	}
	if err := s.catalog.SetGenerating(mashupID); err != nil {
		return fmt.Errorf("plan: mark generating: %w", err)
	}

	if _, err := s.catalog.EnqueueJob(domain.JobRender, job.Payload); err != nil {
		return fmt.Errorf("plan: enqueue render: %w", err)
	}
	return nil
}

func (s *Supervisor) handleRender(ctx context.Context, job *domain.Job) error {
	mashupID, _ := job.Payload["mashupId"].(string)
	mashup, err := s.catalog.GetMashup(mashupID)
	if err != nil {
		return fmt.Errorf("render: load mashup: %w", err)
	}
	if mashup.Plan == nil {
		_ = s.catalog.FailMashup(mashupID, "no plan available")
		return fmt.Errorf("render: mashup %s has no plan", mashupID)
	}

	var req domain.MixRequest
	if raw, err := json.Marshal(job.Payload); err == nil {
		_ = json.Unmarshal(raw, &req)
	}

	domainTracks, err := s.catalog.ListTracksByIDs(mashup.Plan.Order)
	if err != nil {
		return fmt.Errorf("render: list tracks: %w", err)
	}
	byID := make(map[string]*domain.Track, len(domainTracks))
	for _, t := range domainTracks {
		byID[t.ID] = t
	}

	refs := make([]renderer.TrackRef, 0, len(mashup.Plan.Order))
	for _, id := range mashup.Plan.Order {
		t, ok := byID[id]
		if !ok {
			continue
		}
		var bpm *float64
		var duration float64
		if t.Analysis != nil {
			bpm = t.Analysis.BPM
			duration = t.Analysis.DurationSeconds
		}
		refs = append(refs, renderer.TrackRef{
			ID: t.ID, OriginalName: t.OriginalName, StorageKey: t.StorageKey, Mime: t.Mime,
			BPM: bpm, DurationSeconds: duration, CuePoints: t.CuePoints,
		})
	}

	r := renderer.New(s.store, s.renderCfg, s.logger)
	opts := renderer.Options{
		EnableDynamicEQ:            req.EnableDynamicEQ,
		EnableMultibandCompression: req.EnableMultibandCompression,
		EnableSidechainDucking:     req.EnableSidechainDucking,
		EnableFilterSweep:          req.EnableFilterSweep,
		LoudnessNormalization:      req.LoudnessNormalization,
	}
	if req.TempoRampSeconds != nil {
		opts.TempoRampSeconds = *req.TempoRampSeconds
	}
	if req.TargetLoudness != nil {
		opts.TargetLoudness = *req.TargetLoudness
	}

	out, err := r.Render(ctx, mashupID, mashup.Plan, refs, float64(mashup.TargetDurationSeconds), opts)
	if err != nil {
		_ = s.catalog.FailMashup(mashupID, err.Error())
		return fmt.Errorf("render: %w", err)
	}

	return s.catalog.CompleteMashup(mashupID, out.OutputKey, out.GenerationTimeMs, out.UsedFallback)
}
