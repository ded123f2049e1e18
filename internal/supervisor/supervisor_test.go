package supervisor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/infinitymix/engine/internal/apierr"
	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/fixtures"
	"github.com/infinitymix/engine/internal/jobqueue"
	"github.com/infinitymix/engine/internal/pcm"
	"github.com/infinitymix/engine/internal/quota"
	"github.com/infinitymix/engine/internal/renderer"
	"github.com/infinitymix/engine/internal/stemengine"
)

type enqueuedJob struct {
	kind    domain.JobKind
	payload map[string]any
}

type fakeCatalog struct {
	tracks  map[string]*domain.Track
	mashups map[string]*domain.Mashup
	stems   []*domain.Stem
	jobs    []enqueuedJob
	stalled int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}}
}

func (f *fakeCatalog) GetTrack(id string) (*domain.Track, error) {
	t, ok := f.tracks[id]
	if !ok {
		return nil, apierr.New(apierr.KindValidation, "track not found")
	}
	return t, nil
}

func (f *fakeCatalog) ListTracksByIDs(ids []string) ([]*domain.Track, error) {
	var out []*domain.Track
	for _, id := range ids {
		if t, ok := f.tracks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeCatalog) SetAnalyzing(trackID string) error {
	f.tracks[trackID].AnalysisStatus = domain.AnalysisAnalyzing
	return nil
}

func (f *fakeCatalog) CompleteAnalysis(trackID string, result *domain.AnalysisResult) error {
	t := f.tracks[trackID]
	t.AnalysisStatus = domain.AnalysisCompleted
	t.Analysis = result
	return nil
}

func (f *fakeCatalog) FailAnalysis(trackID, reason string) error {
	t := f.tracks[trackID]
	t.AnalysisStatus = domain.AnalysisFailed
	t.FailureReason = reason
	return nil
}

func (f *fakeCatalog) SaveCuePoints(trackID string, cues *domain.CuePoints) error {
	f.tracks[trackID].CuePoints = cues
	return nil
}

func (f *fakeCatalog) UpsertStem(s *domain.Stem) error {
	f.stems = append(f.stems, s)
	return nil
}

func (f *fakeCatalog) CreateMashup(userID, name string, targetDurationSeconds int, mixMode string) (*domain.Mashup, error) {
	m := &domain.Mashup{ID: "mashup-1", UserID: userID, Name: name, TargetDurationSeconds: targetDurationSeconds, MixMode: mixMode, Status: domain.MashupPending}
	f.mashups[m.ID] = m
	return m, nil
}

func (f *fakeCatalog) GetMashup(id string) (*domain.Mashup, error) {
	m, ok := f.mashups[id]
	if !ok {
		return nil, apierr.New(apierr.KindValidation, "mashup not found")
	}
	return m, nil
}

func (f *fakeCatalog) SetGenerating(id string) error {
	f.mashups[id].Status = domain.MashupGenerating
	return nil
}

func (f *fakeCatalog) SavePlan(id string, plan *domain.Plan) error {
	f.mashups[id].Plan = plan
	return nil
}

func (f *fakeCatalog) CompleteMashup(id, outputKey string, generationTimeMs int64, usedFallback bool) error {
	m := f.mashups[id]
	m.Status = domain.MashupCompleted
	m.OutputKey = outputKey
	m.GenerationTimeMs = generationTimeMs
	m.UsedFallbackGraph = usedFallback
	return nil
}

func (f *fakeCatalog) FailMashup(id, reason string) error {
	m := f.mashups[id]
	m.Status = domain.MashupFailed
	m.FailureReason = reason
	return nil
}

func (f *fakeCatalog) ListMashupsByStatus(status domain.MashupStatus) ([]*domain.Mashup, error) {
	var out []*domain.Mashup
	for _, m := range f.mashups {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeCatalog) EnqueueJob(kind domain.JobKind, payload map[string]any) (*domain.Job, error) {
	f.jobs = append(f.jobs, enqueuedJob{kind: kind, payload: payload})
	return &domain.Job{ID: "job-1", Kind: kind, Payload: payload, State: domain.JobQueued}, nil
}

func (f *fakeCatalog) ResetStalledJobs() (int64, error) {
	return f.stalled, nil
}

// jobqueue.Store is unused by these tests (handlers are called directly),
// but jobqueue.New requires a Store to build the Queue Supervisor registers
// its handlers on.
func (f *fakeCatalog) ClaimJob(kind domain.JobKind) (*domain.Job, error) {
	return nil, apierr.New(apierr.KindValidation, "no jobs")
}
func (f *fakeCatalog) CompleteJob(id string) error     { return nil }
func (f *fakeCatalog) FailJob(id, reason string) error { return nil }

type fakeStore struct {
	data map[string][]byte
	mime map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}, mime: map[string]string{}}
}

func (s *fakeStore) Put(key string, data []byte, mime string) (string, error) {
	s.data[key] = data
	s.mime[key] = mime
	return key, nil
}

func (s *fakeStore) Get(key string) ([]byte, string, error) {
	d, ok := s.data[key]
	if !ok {
		return nil, "", apierr.New(apierr.KindStorage, "not found")
	}
	return d, s.mime[key], nil
}

func (s *fakeStore) Delete(key string) error {
	delete(s.data, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(noopWriter{}, nil))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestSupervisor(catalog *fakeCatalog, store *fakeStore) *Supervisor {
	decoder := pcm.NewDecoder("", 44100)
	stems := stemengine.New(discardLogger())
	renderCfg := renderer.Config{}
	queue := jobqueue.New(catalog, discardLogger(), 4)
	return New(catalog, store, decoder, stems, renderCfg, queue, nil, discardLogger())
}

func TestOnUploadEnqueuesAnalyze(t *testing.T) {
	catalog := newFakeCatalog()
	sup := newTestSupervisor(catalog, newFakeStore())

	if err := sup.OnUpload("track-1"); err != nil {
		t.Fatalf("OnUpload: %v", err)
	}
	if len(catalog.jobs) != 1 || catalog.jobs[0].kind != domain.JobAnalyze {
		t.Fatalf("expected one analyze job, got %+v", catalog.jobs)
	}
}

func TestRequestMixRejectsIncompleteAnalysis(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.tracks["t1"] = &domain.Track{ID: "t1", AnalysisStatus: domain.AnalysisPending}
	sup := newTestSupervisor(catalog, newFakeStore())

	req := domain.MixRequest{TrackIDs: []string{"t1"}, TargetDurationSeconds: 600}
	_, err := sup.RequestMix(context.Background(), "user-1", req, quota.Request{UserID: "user-1", TargetDurationSeconds: req.TargetDurationSeconds})
	if err == nil {
		t.Fatal("expected analysis-incomplete error")
	}
	if apierr.KindOf(err) != apierr.KindAnalysisIncomplete {
		t.Fatalf("expected KindAnalysisIncomplete, got %v", apierr.KindOf(err))
	}
}

func TestRequestMixEnqueuesPlanWhenReady(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.tracks["t1"] = &domain.Track{ID: "t1", AnalysisStatus: domain.AnalysisCompleted}
	catalog.tracks["t2"] = &domain.Track{ID: "t2", AnalysisStatus: domain.AnalysisCompleted}
	sup := newTestSupervisor(catalog, newFakeStore())

	req := domain.MixRequest{TrackIDs: []string{"t1", "t2"}, TargetDurationSeconds: 600, Name: "party mix"}
	mashup, err := sup.RequestMix(context.Background(), "user-1", req, quota.Request{UserID: "user-1", TargetDurationSeconds: req.TargetDurationSeconds})
	if err != nil {
		t.Fatalf("RequestMix: %v", err)
	}
	if mashup.Name != "party mix" {
		t.Fatalf("unexpected mashup name %q", mashup.Name)
	}
	if len(catalog.jobs) != 1 || catalog.jobs[0].kind != domain.JobPlan {
		t.Fatalf("expected one plan job, got %+v", catalog.jobs)
	}
	if catalog.jobs[0].payload["mashupId"] != mashup.ID {
		t.Fatalf("plan payload missing mashupId: %+v", catalog.jobs[0].payload)
	}
}

func TestHandleAnalyzeCompletesAndEnqueuesSeparate(t *testing.T) {
	catalog := newFakeCatalog()
	store := newFakeStore()
	sup := newTestSupervisor(catalog, store)

	click := fixtures.GenerateClickTrack(44100, 128, 64)
	wavBytes := fixtures.EncodeWAV(click)
	store.Put("tracks/track-1.wav", wavBytes, "audio/wav")
	catalog.tracks["track-1"] = &domain.Track{ID: "track-1", StorageKey: "tracks/track-1.wav", Mime: "audio/wav", AnalysisStatus: domain.AnalysisPending}

	job := &domain.Job{ID: "job-1", Kind: domain.JobAnalyze, Payload: map[string]any{"trackId": "track-1"}}
	if err := sup.handleAnalyze(context.Background(), job); err != nil {
		t.Fatalf("handleAnalyze: %v", err)
	}

	track := catalog.tracks["track-1"]
	if track.AnalysisStatus != domain.AnalysisCompleted {
		t.Fatalf("expected analysis completed, got %s", track.AnalysisStatus)
	}
	if track.Analysis == nil {
		t.Fatal("expected analysis result to be persisted")
	}
	if len(catalog.jobs) != 1 || catalog.jobs[0].kind != domain.JobSeparate {
		t.Fatalf("expected one separate job, got %+v", catalog.jobs)
	}
}

func TestHandleSeparateUploadsFallbackStems(t *testing.T) {
	catalog := newFakeCatalog()
	store := newFakeStore()
	sup := newTestSupervisor(catalog, store)

	click := fixtures.GenerateClickTrack(44100, 128, 64)
	wavBytes := fixtures.EncodeWAV(click)
	store.Put("tracks/track-1.wav", wavBytes, "audio/wav")
	catalog.tracks["track-1"] = &domain.Track{ID: "track-1", StorageKey: "tracks/track-1.wav", Mime: "audio/wav"}

	job := &domain.Job{ID: "job-2", Kind: domain.JobSeparate, Payload: map[string]any{"trackId": "track-1"}}
	if err := sup.handleSeparate(context.Background(), job); err != nil {
		t.Fatalf("handleSeparate: %v", err)
	}

	if len(catalog.stems) != 4 {
		t.Fatalf("expected 4 stems from the fallback engine, got %d", len(catalog.stems))
	}
	for _, s := range catalog.stems {
		if _, _, err := store.Get(s.StorageKey); err != nil {
			t.Errorf("stem %s not uploaded: %v", s.Kind, err)
		}
	}
}

func TestResumeResurrectsPendingMashups(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.mashups["m1"] = &domain.Mashup{ID: "m1", Status: domain.MashupGenerating}
	catalog.stalled = 2
	sup := newTestSupervisor(catalog, newFakeStore())

	if err := sup.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(catalog.jobs) != 1 || catalog.jobs[0].kind != domain.JobPlan {
		t.Fatalf("expected resurrected plan job, got %+v", catalog.jobs)
	}
}
