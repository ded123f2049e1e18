package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/quota"
)

type stubCatalog struct {
	tracks  map[string]*domain.Track
	mashups map[string]*domain.Mashup
	stems   map[string]*domain.Stem
}

func (s *stubCatalog) CreateTrack(ownerID, originalName, mime, storageKey string, data []byte) (*domain.Track, error) {
	t := &domain.Track{ID: uuid.NewString(), OwnerID: ownerID, OriginalName: originalName, Mime: mime, StorageKey: storageKey, AnalysisStatus: domain.AnalysisPending}
	s.tracks[t.ID] = t
	return t, nil
}

func (s *stubCatalog) GetTrack(id string) (*domain.Track, error) {
	if t, ok := s.tracks[id]; ok {
		return t, nil
	}
	return nil, errors.New("not found")
}

func (s *stubCatalog) GetMashup(id string) (*domain.Mashup, error) {
	if m, ok := s.mashups[id]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}

func (s *stubCatalog) GetStem(trackID string, kind domain.StemKind) (*domain.Stem, error) {
	if st, ok := s.stems[trackID+string(kind)]; ok {
		return st, nil
	}
	return nil, errors.New("not found")
}

func (s *stubCatalog) ListAnalyzedTracks(excludeID string) ([]*domain.Track, error) {
	var out []*domain.Track
	for id, t := range s.tracks {
		if id == excludeID || t.AnalysisStatus != domain.AnalysisCompleted {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type stubStore struct {
	data map[string][]byte
	mime map[string]string
}

func newStubStore() *stubStore { return &stubStore{data: map[string][]byte{}, mime: map[string]string{}} }

func (s *stubStore) Put(key string, data []byte, mime string) (string, error) {
	s.data[key] = data
	s.mime[key] = mime
	return key, nil
}

func (s *stubStore) Get(key string) ([]byte, string, error) {
	d, ok := s.data[key]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return d, s.mime[key], nil
}

func (s *stubStore) Delete(key string) error {
	delete(s.data, key)
	return nil
}

type stubSupervisor struct {
	mashup  *domain.Mashup
	err     error
	uploads []string
}

func (s *stubSupervisor) OnUpload(trackID string) error {
	s.uploads = append(s.uploads, trackID)
	return nil
}

func (s *stubSupervisor) RequestMix(ctx context.Context, userID string, req domain.MixRequest, gate quota.Request) (*domain.Mashup, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.mashup, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandleCreateMashupRejectsTooFewTracks(t *testing.T) {
	api := New(&stubCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}, stems: map[string]*domain.Stem{}}, newStubStore(), &stubSupervisor{}, testLogger())

	body, _ := json.Marshal(domain.MixRequest{TrackIDs: []string{uuid.NewString()}, TargetDurationSeconds: 120})
	req := httptest.NewRequest(http.MethodPost, "/api/mashups", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateMashupRejectsOutOfRangeDuration(t *testing.T) {
	api := New(&stubCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}, stems: map[string]*domain.Stem{}}, newStubStore(), &stubSupervisor{}, testLogger())

	body, _ := json.Marshal(domain.MixRequest{TrackIDs: []string{uuid.NewString(), uuid.NewString()}, TargetDurationSeconds: 10})
	req := httptest.NewRequest(http.MethodPost, "/api/mashups", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateMashupRequiresUserHeader(t *testing.T) {
	api := New(&stubCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}, stems: map[string]*domain.Stem{}}, newStubStore(), &stubSupervisor{}, testLogger())

	body, _ := json.Marshal(domain.MixRequest{TrackIDs: []string{uuid.NewString(), uuid.NewString()}, TargetDurationSeconds: 120})
	req := httptest.NewRequest(http.MethodPost, "/api/mashups", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateMashupSucceeds(t *testing.T) {
	sup := &stubSupervisor{mashup: &domain.Mashup{ID: "m1", Name: "party", Status: domain.MashupPending, TargetDurationSeconds: 120, MixMode: "wave", CreatedAt: time.Now(), UpdatedAt: time.Now()}}
	api := New(&stubCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}, stems: map[string]*domain.Stem{}}, newStubStore(), sup, testLogger())

	body, _ := json.Marshal(domain.MixRequest{TrackIDs: []string{uuid.NewString(), uuid.NewString()}, TargetDurationSeconds: 120})
	req := httptest.NewRequest(http.MethodPost, "/api/mashups", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateMashupMapsQuotaError(t *testing.T) {
	sup := &stubSupervisor{err: &quota.ErrQuotaExceeded{Reason: "over limit"}}
	api := New(&stubCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}, stems: map[string]*domain.Stem{}}, newStubStore(), sup, testLogger())

	body, _ := json.Marshal(domain.MixRequest{TrackIDs: []string{uuid.NewString(), uuid.NewString()}, TargetDurationSeconds: 120})
	req := httptest.NewRequest(http.MethodPost, "/api/mashups", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestHandleCatalogListsClosedSets(t *testing.T) {
	api := New(&stubCatalog{tracks: map[string]*domain.Track{}, mashups: map[string]*domain.Mashup{}, stems: map[string]*domain.Stem{}}, newStubStore(), &stubSupervisor{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/catalog/transition-styles", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	styles, _ := body["transitionStyles"].([]any)
	if len(styles) != 17 {
		t.Errorf("expected 17 transition styles, got %d", len(styles))
	}
}

func TestHandleStemStreamSetsHeaders(t *testing.T) {
	store := newStubStore()
	_, _ = store.Put("tracks/t1/stems/vocals.wav", []byte("pcm-bytes"), "audio/wav")
	cat := &stubCatalog{
		tracks:  map[string]*domain.Track{},
		mashups: map[string]*domain.Mashup{},
		stems:   map[string]*domain.Stem{"t1" + string(domain.StemVocals): {TrackID: "t1", Kind: domain.StemVocals, StorageKey: "tracks/t1/stems/vocals.wav"}},
	}
	api := New(cat, store, &stubSupervisor{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/tracks/t1/stems/vocals", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("expected Accept-Ranges: bytes header")
	}
	if rec.Header().Get("Cache-Control") != "private, max-age=3600" {
		t.Errorf("unexpected Cache-Control header: %s", rec.Header().Get("Cache-Control"))
	}
}

func TestHandleCompatibleRanksByScore(t *testing.T) {
	bpmA, bpmClose, bpmFar := 128.0, 129.0, 160.0
	keyA, keyClose, keyFar := "8A", "8A", "2B"
	cat := &stubCatalog{
		tracks: map[string]*domain.Track{
			"t1": {ID: "t1", OriginalName: "a", AnalysisStatus: domain.AnalysisCompleted, Analysis: &domain.AnalysisResult{BPM: &bpmA, CamelotKey: &keyA}},
			"t2": {ID: "t2", OriginalName: "close", AnalysisStatus: domain.AnalysisCompleted, Analysis: &domain.AnalysisResult{BPM: &bpmClose, CamelotKey: &keyClose}},
			"t3": {ID: "t3", OriginalName: "far", AnalysisStatus: domain.AnalysisCompleted, Analysis: &domain.AnalysisResult{BPM: &bpmFar, CamelotKey: &keyFar}},
		},
		mashups: map[string]*domain.Mashup{},
		stems:   map[string]*domain.Stem{},
	}
	api := New(cat, newStubStore(), &stubSupervisor{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/tracks/t1/compatible", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Compatible []compatibleEntry `json:"compatible"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.Compatible) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(body.Compatible))
	}
	if body.Compatible[0].TrackID != "t2" {
		t.Errorf("expected closest match t2 first, got %+v", body.Compatible)
	}
}

func TestHandleGetMashupReportsFailureReason(t *testing.T) {
	cat := &stubCatalog{
		tracks:  map[string]*domain.Track{},
		mashups: map[string]*domain.Mashup{"m1": {ID: "m1", Status: domain.MashupFailed, FailureReason: "renderer exhausted retries"}},
		stems:   map[string]*domain.Stem{},
	}
	api := New(cat, newStubStore(), &stubSupervisor{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/mashups/m1", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["failureReason"] != "renderer exhausted retries" {
		t.Errorf("expected failureReason to surface, got %v", body)
	}
}
