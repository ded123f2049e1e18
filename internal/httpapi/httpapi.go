// Package httpapi is the ExternalAPI surface of spec §6: a thin JSON/HTTP
// front end over the Catalog and Supervisor. It owns request validation and
// status-code mapping; no pipeline logic lives here.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/infinitymix/engine/internal/apierr"
	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/objectstore"
	"github.com/infinitymix/engine/internal/planner"
	"github.com/infinitymix/engine/internal/quota"
)

const defaultUserHeader = "X-User-Id"

// Catalog is the slice of catalog.DB the ExternalAPI uses directly: reads,
// plus CreateTrack on upload. Mashup creation and job enqueueing go through
// Supervisor.
type Catalog interface {
	CreateTrack(ownerID, originalName, mime, storageKey string, data []byte) (*domain.Track, error)
	GetTrack(id string) (*domain.Track, error)
	GetMashup(id string) (*domain.Mashup, error)
	GetStem(trackID string, kind domain.StemKind) (*domain.Stem, error)
	ListAnalyzedTracks(excludeID string) ([]*domain.Track, error)
}

// Supervisor is the slice of supervisor.Supervisor the ExternalAPI drives.
type Supervisor interface {
	OnUpload(trackID string) error
	RequestMix(ctx context.Context, userID string, req domain.MixRequest, gate quota.Request) (*domain.Mashup, error)
}

// API wires handlers for spec §6's endpoints plus one supplemented
// compatibility-lookup route.
type API struct {
	catalog    Catalog
	store      objectstore.Store
	supervisor Supervisor
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New builds an API and registers its routes on a fresh ServeMux.
func New(catalog Catalog, store objectstore.Store, supervisor Supervisor, logger *slog.Logger) *API {
	a := &API{catalog: catalog, store: store, supervisor: supervisor, logger: logger, mux: http.NewServeMux()}
	a.mux.HandleFunc("GET /api/health", a.handleHealth)
	a.mux.HandleFunc("GET /api/catalog/transition-styles", a.handleCatalog)
	a.mux.HandleFunc("POST /api/uploads", a.handleUpload)
	a.mux.HandleFunc("POST /api/mashups", a.handleCreateMashup)
	a.mux.HandleFunc("GET /api/mashups/{id}", a.handleGetMashup)
	a.mux.HandleFunc("GET /api/tracks/{id}/stems/{kind}", a.handleStemStream)
	a.mux.HandleFunc("GET /api/tracks/{id}/compatible", a.handleCompatible)
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(a.mux).ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCatalog returns the closed enumerations the UI renders as menus
// (spec §6.2). Identifiers are normative; new entries only ever append.
func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"transitionStyles": []domain.TransitionStyle{
			domain.StyleSmooth, domain.StyleDrop, domain.StyleEnergy, domain.StyleCut,
			domain.StyleFilterSweep, domain.StyleEchoReverb, domain.StyleBackspin, domain.StyleTapeStop,
			domain.StyleStutterEdit, domain.StyleThreeBandSwap, domain.StyleBassDrop, domain.StyleSnareRoll,
			domain.StyleNoiseRiser, domain.StyleVocalHandoff, domain.StyleBassSwap, domain.StyleReverbWash,
			domain.StyleEchoOut,
		},
		"energyModes":  []domain.EnergyMode{domain.EnergySteady, domain.EnergyBuild, domain.EnergyWave},
		"eventTypes":   []domain.EventType{domain.EventWedding, domain.EventBirthday, domain.EventSweet16, domain.EventClub, domain.EventDefault},
		"processingOptions": []string{
			"enableMultibandCompression", "enableSidechainDucking", "enableDynamicEQ", "enableFilterSweep",
		},
		"loudnessTargets": []domain.LoudnessTarget{domain.LoudnessEBUR128, domain.LoudnessPeak, domain.LoudnessNone},
	})
}

type uploadRequest struct {
	OwnerID      string `json:"ownerId"`
	OriginalName string `json:"originalName"`
	Mime         string `json:"mime"`
	DataBase64   string `json:"dataBase64"`
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "malformed upload body"))
		return
	}
	if req.OwnerID == "" || req.OriginalName == "" {
		writeError(w, apierr.New(apierr.KindValidation, "ownerId and originalName are required"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "dataBase64 is not valid base64"))
		return
	}

	key := objectstore.UploadKey(req.OwnerID, time.Now().UnixMilli(), req.OriginalName)
	if _, err := a.store.Put(key, data, req.Mime); err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "store upload", err))
		return
	}

	track, err := a.catalog.CreateTrack(req.OwnerID, req.OriginalName, req.Mime, key, data)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "index upload", err))
		return
	}
	if err := a.supervisor.OnUpload(track.ID); err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "enqueue analysis", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": track.ID, "status": track.AnalysisStatus})
}

func (a *API) handleCreateMashup(w http.ResponseWriter, r *http.Request) {
	var req domain.MixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindValidation, "malformed mix request body"))
		return
	}
	if err := validateMixRequest(req); err != nil {
		writeError(w, err)
		return
	}

	userID := r.Header.Get(defaultUserHeader)
	if userID == "" {
		writeError(w, apierr.New(apierr.KindAuthorization, defaultUserHeader+" header is required"))
		return
	}

	gateReq := quota.Request{UserID: userID, TargetDurationSeconds: req.TargetDurationSeconds, RequestsHiFiStems: req.PreferStems}
	mashup, err := a.supervisor.RequestMix(r.Context(), userID, req, gateReq)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id": mashup.ID, "name": mashup.Name, "status": mashup.Status,
		"duration_seconds": mashup.TargetDurationSeconds, "mix_mode": mashup.MixMode,
		"created_at": mashup.CreatedAt, "updated_at": mashup.UpdatedAt,
	})
}

// validateMixRequest enforces spec §6.1's bounds.
func validateMixRequest(req domain.MixRequest) error {
	if len(req.TrackIDs) < 2 {
		return apierr.New(apierr.KindValidation, "trackIds requires at least 2 entries")
	}
	for _, id := range req.TrackIDs {
		if _, err := uuid.Parse(id); err != nil {
			return apierr.New(apierr.KindValidation, "trackIds must be uuids")
		}
	}
	if req.TargetDurationSeconds < 30 || req.TargetDurationSeconds > 3600 {
		return apierr.New(apierr.KindValidation, "targetDurationSeconds must be within [30, 3600]")
	}
	if req.TargetBPM != nil && (*req.TargetBPM < 60 || *req.TargetBPM > 200) {
		return apierr.New(apierr.KindValidation, "targetBpm must be within [60, 200]")
	}
	if req.FadeDurationSeconds != nil && (*req.FadeDurationSeconds < 0 || *req.FadeDurationSeconds > 20) {
		return apierr.New(apierr.KindValidation, "fadeDurationSeconds must be within [0, 20]")
	}
	if req.TargetLoudness != nil && (*req.TargetLoudness < -70 || *req.TargetLoudness > -5) {
		return apierr.New(apierr.KindValidation, "targetLoudness must be within [-70, -5]")
	}
	if req.TempoRampSeconds != nil && (*req.TempoRampSeconds < 0 || *req.TempoRampSeconds > 10) {
		return apierr.New(apierr.KindValidation, "tempoRampSeconds must be within [0, 10]")
	}
	if len(req.Name) > 255 {
		return apierr.New(apierr.KindValidation, "name must be at most 255 characters")
	}
	return nil
}

func (a *API) handleGetMashup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mashup, err := a.catalog.GetMashup(id)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "mashup not found", err))
		return
	}
	resp := map[string]any{
		"id": mashup.ID, "name": mashup.Name, "status": mashup.Status,
		"targetDurationSeconds": mashup.TargetDurationSeconds, "mixMode": mashup.MixMode,
		"createdAt": mashup.CreatedAt, "updatedAt": mashup.UpdatedAt,
	}
	if mashup.Status == domain.MashupCompleted {
		resp["outputKey"] = mashup.OutputKey
	}
	if mashup.Status == domain.MashupFailed {
		resp["failureReason"] = mashup.FailureReason
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStemStream implements spec §6.3: stream raw stem bytes with the
// stored mime type, Accept-Ranges and a private hour-long cache.
func (a *API) handleStemStream(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("id")
	kind := domain.StemKind(r.PathValue("kind"))

	stem, err := a.catalog.GetStem(trackID, kind)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "stem not found", err))
		return
	}
	data, mime, err := a.store.Get(stem.StorageKey)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "stem bytes unavailable", err))
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type compatibleEntry struct {
	TrackID string `json:"trackId"`
	Name    string `json:"name"`
	Score   int    `json:"score"`
}

// handleCompatible is a supplemented endpoint beyond spec §6: given an
// analyzed track, rank the catalog's other analyzed tracks by
// mixability so a UI can suggest a next pick before a mix is ever requested.
// Scoring reuses the Planner's own key/BPM compatibility function rather
// than introducing a second notion of "compatible."
func (a *API) handleCompatible(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("id")
	track, err := a.catalog.GetTrack(trackID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "track not found", err))
		return
	}
	if track.AnalysisStatus != domain.AnalysisCompleted || track.Analysis == nil {
		writeError(w, apierr.New(apierr.KindAnalysisIncomplete, "analysis-in-progress"))
		return
	}

	others, err := a.catalog.ListAnalyzedTracks(trackID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorage, "list candidates", err))
		return
	}

	var keyA string
	if track.Analysis.CamelotKey != nil {
		keyA = *track.Analysis.CamelotKey
	}
	entries := make([]compatibleEntry, 0, len(others))
	for _, o := range others {
		if o.Analysis == nil {
			continue
		}
		var keyB string
		if o.Analysis.CamelotKey != nil {
			keyB = *o.Analysis.CamelotKey
		}
		score := planner.CompatibilityScore(keyA, track.Analysis.BPM, keyB, o.Analysis.BPM)
		entries = append(entries, compatibleEntry{TrackID: o.ID, Name: o.OriginalName, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Score < entries[j].Score })

	writeJSON(w, http.StatusOK, map[string]any{"trackId": trackID, "compatible": entries})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var quotaErr *quota.ErrQuotaExceeded
	if errors.As(err, &quotaErr) {
		writeJSON(w, apierr.HTTPStatus(apierr.KindQuota), map[string]any{"error": map[string]any{"kind": apierr.KindQuota, "message": quotaErr.Error()}})
		return
	}
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	message := err.Error()
	if idx := strings.LastIndex(message, ": "); idx >= 0 && status >= 500 {
		message = message[idx+2:]
	}
	writeJSON(w, status, map[string]any{"error": map[string]any{"kind": kind, "message": message}})
}
