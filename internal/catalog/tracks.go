package catalog

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/infinitymix/engine/internal/domain"
)

// ErrNotFound is returned by Get* lookups that find no row.
var ErrNotFound = errors.New("catalog: not found")

// ContentHash hashes upload bytes by SHA-256 so re-uploads of the same
// bytes regardless of filename resolve to one Track (spec §3's supplemented
// content-hash rule).
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CreateTrack inserts a new Track row keyed by content hash. If a track
// with the same content hash already exists it is returned unchanged
// (upload idempotence), rather than creating a duplicate.
func (d *DB) CreateTrack(ownerID, originalName, mime, storageKey string, data []byte) (*domain.Track, error) {
	hash := ContentHash(data)

	if existing, err := d.GetTrackByHash(hash); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	t := &domain.Track{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		OriginalName:   originalName,
		Mime:           mime,
		StorageKey:     storageKey,
		ContentHash:    hash,
		AnalysisStatus: domain.AnalysisPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := d.db.Exec(`
		INSERT INTO tracks (id, owner_id, original_name, mime, storage_key, content_hash, analysis_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OwnerID, t.OriginalName, t.Mime, t.StorageKey, t.ContentHash, string(t.AnalysisStatus), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: create track: %w", err)
	}
	return t, nil
}

// GetTrackByHash retrieves a track by its content hash.
func (d *DB) GetTrackByHash(hash string) (*domain.Track, error) {
	row := d.db.QueryRow(`
		SELECT id, owner_id, original_name, mime, storage_key, content_hash, analysis_status,
		       analysis_json, cue_points_json, failure_reason, created_at, updated_at
		FROM tracks WHERE content_hash = ?
	`, hash)
	return scanTrack(row)
}

// GetTrack retrieves a track by id.
func (d *DB) GetTrack(id string) (*domain.Track, error) {
	row := d.db.QueryRow(`
		SELECT id, owner_id, original_name, mime, storage_key, content_hash, analysis_status,
		       analysis_json, cue_points_json, failure_reason, created_at, updated_at
		FROM tracks WHERE id = ?
	`, id)
	return scanTrack(row)
}

// ListTracksByIDs resolves a set of ids, preserving the caller's order and
// erroring if any id is missing (the Planner and Renderer need every track
// present — spec §5's ordering guarantee).
func (d *DB) ListTracksByIDs(ids []string) ([]*domain.Track, error) {
	out := make([]*domain.Track, 0, len(ids))
	for _, id := range ids {
		t, err := d.GetTrack(id)
		if err != nil {
			return nil, fmt.Errorf("catalog: track %s: %w", id, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// SetAnalyzing transitions a Track to the `analyzing` state exactly once
// per analyze job (spec §3 lifecycle).
func (d *DB) SetAnalyzing(trackID string) error {
	res, err := d.db.Exec(`
		UPDATE tracks SET analysis_status = ?, updated_at = ? WHERE id = ? AND analysis_status = ?
	`, string(domain.AnalysisAnalyzing), time.Now().UTC(), trackID, string(domain.AnalysisPending))
	if err != nil {
		return fmt.Errorf("catalog: set analyzing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("catalog: track %s not pending", trackID)
	}
	return nil
}

// CompleteAnalysis persists a completed AnalysisResult and flips the Track
// to `completed`.
func (d *DB) CompleteAnalysis(trackID string, result *domain.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("catalog: marshal analysis: %w", err)
	}
	_, err = d.db.Exec(`
		UPDATE tracks SET analysis_status = ?, analysis_json = ?, failure_reason = NULL, updated_at = ?
		WHERE id = ?
	`, string(domain.AnalysisCompleted), string(payload), time.Now().UTC(), trackID)
	if err != nil {
		return fmt.Errorf("catalog: complete analysis: %w", err)
	}
	return nil
}

// FailAnalysis flips a Track to `failed` with a reason.
func (d *DB) FailAnalysis(trackID, reason string) error {
	_, err := d.db.Exec(`
		UPDATE tracks SET analysis_status = ?, failure_reason = ?, updated_at = ? WHERE id = ?
	`, string(domain.AnalysisFailed), reason, time.Now().UTC(), trackID)
	if err != nil {
		return fmt.Errorf("catalog: fail analysis: %w", err)
	}
	return nil
}

// SaveCuePoints persists re-derived cue points (spec §3's heal-on-read rule:
// only mixIn/mixOut/drop/breakdown are recomputed and persisted back; other
// cue fields are left untouched by design).
func (d *DB) SaveCuePoints(trackID string, cues *domain.CuePoints) error {
	payload, err := json.Marshal(cues)
	if err != nil {
		return fmt.Errorf("catalog: marshal cue points: %w", err)
	}
	_, err = d.db.Exec(`UPDATE tracks SET cue_points_json = ?, updated_at = ? WHERE id = ?`,
		string(payload), time.Now().UTC(), trackID)
	if err != nil {
		return fmt.Errorf("catalog: save cue points: %w", err)
	}
	return nil
}

// ListAnalyzedTracks returns every completed-analysis track other than
// excludeID, for the compatible-tracks suggestion endpoint (spec §6 is
// silent on it; supplemented since a catalog needs some way to surface
// mixable pairs before a mix is ever requested).
func (d *DB) ListAnalyzedTracks(excludeID string) ([]*domain.Track, error) {
	rows, err := d.db.Query(`
		SELECT id, owner_id, original_name, mime, storage_key, content_hash, analysis_status,
		       analysis_json, cue_points_json, failure_reason, created_at, updated_at
		FROM tracks WHERE analysis_status = ? AND id != ? ORDER BY created_at ASC
	`, string(domain.AnalysisCompleted), excludeID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list analyzed tracks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*domain.Track, error) {
	t := &domain.Track{}
	var analysisJSON, cuesJSON, failureReason sql.NullString
	var status string

	err := row.Scan(&t.ID, &t.OwnerID, &t.OriginalName, &t.Mime, &t.StorageKey, &t.ContentHash, &status,
		&analysisJSON, &cuesJSON, &failureReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: scan track: %w", err)
	}

	t.AnalysisStatus = domain.AnalysisStatus(status)
	if failureReason.Valid {
		t.FailureReason = failureReason.String
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var a domain.AnalysisResult
		if err := json.Unmarshal([]byte(analysisJSON.String), &a); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal analysis: %w", err)
		}
		t.Analysis = &a
	}
	if cuesJSON.Valid && cuesJSON.String != "" {
		var c domain.CuePoints
		if err := json.Unmarshal([]byte(cuesJSON.String), &c); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal cue points: %w", err)
		}
		t.CuePoints = &c
	}
	return t, nil
}
