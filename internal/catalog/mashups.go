package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/infinitymix/engine/internal/domain"
)

// CreateMashup inserts a new Mashup in `pending` status (spec §3 lifecycle).
func (d *DB) CreateMashup(userID, name string, targetDurationSeconds int, mixMode string) (*domain.Mashup, error) {
	now := time.Now().UTC()
	m := &domain.Mashup{
		ID:                    uuid.NewString(),
		UserID:                userID,
		Name:                  name,
		TargetDurationSeconds: targetDurationSeconds,
		Status:                domain.MashupPending,
		MixMode:               mixMode,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	_, err := d.db.Exec(`
		INSERT INTO mashups (id, user_id, name, target_duration_seconds, status, mix_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.Name, m.TargetDurationSeconds, string(m.Status), m.MixMode, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: create mashup: %w", err)
	}
	return m, nil
}

// GetMashup retrieves a mashup by id.
func (d *DB) GetMashup(id string) (*domain.Mashup, error) {
	row := d.db.QueryRow(`
		SELECT id, user_id, name, target_duration_seconds, status, output_key, mix_mode, plan_json,
		       generation_time_ms, failure_reason, used_fallback_graph, created_at, updated_at
		FROM mashups WHERE id = ?
	`, id)
	return scanMashup(row)
}

// SetGenerating transitions pending -> generating exactly once.
func (d *DB) SetGenerating(id string) error {
	res, err := d.db.Exec(`
		UPDATE mashups SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(domain.MashupGenerating), time.Now().UTC(), id, string(domain.MashupPending))
	if err != nil {
		return fmt.Errorf("catalog: set generating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: mashup %s not pending", id)
	}
	return nil
}

// SavePlan attaches a computed Plan to a generating mashup.
func (d *DB) SavePlan(id string, plan *domain.Plan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("catalog: marshal plan: %w", err)
	}
	_, err = d.db.Exec(`UPDATE mashups SET plan_json = ?, updated_at = ? WHERE id = ?`,
		string(payload), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("catalog: save plan: %w", err)
	}
	return nil
}

// CompleteMashup records a successful render.
func (d *DB) CompleteMashup(id, outputKey string, generationTimeMs int64, usedFallback bool) error {
	_, err := d.db.Exec(`
		UPDATE mashups SET status = ?, output_key = ?, generation_time_ms = ?, used_fallback_graph = ?, updated_at = ?
		WHERE id = ?
	`, string(domain.MashupCompleted), outputKey, generationTimeMs, usedFallback, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("catalog: complete mashup: %w", err)
	}
	return nil
}

// FailMashup records a failed render. No partial artifact is exposed (spec §7).
func (d *DB) FailMashup(id, reason string) error {
	_, err := d.db.Exec(`
		UPDATE mashups SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?
	`, string(domain.MashupFailed), reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("catalog: fail mashup: %w", err)
	}
	return nil
}

// ListMashupsByStatus supports the Supervisor's restart-time resurrection
// scan (spec §9): re-scan `pending` and `generating` rows at startup.
func (d *DB) ListMashupsByStatus(status domain.MashupStatus) ([]*domain.Mashup, error) {
	rows, err := d.db.Query(`
		SELECT id, user_id, name, target_duration_seconds, status, output_key, mix_mode, plan_json,
		       generation_time_ms, failure_reason, used_fallback_graph, created_at, updated_at
		FROM mashups WHERE status = ? ORDER BY created_at ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("catalog: list mashups: %w", err)
	}
	defer rows.Close()

	var out []*domain.Mashup
	for rows.Next() {
		m, err := scanMashup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMashup(row rowScanner) (*domain.Mashup, error) {
	m := &domain.Mashup{}
	var outputKey, mixMode, planJSON, failureReason sql.NullString
	var generationTimeMs sql.NullInt64
	var status string
	var usedFallback bool

	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.TargetDurationSeconds, &status, &outputKey, &mixMode,
		&planJSON, &generationTimeMs, &failureReason, &usedFallback, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: scan mashup: %w", err)
	}

	m.Status = domain.MashupStatus(status)
	m.OutputKey = outputKey.String
	m.MixMode = mixMode.String
	m.FailureReason = failureReason.String
	m.GenerationTimeMs = generationTimeMs.Int64
	m.UsedFallbackGraph = usedFallback
	if planJSON.Valid && planJSON.String != "" {
		var p domain.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &p); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal plan: %w", err)
		}
		m.Plan = &p
	}
	return m, nil
}
