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

// EnqueueJob inserts a new job in `queued` state. Payload is whatever the
// handler for that kind needs (track id, mashup id, ...), stored as an
// opaque JSON blob rather than one column per job kind.
func (d *DB) EnqueueJob(kind domain.JobKind, payload map[string]any) (*domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal job payload: %w", err)
	}
	j := &domain.Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		State:      domain.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	_, err = d.db.Exec(`
		INSERT INTO jobs (id, kind, payload_json, attempt, state, enqueued_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, j.ID, string(j.Kind), string(body), string(j.State), j.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: enqueue job: %w", err)
	}
	return j, nil
}

// ClaimJob atomically picks the oldest queued job of the given kind and
// marks it running, so two workers never claim the same job (spec §4.6's
// single-dispatch guarantee). Returns ErrNotFound if the queue is empty.
func (d *DB) ClaimJob(kind domain.JobKind) (*domain.Job, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("catalog: claim job: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, kind, payload_json, attempt, state, error, enqueued_at
		FROM jobs WHERE kind = ? AND state = ? ORDER BY enqueued_at ASC LIMIT 1
	`, string(kind), string(domain.JobQueued))

	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(`
		UPDATE jobs SET state = ?, started_at = ?, attempt = attempt + 1 WHERE id = ? AND state = ?
	`, string(domain.JobRunning), time.Now().UTC(), j.ID, string(domain.JobQueued))
	if err != nil {
		return nil, fmt.Errorf("catalog: claim job: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: claim job: commit: %w", err)
	}

	j.State = domain.JobRunning
	j.Attempt++
	return j, nil
}

// CompleteJob marks a job done.
func (d *DB) CompleteJob(id string) error {
	_, err := d.db.Exec(`
		UPDATE jobs SET state = ?, completed_at = ? WHERE id = ?
	`, string(domain.JobDone), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("catalog: complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed. The Supervisor treats failure as terminal for
// that attempt; retries happen by enqueueing a fresh job, not by resetting
// this row (spec §4.6's "failure swallowed after logging" rule).
func (d *DB) FailJob(id, reason string) error {
	_, err := d.db.Exec(`
		UPDATE jobs SET state = ?, error = ?, completed_at = ? WHERE id = ?
	`, string(domain.JobFailed), reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("catalog: fail job: %w", err)
	}
	return nil
}

// PendingJobCount returns how many jobs of a kind are still queued, used by
// the operator TUI's queue-depth readout.
func (d *DB) PendingJobCount(kind domain.JobKind) (int, error) {
	var n int
	row := d.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE kind = ? AND state = ?`, string(kind), string(domain.JobQueued))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: pending job count: %w", err)
	}
	return n, nil
}

// ResetStalledJobs requeues jobs still `running` after a crash, so the
// Supervisor's startup resurrection scan (spec §9) can pick them back up.
func (d *DB) ResetStalledJobs() (int64, error) {
	res, err := d.db.Exec(`
		UPDATE jobs SET state = ?, started_at = NULL WHERE state = ?
	`, string(domain.JobQueued), string(domain.JobRunning))
	if err != nil {
		return 0, fmt.Errorf("catalog: reset stalled jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	j := &domain.Job{}
	var payloadJSON, errStr sql.NullString
	var kind, state string

	err := row.Scan(&j.ID, &kind, &payloadJSON, &j.Attempt, &state, &errStr, &j.EnqueuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: scan job: %w", err)
	}

	j.Kind = domain.JobKind(kind)
	j.State = domain.JobState(state)
	j.Error = errStr.String
	if payloadJSON.Valid && payloadJSON.String != "" {
		var p map[string]any
		if err := json.Unmarshal([]byte(payloadJSON.String), &p); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal job payload: %w", err)
		}
		j.Payload = p
	}
	return j, nil
}
