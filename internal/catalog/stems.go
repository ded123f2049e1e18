package catalog

import (
	"database/sql"
	"fmt"

	"github.com/infinitymix/engine/internal/domain"
)

// UpsertStem records a stem's current state; stems are independent per
// kind, so a partial StemSet (e.g. vocals + drums but not bass) is valid
// (spec §3, §4.3).
func (d *DB) UpsertStem(s *domain.Stem) error {
	_, err := d.db.Exec(`
		INSERT INTO stems (track_id, kind, storage_key, status, quality, engine, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(track_id, kind) DO UPDATE SET
			storage_key = excluded.storage_key,
			status = excluded.status,
			quality = excluded.quality,
			engine = excluded.engine,
			updated_at = CURRENT_TIMESTAMP
	`, s.TrackID, string(s.Kind), s.StorageKey, string(s.Status), s.Quality, s.Engine)
	if err != nil {
		return fmt.Errorf("catalog: upsert stem: %w", err)
	}
	return nil
}

// GetStemSet returns every stem row for a track, keyed by kind. Missing
// kinds are simply absent from the map (partial completion is valid).
func (d *DB) GetStemSet(trackID string) (map[domain.StemKind]*domain.Stem, error) {
	rows, err := d.db.Query(`
		SELECT track_id, kind, storage_key, status, quality, engine FROM stems WHERE track_id = ?
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list stems: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.StemKind]*domain.Stem)
	for rows.Next() {
		s := &domain.Stem{}
		var storageKey, engine sql.NullString
		var kind, status string
		if err := rows.Scan(&s.TrackID, &kind, &storageKey, &status, &s.Quality, &engine); err != nil {
			return nil, fmt.Errorf("catalog: scan stem: %w", err)
		}
		s.Kind = domain.StemKind(kind)
		s.Status = domain.StemStatus(status)
		s.StorageKey = storageKey.String
		s.Engine = engine.String
		out[s.Kind] = s
	}
	return out, rows.Err()
}

// GetStem fetches a single stem by track id and kind.
func (d *DB) GetStem(trackID string, kind domain.StemKind) (*domain.Stem, error) {
	set, err := d.GetStemSet(trackID)
	if err != nil {
		return nil, err
	}
	s, ok := set[kind]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}
