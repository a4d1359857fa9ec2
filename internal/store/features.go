package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/localphoto/photodedupe/internal/domain"
)

const featureColumns = `file_id, phash, dhash, ahash, width, height, format, capture_time, camera_make, camera_model, orientation, generated_at`

// PutFeature inserts or replaces the Feature row for a file (spec §4.5 "the
// Feature Extractor writes exactly one Feature row per processed file,
// replacing any prior row for that file").
func (s *Store) PutFeature(f domain.Feature) error {
	return s.withTx(func(tx *sql.Tx) error {
		var captureTime any
		if f.CaptureTime != nil {
			captureTime = f.CaptureTime.UTC().Format(time.RFC3339Nano)
		}
		_, err := tx.Exec(`
			INSERT INTO features(`+featureColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id) DO UPDATE SET
				phash = excluded.phash, dhash = excluded.dhash, ahash = excluded.ahash,
				width = excluded.width, height = excluded.height, format = excluded.format,
				capture_time = excluded.capture_time, camera_make = excluded.camera_make,
				camera_model = excluded.camera_model, orientation = excluded.orientation,
				generated_at = excluded.generated_at
		`,
			f.FileID, nullableHash(f.PHash), nullableHash(f.DHash), nullableHash(f.AHash),
			f.Width, f.Height, f.Format.String(), captureTime, f.CameraMake, f.CameraModel,
			f.Orientation, f.GeneratedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("%w: put feature file_id=%d: %w", domain.ErrStore, f.FileID, err)
		}
		return nil
	})
}

func nullableHash(h *uint64) any {
	if h == nil {
		return nil
	}
	return int64(*h)
}

func scanFeature(row interface {
	Scan(dest ...any) error
}) (domain.Feature, error) {
	var (
		f                                domain.Feature
		phash, dhash, ahash              sql.NullInt64
		format                           string
		captureTime                      sql.NullString
		generatedAt                      string
	)
	err := row.Scan(
		&f.FileID, &phash, &dhash, &ahash, &f.Width, &f.Height, &format,
		&captureTime, &f.CameraMake, &f.CameraModel, &f.Orientation, &generatedAt,
	)
	if err != nil {
		return domain.Feature{}, err
	}
	f.Format = domain.ParseFormat(format)
	if phash.Valid {
		h := uint64(phash.Int64)
		f.PHash = &h
	}
	if dhash.Valid {
		h := uint64(dhash.Int64)
		f.DHash = &h
	}
	if ahash.Valid {
		h := uint64(ahash.Int64)
		f.AHash = &h
	}
	if captureTime.Valid && captureTime.String != "" {
		t, err := time.Parse(time.RFC3339Nano, captureTime.String)
		if err == nil {
			f.CaptureTime = &t
		}
	}
	if generatedAt != "" {
		f.GeneratedAt, _ = time.Parse(time.RFC3339Nano, generatedAt)
	}
	return f, nil
}

// GetFeature looks up a file's Feature row, if any.
func (s *Store) GetFeature(fileID int64) (domain.Feature, bool, error) {
	row := s.db.QueryRow(`SELECT `+featureColumns+` FROM features WHERE file_id = ?`, fileID)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return domain.Feature{}, false, nil
	}
	if err != nil {
		return domain.Feature{}, false, fmt.Errorf("%w: get feature file_id=%d: %w", domain.ErrStore, fileID, err)
	}
	return f, true, nil
}

// DeleteFeature removes a file's Feature row, used when reconciliation
// detects a changed size/mtime (spec §3 Feature lifecycle: "deleted and
// regenerated when the owning File's size or mtime changes").
func (s *Store) DeleteFeature(fileID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM features WHERE file_id = ?`, fileID)
		if err != nil {
			return fmt.Errorf("%w: delete feature file_id=%d: %w", domain.ErrStore, fileID, err)
		}
		return nil
	})
}

// AllFeatures streams every Feature row paired with its owning file id, used
// to build the BK-tree index from cold start (spec §4.6 "build_from_store").
func (s *Store) AllFeatures() ([]domain.Feature, error) {
	rows, err := s.db.Query(`SELECT ` + featureColumns + ` FROM features`)
	if err != nil {
		return nil, fmt.Errorf("%w: query all features: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan feature: %w", domain.ErrStore, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FeaturesByFileIDs batches a lookup for a known set of file ids, used by
// the Grouping Engine when materializing a candidate bucket.
func (s *Store) FeaturesByFileIDs(fileIDs []int64) (map[int64]domain.Feature, error) {
	out := make(map[int64]domain.Feature, len(fileIDs))
	if len(fileIDs) == 0 {
		return out, nil
	}
	placeholders := make([]byte, 0, len(fileIDs)*2)
	args := make([]any, len(fileIDs))
	for i, id := range fileIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM features WHERE file_id IN (%s)`, featureColumns, string(placeholders))
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: batch query features: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan feature: %w", domain.ErrStore, err)
		}
		out[f.FileID] = f
	}
	return out, rows.Err()
}
