package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/localphoto/photodedupe/internal/domain"
)

// ReconcileFile implements the Scanner's per-entry reconciliation rule
// (spec §4.4):
//
//	path unknown          -> insert, needsFeatures=true
//	path known, match     -> no-op, needsFeatures=false
//	path known, differ    -> update row, delete Feature row, needsFeatures=true
//
// It also clears the missing flag if a previously-missing path has
// reappeared. The returned File reflects the row after reconciliation.
func (s *Store) ReconcileFile(path string, size int64, modTime time.Time) (file domain.File, needsFeatures bool, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		var (
			id            int64
			existingSize  int64
			existingMTime int64
			missing       bool
		)
		row := tx.QueryRow(`SELECT id, size, mtime_unixnano, missing FROM files WHERE path = ?`, path)
		scanErr := row.Scan(&id, &existingSize, &existingMTime, &missing)

		switch {
		case scanErr == sql.ErrNoRows:
			now := time.Now().UTC()
			res, err := tx.Exec(
				`INSERT INTO files(path, size, mtime_unixnano, discovered_at, missing, unprocessable)
				 VALUES (?, ?, ?, ?, 0, 0)`,
				path, size, modTime.UnixNano(), now.Format(time.RFC3339Nano),
			)
			if err != nil {
				return fmt.Errorf("%w: insert file %s: %w", domain.ErrStore, path, err)
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("%w: last insert id: %w", domain.ErrStore, err)
			}
			file = domain.File{ID: newID, Path: path, Size: size, ModTime: modTime, DiscoveredAt: now}
			needsFeatures = true
			return nil

		case scanErr != nil:
			return fmt.Errorf("%w: lookup file %s: %w", domain.ErrStore, path, scanErr)
		}

		changed := existingSize != size || existingMTime != modTime.UnixNano()
		if changed {
			if _, err := tx.Exec(
				`UPDATE files SET size = ?, mtime_unixnano = ?, missing = 0, unprocessable = 0 WHERE id = ?`,
				size, modTime.UnixNano(), id,
			); err != nil {
				return fmt.Errorf("%w: update file %s: %w", domain.ErrStore, path, err)
			}
			if _, err := tx.Exec(`DELETE FROM features WHERE file_id = ?`, id); err != nil {
				return fmt.Errorf("%w: invalidate features for %s: %w", domain.ErrStore, path, err)
			}
			needsFeatures = true
		} else if missing {
			if _, err := tx.Exec(`UPDATE files SET missing = 0 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("%w: clear missing flag for %s: %w", domain.ErrStore, path, err)
			}
		}

		file = domain.File{ID: id, Path: path, Size: size, ModTime: modTime}
		return nil
	})
	return file, needsFeatures, err
}

// MarkMissing flips the soft-delete flag for every file path not present in
// seenPaths, within the given root prefix set (spec §4.4 "path absent but
// row exists -> mark missing").
func (s *Store) MarkMissing(seenPaths map[string]bool, roots []string) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, root := range roots {
			rows, err := tx.Query(`SELECT id, path FROM files WHERE path LIKE ? AND missing = 0`, root+"%")
			if err != nil {
				return fmt.Errorf("%w: scan for missing under %s: %w", domain.ErrStore, root, err)
			}
			var toMark []int64
			for rows.Next() {
				var id int64
				var path string
				if err := rows.Scan(&id, &path); err != nil {
					rows.Close()
					return fmt.Errorf("%w: scan row: %w", domain.ErrStore, err)
				}
				if !seenPaths[path] {
					toMark = append(toMark, id)
				}
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()
			for _, id := range toMark {
				if _, err := tx.Exec(`UPDATE files SET missing = 1 WHERE id = ?`, id); err != nil {
					return fmt.Errorf("%w: mark missing id=%d: %w", domain.ErrStore, id, err)
				}
			}
		}
		return nil
	})
}

// SetUnprocessable records that a file's decode/EXIF pipeline failed after
// retries (spec §4.5, §7). The file is retained for reporting but skipped
// by Grouping until size/mtime change.
func (s *Store) SetUnprocessable(fileID int64, unprocessable bool) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE files SET unprocessable = ? WHERE id = ?`, unprocessable, fileID)
		if err != nil {
			return fmt.Errorf("%w: set unprocessable id=%d: %w", domain.ErrStore, fileID, err)
		}
		return nil
	})
}

// SetFastHash persists the fast 64-bit content hash computed by the Feature
// Extractor (spec §4.5 step 2).
func (s *Store) SetFastHash(fileID int64, hash uint64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE files SET fast_hash = ? WHERE id = ?`, int64(hash), fileID)
		if err != nil {
			return fmt.Errorf("%w: set fast_hash id=%d: %w", domain.ErrStore, fileID, err)
		}
		return nil
	})
}

// SetStrongHash persists the 256-bit strong hash (spec
// §4.5, §4.7 tier-1 confirmation).
func (s *Store) SetStrongHash(fileID int64, hash []byte) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE files SET strong_hash = ? WHERE id = ?`, hash, fileID)
		if err != nil {
			return fmt.Errorf("%w: set strong_hash id=%d: %w", domain.ErrStore, fileID, err)
		}
		return nil
	})
}

func scanFile(row interface {
	Scan(dest ...any) error
}) (domain.File, error) {
	var (
		f             domain.File
		mtimeUnixNano int64
		discoveredAt  string
		fastHash      sql.NullInt64
		strongHash    []byte
		missing       bool
		unprocessable bool
	)
	err := row.Scan(&f.ID, &f.Path, &f.Size, &mtimeUnixNano, &fastHash, &strongHash, &discoveredAt, &missing, &unprocessable)
	if err != nil {
		return domain.File{}, err
	}
	f.ModTime = time.Unix(0, mtimeUnixNano).UTC()
	if discoveredAt != "" {
		f.DiscoveredAt, _ = time.Parse(time.RFC3339Nano, discoveredAt)
	}
	if fastHash.Valid {
		h := uint64(fastHash.Int64)
		f.FastHash = &h
	}
	if len(strongHash) > 0 {
		f.StrongHash = strongHash
	}
	f.Missing = missing
	f.Unprocessable = unprocessable
	return f, nil
}

const fileColumns = `id, path, size, mtime_unixnano, fast_hash, strong_hash, discovered_at, missing, unprocessable`

// GetFile looks up a single file by id.
func (s *Store) GetFile(id int64) (domain.File, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return domain.File{}, fmt.Errorf("%w: file id=%d not found", domain.ErrStore, id)
	}
	if err != nil {
		return domain.File{}, fmt.Errorf("%w: get file id=%d: %w", domain.ErrStore, id, err)
	}
	return f, nil
}

// GetFileByPath looks up a single file by its absolute path.
func (s *Store) GetFileByPath(path string) (domain.File, bool, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return domain.File{}, false, nil
	}
	if err != nil {
		return domain.File{}, false, fmt.Errorf("%w: get file %s: %w", domain.ErrStore, path, err)
	}
	return f, true, nil
}

// FilesNeedingFeatures returns every non-missing, non-unprocessable file
// that lacks a Feature row (spec §4.10 Missing-features mode).
func (s *Store) FilesNeedingFeatures() ([]domain.File, error) {
	rows, err := s.db.Query(`
		SELECT ` + fileColumns + ` FROM files f
		WHERE f.missing = 0 AND f.unprocessable = 0
		  AND NOT EXISTS (SELECT 1 FROM features ft WHERE ft.file_id = f.id)
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query files needing features: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan file: %w", domain.ErrStore, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AllFiles streams every file row, used by BK-tree full builds and full
// rebuild accounting.
func (s *Store) AllFiles() ([]domain.File, error) {
	rows, err := s.db.Query(`SELECT ` + fileColumns + ` FROM files`)
	if err != nil {
		return nil, fmt.Errorf("%w: query all files: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan file: %w", domain.ErrStore, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountFiles and CountFilesWithFeatures support the Rescan Coordinator's
// mode recommendation (spec §4.10: Delta at >=95% featured, Missing-features
// at 50-95%, Full-rebuild otherwise).
func (s *Store) CountFiles() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM files WHERE missing = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count files: %w", domain.ErrStore, err)
	}
	return n, nil
}

func (s *Store) CountFilesWithFeatures() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM files f
		WHERE f.missing = 0 AND EXISTS (SELECT 1 FROM features ft WHERE ft.file_id = f.id)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count featured files: %w", domain.ErrStore, err)
	}
	return n, nil
}

// TruncateForFullRebuild wipes files (cascading to features, group_members,
// and manual_overrides) and groups, per the File lifecycle in spec §3
// ("rows are wiped and rebuilt in full-rebuild mode") and §4.10's
// full-rebuild truncation step. Callers that want to preserve overrides or
// groups must snapshot them first via Snapshot.
func (s *Store) TruncateForFullRebuild() error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM groups`); err != nil {
			return fmt.Errorf("%w: truncate groups: %w", domain.ErrStore, err)
		}
		if _, err := tx.Exec(`DELETE FROM files`); err != nil {
			return fmt.Errorf("%w: truncate files: %w", domain.ErrStore, err)
		}
		return nil
	})
}
