package store

import (
	"database/sql"
	"fmt"

	"github.com/localphoto/photodedupe/internal/domain"
)

// migration is one forward schema step, gated by schema_version (spec
// §4.1's "migration entry point that reads SchemaVersion and applies
// forward migrations idempotently"), grounded on
// other_examples/Acollie-Kaizen__pkg-storage-migrations.go.
type migration struct {
	version int
	up      func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, up: migrateV1},
}

// migrate applies every pending migration in order. It is the only store
// operation allowed to block readers (spec §4.1).
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("%w: create schema_version: %w", domain.ErrStore, err)
	}

	current := 0
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("%w: read schema_version: %w", domain.ErrStore, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(func(tx *sql.Tx) error {
			if err := m.up(tx); err != nil {
				return fmt.Errorf("%w: migration %d: %w", domain.ErrStore, m.version, err)
			}
			if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
				return fmt.Errorf("%w: record migration %d: %w", domain.ErrStore, m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// migrateV1 creates the initial schema (spec §3, §4.1). Required indexes:
// files by (size, fast_hash) for exact-duplicate bucketing, files by path
// for scanner reconciliation, features by file id, group_members by file
// id, manual_overrides by (group_id, active). Foreign keys cascade on file
// deletion. manual_overrides carries a partial unique index allowing at
// most one active row per group_id, and the CHECK constraints on override_type and
// reason named in spec §6.
func migrateV1(tx *sql.Tx) error {
	const schema = `
CREATE TABLE files (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	path           TEXT NOT NULL UNIQUE,
	size           INTEGER NOT NULL,
	mtime_unixnano INTEGER NOT NULL,
	fast_hash      INTEGER,
	strong_hash    BLOB,
	discovered_at  TEXT NOT NULL,
	missing        INTEGER NOT NULL DEFAULT 0 CHECK (missing IN (0, 1)),
	unprocessable  INTEGER NOT NULL DEFAULT 0 CHECK (unprocessable IN (0, 1))
);
CREATE INDEX idx_files_size_hash ON files(size, fast_hash);
CREATE INDEX idx_files_path ON files(path);

CREATE TABLE features (
	file_id      INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
	phash        INTEGER,
	dhash        INTEGER,
	ahash        INTEGER,
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	format       TEXT NOT NULL DEFAULT 'unknown',
	capture_time TEXT,
	camera_make  TEXT NOT NULL DEFAULT '',
	camera_model TEXT NOT NULL DEFAULT '',
	orientation  INTEGER NOT NULL DEFAULT 1,
	generated_at TEXT NOT NULL
);
CREATE INDEX idx_features_file_id ON features(file_id);

CREATE TABLE groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tier       TEXT NOT NULL CHECK (tier IN ('exact', 'near')),
	confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE group_members (
	group_id   INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	role       TEXT NOT NULL CHECK (role IN ('original', 'duplicate', 'safe_duplicate')),
	similarity REAL NOT NULL CHECK (similarity >= 0 AND similarity <= 1),
	note       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (group_id, file_id)
);
CREATE INDEX idx_group_members_file_id ON group_members(file_id);
CREATE UNIQUE INDEX idx_group_members_original
	ON group_members(group_id)
	WHERE role = 'original';

CREATE TABLE manual_overrides (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id    INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	chosen_file INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	auto_picked INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	type        TEXT NOT NULL CHECK (type IN ('single_group', 'default_rule')),
	reason      TEXT NOT NULL CHECK (reason IN (
		'user_preference', 'quality_better', 'format_preference',
		'manual_selection', 'algorithm_error'
	)),
	created_at  TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 1 CHECK (is_active IN (0, 1))
);
CREATE INDEX idx_manual_overrides_group_active ON manual_overrides(group_id, is_active);
CREATE UNIQUE INDEX idx_manual_overrides_one_active
	ON manual_overrides(group_id)
	WHERE is_active = 1;
`
	_, err := tx.Exec(schema)
	return err
}
