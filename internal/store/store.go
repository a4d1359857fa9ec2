// Package store is the embedded relational store (spec §4.1, §3). It
// persists files, features, groups, group members, manual overrides, and
// the schema version in a single SQLite database file, grounded on the
// mattn/go-sqlite3 driver used by other_examples/HaiderBassem-imaged and
// other_examples/dackerman-curator, the CHECK-constraint/index schema style
// of other_examples/untoldecay-BeadsLog and other_examples/steveyegge-beads,
// and the versioned-migration shape of
// other_examples/Acollie-Kaizen__pkg-storage-migrations.go.
//
// Every public mutating method runs inside a single transaction (spec §4.1
// "all public operations are transactional; a failed transaction leaves no
// partial state"), the same discipline the teacher applies per-operation in
// internal/cache.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/localphoto/photodedupe/internal/domain"
)

// Store wraps a SQLite connection configured for WAL mode (concurrent
// readers, a single serialized writer, per spec §4.1 and §5).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database file at path and applies any
// pending migrations. WAL mode and foreign keys are enabled on every
// connection; schema migration is the only operation allowed to block
// readers (spec §4.1).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrStore, path, err)
	}
	// WAL mode lets readers run concurrently with the single active
	// writer; _busy_timeout absorbs the brief contention when two writers
	// race for the one write lock SQLite allows.
	db.SetMaxOpenConns(8)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic, so a failed operation never leaves partial
// state (spec §4.1 failure semantics).
func (s *Store) withTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", domain.ErrStore, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return nil
}
