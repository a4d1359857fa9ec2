package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/localphoto/photodedupe/internal/domain"
)

const overrideColumns = `id, group_id, chosen_file, auto_picked, type, reason, created_at, note, is_active`

// PutOverride deactivates any existing active override for the group, then
// inserts a new active one (spec §4.9, §6: "exactly zero or one active
// ManualOverride per group_id"). Both steps run in one transaction so the
// partial unique index on (group_id) WHERE is_active is never violated.
func (s *Store) PutOverride(o domain.ManualOverride) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE manual_overrides SET is_active = 0 WHERE group_id = ? AND is_active = 1`, o.GroupID); err != nil {
			return fmt.Errorf("%w: deactivate prior override group=%d: %w", domain.ErrStore, o.GroupID, err)
		}
		res, err := tx.Exec(
			`INSERT INTO manual_overrides(group_id, chosen_file, auto_picked, type, reason, created_at, note, is_active)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			o.GroupID, o.ChosenFile, o.AutoPicked, o.Type.String(), string(o.Reason),
			time.Now().UTC().Format(time.RFC3339Nano), o.Note,
		)
		if err != nil {
			return fmt.Errorf("%w: insert override group=%d: %w", domain.ErrStore, o.GroupID, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: last insert id: %w", domain.ErrStore, err)
		}
		return nil
	})
	return id, err
}

// ClearOverride deactivates the active override for a group, if any,
// reverting the group to automatic selection (spec §4.9).
func (s *Store) ClearOverride(groupID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE manual_overrides SET is_active = 0 WHERE group_id = ? AND is_active = 1`, groupID)
		if err != nil {
			return fmt.Errorf("%w: clear override group=%d: %w", domain.ErrStore, groupID, err)
		}
		return nil
	})
}

func scanOverride(row interface {
	Scan(dest ...any) error
}) (domain.ManualOverride, error) {
	var (
		o                domain.ManualOverride
		typ, reason      string
		createdAt        string
		active           bool
	)
	err := row.Scan(&o.ID, &o.GroupID, &o.ChosenFile, &o.AutoPicked, &typ, &reason, &createdAt, &o.Note, &active)
	if err != nil {
		return domain.ManualOverride{}, err
	}
	o.Type = domain.ParseOverrideType(typ)
	o.Reason = domain.OverrideReason(reason)
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.Active = active
	return o, nil
}

// ActiveOverride returns the active override for a group, if any.
func (s *Store) ActiveOverride(groupID int64) (domain.ManualOverride, bool, error) {
	row := s.db.QueryRow(`SELECT `+overrideColumns+` FROM manual_overrides WHERE group_id = ? AND is_active = 1`, groupID)
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return domain.ManualOverride{}, false, nil
	}
	if err != nil {
		return domain.ManualOverride{}, false, fmt.Errorf("%w: get active override group=%d: %w", domain.ErrStore, groupID, err)
	}
	return o, true, nil
}

// ListActiveOverrides returns every currently-active override, used by the
// Rescan Coordinator's conflict-detection pass (spec §4.9, §4.10).
func (s *Store) ListActiveOverrides() ([]domain.ManualOverride, error) {
	rows, err := s.db.Query(`SELECT ` + overrideColumns + ` FROM manual_overrides WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("%w: list active overrides: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.ManualOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan override: %w", domain.ErrStore, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ReapOrphans deactivates active overrides whose group no longer exists or
// whose chosen file is missing, per spec §4.9's "reap_orphans" cleanup
// operation.
func (s *Store) ReapOrphans() (int, error) {
	var affected int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE manual_overrides SET is_active = 0
			WHERE is_active = 1 AND (
				group_id NOT IN (SELECT id FROM groups)
				OR chosen_file IN (SELECT id FROM files WHERE missing = 1)
			)
		`)
		if err != nil {
			return fmt.Errorf("%w: reap orphan overrides: %w", domain.ErrStore, err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// OverrideSnapshot is a path-keyed copy of an active override, used to
// survive a full rebuild's truncation of files/groups (spec §4.10:
// "ManualOverrides are remapped by file path; overrides for paths that no
// longer exist are dropped").
type OverrideSnapshot struct {
	ChosenPath  string
	AutoPath    string
	Type        domain.OverrideType
	Reason      domain.OverrideReason
	Note        string
}

// SnapshotOverrides reads every active override resolved to file paths.
func (s *Store) SnapshotOverrides() ([]OverrideSnapshot, error) {
	actives, err := s.ListActiveOverrides()
	if err != nil {
		return nil, err
	}
	out := make([]OverrideSnapshot, 0, len(actives))
	for _, o := range actives {
		chosen, err := s.GetFile(o.ChosenFile)
		if err != nil {
			continue
		}
		auto, err := s.GetFile(o.AutoPicked)
		if err != nil {
			continue
		}
		out = append(out, OverrideSnapshot{
			ChosenPath: chosen.Path, AutoPath: auto.Path,
			Type: o.Type, Reason: o.Reason, Note: o.Note,
		})
	}
	return out, nil
}
