package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/localphoto/photodedupe/internal/domain"
)

// CreateGroup persists a new Group and its members in one transaction (spec
// §4.7 "the Grouping Engine writes one Group row plus one GroupMember row
// per member, atomically"). Exactly one member must carry role=original;
// the partial unique index enforces this at commit time.
func (s *Store) CreateGroup(tier domain.Tier, confidence float64, members []domain.GroupMember) (int64, error) {
	var groupID int64
	err := s.withTx(func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := tx.Exec(
			`INSERT INTO groups(tier, confidence, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			tier.String(), confidence, now, now,
		)
		if err != nil {
			return fmt.Errorf("%w: insert group: %w", domain.ErrStore, err)
		}
		groupID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: last insert id: %w", domain.ErrStore, err)
		}
		for _, m := range members {
			if _, err := tx.Exec(
				`INSERT INTO group_members(group_id, file_id, role, similarity, note) VALUES (?, ?, ?, ?, ?)`,
				groupID, m.FileID, m.Role.String(), m.Similarity, m.Note,
			); err != nil {
				return fmt.Errorf("%w: insert group_member group=%d file=%d: %w", domain.ErrStore, groupID, m.FileID, err)
			}
		}
		return nil
	})
	return groupID, err
}

// SetMemberRole updates a member's role and similarity (spec §4.8 Escalation
// Engine: duplicate -> safe_duplicate promotion and its downgrade reverse).
func (s *Store) SetMemberRole(groupID, fileID int64, role domain.Role, similarity float64, note string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE group_members SET role = ?, similarity = ?, note = ? WHERE group_id = ? AND file_id = ?`,
			role.String(), similarity, note, groupID, fileID,
		)
		if err != nil {
			return fmt.Errorf("%w: set member role group=%d file=%d: %w", domain.ErrStore, groupID, fileID, err)
		}
		if _, err := tx.Exec(`UPDATE groups SET updated_at = ? WHERE id = ?`, time.Now().UTC().Format(time.RFC3339Nano), groupID); err != nil {
			return fmt.Errorf("%w: touch group=%d: %w", domain.ErrStore, groupID, err)
		}
		return nil
	})
}

// RemoveMember deletes one member from a group, e.g. when a file is found
// missing or no longer matches (spec §4.7, §4.8).
func (s *Store) RemoveMember(groupID, fileID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ? AND file_id = ?`, groupID, fileID)
		if err != nil {
			return fmt.Errorf("%w: remove member group=%d file=%d: %w", domain.ErrStore, groupID, fileID, err)
		}
		return nil
	})
}

// PruneOrphanGroups deletes every Group that has at most one member (just
// the original, or none at all), per the Group lifecycle in spec §3: "Group
// rows with only an original member are deleted."
func (s *Store) PruneOrphanGroups() (int, error) {
	var affected int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			DELETE FROM groups WHERE id IN (
				SELECT g.id FROM groups g
				LEFT JOIN group_members m ON m.group_id = g.id
				GROUP BY g.id
				HAVING COUNT(m.file_id) <= 1
			)
		`)
		if err != nil {
			return fmt.Errorf("%w: prune orphan groups: %w", domain.ErrStore, err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

func scanGroup(row interface {
	Scan(dest ...any) error
}) (domain.Group, error) {
	var (
		g                    domain.Group
		tier                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&g.ID, &tier, &g.Confidence, &createdAt, &updatedAt); err != nil {
		return domain.Group{}, err
	}
	g.Tier = domain.ParseTier(tier)
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	g.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return g, nil
}

// GetGroup looks up a Group by id.
func (s *Store) GetGroup(id int64) (domain.Group, error) {
	row := s.db.QueryRow(`SELECT id, tier, confidence, created_at, updated_at FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return domain.Group{}, fmt.Errorf("%w: group id=%d not found", domain.ErrStore, id)
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("%w: get group id=%d: %w", domain.ErrStore, id, err)
	}
	return g, nil
}

// GroupMembers returns every member of a group.
func (s *Store) GroupMembers(groupID int64) ([]domain.GroupMember, error) {
	rows, err := s.db.Query(
		`SELECT group_id, file_id, role, similarity, note FROM group_members WHERE group_id = ?`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query members group=%d: %w", domain.ErrStore, groupID, err)
	}
	defer rows.Close()

	var out []domain.GroupMember
	for rows.Next() {
		var (
			m    domain.GroupMember
			role string
		)
		if err := rows.Scan(&m.GroupID, &m.FileID, &role, &m.Similarity, &m.Note); err != nil {
			return nil, fmt.Errorf("%w: scan member: %w", domain.ErrStore, err)
		}
		m.Role = domain.ParseRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GroupIDForFile returns the group a file currently belongs to, if any. A
// file belongs to at most one group at a time (spec §2 invariant 3).
func (s *Store) GroupIDForFile(fileID int64) (int64, bool, error) {
	var groupID int64
	err := s.db.QueryRow(`SELECT group_id FROM group_members WHERE file_id = ?`, fileID).Scan(&groupID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: lookup group for file=%d: %w", domain.ErrStore, fileID, err)
	}
	return groupID, true, nil
}

// ListGroups returns every group of the given tier, or every group if tier
// is nil.
func (s *Store) ListGroups(tier *domain.Tier) ([]domain.Group, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tier != nil {
		rows, err = s.db.Query(`SELECT id, tier, confidence, created_at, updated_at FROM groups WHERE tier = ?`, tier.String())
	} else {
		rows, err = s.db.Query(`SELECT id, tier, confidence, created_at, updated_at FROM groups`)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list groups: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan group: %w", domain.ErrStore, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GroupSnapshot is a path-keyed, id-independent copy of a Group and its
// members, used to survive a full rebuild's truncation of the files/groups
// tables (spec §4.10).
type GroupSnapshot struct {
	Tier       domain.Tier
	Confidence float64
	Members    []MemberSnapshot
}

type MemberSnapshot struct {
	Path       string
	Role       domain.Role
	Similarity float64
	Note       string
}

// SnapshotGroups reads every group and its members, resolved to file paths
// rather than ids, so they can be replayed after TruncateForFullRebuild.
func (s *Store) SnapshotGroups() ([]GroupSnapshot, error) {
	groups, err := s.ListGroups(nil)
	if err != nil {
		return nil, err
	}
	out := make([]GroupSnapshot, 0, len(groups))
	for _, g := range groups {
		members, err := s.GroupMembers(g.ID)
		if err != nil {
			return nil, err
		}
		snap := GroupSnapshot{Tier: g.Tier, Confidence: g.Confidence}
		for _, m := range members {
			f, err := s.GetFile(m.FileID)
			if err != nil {
				continue
			}
			snap.Members = append(snap.Members, MemberSnapshot{
				Path: f.Path, Role: m.Role, Similarity: m.Similarity, Note: m.Note,
			})
		}
		out = append(out, snap)
	}
	return out, nil
}
