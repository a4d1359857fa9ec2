// Package override is the thin policy layer above internal/store's
// manual_overrides table (spec §4.9): put/clear/lookup pass straight
// through, while detect_conflicts and reap_orphans add the logic spec.md
// describes on top of the Store's CRUD primitives — directly grounded on
// the Store's own migration/CRUD idiom (§4.1), per DESIGN.md's note
// that this component has no independent antecedent in the reference pack.
package override

import (
	"fmt"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/grouping"
)

// Store is the subset of *store.Store the Override Store needs.
type Store interface {
	PutOverride(o domain.ManualOverride) (int64, error)
	ClearOverride(groupID int64) error
	ActiveOverride(groupID int64) (domain.ManualOverride, bool, error)
	ListActiveOverrides() ([]domain.ManualOverride, error)
	ReapOrphans() (int, error)
	GroupMembers(groupID int64) ([]domain.GroupMember, error)
	GetFile(id int64) (domain.File, error)
	FeaturesByFileIDs(fileIDs []int64) (map[int64]domain.Feature, error)
	SetMemberRole(groupID, fileID int64, role domain.Role, similarity float64, note string) error
}

// Manager wraps the Store's override table with the conflict-detection
// logic spec §4.9 requires.
type Manager struct {
	store Store
}

// New returns an Override Store manager.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// Put records a user decision that chosenFile is the original for groupID,
// deactivating any prior active override for that group (spec §4.9 "put"),
// and swaps the group's member roles so the stored group reflects the
// choice immediately rather than waiting for the next grouping pass.
func (m *Manager) Put(groupID, chosenFile, autoPicked int64, typ domain.OverrideType, reason domain.OverrideReason, note string) (int64, error) {
	if err := m.promoteMember(groupID, chosenFile); err != nil {
		return 0, err
	}

	id, err := m.store.PutOverride(domain.ManualOverride{
		GroupID: groupID, ChosenFile: chosenFile, AutoPicked: autoPicked,
		Type: typ, Reason: reason, Note: note,
	})
	if err != nil {
		return 0, fmt.Errorf("override: put group=%d: %w", groupID, err)
	}
	return id, nil
}

// promoteMember flips a group's member roles so chosenFile is Original and
// the member it displaces becomes Duplicate, leaving every other member's
// role untouched.
func (m *Manager) promoteMember(groupID, chosenFile int64) error {
	members, err := m.store.GroupMembers(groupID)
	if err != nil {
		return fmt.Errorf("override: members group=%d: %w", groupID, err)
	}
	for _, mem := range members {
		switch {
		case mem.FileID == chosenFile && mem.Role != domain.RoleOriginal:
			if err := m.store.SetMemberRole(groupID, mem.FileID, domain.RoleOriginal, 1.0, "manual override"); err != nil {
				return fmt.Errorf("override: promote file=%d group=%d: %w", mem.FileID, groupID, err)
			}
		case mem.FileID != chosenFile && mem.Role == domain.RoleOriginal:
			if err := m.store.SetMemberRole(groupID, mem.FileID, domain.RoleDuplicate, mem.Similarity, "superseded by manual override"); err != nil {
				return fmt.Errorf("override: demote file=%d group=%d: %w", mem.FileID, groupID, err)
			}
		}
	}
	return nil
}

// Clear deactivates the active override for a group, reverting it to
// automatic selection (spec §4.9 "clear").
func (m *Manager) Clear(groupID int64) error {
	if err := m.store.ClearOverride(groupID); err != nil {
		return fmt.Errorf("override: clear group=%d: %w", groupID, err)
	}
	return nil
}

// Lookup returns the active override for a group, if any (spec §4.9
// "lookup"), consulted by Grouping before it writes a group's original.
func (m *Manager) Lookup(groupID int64) (domain.ManualOverride, bool, error) {
	o, ok, err := m.store.ActiveOverride(groupID)
	if err != nil {
		return domain.ManualOverride{}, false, fmt.Errorf("override: lookup group=%d: %w", groupID, err)
	}
	return o, ok, nil
}

// ReapOrphans deactivates overrides whose chosen file has disappeared or
// whose group no longer exists (spec §4.9 "reap_orphans"). It returns the
// count of MissingOverrideTarget cases specifically — active overrides
// whose chosen file has vanished (spec §7) — for each of which it also
// restores the group's auto-selected original.
func (m *Manager) ReapOrphans() (int, error) {
	actives, err := m.store.ListActiveOverrides()
	if err != nil {
		return 0, fmt.Errorf("override: list active overrides: %w", err)
	}

	var missingTargets []domain.ManualOverride
	for _, o := range actives {
		f, err := m.store.GetFile(o.ChosenFile)
		if err != nil || f.Missing {
			missingTargets = append(missingTargets, o)
		}
	}

	if _, err := m.store.ReapOrphans(); err != nil {
		return 0, fmt.Errorf("override: reap orphans: %w", err)
	}

	for _, o := range missingTargets {
		if err := m.restoreAutoSelection(o.GroupID); err != nil {
			return 0, fmt.Errorf("override: restore auto-selection group=%d: %w", o.GroupID, err)
		}
	}
	return len(missingTargets), nil
}

// restoreAutoSelection re-runs the original-selection rule over a group's
// still-present members and promotes whichever file it picks, used after an
// override's chosen file has vanished and the override itself has been
// deactivated.
func (m *Manager) restoreAutoSelection(groupID int64) error {
	members, err := m.store.GroupMembers(groupID)
	if err != nil {
		return fmt.Errorf("members group=%d: %w", groupID, err)
	}

	ids := make([]int64, 0, len(members))
	files := make([]domain.File, 0, len(members))
	for _, mem := range members {
		f, err := m.store.GetFile(mem.FileID)
		if err != nil || f.Missing {
			continue
		}
		ids = append(ids, mem.FileID)
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil
	}

	feats, err := m.store.FeaturesByFileIDs(ids)
	if err != nil {
		return fmt.Errorf("features group=%d: %w", groupID, err)
	}

	pick := grouping.SelectOriginal(files, feats)
	for _, mem := range members {
		switch {
		case mem.FileID == pick.ID && mem.Role != domain.RoleOriginal:
			if err := m.store.SetMemberRole(groupID, mem.FileID, domain.RoleOriginal, 1.0, "auto-selection restored"); err != nil {
				return fmt.Errorf("promote file=%d group=%d: %w", mem.FileID, groupID, err)
			}
		case mem.FileID != pick.ID && mem.Role == domain.RoleOriginal:
			if err := m.store.SetMemberRole(groupID, mem.FileID, domain.RoleDuplicate, mem.Similarity, "auto-selection restored"); err != nil {
				return fmt.Errorf("demote file=%d group=%d: %w", mem.FileID, groupID, err)
			}
		}
	}
	return nil
}

// DetectConflicts enumerates every group whose active override no longer
// matches what a trial re-selection pass would pick right now, restricted
// to overrides whose chosen file still exists (spec §4.9 "detect_conflicts
// ... and whose chosen file still exists").
func (m *Manager) DetectConflicts() ([]domain.ConflictInfo, error) {
	actives, err := m.store.ListActiveOverrides()
	if err != nil {
		return nil, fmt.Errorf("override: list active overrides: %w", err)
	}

	var conflicts []domain.ConflictInfo
	for _, o := range actives {
		chosen, err := m.store.GetFile(o.ChosenFile)
		if err != nil || chosen.Missing {
			continue
		}

		members, err := m.store.GroupMembers(o.GroupID)
		if err != nil {
			return nil, fmt.Errorf("override: members group=%d: %w", o.GroupID, err)
		}
		if len(members) == 0 {
			continue
		}

		ids := make([]int64, 0, len(members))
		files := make([]domain.File, 0, len(members))
		for _, mem := range members {
			f, err := m.store.GetFile(mem.FileID)
			if err != nil || f.Missing {
				continue
			}
			ids = append(ids, mem.FileID)
			files = append(files, f)
		}
		if len(files) == 0 {
			continue
		}

		feats, err := m.store.FeaturesByFileIDs(ids)
		if err != nil {
			return nil, fmt.Errorf("override: features group=%d: %w", o.GroupID, err)
		}

		trial := grouping.SelectOriginal(files, feats)
		if trial.ID != o.ChosenFile {
			conflicts = append(conflicts, domain.ConflictInfo{
				GroupID:      o.GroupID,
				OverrideFile: o.ChosenFile,
				AutoPicked:   trial.ID,
			})
		}
	}
	return conflicts, nil
}
