package override

import (
	"testing"

	"github.com/localphoto/photodedupe/internal/domain"
)

// =============================================================================
// Fake store
// =============================================================================

type fakeStore struct {
	overrides map[int64]domain.ManualOverride
	members   map[int64][]domain.GroupMember
	files     map[int64]domain.File
	features  map[int64]domain.Feature
	nextID    int64
	reaped    int
}

func newStore() *fakeStore {
	return &fakeStore{
		overrides: map[int64]domain.ManualOverride{},
		members:   map[int64][]domain.GroupMember{},
		files:     map[int64]domain.File{},
		features:  map[int64]domain.Feature{},
	}
}

func (s *fakeStore) PutOverride(o domain.ManualOverride) (int64, error) {
	s.nextID++
	o.ID = s.nextID
	o.Active = true
	s.overrides[o.GroupID] = o
	return o.ID, nil
}

func (s *fakeStore) ClearOverride(groupID int64) error {
	o := s.overrides[groupID]
	o.Active = false
	s.overrides[groupID] = o
	return nil
}

func (s *fakeStore) ActiveOverride(groupID int64) (domain.ManualOverride, bool, error) {
	o, ok := s.overrides[groupID]
	if !ok || !o.Active {
		return domain.ManualOverride{}, false, nil
	}
	return o, true, nil
}

func (s *fakeStore) ListActiveOverrides() ([]domain.ManualOverride, error) {
	var out []domain.ManualOverride
	for _, o := range s.overrides {
		if o.Active {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) ReapOrphans() (int, error) {
	n := 0
	for gid, o := range s.overrides {
		if !o.Active {
			continue
		}
		if f, ok := s.files[o.ChosenFile]; !ok || f.Missing {
			o.Active = false
			s.overrides[gid] = o
			n++
		}
	}
	s.reaped += n
	return n, nil
}

func (s *fakeStore) GroupMembers(groupID int64) ([]domain.GroupMember, error) {
	return s.members[groupID], nil
}

func (s *fakeStore) GetFile(id int64) (domain.File, error) { return s.files[id], nil }

func (s *fakeStore) FeaturesByFileIDs(ids []int64) (map[int64]domain.Feature, error) {
	out := make(map[int64]domain.Feature, len(ids))
	for _, id := range ids {
		out[id] = s.features[id]
	}
	return out, nil
}

func (s *fakeStore) SetMemberRole(groupID, fileID int64, role domain.Role, similarity float64, note string) error {
	members := s.members[groupID]
	for i, m := range members {
		if m.FileID == fileID {
			members[i].Role = role
			members[i].Similarity = similarity
			members[i].Note = note
			return nil
		}
	}
	return nil
}

// =============================================================================
// Put / Clear / Lookup
// =============================================================================

func TestPutThenLookupReturnsActiveOverride(t *testing.T) {
	s := newStore()
	m := New(s)
	if _, err := m.Put(1, 10, 20, domain.OverrideSingleGroup, domain.ReasonUserPreference, "prefer this one"); err != nil {
		t.Fatal(err)
	}
	o, ok, err := m.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || o.ChosenFile != 10 {
		t.Errorf("Lookup = %+v, ok=%v, want chosen_file=10", o, ok)
	}
}

func TestClearDeactivatesOverride(t *testing.T) {
	s := newStore()
	m := New(s)
	if _, err := m.Put(1, 10, 20, domain.OverrideSingleGroup, domain.ReasonUserPreference, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(1); err != nil {
		t.Fatal(err)
	}
	_, ok, err := m.Lookup(1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no active override after Clear")
	}
}

// =============================================================================
// DetectConflicts
// =============================================================================

func TestDetectConflictsFindsGroupWhereOverrideDivergesFromAutoPick(t *testing.T) {
	s := newStore()
	s.overrides[1] = domain.ManualOverride{ID: 1, GroupID: 1, ChosenFile: 20, Active: true}
	s.members[1] = []domain.GroupMember{
		{GroupID: 1, FileID: 10},
		{GroupID: 1, FileID: 20},
	}
	// File 10 has higher resolution, so trial re-selection would pick it,
	// which diverges from the override's chosen file 20.
	s.files[10] = domain.File{ID: 10, Path: "/a.jpg", Size: 1000}
	s.files[20] = domain.File{ID: 20, Path: "/b.jpg", Size: 1000}
	s.features[10] = domain.Feature{FileID: 10, Width: 4000, Height: 3000}
	s.features[20] = domain.Feature{FileID: 20, Width: 800, Height: 600}

	m := New(s)
	conflicts, err := m.DetectConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want 1", conflicts)
	}
	if conflicts[0].GroupID != 1 || conflicts[0].OverrideFile != 20 || conflicts[0].AutoPicked != 10 {
		t.Errorf("conflict = %+v, want {GroupID:1 OverrideFile:20 AutoPicked:10}", conflicts[0])
	}
}

func TestDetectConflictsSkipsAgreeingOverride(t *testing.T) {
	s := newStore()
	s.overrides[1] = domain.ManualOverride{ID: 1, GroupID: 1, ChosenFile: 10, Active: true}
	s.members[1] = []domain.GroupMember{
		{GroupID: 1, FileID: 10},
		{GroupID: 1, FileID: 20},
	}
	s.files[10] = domain.File{ID: 10, Path: "/a.jpg", Size: 1000}
	s.files[20] = domain.File{ID: 20, Path: "/b.jpg", Size: 1000}
	s.features[10] = domain.Feature{FileID: 10, Width: 4000, Height: 3000}
	s.features[20] = domain.Feature{FileID: 20, Width: 800, Height: 600}

	m := New(s)
	conflicts, err := m.DetectConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts when the override agrees with auto-pick, got %+v", conflicts)
	}
}

func TestDetectConflictsSkipsOverrideWhoseChosenFileIsMissing(t *testing.T) {
	s := newStore()
	s.overrides[1] = domain.ManualOverride{ID: 1, GroupID: 1, ChosenFile: 20, Active: true}
	s.members[1] = []domain.GroupMember{
		{GroupID: 1, FileID: 10},
		{GroupID: 1, FileID: 20},
	}
	s.files[10] = domain.File{ID: 10, Path: "/a.jpg", Size: 1000}
	s.files[20] = domain.File{ID: 20, Path: "/b.jpg", Size: 1000, Missing: true}
	s.features[10] = domain.Feature{FileID: 10, Width: 4000, Height: 3000}
	s.features[20] = domain.Feature{FileID: 20, Width: 800, Height: 600}

	m := New(s)
	conflicts, err := m.DetectConflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts when the override's chosen file is missing, got %+v", conflicts)
	}
}

func TestReapOrphansDeactivatesOverridesForMissingFiles(t *testing.T) {
	s := newStore()
	s.overrides[1] = domain.ManualOverride{ID: 1, GroupID: 1, ChosenFile: 20, Active: true}
	s.files[20] = domain.File{ID: 20, Missing: true}

	m := New(s)
	n, err := m.ReapOrphans()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ReapOrphans = %d, want 1", n)
	}
	_, ok, _ := m.Lookup(1)
	if ok {
		t.Error("expected override to be deactivated after ReapOrphans")
	}
}

func TestReapOrphansRestoresAutoSelectionForMissingOverrideTarget(t *testing.T) {
	s := newStore()
	s.overrides[1] = domain.ManualOverride{ID: 1, GroupID: 1, ChosenFile: 20, Active: true}
	s.members[1] = []domain.GroupMember{
		{GroupID: 1, FileID: 10, Role: domain.RoleDuplicate},
		{GroupID: 1, FileID: 20, Role: domain.RoleOriginal},
	}
	s.files[10] = domain.File{ID: 10, Path: "/a.jpg", Size: 1000}
	s.files[20] = domain.File{ID: 20, Path: "/b.jpg", Size: 1000, Missing: true}
	s.features[10] = domain.Feature{FileID: 10, Width: 4000, Height: 3000}
	s.features[20] = domain.Feature{FileID: 20, Width: 800, Height: 600}

	m := New(s)
	n, err := m.ReapOrphans()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ReapOrphans = %d, want 1", n)
	}
	for _, mem := range s.members[1] {
		if mem.FileID == 10 && mem.Role != domain.RoleOriginal {
			t.Errorf("file 10 should have been restored as original, got role %v", mem.Role)
		}
		if mem.FileID == 20 && mem.Role != domain.RoleDuplicate {
			t.Errorf("file 20 (missing) should have been demoted, got role %v", mem.Role)
		}
	}
}

// =============================================================================
// Put role swap (spec §4.9 "put" applies immediately, not just on next
// grouping pass)
// =============================================================================

func TestPutSwapsGroupMemberRoles(t *testing.T) {
	s := newStore()
	s.members[1] = []domain.GroupMember{
		{GroupID: 1, FileID: 10, Role: domain.RoleOriginal, Similarity: 1.0},
		{GroupID: 1, FileID: 20, Role: domain.RoleDuplicate, Similarity: 0.9},
	}
	m := New(s)

	if _, err := m.Put(1, 20, 10, domain.OverrideSingleGroup, domain.ReasonUserPreference, ""); err != nil {
		t.Fatal(err)
	}

	members := s.members[1]
	for _, mem := range members {
		if mem.FileID == 20 && mem.Role != domain.RoleOriginal {
			t.Errorf("chosen file 20 should now be original, got role %v", mem.Role)
		}
		if mem.FileID == 10 && mem.Role != domain.RoleDuplicate {
			t.Errorf("displaced file 10 should now be duplicate, got role %v", mem.Role)
		}
	}
}
