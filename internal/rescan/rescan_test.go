package rescan

import (
	"testing"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/escalation"
	"github.com/localphoto/photodedupe/internal/grouping"
	"github.com/localphoto/photodedupe/internal/scanner"
	"github.com/localphoto/photodedupe/internal/settings"
	"github.com/localphoto/photodedupe/internal/store"
)

// =============================================================================
// Mode recommendation
// =============================================================================

func TestRecommendModeDeltaAboveNinetyFivePercent(t *testing.T) {
	if got := RecommendMode(100, 96, false); got != ModeDelta {
		t.Errorf("got %v, want Delta", got)
	}
}

func TestRecommendModeMissingFeaturesInMiddleBand(t *testing.T) {
	if got := RecommendMode(100, 70, false); got != ModeMissingFeatures {
		t.Errorf("got %v, want MissingFeatures", got)
	}
}

func TestRecommendModeFullRebuildBelowFiftyPercent(t *testing.T) {
	if got := RecommendMode(100, 10, false); got != ModeFullRebuild {
		t.Errorf("got %v, want FullRebuild", got)
	}
}

func TestRecommendModeFullRebuildOnSchemaChange(t *testing.T) {
	if got := RecommendMode(100, 100, true); got != ModeFullRebuild {
		t.Errorf("got %v, want FullRebuild on schema change regardless of ratio", got)
	}
}

func TestRecommendModeEmptyStoreIsDelta(t *testing.T) {
	if got := RecommendMode(0, 0, false); got != ModeDelta {
		t.Errorf("got %v, want Delta for an empty store", got)
	}
}

// =============================================================================
// Fakes
// =============================================================================

type fakeScanner struct {
	result scanner.Result
	err    error
}

func (s *fakeScanner) Scan() (scanner.Result, error) { return s.result, s.err }

type fakeIndex struct {
	rebuilt  bool
	inserted int
	needs    bool
}

func (idx *fakeIndex) BuildFromStore(src interface {
	AllFeatures() ([]domain.Feature, error)
}) error {
	idx.rebuilt = true
	_, err := src.AllFeatures()
	return err
}
func (idx *fakeIndex) Insert(f domain.Feature) { idx.inserted++ }
func (idx *fakeIndex) NeedsRebuild() bool      { return idx.needs }

type fakeGrouping struct{ result grouping.Result }

func (g *fakeGrouping) Run() (grouping.Result, error) { return g.result, nil }

type fakeEscalation struct{ result escalation.Result }

func (e *fakeEscalation) Run() (escalation.Result, error) { return e.result, nil }

type fakeOverrides struct {
	reaped    int
	err       error
	reapCalls int
}

func (o *fakeOverrides) ReapOrphans() (int, error) {
	o.reapCalls++
	return o.reaped, o.err
}

type fakeStore struct {
	needsFeatures    []domain.File
	files            map[int64]domain.File
	filesByPath      map[string]domain.File
	features         map[int64]domain.Feature
	truncateCalled   bool
	groupOf          map[int64]int64
	putOverrideCalls []domain.ManualOverride
	members          map[int64][]domain.GroupMember
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:       map[int64]domain.File{},
		filesByPath: map[string]domain.File{},
		features:    map[int64]domain.Feature{},
		groupOf:     map[int64]int64{},
		members:     map[int64][]domain.GroupMember{},
	}
}

func (s *fakeStore) FilesNeedingFeatures() ([]domain.File, error) { return s.needsFeatures, nil }
func (s *fakeStore) GetFile(id int64) (domain.File, error)        { return s.files[id], nil }
func (s *fakeStore) GetFileByPath(path string) (domain.File, bool, error) {
	f, ok := s.filesByPath[path]
	return f, ok, nil
}
func (s *fakeStore) SetFastHash(fileID int64, hash uint64) error        { return nil }
func (s *fakeStore) SetStrongHash(fileID int64, hash []byte) error      { return nil }
func (s *fakeStore) SetUnprocessable(fileID int64, unprocessable bool) error { return nil }
func (s *fakeStore) PutFeature(f domain.Feature) error {
	s.features[f.FileID] = f
	return nil
}
func (s *fakeStore) GetFeature(fileID int64) (domain.Feature, bool, error) {
	f, ok := s.features[fileID]
	return f, ok, nil
}
func (s *fakeStore) CountFiles() (int, error)             { return len(s.files), nil }
func (s *fakeStore) CountFilesWithFeatures() (int, error) { return len(s.features), nil }
func (s *fakeStore) TruncateForFullRebuild() error {
	s.truncateCalled = true
	return nil
}
func (s *fakeStore) SnapshotGroups() ([]store.GroupSnapshot, error)       { return nil, nil }
func (s *fakeStore) SnapshotOverrides() ([]store.OverrideSnapshot, error) { return nil, nil }
func (s *fakeStore) GroupIDForFile(fileID int64) (int64, bool, error) {
	id, ok := s.groupOf[fileID]
	return id, ok, nil
}
func (s *fakeStore) PutOverride(o domain.ManualOverride) (int64, error) {
	s.putOverrideCalls = append(s.putOverrideCalls, o)
	return int64(len(s.putOverrideCalls)), nil
}
func (s *fakeStore) AllFeatures() ([]domain.Feature, error) {
	out := make([]domain.Feature, 0, len(s.features))
	for _, f := range s.features {
		out = append(out, f)
	}
	return out, nil
}
func (s *fakeStore) GroupMembers(groupID int64) ([]domain.GroupMember, error) {
	return s.members[groupID], nil
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
// Run
// =============================================================================

func TestRunDeltaModeScansAndSkipsFilesNeedingFeaturesPath(t *testing.T) {
	st := newFakeStore()
	st.needsFeatures = []domain.File{{ID: 1, Path: "/a.jpg"}}
	scanCalled := false
	sc := &fakeScanner{result: scanner.Result{ScannedFiles: 3}}
	idx := &fakeIndex{}
	g := &fakeGrouping{result: grouping.Result{ExactGroupsCreated: 1}}
	e := &fakeEscalation{}
	cfg, _ := settings.DefaultSettings(settings.PresetBalanced)

	coord := New(st, func() ScannerRunner { scanCalled = true; return sc }, idx, g, e, &fakeOverrides{}, cfg)
	result, err := coord.Run(ModeDelta, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !scanCalled {
		t.Error("Delta mode should run the scanner")
	}
	if result.FeaturesExtracted != 0 || result.FeaturesFailed != 0 {
		t.Errorf("Delta mode should not process FilesNeedingFeatures, got %+v", result)
	}
	if result.Grouping.ExactGroupsCreated != 1 {
		t.Errorf("expected grouping result to propagate, got %+v", result.Grouping)
	}
	if st.truncateCalled {
		t.Error("Delta mode should never truncate")
	}
}

func TestRunMissingFeaturesModeSkipsScanner(t *testing.T) {
	st := newFakeStore()
	st.needsFeatures = []domain.File{{ID: 1, Path: "/a.jpg"}}
	scanCalled := false
	sc := &fakeScanner{}
	idx := &fakeIndex{}
	g := &fakeGrouping{}
	e := &fakeEscalation{}
	settingsV, _ := settings.DefaultSettings(settings.PresetBalanced)

	coord := New(st, func() ScannerRunner { scanCalled = true; return sc }, idx, g, e, &fakeOverrides{}, settingsV)
	if _, err := coord.Run(ModeMissingFeatures, nil); err != nil {
		t.Fatal(err)
	}
	if scanCalled {
		t.Error("MissingFeatures mode should not invoke the scanner")
	}
}

func TestRunFullRebuildTruncatesFirst(t *testing.T) {
	st := newFakeStore()
	sc := &fakeScanner{}
	idx := &fakeIndex{}
	g := &fakeGrouping{}
	e := &fakeEscalation{}
	settingsV, _ := settings.DefaultSettings(settings.PresetBalanced)

	coord := New(st, func() ScannerRunner { return sc }, idx, g, e, &fakeOverrides{}, settingsV)
	if _, err := coord.Run(ModeFullRebuild, nil); err != nil {
		t.Fatal(err)
	}
	if !st.truncateCalled {
		t.Error("FullRebuild mode should truncate before running Delta")
	}
}

func TestRunSurfacesMissingOverrideTargetsFromReapOrphans(t *testing.T) {
	st := newFakeStore()
	sc := &fakeScanner{}
	idx := &fakeIndex{}
	g := &fakeGrouping{}
	e := &fakeEscalation{}
	ov := &fakeOverrides{reaped: 2}
	settingsV, _ := settings.DefaultSettings(settings.PresetBalanced)

	coord := New(st, func() ScannerRunner { return sc }, idx, g, e, ov, settingsV)
	result, err := coord.Run(ModeDelta, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.MissingOverrideTargets != 2 {
		t.Errorf("MissingOverrideTargets = %d, want 2", result.MissingOverrideTargets)
	}
	if ov.reapCalls != 1 {
		t.Errorf("ReapOrphans calls = %d, want 1", ov.reapCalls)
	}
}

func TestRunInvokesThrottledProgressCallback(t *testing.T) {
	st := newFakeStore()
	sc := &fakeScanner{}
	idx := &fakeIndex{}
	g := &fakeGrouping{}
	e := &fakeEscalation{}
	settingsV, _ := settings.DefaultSettings(settings.PresetBalanced)

	var stages []string
	coord := New(st, func() ScannerRunner { return sc }, idx, g, e, &fakeOverrides{}, settingsV)
	_, err := coord.Run(ModeDelta, func(p Progress) { stages = append(stages, p.Stage) })
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"scan": true, "index": true, "grouping": true, "escalation": true}
	for _, s := range stages {
		if !want[s] {
			t.Errorf("unexpected stage %q", s)
		}
	}
}
