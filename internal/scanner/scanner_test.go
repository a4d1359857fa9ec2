package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/localphoto/photodedupe/internal/domain"
)

// fakeStore is an in-memory stand-in for *store.Store, letting these tests
// exercise the scanner's walking and glob-matching logic without a real
// database.
type fakeStore struct {
	mu            sync.Mutex
	byPath        map[string]domain.File
	nextID        int64
	markedMissing map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byPath: make(map[string]domain.File), markedMissing: make(map[string]bool)}
}

func (f *fakeStore) ReconcileFile(path string, size int64, modTime time.Time) (domain.File, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.byPath[path]
	if !ok {
		f.nextID++
		nf := domain.File{ID: f.nextID, Path: path, Size: size, ModTime: modTime, DiscoveredAt: time.Now()}
		f.byPath[path] = nf
		return nf, true, nil
	}
	if existing.Size != size || !existing.ModTime.Equal(modTime) {
		existing.Size = size
		existing.ModTime = modTime
		existing.DiscoveredAt = time.Time{}
		f.byPath[path] = existing
		return existing, true, nil
	}
	return existing, false, nil
}

func (f *fakeStore) MarkMissing(seenPaths map[string]bool, roots []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for path := range f.byPath {
		if !seenPaths[path] {
			f.markedMissing[path] = true
		}
	}
	return nil
}

// =============================================================================
// Walking and matching
// =============================================================================

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFindsMatchingFilesRecursively(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), "aaa")
	writeFile(t, filepath.Join(dir, "sub", "b.jpg"), "bb")
	writeFile(t, filepath.Join(dir, "sub", "deep", "c.png"), "c")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	fs := newFakeStore()
	s := New([]string{dir}, []string{"*.jpg", "*.png"}, nil, 2, false, nil, fs, nil)
	result, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if result.MatchedFiles != 3 {
		t.Errorf("matched = %d, want 3", result.MatchedFiles)
	}
	if len(result.NeedsFeatures) != 3 {
		t.Errorf("needs features = %d, want 3", len(result.NeedsFeatures))
	}
}

func TestScanExcludeOverridesInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.jpg"), "a")
	writeFile(t, filepath.Join(dir, "thumb.jpg"), "b")

	fs := newFakeStore()
	s := New([]string{dir}, []string{"*.jpg"}, []string{"thumb*"}, 2, false, nil, fs, nil)
	result, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.MatchedFiles != 1 {
		t.Errorf("matched = %d, want 1 (exclude should drop thumb.jpg)", result.MatchedFiles)
	}
}

func TestScanNoIncludesMatchesEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "any.ext"), "x")

	fs := newFakeStore()
	s := New([]string{dir}, nil, nil, 2, false, nil, fs, nil)
	result, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.MatchedFiles != 1 {
		t.Errorf("matched = %d, want 1", result.MatchedFiles)
	}
}

// =============================================================================
// Reconciliation against prior state
// =============================================================================

func TestScanSecondPassNoOpsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeFile(t, path, "aaa")

	fs := newFakeStore()
	s1 := New([]string{dir}, []string{"*.jpg"}, nil, 2, false, nil, fs, nil)
	if _, err := s1.Scan(); err != nil {
		t.Fatal(err)
	}

	s2 := New([]string{dir}, []string{"*.jpg"}, nil, 2, false, nil, fs, nil)
	result, err := s2.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.NeedsFeatures) != 0 {
		t.Errorf("unchanged file should not need features again, got %d", len(result.NeedsFeatures))
	}
}

func TestScanMarksDisappearedFilesMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeFile(t, path, "aaa")

	fs := newFakeStore()
	s1 := New([]string{dir}, []string{"*.jpg"}, nil, 2, false, nil, fs, nil)
	if _, err := s1.Scan(); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	s2 := New([]string{dir}, []string{"*.jpg"}, nil, 2, false, nil, fs, nil)
	if _, err := s2.Scan(); err != nil {
		t.Fatal(err)
	}
	if !fs.markedMissing[path] {
		t.Error("expected removed file to be marked missing")
	}
}

func TestScanErrorChannelReceivesUnreadableRoot(t *testing.T) {
	errCh := make(chan error, 10)
	fs := newFakeStore()
	s := New([]string{filepath.Join(t.TempDir(), "does-not-exist")}, nil, nil, 2, false, errCh, fs, nil)
	if _, err := s.Scan(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected non-nil scan error")
		}
	default:
		t.Error("expected an error on errCh for a missing root")
	}
}

func TestScanDeterministicOrderingOfMatches(t *testing.T) {
	dir := t.TempDir()
	names := []string{"b.jpg", "a.jpg", "c.jpg"}
	for _, n := range names {
		writeFile(t, filepath.Join(dir, n), n)
	}
	fs := newFakeStore()
	s := New([]string{dir}, []string{"*.jpg"}, nil, 2, false, nil, fs, nil)
	result, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, f := range result.NeedsFeatures {
		got = append(got, filepath.Base(f.Path))
	}
	sort.Strings(got)
	sort.Strings(names)
	if len(got) != len(names) {
		t.Fatalf("got %v, want set equal to %v", got, names)
	}
	for i := range got {
		if got[i] != names[i] {
			t.Errorf("got %v, want %v", got, names)
		}
	}
}
