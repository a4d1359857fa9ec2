package bktree

import (
	"testing"

	"github.com/localphoto/photodedupe/internal/domain"
)

// =============================================================================
// Tree: insert / query
// =============================================================================

func TestTreeQueryFindsExactMatch(t *testing.T) {
	tr := New()
	tr.Insert(0b10110, 1)
	matches := tr.Query(0b10110, 0)
	if len(matches) != 1 || matches[0].FileID != 1 || matches[0].Distance != 0 {
		t.Errorf("matches = %+v, want one exact match", matches)
	}
}

func TestTreeQueryFindsWithinRadius(t *testing.T) {
	tr := New()
	tr.Insert(0b0000, 1) // distance 0 from query
	tr.Insert(0b0001, 2) // distance 1
	tr.Insert(0b0011, 3) // distance 2
	tr.Insert(0b1111, 4) // distance 4

	matches := tr.Query(0b0000, 2)
	got := map[int64]bool{}
	for _, m := range matches {
		got[m.FileID] = true
	}
	for _, want := range []int64{1, 2, 3} {
		if !got[want] {
			t.Errorf("expected fileID %d within radius 2, matches=%+v", want, matches)
		}
	}
	if got[4] {
		t.Error("fileID 4 (distance 4) should not match radius 2")
	}
}

func TestTreeQueryEmptyTree(t *testing.T) {
	tr := New()
	if matches := tr.Query(0xFF, 5); matches != nil {
		t.Errorf("expected nil matches on empty tree, got %+v", matches)
	}
}

func TestTreeExactCollisionMergesIntoSameNode(t *testing.T) {
	tr := New()
	tr.Insert(42, 1)
	tr.Insert(42, 2)
	matches := tr.Query(42, 0)
	if len(matches) != 2 {
		t.Errorf("expected 2 matches for colliding hash, got %d", len(matches))
	}
	if tr.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tr.Count())
	}
}

func TestTreeManyInsertsQueryCorrectness(t *testing.T) {
	tr := New()
	const n = 200
	for i := int64(0); i < n; i++ {
		tr.Insert(uint64(i), i)
	}
	// Brute force expected set for a query.
	const query = uint64(57)
	const radius = 3
	want := map[int64]bool{}
	for i := int64(0); i < n; i++ {
		if hammingDistance64(uint64(i), query) <= radius {
			want[i] = true
		}
	}
	matches := tr.Query(query, radius)
	got := map[int64]bool{}
	for _, m := range matches {
		got[m.FileID] = true
	}
	if len(got) != len(want) {
		t.Fatalf("got %d matches, want %d", len(got), len(want))
	}
	for id := range want {
		if !got[id] {
			t.Errorf("missing expected match fileID=%d", id)
		}
	}
}

// =============================================================================
// Index: multi-kind wrapper
// =============================================================================

type fakeSource struct {
	features []domain.Feature
}

func (f fakeSource) AllFeatures() ([]domain.Feature, error) { return f.features, nil }

func hashPtr(v uint64) *uint64 { return &v }

func TestIndexBuildFromStorePopulatesAllKinds(t *testing.T) {
	src := fakeSource{features: []domain.Feature{
		{FileID: 1, PHash: hashPtr(1), DHash: hashPtr(2), AHash: hashPtr(3)},
		{FileID: 2, PHash: hashPtr(1)}, // dhash/ahash absent
	}}
	idx := NewIndex()
	if err := idx.BuildFromStore(src); err != nil {
		t.Fatal(err)
	}

	if matches := idx.Query(domain.HashPHash, 1, 0); len(matches) != 2 {
		t.Errorf("pHash query = %d matches, want 2", len(matches))
	}
	if matches := idx.Query(domain.HashDHash, 2, 0); len(matches) != 1 {
		t.Errorf("dHash query = %d matches, want 1", len(matches))
	}
}

func TestIndexNeedsRebuildAfterDoubling(t *testing.T) {
	src := fakeSource{features: []domain.Feature{
		{FileID: 1, PHash: hashPtr(1)},
		{FileID: 2, PHash: hashPtr(2)},
	}}
	idx := NewIndex()
	if err := idx.BuildFromStore(src); err != nil {
		t.Fatal(err)
	}
	if idx.NeedsRebuild() {
		t.Error("should not need rebuild immediately after a build")
	}

	idx.Insert(domain.Feature{FileID: 3, PHash: hashPtr(3)})
	if idx.NeedsRebuild() {
		t.Error("should not need rebuild after a single insert on a baseline of 2")
	}
	idx.Insert(domain.Feature{FileID: 4, PHash: hashPtr(4)})
	if !idx.NeedsRebuild() {
		t.Error("should need rebuild once insertions reach the baseline count")
	}
}

func TestIndexInsertIsVisibleToQuery(t *testing.T) {
	idx := NewIndex()
	idx.Insert(domain.Feature{FileID: 9, PHash: hashPtr(99)})
	matches := idx.Query(domain.HashPHash, 99, 0)
	if len(matches) != 1 || matches[0].FileID != 9 {
		t.Errorf("matches = %+v, want file 9", matches)
	}
}
