package grouping

import "testing"

func TestUnionFindMergesTransitively(t *testing.T) {
	uf := newUnionFind([]int64{1, 2, 3, 4, 5})
	uf.union(1, 2)
	uf.union(2, 3)
	uf.union(4, 5)

	comps := uf.components()
	if len(comps) != 2 {
		t.Fatalf("expected 2 components, got %d: %+v", len(comps), comps)
	}
	sizes := map[int]int{}
	for _, c := range comps {
		sizes[len(c)]++
	}
	if sizes[3] != 1 || sizes[2] != 1 {
		t.Errorf("expected one component of size 3 and one of size 2, got sizes=%+v", comps)
	}
}

func TestUnionFindSingletonsStaySeparate(t *testing.T) {
	uf := newUnionFind([]int64{1, 2, 3})
	comps := uf.components()
	if len(comps) != 3 {
		t.Errorf("expected 3 singleton components, got %d", len(comps))
	}
}
