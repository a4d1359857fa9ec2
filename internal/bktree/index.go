package bktree

import (
	"sync"

	"github.com/localphoto/photodedupe/internal/domain"
)

// FeatureSource is the subset of *store.Store the index needs to build
// itself from cold start.
type FeatureSource interface {
	AllFeatures() ([]domain.Feature, error)
}

// Index holds one BK-tree per perceptual hash kind, single-writer/
// many-reader (spec §4.6). It is in-memory only: every process start (or
// full rebuild) reconstructs it from the Store's features table.
type Index struct {
	mu       sync.RWMutex
	trees    map[domain.HashKind]*Tree
	baseline int // insertion count at last full build; drives rebuild policy
	inserted int // insertions since that build
}

// NewIndex returns an empty index covering all three hash kinds.
func NewIndex() *Index {
	return &Index{
		trees: map[domain.HashKind]*Tree{
			domain.HashPHash: New(),
			domain.HashDHash: New(),
			domain.HashAHash: New(),
		},
	}
}

// BuildFromStore constructs a fresh set of trees from every Feature row and
// swaps them in atomically, so concurrent readers of the old trees are
// never disturbed mid-query (spec §4.6 "build_from_store").
func (idx *Index) BuildFromStore(src FeatureSource) error {
	features, err := src.AllFeatures()
	if err != nil {
		return err
	}

	fresh := map[domain.HashKind]*Tree{
		domain.HashPHash: New(),
		domain.HashDHash: New(),
		domain.HashAHash: New(),
	}
	for _, f := range features {
		if f.PHash != nil {
			fresh[domain.HashPHash].Insert(*f.PHash, f.FileID)
		}
		if f.DHash != nil {
			fresh[domain.HashDHash].Insert(*f.DHash, f.FileID)
		}
		if f.AHash != nil {
			fresh[domain.HashAHash].Insert(*f.AHash, f.FileID)
		}
	}

	idx.mu.Lock()
	idx.trees = fresh
	idx.baseline = len(features)
	idx.inserted = 0
	idx.mu.Unlock()
	return nil
}

// Insert adds one file's set of perceptual hashes to the live index,
// without a full rebuild (used as new Feature rows are produced during a
// Delta rescan).
func (idx *Index) Insert(f domain.Feature) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if f.PHash != nil {
		idx.trees[domain.HashPHash].Insert(*f.PHash, f.FileID)
	}
	if f.DHash != nil {
		idx.trees[domain.HashDHash].Insert(*f.DHash, f.FileID)
	}
	if f.AHash != nil {
		idx.trees[domain.HashAHash].Insert(*f.AHash, f.FileID)
	}
	idx.inserted++
}

// Query returns every file within radius of hash under the given kind's
// tree.
func (idx *Index) Query(kind domain.HashKind, hash uint64, radius int) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.trees[kind].Query(hash, radius)
}

// NeedsRebuild reports whether enough incremental insertions have
// accumulated since the last BuildFromStore that a fresh build is
// worthwhile — insertions having at least doubled the indexed set (spec
// §4.6 "rebuild-on-2x-growth policy"). A BK-tree's shape depends on
// insertion order, so letting it grow unboundedly via single inserts
// degrades query pruning over time; periodic rebuilds restore balance.
func (idx *Index) NeedsRebuild() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.baseline == 0 {
		return idx.inserted > 0
	}
	return idx.inserted >= idx.baseline
}
