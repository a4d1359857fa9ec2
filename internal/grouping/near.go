package grouping

import (
	"fmt"
	"math"

	"github.com/localphoto/photodedupe/internal/domain"
)

// nearGroup is one tier-2 connected component awaiting persistence.
type nearGroup struct {
	members    []domain.File
	confidence float64
	similarity map[int64]float64
}

// bucketNear finds near-duplicate connected components among files that did
// not already match exactly, using the BK-tree index for bounded-radius
// candidate lookup and the dimension/EXIF filters to reject false positives
// that share a perceptual hash by coincidence (spec §4.7 tier-2).
func (e *Engine) bucketNear(files []domain.File) ([]nearGroup, error) {
	if len(files) < 2 {
		return nil, nil
	}

	ids := make([]int64, len(files))
	fileByID := make(map[int64]domain.File, len(files))
	for i, f := range files {
		ids[i] = f.ID
		fileByID[f.ID] = f
	}
	feats, err := e.store.FeaturesByFileIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("grouping: load features for near-dupe pass: %w", err)
	}

	uf := newUnionFind(ids)
	distances := map[edgeKey]int{}

	for _, f := range files {
		feat, ok := feats[f.ID]
		if !ok {
			continue
		}
		for _, cand := range e.candidatesFor(feat) {
			if cand.FileID == f.ID {
				continue
			}
			if _, ok := fileByID[cand.FileID]; !ok {
				continue
			}
			otherFeat, ok := feats[cand.FileID]
			if !ok {
				continue
			}
			if !e.passesFilters(feat, otherFeat) {
				continue
			}
			uf.union(f.ID, cand.FileID)
			k := edgeKeyFor(f.ID, cand.FileID)
			if d, exists := distances[k]; !exists || cand.Distance < d {
				distances[k] = cand.Distance
			}
		}
	}

	components := uf.components()
	var groups []nearGroup
	for _, ids := range components {
		if len(ids) < 2 {
			continue
		}
		members := make([]domain.File, 0, len(ids))
		for _, id := range ids {
			members = append(members, fileByID[id])
		}
		sortFilesByID(members)
		groups = append(groups, nearGroup{
			members:    members,
			confidence: componentConfidence(ids, distances, e.settings.NearDupeThresholds.PHash),
			similarity: perFileSimilarity(ids, distances, e.settings.NearDupeThresholds.PHash),
		})
	}
	return groups, nil
}

// candidatesFor queries every hash kind present on a feature and merges the
// results: pHash is always queried when present, and dHash/aHash are
// queried as well when feature-match fallback is enabled.
func (e *Engine) candidatesFor(feat domain.Feature) []matchCandidate {
	var out []matchCandidate
	if feat.PHash != nil {
		for _, m := range e.index.Query(domain.HashPHash, *feat.PHash, e.settings.NearDupeThresholds.PHash) {
			out = append(out, matchCandidate{FileID: m.FileID, Distance: m.Distance})
		}
	}
	if e.settings.EnableFeatureMatchFallback {
		if feat.DHash != nil {
			for _, m := range e.index.Query(domain.HashDHash, *feat.DHash, e.settings.NearDupeThresholds.DHash) {
				out = append(out, matchCandidate{FileID: m.FileID, Distance: m.Distance})
			}
		}
		if feat.AHash != nil {
			for _, m := range e.index.Query(domain.HashAHash, *feat.AHash, e.settings.NearDupeThresholds.AHash) {
				out = append(out, matchCandidate{FileID: m.FileID, Distance: m.Distance})
			}
		}
	}
	return out
}

type matchCandidate struct {
	FileID   int64
	Distance int
}

// passesFilters applies the dimension-tolerance and (if configured) strict
// EXIF-datetime-match refinements that keep a coincidental perceptual-hash
// collision from becoming a false duplicate group (spec §4.7).
func (e *Engine) passesFilters(a, b domain.Feature) bool {
	if !withinDimensionTolerance(a.Width, a.Height, b.Width, b.Height, e.settings.DimensionToleranceFraction) {
		return false
	}
	if e.settings.StrictModeRequireEXIFDatetimeMatch {
		if a.CaptureTime == nil || b.CaptureTime == nil {
			return false
		}
		diff := a.CaptureTime.Sub(*b.CaptureTime).Seconds()
		if math.Abs(diff) > e.settings.DatetimeToleranceSeconds {
			return false
		}
	}
	return true
}

func withinDimensionTolerance(w1, h1, w2, h2 int, tolerance float64) bool {
	if w1 == 0 || h1 == 0 || w2 == 0 || h2 == 0 {
		return false
	}
	if !withinFraction(w1, w2, tolerance) {
		return false
	}
	return withinFraction(h1, h2, tolerance)
}

func withinFraction(a, b int, tolerance float64) bool {
	max := a
	if b > max {
		max = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(max) <= tolerance
}

// componentConfidence scores a connected component by its best-case
// (smallest) pairwise Hamming distance: the closer two members are, the
// stronger the evidence that the whole component is a real near-duplicate
// set. A component made entirely of exact pHash matches (distance 0) scores
// 1.0.
func componentConfidence(ids []int64, distances map[edgeKey]int, threshold int) float64 {
	best := threshold
	found := false
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if d, ok := distances[edgeKeyFor(ids[i], ids[j])]; ok && (!found || d < best) {
				best = d
				found = true
			}
		}
	}
	return confidenceFromDistance(best, threshold)
}

// confidenceFromDistance implements Confidence = 1 - (distance/threshold),
// clamped to [0,1].
func confidenceFromDistance(distance, threshold int) float64 {
	if threshold <= 0 {
		if distance == 0 {
			return 1.0
		}
		return 0.0
	}
	score := 1.0 - float64(distance)/float64(threshold)
	if score < 0.0 {
		score = 0.0
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// perFileSimilarity assigns each member a similarity score derived from its
// closest match distance to any other member of the component.
func perFileSimilarity(ids []int64, distances map[edgeKey]int, threshold int) map[int64]float64 {
	best := make(map[int64]int, len(ids))
	for _, id := range ids {
		best[id] = threshold + 1
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			d, ok := distances[edgeKeyFor(ids[i], ids[j])]
			if !ok {
				continue
			}
			if d < best[ids[i]] {
				best[ids[i]] = d
			}
			if d < best[ids[j]] {
				best[ids[j]] = d
			}
		}
	}
	out := make(map[int64]float64, len(ids))
	for id, d := range best {
		out[id] = confidenceFromDistance(d, threshold)
	}
	return out
}

type edgeKey struct{ a, b int64 }

func edgeKeyFor(a, b int64) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}
