package grouping

import (
	"github.com/localphoto/photodedupe/internal/domain"
)

// candidate pairs a File row with its Feature row for original selection.
type candidate struct {
	file    domain.File
	feature domain.Feature
}

// SelectOriginal exposes the five-key selection rule to callers outside
// this package — specifically the Override Store's detect_conflicts,
// which needs to know what auto-selection would currently pick for a group
// without persisting anything (spec §4.9).
func SelectOriginal(files []domain.File, features map[int64]domain.Feature) domain.File {
	candidates := make([]candidate, 0, len(files))
	for _, f := range files {
		candidates = append(candidates, candidate{file: f, feature: features[f.ID]})
	}
	return selectOriginal(candidates).file
}

// selectOriginal picks which member of a duplicate set is kept as the
// group's original, in the deterministic five-key order spec §4.7 requires:
// higher resolution wins, then earlier capture time, then larger file size,
// then higher format priority (lower Format.Priority() value), then
// lexicographically smaller path as the final, always-decisive tiebreak.
// Adapted from ivoronin-dupedog/internal/deduper's selectSource, which
// picked a hardlink source by path-priority/nlink/lexicographic order;
// generalized here to photo-specific keys since there is no nlink or
// path-priority concept in this domain.
func selectOriginal(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best
}

// better reports whether a should be preferred over b as the original.
func better(a, b candidate) bool {
	if aa, ba := a.feature.Area(), b.feature.Area(); aa != ba {
		return aa > ba
	}

	at, aKnown := a.feature.CaptureTime, a.feature.CaptureTime != nil
	bt, bKnown := b.feature.CaptureTime, b.feature.CaptureTime != nil
	switch {
	case aKnown && bKnown && !at.Equal(*bt):
		return at.Before(*bt)
	case aKnown && !bKnown:
		return true
	case !aKnown && bKnown:
		return false
	}

	if a.file.Size != b.file.Size {
		return a.file.Size > b.file.Size
	}
	if pa, pb := a.feature.Format.Priority(), b.feature.Format.Priority(); pa != pb {
		return pa < pb
	}
	return a.file.Path < b.file.Path
}
