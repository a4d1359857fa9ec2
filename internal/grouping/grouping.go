// Package grouping implements the two-tier duplicate-grouping engine (spec
// §4.7): exact groups from content hashes, near-duplicate groups from
// perceptual hashes refined by dimension/EXIF filters, and the
// deterministic original-selection rule shared by both tiers. Its bucketing
// shape is adapted from ivoronin-dupedog/internal/screener, which grouped
// files by size then by device+inode; here the second key is the content
// hash pair (fast_hash, optionally strong_hash) instead of an inode, since
// this domain has no hardlink concept.
package grouping

import (
	"fmt"
	"sort"

	"github.com/localphoto/photodedupe/internal/bktree"
	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/settings"
)

// Store is the subset of *store.Store the Grouping Engine needs.
type Store interface {
	AllFiles() ([]domain.File, error)
	FeaturesByFileIDs(fileIDs []int64) (map[int64]domain.Feature, error)
	CreateGroup(tier domain.Tier, confidence float64, members []domain.GroupMember) (int64, error)
	GroupIDForFile(fileID int64) (int64, bool, error)
	ActiveOverride(groupID int64) (domain.ManualOverride, bool, error)
	SetMemberRole(groupID, fileID int64, role domain.Role, similarity float64, note string) error
}

// Index is the subset of *bktree.Index the Grouping Engine needs for
// tier-2 near-duplicate candidate lookup.
type Index interface {
	Query(kind domain.HashKind, hash uint64, radius int) []bktree.Match
}

// Engine runs one grouping pass over every eligible file.
type Engine struct {
	store    Store
	index    Index
	settings settings.Settings
}

// New returns a Grouping Engine bound to a store and BK-tree index.
func New(store Store, index Index, s settings.Settings) *Engine {
	return &Engine{store: store, index: index, settings: s}
}

// Result summarizes one Run.
type Result struct {
	ExactGroupsCreated int
	NearGroupsCreated  int
	FilesConsidered    int
}

// Run re-derives every duplicate group from current File/Feature rows. It
// does not delete or touch groups a prior run already created; callers
// that want a clean slate (full rebuild) truncate first (spec §4.10).
func (e *Engine) Run() (Result, error) {
	files, err := e.store.AllFiles()
	if err != nil {
		return Result{}, fmt.Errorf("grouping: load files: %w", err)
	}

	eligible := make([]domain.File, 0, len(files))
	for _, f := range files {
		if f.Missing || f.Unprocessable {
			continue
		}
		if grouped, ok, _ := e.store.GroupIDForFile(f.ID); ok && grouped != 0 {
			continue
		}
		eligible = append(eligible, f)
	}
	sortFilesByID(eligible)

	exactBuckets := e.bucketExact(eligible)
	var result Result
	result.FilesConsidered = len(eligible)

	grouped := make(map[int64]bool)
	for _, bucket := range exactBuckets {
		if len(bucket.files) < 2 {
			continue
		}
		if _, err := e.persist(domain.TierExact, bucket.confidence, bucket.files, nil); err != nil {
			return result, err
		}
		result.ExactGroupsCreated++
		for _, f := range bucket.files {
			grouped[f.ID] = true
		}
	}

	remaining := make([]domain.File, 0, len(eligible))
	for _, f := range eligible {
		if !grouped[f.ID] {
			remaining = append(remaining, f)
		}
	}

	nearGroups, err := e.bucketNear(remaining)
	if err != nil {
		return result, err
	}
	for _, ng := range nearGroups {
		if _, err := e.persist(domain.TierNear, ng.confidence, ng.members, ng.similarity); err != nil {
			return result, err
		}
		result.NearGroupsCreated++
	}

	return result, nil
}

// persist writes one Group row: the deterministic original plus every other
// member as duplicate. similarity, if non-nil, supplies a per-file
// Hamming-distance-derived score (tier-2 only); tier-1 members all get
// similarity 1.0 (exact content match). Before returning, it consults the
// Override Store (spec §4.7 "Original selection"): if an active override
// already names a chosen file among this group's members, that file wins
// over the computed original.
func (e *Engine) persist(tier domain.Tier, confidence float64, files []domain.File, similarity map[int64]float64) (int64, error) {
	candidates := make([]candidate, 0, len(files))

	ids := make([]int64, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	feats, err := e.store.FeaturesByFileIDs(ids)
	if err != nil {
		return 0, fmt.Errorf("grouping: load features: %w", err)
	}
	for _, f := range files {
		candidates = append(candidates, candidate{file: f, feature: feats[f.ID]})
	}

	original := selectOriginal(candidates)

	members := make([]domain.GroupMember, 0, len(files))
	for _, f := range files {
		role := domain.RoleDuplicate
		sim := 1.0
		if similarity != nil {
			sim = similarity[f.ID]
		}
		if f.ID == original.file.ID {
			role = domain.RoleOriginal
			sim = 1.0
		}
		members = append(members, domain.GroupMember{FileID: f.ID, Role: role, Similarity: sim})
	}

	groupID, err := e.store.CreateGroup(tier, confidence, members)
	if err != nil {
		return 0, err
	}
	if err := e.applyActiveOverride(groupID, files, similarity); err != nil {
		return 0, err
	}
	return groupID, nil
}

// applyActiveOverride replaces the computed original with an active
// override's chosen file, if one already exists for groupID and names a
// file that is a member of this group.
func (e *Engine) applyActiveOverride(groupID int64, files []domain.File, similarity map[int64]float64) error {
	ov, ok, err := e.store.ActiveOverride(groupID)
	if err != nil {
		return fmt.Errorf("grouping: active override group=%d: %w", groupID, err)
	}
	if !ok {
		return nil
	}
	var chosenPresent bool
	for _, f := range files {
		if f.ID == ov.ChosenFile {
			chosenPresent = true
			break
		}
	}
	if !chosenPresent {
		return nil
	}
	for _, f := range files {
		sim := 1.0
		if similarity != nil {
			if s, ok := similarity[f.ID]; ok {
				sim = s
			}
		}
		role := domain.RoleDuplicate
		if f.ID == ov.ChosenFile {
			role = domain.RoleOriginal
			sim = 1.0
		}
		if err := e.store.SetMemberRole(groupID, f.ID, role, sim, "override applied at grouping"); err != nil {
			return fmt.Errorf("grouping: set member role group=%d file=%d: %w", groupID, f.ID, err)
		}
	}
	return nil
}

// exactBucket is one candidate tier-1 group together with the confidence it
// was formed with (spec §4.7 Tier 1): 1.0 when strong-hash confirmation
// subdivided it, 0.95 when the fast-hash bucket was accepted as-is.
type exactBucket struct {
	files      []domain.File
	confidence float64
}

// bucketExact groups files by (size, fast_hash), optionally subdivided by
// strong_hash when the setting requires content confirmation beyond the
// fast rolling hash. Files without a fast hash yet (feature extraction still
// pending) each sit alone in their own single-element bucket, which Run
// then naturally folds into the near-duplicate candidate pool.
func (e *Engine) bucketExact(files []domain.File) (buckets []exactBucket) {
	type key struct {
		size int64
		hash uint64
	}
	byKey := map[key][]domain.File{}
	var noHash []domain.File
	for _, f := range files {
		if f.FastHash == nil {
			noHash = append(noHash, f)
			continue
		}
		k := key{size: f.Size, hash: *f.FastHash}
		byKey[k] = append(byKey[k], f)
	}

	for _, bucket := range byKey {
		if len(bucket) < 2 || !e.settings.EnableStrongHashConfirmation {
			buckets = append(buckets, exactBucket{files: bucket, confidence: 0.95})
			continue
		}
		for _, sub := range subdivideByStrongHash(bucket) {
			buckets = append(buckets, exactBucket{files: sub, confidence: 1.0})
		}
	}
	for _, f := range noHash {
		buckets = append(buckets, exactBucket{files: []domain.File{f}, confidence: 0.95})
	}
	return buckets
}

func subdivideByStrongHash(bucket []domain.File) [][]domain.File {
	byStrong := map[string][]domain.File{}
	var noStrong []domain.File
	for _, f := range bucket {
		if len(f.StrongHash) == 0 {
			noStrong = append(noStrong, f)
			continue
		}
		byStrong[string(f.StrongHash)] = append(byStrong[string(f.StrongHash)], f)
	}
	var out [][]domain.File
	for _, sub := range byStrong {
		out = append(out, sub)
	}
	if len(noStrong) > 0 {
		out = append(out, noStrong)
	}
	return out
}

// sortFilesByID gives bucket iteration a deterministic order, since map
// iteration order is not stable and downstream grouping must be
// reproducible run to run.
func sortFilesByID(files []domain.File) {
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
}
