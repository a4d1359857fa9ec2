// Package rescan orchestrates one end-to-end pipeline pass: Scanner,
// Feature Extractor, BK-tree index maintenance, Grouping Engine, and
// Escalation Engine, in the three modes spec §4.10 defines (Delta,
// Missing-features, Full-rebuild). Its throttled-progress-callback idiom —
// never invoking the caller more than once per update interval — is
// grounded on the teacher's internal/progress.Bar, which wraps
// schollz/progressbar/v3's OptionThrottle the same way; here it is
// generalized from "render a bar" to "call an arbitrary callback".
package rescan

import (
	"fmt"
	"sync"
	"time"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/escalation"
	"github.com/localphoto/photodedupe/internal/feature"
	"github.com/localphoto/photodedupe/internal/grouping"
	"github.com/localphoto/photodedupe/internal/scanner"
	"github.com/localphoto/photodedupe/internal/settings"
	"github.com/localphoto/photodedupe/internal/store"
)

// Mode selects which of the three rescan strategies spec §4.10 defines to
// run.
type Mode int

const (
	ModeDelta Mode = iota
	ModeMissingFeatures
	ModeFullRebuild
)

func (m Mode) String() string {
	switch m {
	case ModeMissingFeatures:
		return "missing_features"
	case ModeFullRebuild:
		return "full_rebuild"
	default:
		return "delta"
	}
}

// RecommendMode applies the mode-selection thresholds spec §4.10 implies
// from Rescan's rationale: at least 95% of files already featured means a
// cheap Delta pass suffices, 50-95% calls for a direct Missing-features
// sweep, and below that (or on a schema change, which the caller signals by
// passing schemaChanged=true) the dataset needs a Full-rebuild.
func RecommendMode(totalFiles, featuredFiles int, schemaChanged bool) Mode {
	if schemaChanged {
		return ModeFullRebuild
	}
	if totalFiles == 0 {
		return ModeDelta
	}
	ratio := float64(featuredFiles) / float64(totalFiles)
	switch {
	case ratio >= 0.95:
		return ModeDelta
	case ratio >= 0.50:
		return ModeMissingFeatures
	default:
		return ModeFullRebuild
	}
}

// ScannerRunner is the subset of *scanner.Scanner the coordinator needs.
type ScannerRunner interface {
	Scan() (scanner.Result, error)
}

// Index is the subset of *bktree.Index the coordinator needs.
type Index interface {
	BuildFromStore(src interface {
		AllFeatures() ([]domain.Feature, error)
	}) error
	Insert(f domain.Feature)
	NeedsRebuild() bool
}

// GroupingRunner is the subset of *grouping.Engine the coordinator needs.
type GroupingRunner interface {
	Run() (grouping.Result, error)
}

// EscalationRunner is the subset of *escalation.Engine the coordinator needs.
type EscalationRunner interface {
	Run() (escalation.Result, error)
}

// OverrideRunner is the subset of *override.Manager the coordinator needs to
// reap overrides whose chosen file has vanished (spec §4.9 "reap_orphans").
type OverrideRunner interface {
	ReapOrphans() (int, error)
}

// Store is the subset of *store.Store the coordinator needs directly
// (beyond what it hands to Scanner/Grouping/Escalation internally).
type Store interface {
	FilesNeedingFeatures() ([]domain.File, error)
	GetFile(id int64) (domain.File, error)
	GetFileByPath(path string) (domain.File, bool, error)
	SetFastHash(fileID int64, hash uint64) error
	SetStrongHash(fileID int64, hash []byte) error
	SetUnprocessable(fileID int64, unprocessable bool) error
	PutFeature(f domain.Feature) error
	GetFeature(fileID int64) (domain.Feature, bool, error)
	CountFiles() (int, error)
	CountFilesWithFeatures() (int, error)
	TruncateForFullRebuild() error
	SnapshotGroups() ([]store.GroupSnapshot, error)
	SnapshotOverrides() ([]store.OverrideSnapshot, error)
	GroupIDForFile(fileID int64) (int64, bool, error)
	PutOverride(o domain.ManualOverride) (int64, error)
	AllFeatures() ([]domain.Feature, error)
	GroupMembers(groupID int64) ([]domain.GroupMember, error)
	SetMemberRole(groupID, fileID int64, role domain.Role, similarity float64, note string) error
}

// Progress is one throttled status update delivered to the caller's
// callback during a Run.
type Progress struct {
	Stage     string // "scan", "features", "index", "grouping", "escalation"
	Processed int
	Total     int
}

// Coordinator wires the whole pipeline together for one Run call.
type Coordinator struct {
	store      Store
	newScanner func() ScannerRunner
	index      Index
	grouping   GroupingRunner
	escalation EscalationRunner
	overrides  OverrideRunner
	settings   settings.Settings

	progressMu   sync.Mutex
	lastProgress time.Time
}

const progressThrottle = 100 * time.Millisecond

// New builds a Coordinator. newScanner is a factory rather than a fixed
// instance because Scanner is single-use (spec §4.4); the coordinator
// calls it fresh for every Run.
func New(st Store, newScanner func() ScannerRunner, index Index, g GroupingRunner, e EscalationRunner, overrides OverrideRunner, s settings.Settings) *Coordinator {
	return &Coordinator{store: st, newScanner: newScanner, index: index, grouping: g, escalation: e, overrides: overrides, settings: s}
}

// Result summarizes one Run across every stage.
type Result struct {
	Mode                   Mode
	ScanResult             scanner.Result
	FeaturesExtracted      int
	FeaturesFailed         int
	Grouping               grouping.Result
	Escalation             escalation.Result
	MissingOverrideTargets int // overrides deactivated because their chosen file vanished (spec §7 MissingOverrideTarget)
}

// Run executes one full pipeline pass in the given mode, reporting
// progress no more than once per 100ms via report (report may be nil).
func (c *Coordinator) Run(mode Mode, report func(Progress)) (Result, error) {
	result := Result{Mode: mode}
	emit := c.throttled(report)

	var groupSnapshot []store.GroupSnapshot
	var overrideSnapshot []store.OverrideSnapshot
	if mode == ModeFullRebuild {
		var err error
		groupSnapshot, err = c.store.SnapshotGroups()
		if err != nil {
			return result, fmt.Errorf("rescan: snapshot groups: %w", err)
		}
		overrideSnapshot, err = c.store.SnapshotOverrides()
		if err != nil {
			return result, fmt.Errorf("rescan: snapshot overrides: %w", err)
		}
		if err := c.store.TruncateForFullRebuild(); err != nil {
			return result, fmt.Errorf("rescan: truncate for full rebuild: %w", err)
		}
	}

	var needsFeatures []domain.File
	if mode == ModeMissingFeatures {
		var err error
		needsFeatures, err = c.store.FilesNeedingFeatures()
		if err != nil {
			return result, fmt.Errorf("rescan: files needing features: %w", err)
		}
	} else {
		scanResult, err := c.newScanner().Scan()
		if err != nil {
			return result, fmt.Errorf("rescan: scan: %w", err)
		}
		result.ScanResult = scanResult
		needsFeatures = scanResult.NeedsFeatures
	}
	emit("scan", len(needsFeatures), len(needsFeatures))

	for i, f := range needsFeatures {
		if err := c.extractOne(f); err != nil {
			result.FeaturesFailed++
		} else {
			result.FeaturesExtracted++
			if feat, ok, err := c.store.GetFeature(f.ID); err == nil && ok {
				c.index.Insert(feat)
			}
		}
		emit("features", i+1, len(needsFeatures))
	}

	if c.index.NeedsRebuild() {
		if err := c.index.BuildFromStore(indexSource{c.store}); err != nil {
			return result, fmt.Errorf("rescan: rebuild index: %w", err)
		}
	}
	emit("index", 1, 1)

	groupResult, err := c.grouping.Run()
	if err != nil {
		return result, fmt.Errorf("rescan: grouping: %w", err)
	}
	result.Grouping = groupResult
	emit("grouping", 1, 1)

	escResult, err := c.escalation.Run()
	if err != nil {
		return result, fmt.Errorf("rescan: escalation: %w", err)
	}
	result.Escalation = escResult
	emit("escalation", 1, 1)

	if mode == ModeFullRebuild {
		c.restoreOverrides(overrideSnapshot)
		_ = groupSnapshot // group hints are not re-seeded; Grouping already recomputed them from scratch
	}

	reaped, err := c.overrides.ReapOrphans()
	if err != nil {
		return result, fmt.Errorf("rescan: reap orphan overrides: %w", err)
	}
	result.MissingOverrideTargets = reaped

	return result, nil
}

type indexSource struct{ store Store }

func (s indexSource) AllFeatures() ([]domain.Feature, error) { return s.store.AllFeatures() }

// extractOne runs the Feature Extractor for a single file and persists the
// result, including the strong hash of every extracted file when
// confirmation is enabled (spec §4.5). A decode failure marks the file unprocessable rather than
// failing the whole run.
func (c *Coordinator) extractOne(f domain.File) error {
	opts := feature.Options{
		MaxDecodeSidePixels: c.settings.MaxDecodeSidePixels,
		SkipRawFormats:      c.settings.SkipRawFormats,
		SkipTiffFormats:     c.settings.SkipTiffFormats,
	}
	res, err := feature.Extract(f.Path, opts)
	if err != nil {
		_ = c.store.SetUnprocessable(f.ID, true)
		return err
	}

	if err := c.store.SetFastHash(f.ID, res.FastHash); err != nil {
		return err
	}
	if c.settings.EnableStrongHashConfirmation {
		if strong, err := feature.StrongContentHash(f.Path); err == nil {
			_ = c.store.SetStrongHash(f.ID, strong)
		}
	}

	res.Feature.FileID = f.ID
	res.Feature.GeneratedAt = time.Now().UTC()
	return c.store.PutFeature(res.Feature)
}

// restoreOverrides remaps snapshotted overrides onto the freshly rebuilt
// file/group ids by path, dropping any whose chosen file no longer exists
// (spec §4.10 "overrides for paths that no longer exist are dropped"), and
// swaps each restored group's member roles so the chosen file is Original
// immediately rather than waiting for the next grouping pass.
func (c *Coordinator) restoreOverrides(snapshots []store.OverrideSnapshot) {
	for _, snap := range snapshots {
		chosen, ok, err := c.store.GetFileByPath(snap.ChosenPath)
		if err != nil || !ok {
			continue
		}
		groupID, ok, err := c.store.GroupIDForFile(chosen.ID)
		if err != nil || !ok {
			continue
		}
		auto, ok, err := c.store.GetFileByPath(snap.AutoPath)
		autoID := chosen.ID
		if err == nil && ok {
			autoID = auto.ID
		}
		if _, err := c.store.PutOverride(domain.ManualOverride{
			GroupID: groupID, ChosenFile: chosen.ID, AutoPicked: autoID,
			Type: snap.Type, Reason: snap.Reason, Note: snap.Note,
		}); err != nil {
			continue
		}
		c.promoteGroupMember(groupID, chosen.ID)
	}
}

// promoteGroupMember flips a group's member roles so fileID is Original and
// whichever member currently holds that role becomes Duplicate.
func (c *Coordinator) promoteGroupMember(groupID, fileID int64) {
	members, err := c.store.GroupMembers(groupID)
	if err != nil {
		return
	}
	for _, mem := range members {
		switch {
		case mem.FileID == fileID && mem.Role != domain.RoleOriginal:
			_ = c.store.SetMemberRole(groupID, mem.FileID, domain.RoleOriginal, 1.0, "manual override restored")
		case mem.FileID != fileID && mem.Role == domain.RoleOriginal:
			_ = c.store.SetMemberRole(groupID, mem.FileID, domain.RoleDuplicate, mem.Similarity, "superseded by restored override")
		}
	}
}

func (c *Coordinator) throttled(report func(Progress)) func(stage string, processed, total int) {
	return func(stage string, processed, total int) {
		if report == nil {
			return
		}
		c.progressMu.Lock()
		defer c.progressMu.Unlock()
		now := time.Now()
		if processed != total && now.Sub(c.lastProgress) < progressThrottle {
			return
		}
		c.lastProgress = now
		report(Progress{Stage: stage, Processed: processed, Total: total})
	}
}
