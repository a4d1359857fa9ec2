// Package escalation promotes a Group's `duplicate` members to
// `safe_duplicate` once they pass the size/time/camera predicates in
// spec §4.8, and reverses the promotion if a later run finds the
// predicates no longer hold (the original changed, or the member's own
// file/metadata changed). There is no antecedent for this component in the
// reference pack — it is a small, self-contained policy pass written
// directly against internal/store's GroupMember rows, following the
// teacher's sentinel-error-wrapped Store-operation style throughout.
package escalation

import (
	"fmt"

	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/settings"
)

// Store is the subset of *store.Store the Escalation Engine needs.
type Store interface {
	ListGroups(tier *domain.Tier) ([]domain.Group, error)
	GroupMembers(groupID int64) ([]domain.GroupMember, error)
	GetFile(id int64) (domain.File, error)
	GetFeature(fileID int64) (domain.Feature, bool, error)
	SetMemberRole(groupID, fileID int64, role domain.Role, similarity float64, note string) error
}

// Engine runs one escalation pass over every group.
type Engine struct {
	store    Store
	settings settings.Settings
}

// New returns an Escalation Engine bound to a store.
func New(store Store, s settings.Settings) *Engine {
	return &Engine{store: store, settings: s}
}

// Result summarizes one Run.
type Result struct {
	Promoted   int
	Downgraded int
}

// Run recomputes the role of every non-original member of every group.
// Transitions are idempotent: a member whose desired role matches its
// current role is left untouched (spec §4.8 "already-safe_duplicate rows
// are left alone").
func (e *Engine) Run() (Result, error) {
	groups, err := e.store.ListGroups(nil)
	if err != nil {
		return Result{}, fmt.Errorf("escalation: list groups: %w", err)
	}

	var result Result
	for _, g := range groups {
		members, err := e.store.GroupMembers(g.ID)
		if err != nil {
			return result, fmt.Errorf("escalation: members group=%d: %w", g.ID, err)
		}

		var original *domain.GroupMember
		for i := range members {
			if members[i].Role == domain.RoleOriginal {
				original = &members[i]
				break
			}
		}
		if original == nil {
			continue // malformed group, nothing to escalate against
		}

		origFile, err := e.store.GetFile(original.FileID)
		if err != nil {
			return result, fmt.Errorf("escalation: load original file=%d: %w", original.FileID, err)
		}
		origFeat, _, err := e.store.GetFeature(original.FileID)
		if err != nil {
			return result, fmt.Errorf("escalation: load original feature=%d: %w", original.FileID, err)
		}

		for _, m := range members {
			if m.Role == domain.RoleOriginal {
				continue
			}
			file, err := e.store.GetFile(m.FileID)
			if err != nil {
				return result, fmt.Errorf("escalation: load file=%d: %w", m.FileID, err)
			}
			feat, _, err := e.store.GetFeature(m.FileID)
			if err != nil {
				return result, fmt.Errorf("escalation: load feature=%d: %w", m.FileID, err)
			}

			matched, note := e.evaluate(origFile, origFeat, file, feat)
			desired := domain.RoleDuplicate
			if matched {
				desired = domain.RoleSafeDuplicate
			}
			if desired == m.Role {
				continue
			}
			if err := e.store.SetMemberRole(g.ID, m.FileID, desired, m.Similarity, note); err != nil {
				return result, fmt.Errorf("escalation: set role group=%d file=%d: %w", g.ID, m.FileID, err)
			}
			if desired == domain.RoleSafeDuplicate {
				result.Promoted++
			} else {
				result.Downgraded++
			}
		}
	}
	return result, nil
}

// evaluate runs the three spec §4.8 predicates and, if all hold, returns a
// note summarizing which matched.
func (e *Engine) evaluate(origFile domain.File, origFeat domain.Feature, file domain.File, feat domain.Feature) (bool, string) {
	sizeOK := sizeMatch(origFile, file)
	timeOK := timeMatch(origFeat, feat, e.settings.DatetimeToleranceSeconds, e.settings.StrictModeRequireEXIFDatetimeMatch)
	cameraOK := cameraMatch(origFeat, feat, e.settings.EnableCameraModelCheck)

	if sizeOK && timeOK && cameraOK {
		return true, "size_match,time_match,camera_match"
	}
	return false, ""
}

func sizeMatch(a, b domain.File) bool {
	return a.Size == b.Size
}

func timeMatch(a, b domain.Feature, toleranceSeconds float64, strictEXIF bool) bool {
	if a.CaptureTime == nil && b.CaptureTime == nil {
		return !strictEXIF
	}
	if a.CaptureTime == nil || b.CaptureTime == nil {
		return false
	}
	diff := a.CaptureTime.Sub(*b.CaptureTime).Seconds()
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceSeconds
}

func cameraMatch(a, b domain.Feature, enabled bool) bool {
	if !enabled {
		return true
	}
	if a.CameraModel == "" && b.CameraModel == "" {
		return true
	}
	if a.CameraModel == "" || b.CameraModel == "" {
		return false
	}
	return a.CameraModel == b.CameraModel
}
