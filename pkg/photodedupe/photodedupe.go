// Package photodedupe is the public façade over the photo deduplication
// pipeline (spec §6): a thin wrapper with no business logic of its own,
// exposing OpenStore, Migrate, RunPipeline, RunPipelineMode, ListGroups,
// ApplyOverride, RemoveOverride, DetectConflicts, MetricsHandler and Close,
// plus pass-throughs to the Worker Pool's Submit/Pause/Resume/Stop/Stats.
// Every internal component
// (scanner, feature extractor, BK-tree index, grouping, escalation,
// override, rescan) is wired together here and nowhere else is allowed to
// reach into them directly from outside internal/.
package photodedupe

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localphoto/photodedupe/internal/bktree"
	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/escalation"
	"github.com/localphoto/photodedupe/internal/grouping"
	"github.com/localphoto/photodedupe/internal/metrics"
	"github.com/localphoto/photodedupe/internal/override"
	"github.com/localphoto/photodedupe/internal/pool"
	"github.com/localphoto/photodedupe/internal/rescan"
	"github.com/localphoto/photodedupe/internal/scanner"
	"github.com/localphoto/photodedupe/internal/settings"
	"github.com/localphoto/photodedupe/internal/store"
)

// Engine bundles an open Store with the components that run against it and
// is the handle every façade function operates on.
type Engine struct {
	store      *store.Store
	settings   settings.Settings
	index      *bktree.Index
	pool       *pool.Pool
	overrides  *override.Manager
	metrics    *metrics.Collector
	roots      []string
	includes   []string
	excludes   []string
	dirWorkers int
}

// OpenStore opens (creating and migrating if absent) the SQLite database at
// path and builds an Engine around it using s. roots/includes/excludes
// configure the Scanner's future RunPipeline calls.
func OpenStore(path string, s settings.Settings, roots, includes, excludes []string) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	monitor := pool.NewInteractionMonitor(s.BackOffEnabled, float64(s.InteractionThresholdEventsPerSec), secondsToDuration(s.InteractionWindowSeconds))
	p := pool.New(s.ThreadCap, s.IOThrottleOpsPerSec, monitor, secondsToDuration(s.BackOffDurationSeconds), nil)
	p.Start()

	return &Engine{
		store:      st,
		settings:   s,
		index:      bktree.NewIndex(),
		pool:       p,
		overrides:  override.New(st),
		metrics:    metrics.NewCollector(),
		roots:      roots,
		includes:   includes,
		excludes:   excludes,
		dirWorkers: s.ThreadCap,
	}, nil
}

// Migrate applies any pending schema migrations. OpenStore already does
// this on open; Migrate exists for callers (such as a CLI subcommand) that
// want to upgrade a database file without starting a pipeline run.
func Migrate(path string) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	return st.Close()
}

// Close releases the Engine's store handle and stops its worker pool.
func (e *Engine) Close() error {
	e.pool.Stop()
	return e.store.Close()
}

// RunPipeline executes one end-to-end rescan in the recommended mode
// (spec §4.10), reporting throttled progress via report (which may be nil).
func (e *Engine) RunPipeline(report func(rescan.Progress)) (rescan.Result, error) {
	total, err := e.store.CountFiles()
	if err != nil {
		return rescan.Result{}, fmt.Errorf("photodedupe: count files: %w", err)
	}
	featured, err := e.store.CountFilesWithFeatures()
	if err != nil {
		return rescan.Result{}, fmt.Errorf("photodedupe: count featured files: %w", err)
	}
	mode := rescan.RecommendMode(total, featured, false)
	return e.RunPipelineMode(mode, report)
}

// RunPipelineMode runs one rescan in an explicitly chosen mode, bypassing
// RecommendMode's heuristic (used by a CLI "--full-rebuild" style flag).
func (e *Engine) RunPipelineMode(mode rescan.Mode, report func(rescan.Progress)) (rescan.Result, error) {
	newScanner := func() rescan.ScannerRunner {
		errCh := make(chan error, 100)
		go func() {
			for range errCh {
			}
		}()
		return scanner.New(e.roots, e.includes, e.excludes, e.dirWorkers, false, errCh, e.store, e.pool)
	}
	g := grouping.New(e.store, e.index, e.settings)
	esc := escalation.New(e.store, e.settings)
	coord := rescan.New(e.store, newScanner, e.index, g, esc, e.overrides, e.settings)
	result, err := coord.Run(mode, report)
	e.metrics.ObserveRun(result)
	e.metrics.ObservePool(e.pool.Stats())
	return result, err
}

// Group is one duplicate group together with its members' file rows, the
// shape ListGroups returns for CLI/UI consumption.
type Group struct {
	domain.Group
	Members []GroupMember
}

// GroupMember pairs a GroupMember row with its File for display.
type GroupMember struct {
	domain.GroupMember
	File domain.File
}

// ListGroups returns every duplicate group of the given tier, or every
// group if tier is nil, each with its members resolved to file rows.
func (e *Engine) ListGroups(tier *domain.Tier) ([]Group, error) {
	groups, err := e.store.ListGroups(tier)
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		members, err := e.store.GroupMembers(g.ID)
		if err != nil {
			return nil, fmt.Errorf("photodedupe: members group=%d: %w", g.ID, err)
		}
		gm := make([]GroupMember, 0, len(members))
		for _, m := range members {
			f, err := e.store.GetFile(m.FileID)
			if err != nil {
				return nil, fmt.Errorf("photodedupe: file=%d: %w", m.FileID, err)
			}
			gm = append(gm, GroupMember{GroupMember: m, File: f})
		}
		out = append(out, Group{Group: g, Members: gm})
	}
	return out, nil
}

// ApplyOverride records a user's choice of original for a group (spec
// §4.9 "put").
func (e *Engine) ApplyOverride(groupID, chosenFile, autoPicked int64, typ domain.OverrideType, reason domain.OverrideReason, note string) (int64, error) {
	return e.overrides.Put(groupID, chosenFile, autoPicked, typ, reason, note)
}

// RemoveOverride clears a group's override, reverting it to automatic
// selection (spec §4.9 "clear").
func (e *Engine) RemoveOverride(groupID int64) error {
	return e.overrides.Clear(groupID)
}

// DetectConflicts reports every group whose active override no longer
// matches what auto-selection would currently pick (spec §4.9).
func (e *Engine) DetectConflicts() ([]domain.ConflictInfo, error) {
	return e.overrides.DetectConflicts()
}

// Submit queues a task on the Engine's Worker Pool.
func (e *Engine) Submit(t pool.Task) error { return e.pool.Submit(t) }

// Pause suspends the Worker Pool's queue processing.
func (e *Engine) Pause() { e.pool.Pause() }

// Resume resumes a paused Worker Pool.
func (e *Engine) Resume() { e.pool.Resume() }

// Stop shuts down the Worker Pool. RunPipeline cannot be called again on
// this Engine afterward; use Close for the usual end-of-process shutdown.
func (e *Engine) Stop() { e.pool.Stop() }

// Stats reports the Worker Pool's current queue/run counters.
func (e *Engine) Stats() pool.Stats { return e.pool.Stats() }

// MetricsHandler returns an http.Handler serving this Engine's Prometheus
// metrics in the standard exposition format, for a CLI's optional
// --metrics-addr listener.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.metrics.Registry, promhttp.HandlerOpts{})
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
