// Package scanner discovers image files under configured roots and
// reconciles them against the Store (spec §4.4). Its directory-walking
// shape — semaphore-bounded fan-out over subdirectories, a single collector
// goroutine, atomic progress counters — is adapted directly from
// ivoronin-dupedog's internal/scanner; what changed is the destination of a
// matched file: instead of filtering by size into a result slice for a
// downstream verifier, each match is reconciled against the Store's files
// table through the shared worker pool.
package scanner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/localphoto/photodedupe/internal/concurrency"
	"github.com/localphoto/photodedupe/internal/domain"
	"github.com/localphoto/photodedupe/internal/pool"
	"github.com/localphoto/photodedupe/internal/progress"
)

// Store is the subset of *store.Store the scanner needs, kept as an
// interface so scanner tests can substitute a fake.
type Store interface {
	ReconcileFile(path string, size int64, modTime time.Time) (domain.File, bool, error)
	MarkMissing(seenPaths map[string]bool, roots []string) error
}

// Scanner walks a set of root directories and reconciles every matched file
// against the Store.
//
// Designed for single use: create with New, call Scan once.
type Scanner struct {
	roots        []string
	includes     []string // glob patterns; empty means "match everything"
	excludes     []string // glob patterns checked after includes
	dirWorkers   int
	showProgress bool
	errCh        chan error
	store        Store
	pool         *pool.Pool

	walkerWg  sync.WaitGroup
	walkerSem concurrency.Semaphore
	reconcile sync.WaitGroup
	stats     *stats
	bar       *progress.Bar

	seenMu   sync.Mutex
	seen     map[string]bool
	needMu   sync.Mutex
	needFeat []domain.File
}

// New creates a Scanner. dirWorkers bounds concurrent directory reads,
// independent of the pool's ThreadCap (the pool governs the heavier
// reconcile/hash work submitted per file).
func New(roots, includes, excludes []string, dirWorkers int, showProgress bool, errCh chan error, store Store, p *pool.Pool) *Scanner {
	return &Scanner{
		roots:        roots,
		includes:     includes,
		excludes:     excludes,
		dirWorkers:   dirWorkers,
		showProgress: showProgress,
		errCh:        errCh,
		store:        store,
		pool:         p,
	}
}

type stats struct {
	scannedFiles  atomic.Int64
	matchedFiles  atomic.Int64
	insertedFiles atomic.Int64
	changedFiles  atomic.Int64
	startTime     time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %s files, matched %d, inserted %d, changed %d in %.1fs",
		humanize.Comma(s.scannedFiles.Load()), s.matchedFiles.Load(),
		s.insertedFiles.Load(), s.changedFiles.Load(), time.Since(s.startTime).Seconds())
}

// Result summarizes one Scan invocation.
type Result struct {
	ScannedFiles  int64
	MatchedFiles  int64
	InsertedFiles int64
	ChangedFiles  int64
	NeedsFeatures []domain.File // files the Feature Extractor must now process
}

// Scan walks every root, reconciling matched files against the Store, then
// marks any previously-known path under the roots that was not seen this
// pass as missing (spec §4.4).
func (s *Scanner) Scan() (Result, error) {
	s.walkerSem = concurrency.NewSemaphore(s.dirWorkers)
	s.bar = progress.New(s.showProgress, -1)
	s.stats = &stats{startTime: time.Now()}
	s.bar.Describe(s.stats)
	s.seen = make(map[string]bool)

	absRoots := make([]string, 0, len(s.roots))
	for _, root := range s.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			s.sendError(fmt.Errorf("%w: resolve root %s: %w", domain.ErrScan, root, err))
			continue
		}
		absRoots = append(absRoots, abs)
		s.walkDirectory(abs)
	}

	s.walkerWg.Wait()   // directory tree fully enumerated
	s.reconcile.Wait()  // every matched file reconciled against the store
	s.bar.Finish(s.stats)

	if err := s.store.MarkMissing(s.snapshotSeen(), absRoots); err != nil {
		return Result{}, err
	}

	return Result{
		ScannedFiles:  s.stats.scannedFiles.Load(),
		MatchedFiles:  s.stats.matchedFiles.Load(),
		InsertedFiles: s.stats.insertedFiles.Load(),
		ChangedFiles:  s.stats.changedFiles.Load(),
		NeedsFeatures: s.needFeat,
	}, nil
}

func (s *Scanner) walkDirectory(dir string) {
	s.walkerWg.Add(1)
	go func() {
		defer s.walkerWg.Done()

		s.walkerSem.Acquire()
		files, subdirs, err := s.listDirectory(dir)
		s.walkerSem.Release()
		if err != nil {
			s.sendError(fmt.Errorf("%w: read dir %s: %w", domain.ErrScan, dir, err))
			return
		}

		for _, f := range files {
			s.stats.scannedFiles.Add(1)
			if !s.matches(f.path) {
				continue
			}
			s.stats.matchedFiles.Add(1)
			s.markSeen(f.path)
			s.submitReconcile(f.path, f.size, f.modTime)
		}
		s.bar.Describe(s.stats)

		for _, sub := range subdirs {
			s.walkDirectory(sub)
		}
	}()
}

func (s *Scanner) submitReconcile(path string, size int64, modTime time.Time) {
	s.reconcile.Add(1)
	task := pool.Task{
		Category: "scan",
		Priority: pool.PriorityNormal,
		Fn: func(ctx context.Context) error {
			defer s.reconcile.Done()
			file, needsFeatures, err := s.store.ReconcileFile(path, size, modTime)
			if err != nil {
				s.sendError(err)
				return err
			}
			if needsFeatures {
				if file.DiscoveredAt.IsZero() {
					s.stats.changedFiles.Add(1)
				} else {
					s.stats.insertedFiles.Add(1)
				}
				s.needMu.Lock()
				s.needFeat = append(s.needFeat, file)
				s.needMu.Unlock()
			}
			return nil
		},
	}
	if s.pool != nil {
		if err := s.pool.Submit(task); err != nil {
			s.reconcile.Done()
			s.sendError(err)
		}
		return
	}
	// No pool configured (e.g. unit tests): run inline.
	_ = task.Fn(context.Background())
}

type walkedFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (s *Scanner) listDirectory(dirPath string) (files []walkedFile, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, readErr := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if readErr != nil && readErr != io.EOF {
				return files, subdirs, readErr
			}
			break
		}
		for _, entry := range entries {
			full := filepath.Join(dirPath, entry.Name())
			if entry.IsDir() {
				subdirs = append(subdirs, full)
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, walkedFile{path: full, size: info.Size(), modTime: info.ModTime()})
		}
	}
	return files, subdirs, nil
}

// matches applies the include list (if non-empty, at least one pattern must
// match) then the exclude list (if any pattern matches, the file is
// rejected), per spec §4.4's "two ordered include/exclude glob lists".
func (s *Scanner) matches(path string) bool {
	base := filepath.Base(path)
	if len(s.includes) > 0 {
		matched := false
		for _, pattern := range s.includes {
			if ok, _ := filepath.Match(pattern, base); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range s.excludes {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}
	return true
}

func (s *Scanner) markSeen(path string) {
	s.seenMu.Lock()
	s.seen[path] = true
	s.seenMu.Unlock()
}

func (s *Scanner) snapshotSeen() map[string]bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	out := make(map[string]bool, len(s.seen))
	for k, v := range s.seen {
		out[k] = v
	}
	return out
}

func (s *Scanner) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}
