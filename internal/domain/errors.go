package domain

import "errors"

// Sentinel error kinds (spec §7). Component packages wrap these with
// fmt.Errorf("...: %w", ErrX) so callers can classify failures with
// errors.Is while still getting a descriptive message, the same idiom the
// teacher uses throughout internal/deduper and internal/cache.
var (
	// ErrConfiguration covers malformed settings or an unknown preset.
	// Fatal to the pipeline invocation; surfaced at start, the pipeline
	// refuses to run.
	ErrConfiguration = errors.New("configuration error")

	// ErrStore covers database open/migration/transaction failure. Fatal;
	// the pipeline aborts and the store is left consistent by rollback.
	ErrStore = errors.New("store error")

	// ErrScan is per-entry: permission denied, path not found. Logged,
	// scan continues, the entry is skipped.
	ErrScan = errors.New("scan error")

	// ErrUnprocessableFile covers unsupported format, corrupt image, or
	// EXIF parse failure. Recorded on the File row; skipped by grouping
	// until size/mtime changes.
	ErrUnprocessableFile = errors.New("unprocessable file")

	// ErrTransientIO is retried a bounded number of times within a task;
	// on exhaustion it becomes ErrUnprocessableFile for the current run.
	ErrTransientIO = errors.New("transient i/o error")
)
