package scan

import "sync/atomic"

// Counters is the per-session accumulator for every scan decision and
// outcome. It is owned by exactly one session, reset at session start and
// flushed over the heartbeat and scanProgress calls. All values increase
// monotonically for the lifetime of the session.
type Counters struct {
	DirsScanned      atomic.Int64
	DirsSkipped      atomic.Int64
	FilesChecked     atomic.Int64
	FilesFound       atomic.Int64
	PermissionErrors atomic.Int64
	StatErrors       atomic.Int64
	HashFailures     atomic.Int64
	SymlinksSkipped  atomic.Int64

	RootsOutsideBoundary atomic.Int64
	RootsMissing         atomic.Int64
	RootsUnreadable      atomic.Int64
	RootsNotDirectory    atomic.Int64

	Created   atomic.Int64
	Updated   atomic.Int64
	Moved     atomic.Int64
	Unchanged atomic.Int64

	PreviewsRendered atomic.Int64
	PreviewFailures  atomic.Int64
	RenderJobsQueued atomic.Int64
	UploadFailures   atomic.Int64
	RPCErrors        atomic.Int64
}

// Snapshot returns the current values keyed by their wire names. The map is
// what heartbeat and scanProgress send; a snapshot taken while the scan runs
// is a consistent-enough view since every field is read atomically.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"dirsScanned":          c.DirsScanned.Load(),
		"dirsSkipped":          c.DirsSkipped.Load(),
		"filesChecked":         c.FilesChecked.Load(),
		"filesFound":           c.FilesFound.Load(),
		"permissionErrors":     c.PermissionErrors.Load(),
		"statErrors":           c.StatErrors.Load(),
		"hashFailures":         c.HashFailures.Load(),
		"symlinksSkipped":      c.SymlinksSkipped.Load(),
		"rootsOutsideBoundary": c.RootsOutsideBoundary.Load(),
		"rootsMissing":         c.RootsMissing.Load(),
		"rootsUnreadable":      c.RootsUnreadable.Load(),
		"rootsNotDirectory":    c.RootsNotDirectory.Load(),
		"created":              c.Created.Load(),
		"updated":              c.Updated.Load(),
		"moved":                c.Moved.Load(),
		"unchanged":            c.Unchanged.Load(),
		"previewsRendered":     c.PreviewsRendered.Load(),
		"previewFailures":      c.PreviewFailures.Load(),
		"renderJobsQueued":     c.RenderJobsQueued.Load(),
		"uploadFailures":       c.UploadFailures.Load(),
		"rpcErrors":            c.RPCErrors.Load(),
	}
}

// InvalidRoots returns the total number of root validation failures.
func (c *Counters) InvalidRoots() int64 {
	return c.RootsOutsideBoundary.Load() +
		c.RootsMissing.Load() +
		c.RootsUnreadable.Load() +
		c.RootsNotDirectory.Load()
}
