package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
)

// VisitFunc receives each candidate in traversal order. Returning false
// stops the scan without visiting further entries.
type VisitFunc func(Candidate) bool

// DirObserver is invoked once a directory's own entries are fully listed,
// before descending into its subdirectories. The checkpoint store hangs off
// this hook.
type DirObserver func(relDir string)

// Options tune a single scan pass.
type Options struct {
	// ResumeAfter is the canonical relative path of the last directory a
	// previous pass completed. Directories up to and including it are
	// traversed without yielding candidates.
	ResumeAfter string
	// Observer, when set, is called after each completed directory.
	Observer DirObserver
}

// Scanner enumerates candidate files under configured roots. All roots must
// nest under the mount boundary; validation happens before any traversal.
type Scanner struct {
	mountBoundary string
	counters      *Counters
}

// NewScanner creates a scanner reporting into counters.
func NewScanner(mountBoundary string, counters *Counters) *Scanner {
	return &Scanner{
		mountBoundary: filepath.Clean(mountBoundary),
		counters:      counters,
	}
}

// ValidateRoots checks every root before traversal starts, incrementing a
// per-failure counter for each invalid root. Scanning must not begin while
// any root is invalid, so any failure returns an error.
func (s *Scanner) ValidateRoots(roots []string) error {
	if len(roots) == 0 {
		return fmt.Errorf("no scan roots configured")
	}

	var invalid []string
	for _, root := range roots {
		if err := s.validateRoot(root); err != nil {
			logging.Warn("scan root %s rejected: %v", root, err)
			invalid = append(invalid, root)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid scan roots: %s", strings.Join(invalid, ", "))
	}
	return nil
}

func (s *Scanner) validateRoot(root string) error {
	clean := filepath.Clean(root)
	if !s.underBoundary(clean) {
		s.counters.RootsOutsideBoundary.Add(1)
		return fmt.Errorf("outside mount boundary %s", s.mountBoundary)
	}

	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			s.counters.RootsMissing.Add(1)
			return fmt.Errorf("missing: %w", err)
		}
		s.counters.RootsUnreadable.Add(1)
		return fmt.Errorf("unreadable: %w", err)
	}
	if !info.IsDir() {
		s.counters.RootsNotDirectory.Add(1)
		return fmt.Errorf("not a directory")
	}

	if _, err := os.ReadDir(clean); err != nil {
		s.counters.RootsUnreadable.Add(1)
		return fmt.Errorf("unreadable: %w", err)
	}
	return nil
}

func (s *Scanner) underBoundary(path string) bool {
	if path == s.mountBoundary {
		return true
	}
	return strings.HasPrefix(path, s.mountBoundary+string(filepath.Separator))
}

// Canonical converts an absolute path under the mount boundary into the
// catalog's canonical relative form.
func (s *Scanner) Canonical(abs string) string {
	rel, err := filepath.Rel(s.mountBoundary, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Scan traverses the roots depth-first in order, yielding one candidate at a
// time. Cancellation is cooperative: the context is consulted before each
// directory and before each entry, and once signaled the walk stops without
// finishing the current directory. The returned error is ctx.Err() on
// cancellation and nil otherwise; per-entry failures are counted, never
// returned.
func (s *Scanner) Scan(ctx context.Context, roots []string, opts Options, visit VisitFunc) error {
	st := &walkState{
		resuming: opts.ResumeAfter != "",
		resumeAt: opts.ResumeAfter,
	}

	for _, root := range roots {
		if !s.walkDir(ctx, filepath.Clean(root), opts, st, visit) {
			break
		}
	}

	if st.resuming && st.resumeAt != "" && ctx.Err() == nil {
		// The checkpointed directory never showed up; the tree changed
		// between sessions and the skip pass yielded nothing. Fall back to
		// a full pass rather than completing empty.
		logging.Warn("checkpoint directory %s not found; rescanning from the start", st.resumeAt)
		full := &walkState{}
		for _, root := range roots {
			if !s.walkDir(ctx, filepath.Clean(root), opts, full, visit) {
				break
			}
		}
	}

	return ctx.Err()
}

type walkState struct {
	resuming bool
	resumeAt string
	stopped  bool
}

// walkDir returns false once traversal must stop (cancellation or the visit
// function asked to).
func (s *Scanner) walkDir(ctx context.Context, absDir string, opts Options, st *walkState, visit VisitFunc) bool {
	if ctx.Err() != nil {
		return false
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		// Permission problems (and any other listing failure) skip the
		// subtree; the scan itself continues.
		s.counters.PermissionErrors.Add(1)
		metrics.ScanErrors.WithLabelValues("permission").Inc()
		logging.Warn("cannot list %s: %v", absDir, err)
		return true
	}

	relDir := s.Canonical(absDir)
	var subdirs []string

	for _, entry := range entries {
		if ctx.Err() != nil {
			return false
		}

		name := entry.Name()
		full := filepath.Join(absDir, name)

		// Symbolic links are never followed, whether they point at files
		// or directories.
		if entry.Type()&fs.ModeSymlink != 0 {
			s.counters.SymlinksSkipped.Add(1)
			continue
		}

		if entry.IsDir() {
			subdirs = append(subdirs, full)
			continue
		}

		kind, ok := KindForFilename(name)
		if !ok {
			continue
		}

		if st.resuming {
			continue
		}

		s.counters.FilesChecked.Add(1)
		info, err := entry.Info()
		if err != nil {
			s.counters.StatErrors.Add(1)
			metrics.ScanErrors.WithLabelValues("stat").Inc()
			logging.Warn("cannot stat %s: %v", full, err)
			continue
		}

		s.counters.FilesFound.Add(1)
		metrics.ScanFilesFound.Inc()

		if !visit(Candidate{
			AbsolutePath: full,
			RelativePath: s.Canonical(full),
			Filename:     name,
			Kind:         kind,
			Size:         info.Size(),
			ModifiedAt:   info.ModTime(),
		}) {
			return false
		}
	}

	if st.resuming {
		s.counters.DirsSkipped.Add(1)
		if relDir == st.resumeAt {
			st.resuming = false
		}
	} else {
		s.counters.DirsScanned.Add(1)
		if opts.Observer != nil {
			opts.Observer(relDir)
		}
	}

	for _, sub := range subdirs {
		if !s.walkDir(ctx, sub, opts, st, visit) {
			return false
		}
	}
	return true
}
