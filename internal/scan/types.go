// Package scan discovers design-asset files on network-attached storage.
//
// Traversal is sequential depth-first per root with deterministic ordering,
// which keeps error bookkeeping reproducible and makes the per-directory
// checkpoint meaningful across restarts.
package scan

import (
	"path/filepath"
	"strings"
	"time"
)

// FormatKind distinguishes the two supported asset formats on the wire.
type FormatKind string

const (
	// FormatA is the layered raster format (.psd).
	FormatA FormatKind = "formatA"
	// FormatB is the vector/print format (.ai).
	FormatB FormatKind = "formatB"
)

// KindForFilename maps a filename to its format by extension,
// case-insensitively. The second return is false for unsupported files.
func KindForFilename(name string) (FormatKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".psd":
		return FormatA, true
	case ".ai":
		return FormatB, true
	default:
		return "", false
	}
}

// Candidate is a discovered file that matched a supported extension and
// passed stat. Candidates are immutable and live only for the scan pass.
type Candidate struct {
	AbsolutePath string
	// RelativePath is the canonical catalog path: the mount-boundary prefix
	// stripped, forward slashes, no leading separator.
	RelativePath string
	Filename     string
	Kind         FormatKind
	Size         int64
	ModifiedAt   time.Time
	// CreatedAt is nil where the filesystem does not expose a birth time.
	CreatedAt *time.Time
}
