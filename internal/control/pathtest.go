package control

import (
	"os"
	"path/filepath"
	"strings"

	"asset-agent/internal/catalog"
)

// ProbePaths checks each requested path against the local mount without
// touching file contents: existence, readability, type, and whether it
// falls inside the configured mount boundary.
func ProbePaths(mountBoundary string, paths []string) []catalog.PathTestResult {
	boundary := filepath.Clean(mountBoundary)
	results := make([]catalog.PathTestResult, 0, len(paths))

	for _, p := range paths {
		res := catalog.PathTestResult{Path: p}

		abs := filepath.Clean(p)
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(boundary, abs)
		}
		res.WithinBoundary = abs == boundary || strings.HasPrefix(abs, boundary+string(filepath.Separator))

		info, err := os.Stat(abs)
		if err != nil {
			results = append(results, res)
			continue
		}
		res.Exists = true
		res.IsDirectory = info.IsDir()

		if info.IsDir() {
			if _, err := os.ReadDir(abs); err == nil {
				res.Readable = true
			}
		} else {
			if f, err := os.Open(abs); err == nil {
				f.Close()
				res.Readable = true
			}
		}
		results = append(results, res)
	}
	return results
}
