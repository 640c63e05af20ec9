// Package render produces catalog previews for the two supported design
// formats. FormatA (layered raster) has a single local strategy; formatB
// (vector/print) runs an ordered fallback chain and, when every local
// strategy is exhausted, signals that the file must be rendered remotely.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
	"asset-agent/internal/scan"
)

// Sentinel signals for exhausted render chains. Callers match them with
// errors.Is.
var (
	// ErrNoLocalPreview means formatA rendering failed; there is no remote
	// fallback for layered raster files.
	ErrNoLocalPreview = errors.New("no_local_preview")
	// ErrNoPDFCompat means no local formatB strategy could rasterize the
	// file; it must be queued for remote rendering, not failed permanently.
	ErrNoPDFCompat = errors.New("no_pdf_compat")
)

// Failure aggregates the per-strategy reasons once a chain is exhausted.
type Failure struct {
	Signal  error
	Reasons []string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%v: %s", f.Signal, strings.Join(f.Reasons, "; "))
}

func (f *Failure) Is(target error) bool { return target == f.Signal }

// Result is an encoded preview ready for upload.
type Result struct {
	JPEG   []byte
	Width  int
	Height int
}

// strategy is one step of a fallback chain. A strategy error moves the
// chain along; only full exhaustion escalates to the caller.
type strategy struct {
	name string
	run  func(ctx context.Context, path string) (*Result, error)
}

// Renderer renders previews bounded to MaxDimension pixels on the long edge.
type Renderer struct {
	MaxDimension      int
	ScratchDir        string
	GhostscriptPath   string
	SubprocessTimeout time.Duration

	vectorStrategies []strategy
}

// New creates a renderer with the standard strategy chains.
func New(scratchDir string, subprocessTimeout time.Duration) *Renderer {
	r := &Renderer{
		MaxDimension:      800,
		ScratchDir:        scratchDir,
		GhostscriptPath:   "gs",
		SubprocessTimeout: subprocessTimeout,
	}
	r.vectorStrategies = []strategy{
		{name: "embedded-pdf", run: r.renderEmbeddedPDF},
		{name: "ghostscript", run: r.renderWithGhostscript},
	}
	return r
}

// Render produces a preview for the candidate's format.
func (r *Renderer) Render(ctx context.Context, kind scan.FormatKind, path string) (*Result, error) {
	start := time.Now()
	format := string(kind)

	var result *Result
	var err error
	switch kind {
	case scan.FormatA:
		result, err = r.renderLayered(path)
	case scan.FormatB:
		result, err = r.renderVector(ctx, path)
	default:
		err = fmt.Errorf("unsupported format %q", kind)
	}

	metrics.PreviewRenderDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = failureStatus(err)
	}
	metrics.PreviewRendersTotal.WithLabelValues(format, status).Inc()

	return result, err
}

// renderLayered flattens a layered raster file. There is only one strategy;
// its failure is terminal locally.
func (r *Renderer) renderLayered(path string) (*Result, error) {
	result, err := r.flattenWithVips(path, nil)
	if err != nil {
		logging.Warn("layered render failed for %s: %v", path, err)
		return nil, &Failure{Signal: ErrNoLocalPreview, Reasons: []string{err.Error()}}
	}
	return result, nil
}

// renderVector walks the ordered fallback chain, stopping at the first
// success and aggregating reasons only on full exhaustion.
func (r *Renderer) renderVector(ctx context.Context, path string) (*Result, error) {
	var reasons []string
	for _, s := range r.vectorStrategies {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := s.run(ctx, path)
		if err == nil {
			return result, nil
		}

		logging.Warn("vector strategy %s failed for %s: %v", s.name, path, err)
		reasons = append(reasons, fmt.Sprintf("%s: %v", s.name, err))
	}

	return nil, &Failure{Signal: ErrNoPDFCompat, Reasons: reasons}
}

func failureStatus(err error) string {
	switch {
	case errors.Is(err, ErrNoPDFCompat):
		return "no_pdf_compat"
	case errors.Is(err, ErrNoLocalPreview):
		return "no_local_preview"
	default:
		return "error"
	}
}
