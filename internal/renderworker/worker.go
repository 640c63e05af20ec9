// Package renderworker implements the second agent mode: a host with the
// native design tooling installed polls the catalog's render queue for
// files the scanning agents could not rasterize locally.
package renderworker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"asset-agent/internal/catalog"
	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
	"asset-agent/internal/render"

	"github.com/disintegration/imaging"
)

// queueAPI is the slice of the catalog client the worker consumes.
type queueAPI interface {
	ClaimRender(ctx context.Context) (*catalog.RenderJob, error)
	CompleteRender(ctx context.Context, jobID string, success bool, previewURL, errorMessage string) error
}

// uploadAPI abstracts the storage publisher's upload side.
type uploadAPI interface {
	Upload(ctx context.Context, assetID string, imageBytes []byte) (string, error)
}

// Worker polls for render jobs and processes them one at a time. Each job
// is terminal for this instance: success or failure is reported, and a
// failed job is never retried here. Re-queuing is a catalog decision.
type Worker struct {
	queue    queueAPI
	uploader uploadAPI

	// MountBoundary is this host's mapping of the share; job paths are
	// relative to it.
	MountBoundary string
	// ToolPath and ToolArgs describe the external converter. ToolArgs may
	// reference {input} and {output}; when absent, input and output are
	// appended in that order.
	ToolPath string
	ToolArgs []string

	PollInterval time.Duration
	ToolTimeout  time.Duration
	MaxDimension int
	ScratchDir   string
}

// New creates a worker with standard bounds.
func New(queue queueAPI, uploader uploadAPI, mountBoundary, toolPath string, toolArgs []string) *Worker {
	return &Worker{
		queue:         queue,
		uploader:      uploader,
		MountBoundary: mountBoundary,
		ToolPath:      toolPath,
		ToolArgs:      toolArgs,
		PollInterval:  30 * time.Second,
		ToolTimeout:   2 * time.Minute,
		MaxDimension:  800,
	}
}

// Run polls until the context ends. A failed claim is logged and the loop
// waits for the next tick; nothing in here terminates the worker except
// cancellation.
func (w *Worker) Run(ctx context.Context) error {
	logging.Info("render worker polling every %v (tool: %s)", w.PollInterval, w.ToolPath)

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		w.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce claims and processes at most one job.
func (w *Worker) pollOnce(ctx context.Context) {
	job, err := w.queue.ClaimRender(ctx)
	if err != nil {
		logging.Warn("claim failed: %v", err)
		return
	}
	if job == nil {
		return
	}

	logging.Info("claimed render job %s for asset %s (%s)", job.JobID, job.AssetID, job.RelativePath)

	url, err := w.process(ctx, job)
	if err != nil {
		metrics.RenderJobsClaimedTotal.WithLabelValues("failed").Inc()
		logging.Warn("render job %s failed: %v", job.JobID, err)
		if cErr := w.queue.CompleteRender(ctx, job.JobID, false, "", err.Error()); cErr != nil {
			logging.Error("could not report failure for job %s: %v", job.JobID, cErr)
		}
		return
	}

	metrics.RenderJobsClaimedTotal.WithLabelValues("completed").Inc()
	if cErr := w.queue.CompleteRender(ctx, job.JobID, true, url, ""); cErr != nil {
		logging.Error("could not report completion for job %s: %v", job.JobID, cErr)
	}
}

// process renders and publishes one job's preview.
func (w *Worker) process(ctx context.Context, job *catalog.RenderJob) (string, error) {
	input, err := w.resolve(job.RelativePath)
	if err != nil {
		return "", err
	}

	result, err := w.convert(ctx, input)
	if err != nil {
		return "", err
	}

	url, err := w.uploader.Upload(ctx, job.AssetID, result.JPEG)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return url, nil
}

// resolve maps a catalog-relative path onto this host's mount and refuses
// anything that escapes it.
func (w *Worker) resolve(relativePath string) (string, error) {
	boundary := filepath.Clean(w.MountBoundary)
	abs := filepath.Clean(filepath.Join(boundary, filepath.FromSlash(relativePath)))
	if abs != boundary && !strings.HasPrefix(abs, boundary+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes mount %q", relativePath, w.MountBoundary)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("source file: %w", err)
	}
	return abs, nil
}

// convert runs the external tool into a scratch directory and encodes the
// bounded JPEG preview from its output.
func (w *Worker) convert(ctx context.Context, input string) (*render.Result, error) {
	scratch, err := os.MkdirTemp(w.ScratchDir, "renderjob-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logging.Warn("failed to clean scratch dir %s: %v", scratch, err)
		}
	}()

	output := filepath.Join(scratch, "page.png")

	runCtx, cancel := context.WithTimeout(ctx, w.ToolTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, w.ToolPath, w.toolArgs(input, output)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tool timed out after %v", w.ToolTimeout)
		}
		return nil, fmt.Errorf("tool failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	img, err := imaging.Open(output)
	if err != nil {
		return nil, fmt.Errorf("decode tool output: %w", err)
	}

	fit := imaging.Fit(img, w.MaxDimension, w.MaxDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fit, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	return &render.Result{
		JPEG:   buf.Bytes(),
		Width:  fit.Bounds().Dx(),
		Height: fit.Bounds().Dy(),
	}, nil
}

// toolArgs substitutes {input}/{output} placeholders, appending both when
// the template names neither.
func (w *Worker) toolArgs(input, output string) []string {
	substituted := false
	args := make([]string, 0, len(w.ToolArgs)+2)
	for _, a := range w.ToolArgs {
		replaced := strings.ReplaceAll(a, "{input}", input)
		replaced = strings.ReplaceAll(replaced, "{output}", output)
		if replaced != a {
			substituted = true
		}
		args = append(args, replaced)
	}
	if !substituted {
		args = append(args, input, output)
	}
	return args
}
