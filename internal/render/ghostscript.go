package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"asset-agent/internal/logging"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// renderWithGhostscript is the second formatB strategy: hand the file to an
// external page renderer with a bounded timeout. The scratch directory is
// removed regardless of outcome.
func (r *Renderer) renderWithGhostscript(ctx context.Context, path string) (*Result, error) {
	if _, err := exec.LookPath(r.GhostscriptPath); err != nil {
		return nil, fmt.Errorf("renderer %s not found: %w", r.GhostscriptPath, err)
	}

	scratch, err := os.MkdirTemp(r.ScratchDir, "render-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logging.Warn("failed to clean scratch dir %s: %v", scratch, err)
		}
	}()

	outPath := filepath.Join(scratch, "page.png")

	runCtx, cancel := context.WithTimeout(ctx, r.SubprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.GhostscriptPath,
		"-dSAFER", "-dBATCH", "-dNOPAUSE", "-dQUIET",
		"-dFirstPage=1", "-dLastPage=1",
		"-sDEVICE=png16m", "-r150",
		"-o", outPath,
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("renderer timed out after %v", r.SubprocessTimeout)
		}
		return nil, fmt.Errorf("renderer failed: %v: %s", err, tail(stderr.String(), 300))
	}

	img, err := imaging.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("decode renderer output: %w", err)
	}

	return r.encodePreview(img)
}

// encodePreview bounds an image to MaxDimension, flattens any transparency
// onto white and encodes JPEG.
func (r *Renderer) encodePreview(img image.Image) (*Result, error) {
	fit := imaging.Fit(img, r.MaxDimension, r.MaxDimension, imaging.Lanczos)

	bg := imaging.New(fit.Bounds().Dx(), fit.Bounds().Dy(), image.White.C)
	flat := imaging.Overlay(bg, fit, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	return &Result{
		JPEG:   buf.Bytes(),
		Width:  flat.Bounds().Dx(),
		Height: flat.Bounds().Dy(),
	}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
