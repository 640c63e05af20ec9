package render

import (
	"context"
	"fmt"
	"os"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"asset-agent/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

// renderEmbeddedPDF is the first formatB strategy: vector files saved with
// PDF compatibility carry a page-description stream that the PDF loader can
// rasterize directly. Files saved without it fail the probe and move the
// chain to the subprocess strategy.
func (r *Renderer) renderEmbeddedPDF(_ context.Context, path string) (*Result, error) {
	if err := probePDFStream(path); err != nil {
		return nil, err
	}

	params := vips.NewImportParams()
	params.Density.Set(150)
	params.NumPages.Set(1)

	result, err := r.flattenWithVips(path, params)
	if err != nil {
		return nil, fmt.Errorf("rasterize embedded stream: %w", err)
	}
	return result, nil
}

// probePDFStream verifies the file parses as a PDF with at least one page.
func probePDFStream(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := pdfapi.PageCount(f, conf)
	if err != nil {
		return fmt.Errorf("no embedded PDF-compatible stream: %w", err)
	}
	if pages < 1 {
		return fmt.Errorf("embedded stream has no pages")
	}

	logging.Debug("embedded PDF stream in %s: %d page(s)", path, pages)
	return nil
}
