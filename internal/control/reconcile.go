package control

import (
	"context"
	"errors"
	"sync"

	"asset-agent/internal/catalog"
	"asset-agent/internal/fingerprint"
	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
	"asset-agent/internal/render"
	"asset-agent/internal/scan"
)

// reconciler runs the per-candidate pipeline: fingerprint, submit, then for
// assets that need a preview, a render/publish/report stage bounded to a
// fixed worker count. Candidate submission stays strictly in traversal
// order; only the preview stage fans out.
//
// Two contexts are in play: the scan context passed per call gates the
// admission of new work, while workCtx carries renders already in flight.
// An abort cancels the former only, so a render or upload that has started
// runs to completion or its own timeout.
type reconciler struct {
	catalog  catalogAPI
	renderer renderAPI
	uploader uploadAPI
	counters *scan.Counters
	onError  func(string)
	workCtx  context.Context

	sem chan struct{}
	wg  sync.WaitGroup
}

func newReconciler(workCtx context.Context, cat catalogAPI, rend renderAPI, up uploadAPI, counters *scan.Counters, workers int, onError func(string)) *reconciler {
	if workers < 1 {
		workers = 1
	}
	return &reconciler{
		catalog:  cat,
		renderer: rend,
		uploader: up,
		counters: counters,
		onError:  onError,
		workCtx:  workCtx,
		sem:      make(chan struct{}, workers),
	}
}

// process handles one candidate synchronously up to the catalog's
// classification, then hands preview work to the bounded stage.
func (r *reconciler) process(ctx context.Context, cand scan.Candidate) {
	fp, err := fingerprint.File(cand.AbsolutePath)
	if err != nil {
		r.counters.HashFailures.Add(1)
		metrics.ScanErrors.WithLabelValues("hash").Inc()
		logging.Warn("fingerprint failed for %s: %v", cand.RelativePath, err)
		return
	}

	resp, err := r.catalog.Ingest(ctx, ingestRequest(cand, fp))
	if err != nil {
		r.counters.RPCErrors.Add(1)
		r.onError(err.Error())
		logging.Warn("ingest failed for %s: %v", cand.RelativePath, err)
		return
	}

	r.recordAction(resp.Action)

	switch resp.Action {
	case "created", "moved":
		r.dispatchPreview(ctx, cand, fp, resp.AssetID)
	}
}

func (r *reconciler) recordAction(action string) {
	metrics.IngestActionsTotal.WithLabelValues(action).Inc()
	switch action {
	case "created":
		r.counters.Created.Add(1)
	case "updated":
		r.counters.Updated.Add(1)
	case "moved":
		r.counters.Moved.Add(1)
	case "unchanged":
		r.counters.Unchanged.Add(1)
	}
}

// dispatchPreview admits the candidate to the render stage, blocking the
// traversal when all workers are busy so memory stays bounded. The scan
// context gates admission only; the stage itself runs on workCtx so an
// abort never preempts a render or upload mid-flight.
func (r *reconciler) dispatchPreview(ctx context.Context, cand scan.Candidate, fp fingerprint.Fingerprint, assetID string) {
	if ctx.Err() != nil {
		return
	}
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		r.preview(r.workCtx, cand, fp, assetID)
	}()
}

// preview renders, publishes and reports one asset's thumbnail. Every exit
// path tells the catalog something: a URL, a queued remote job, or a
// definitive failure signal.
func (r *reconciler) preview(ctx context.Context, cand scan.Candidate, fp fingerprint.Fingerprint, assetID string) {
	res, err := r.renderer.Render(ctx, cand.Kind, cand.AbsolutePath)

	if errors.Is(err, render.ErrNoPDFCompat) {
		// Not locally renderable at all. Hand it to the remote render
		// queue instead of reporting a dead end.
		jobID, qErr := r.catalog.QueueRender(ctx, assetID, render.ErrNoPDFCompat.Error())
		if qErr != nil {
			r.counters.RPCErrors.Add(1)
			r.onError(qErr.Error())
			logging.Warn("queueRender failed for %s: %v", cand.RelativePath, qErr)
			return
		}
		r.counters.RenderJobsQueued.Add(1)
		metrics.RenderJobsQueuedTotal.Inc()
		logging.Debug("queued remote render job %s for %s", jobID, cand.RelativePath)
		return
	}

	if err != nil {
		r.counters.PreviewFailures.Add(1)
		logging.Warn("preview render failed for %s: %v", cand.RelativePath, err)
		r.followUp(ctx, cand, fp, catalog.IngestRequest{PreviewError: err.Error()})
		return
	}

	r.counters.PreviewsRendered.Add(1)

	url, err := r.uploader.Upload(ctx, assetID, res.JPEG)
	if err != nil {
		r.counters.UploadFailures.Add(1)
		metrics.PreviewUploadsTotal.WithLabelValues("error").Inc()
		logging.Warn("preview upload failed for %s: %v", cand.RelativePath, err)
		r.followUp(ctx, cand, fp, catalog.IngestRequest{PreviewError: "upload: " + err.Error()})
		return
	}
	metrics.PreviewUploadsTotal.WithLabelValues("success").Inc()

	r.followUp(ctx, cand, fp, catalog.IngestRequest{
		PreviewURL: url,
		Width:      res.Width,
		Height:     res.Height,
	})
}

// followUp resubmits the candidate identity with the preview outcome
// attached. The catalog matches it to the asset by the same deterministic
// inputs as the first call.
func (r *reconciler) followUp(ctx context.Context, cand scan.Candidate, fp fingerprint.Fingerprint, outcome catalog.IngestRequest) {
	req := ingestRequest(cand, fp)
	req.PreviewURL = outcome.PreviewURL
	req.PreviewError = outcome.PreviewError
	req.Width = outcome.Width
	req.Height = outcome.Height

	if _, err := r.catalog.Ingest(ctx, req); err != nil {
		r.counters.RPCErrors.Add(1)
		r.onError(err.Error())
		logging.Warn("preview follow-up failed for %s: %v", cand.RelativePath, err)
	}
}

// wait blocks until the preview stage drains.
func (r *reconciler) wait() {
	r.wg.Wait()
}

func ingestRequest(cand scan.Candidate, fp fingerprint.Fingerprint) catalog.IngestRequest {
	return catalog.IngestRequest{
		RelativePath:       cand.RelativePath,
		Filename:           cand.Filename,
		FormatKind:         string(cand.Kind),
		Size:               cand.Size,
		ModifiedAt:         cand.ModifiedAt,
		CreatedAt:          cand.CreatedAt,
		Fingerprint:        fp.Digest,
		FingerprintVersion: fp.Version,
	}
}
