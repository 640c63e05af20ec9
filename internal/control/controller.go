// Package control drives the agent: a heartbeat loop that reports counters,
// applies pushed configuration and dispatches commands, plus the session
// lifecycle and per-candidate reconciliation pipeline.
package control

import (
	"context"
	"sync"
	"time"

	"asset-agent/internal/catalog"
	"asset-agent/internal/checkpoint"
	"asset-agent/internal/config"
	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
	"asset-agent/internal/publish"
	"asset-agent/internal/render"
	"asset-agent/internal/resource"
	"asset-agent/internal/scan"

	"github.com/robfig/cron/v3"
)

// catalogAPI is the slice of the catalog client the controller consumes.
type catalogAPI interface {
	Heartbeat(ctx context.Context, counters map[string]int64, lastError string) (*catalog.HeartbeatResponse, error)
	Ingest(ctx context.Context, req catalog.IngestRequest) (*catalog.IngestResponse, error)
	ScanProgress(ctx context.Context, sessionID, status string, counters map[string]int64, currentPath string) error
	QueueRender(ctx context.Context, assetID, reason string) (string, error)
	ReportPathTest(ctx context.Context, requestID string, results []catalog.PathTestResult) error
}

// renderAPI abstracts the preview renderer.
type renderAPI interface {
	Render(ctx context.Context, kind scan.FormatKind, path string) (*render.Result, error)
}

// uploadAPI abstracts the storage publisher's upload side.
type uploadAPI interface {
	Upload(ctx context.Context, assetID string, imageBytes []byte) (string, error)
}

// Controller owns the control channel and at most one running scan session.
type Controller struct {
	catalog     catalogAPI
	cfg         config.Config
	handle      *config.Handle
	publisher   *publish.Publisher
	uploader    uploadAPI
	renderer    renderAPI
	checkpoints *checkpoint.Store
	guard       resource.Guard

	mu           sync.Mutex
	session      *scan.Session
	cancelScan   context.CancelFunc
	scanQueued   bool
	lastError    string
	lastCounters map[string]int64

	cron      *cron.Cron
	cronEntry cron.EntryID
	schedule  string
}

// New wires a controller from its collaborators.
func New(cat *catalog.Client, cfg config.Config, handle *config.Handle, pub *publish.Publisher, rend *render.Renderer) *Controller {
	return &Controller{
		catalog:     cat,
		cfg:         cfg,
		handle:      handle,
		publisher:   pub,
		uploader:    pub,
		renderer:    rend,
		checkpoints: checkpoint.NewStore(cat),
	}
}

// Run executes the heartbeat loop until the context ends. Every tick is
// independent: a failed heartbeat is recorded and the loop carries on at
// the next interval.
func (c *Controller) Run(ctx context.Context) error {
	c.cron = cron.New()
	c.cron.Start()
	defer c.cron.Stop()

	for {
		c.tick(ctx)

		interval := c.interval()
		metrics.HeartbeatInterval.Set(interval.Seconds())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// minPollInterval floors the heartbeat cadence so a pushed zero or negative
// interval cannot busy-loop the agent against the catalog.
const minPollInterval = time.Second

// interval returns the adaptive poll cadence: short while a scan runs or is
// queued, long when idle. Thresholds come from CloudConfig.
func (c *Controller) interval() time.Duration {
	cloud := c.handle.Load()

	c.mu.Lock()
	busy := c.scanQueued || (c.session != nil && !c.session.Status().Terminal())
	c.mu.Unlock()

	d := cloud.PollIdle
	if busy {
		d = cloud.PollActive
	}
	if d < minPollInterval {
		d = minPollInterval
	}
	return d
}

// tick performs one heartbeat: report counters and last error, merge the
// config fragment, dispatch commands.
func (c *Controller) tick(ctx context.Context) {
	counters, lastError := c.heartbeatPayload()

	resp, err := c.catalog.Heartbeat(ctx, counters, lastError)
	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		logging.Warn("heartbeat failed: %v", err)
		// An error we failed to deliver stays queued for the next tick
		// rather than being silently dropped.
		if lastError == "" {
			lastError = err.Error()
		}
		c.requeueError(lastError)
		return
	}
	metrics.HeartbeatsTotal.WithLabelValues("success").Inc()

	if resp.Config != nil {
		c.applyFragment(*resp.Config)
	}
	c.dispatch(ctx, resp.Commands)
}

// heartbeatPayload snapshots the counters to report and consumes the
// pending last error.
func (c *Controller) heartbeatPayload() (map[string]int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := c.lastCounters
	if c.session != nil {
		counters = c.session.Counters.Snapshot()
	}
	if counters == nil {
		counters = map[string]int64{}
	}

	lastError := c.lastError
	c.lastError = ""
	return counters, lastError
}

func (c *Controller) setLastError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = msg
}

// requeueError restores an undelivered error, unless a newer one arrived
// while the heartbeat was in flight; the newer error wins.
func (c *Controller) requeueError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastError == "" {
		c.lastError = msg
	}
}

// applyFragment merges pushed configuration and propagates it to the
// publisher, resource guard and scan schedule without a restart.
func (c *Controller) applyFragment(frag config.Fragment) {
	cloud := c.handle.Apply(frag)
	metrics.ConfigApplied.Inc()

	if c.publisher != nil {
		if c.publisher.Reinitialize(storageCreds(cloud.Storage)) {
			logging.Info("publisher credentials hot-swapped from cloud config")
		}
	}

	c.guard.Apply(cloud.Resource)
	c.updateSchedule(cloud.ScanSchedule)
}

// updateSchedule reconciles the cron-driven scan trigger with the pushed
// expression.
func (c *Controller) updateSchedule(schedule string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if schedule == c.schedule {
		return
	}
	if c.cronEntry != 0 {
		c.cron.Remove(c.cronEntry)
		c.cronEntry = 0
	}
	c.schedule = schedule
	if schedule == "" {
		return
	}

	entry, err := c.cron.AddFunc(schedule, func() {
		c.StartScan(context.Background(), "", "schedule")
	})
	if err != nil {
		logging.Warn("invalid scan schedule %q: %v", schedule, err)
		return
	}
	c.cronEntry = entry
	logging.Info("scan schedule set to %q", schedule)
}

// dispatch handles the command set from a heartbeat response.
func (c *Controller) dispatch(ctx context.Context, cmds catalog.Commands) {
	if cmds.AbortScan {
		c.AbortScan()
	}
	if cmds.ForceScan != nil {
		c.StartScan(ctx, cmds.ForceScan.SessionID, "command")
	}
	if cmds.PathTest != nil {
		go c.runPathTest(ctx, *cmds.PathTest)
	}
}

// StartScan begins a session unless one is already running. The sessionID
// may be empty (a new session) or catalog-assigned (resume bookkeeping).
func (c *Controller) StartScan(ctx context.Context, sessionID, reason string) {
	c.mu.Lock()
	if c.scanQueued || (c.session != nil && !c.session.Status().Terminal()) {
		c.mu.Unlock()
		logging.Debug("scan requested by %s but a session is already active", reason)
		return
	}
	c.scanQueued = true
	c.mu.Unlock()

	logging.Info("starting scan session (trigger: %s)", reason)
	go c.runSession(ctx, sessionID)
}

// AbortScan cancels the running session, if any. The traversal notices at
// its next cancellation check and the session finalizes as aborted.
func (c *Controller) AbortScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelScan != nil && c.session != nil && !c.session.Status().Terminal() {
		logging.Info("aborting scan session %s", c.session.ID)
		c.cancelScan()
	}
}

// runSession owns one full scan pass from validation to terminal flush.
func (c *Controller) runSession(ctx context.Context, sessionID string) {
	sess := scan.NewSession(sessionID)
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.session = sess
	c.cancelScan = cancel
	c.scanQueued = false
	c.mu.Unlock()

	metrics.ScanRunning.Set(1)
	defer func() {
		metrics.ScanRunning.Set(0)
		metrics.ScanLastDuration.Set(sess.Duration().Seconds())
		metrics.ScanSessionsTotal.WithLabelValues(string(sess.Status())).Inc()

		c.mu.Lock()
		c.lastCounters = sess.Counters.Snapshot()
		c.cancelScan = nil
		c.mu.Unlock()
	}()

	cloud := c.handle.Load()
	scanner := scan.NewScanner(c.cfg.MountBoundary, sess.Counters)

	if err := scanner.ValidateRoots(cloud.ScanRoots); err != nil {
		logging.Error("session %s cannot start: %v", sess.ID, err)
		c.setLastError(err.Error())
		sess.Finish(scan.StatusFailed)
		c.flushProgress(ctx, sess)
		return
	}

	resumeAfter := c.checkpoints.Resume(ctx, sess.ID)

	// Previews in flight run on the controller context, not the scan
	// context: an abort stops admission of new work but never preempts a
	// render or upload already started.
	rec := newReconciler(ctx, c.catalog, c.renderer, c.uploader, sess.Counters,
		resource.RenderWorkers(cloud.Resource), c.setLastError)

	batchSize := cloud.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var processed int
	err := scanner.Scan(scanCtx, cloud.ScanRoots, scan.Options{
		ResumeAfter: resumeAfter,
		Observer: func(relDir string) {
			sess.SetCurrentPath(relDir)
			// Checkpoint writes use the controller context: an aborted
			// scan must still be resumable from its last directory.
			c.checkpoints.Save(ctx, sess.ID, relDir)
		},
	}, func(cand scan.Candidate) bool {
		rec.process(scanCtx, cand)
		processed++
		if processed%batchSize == 0 {
			c.flushProgress(ctx, sess)
		}
		return true
	})

	// In-flight renders run to completion; cancellation only stops new work.
	rec.wait()

	if err != nil {
		sess.Finish(scan.StatusAborted)
		logging.Info("session %s aborted after %d candidates", sess.ID, processed)
	} else {
		sess.Finish(scan.StatusCompleted)
		c.checkpoints.Clear(ctx)
		logging.Info("session %s completed: %d candidates in %v", sess.ID, processed, sess.Duration())
	}

	c.flushProgress(ctx, sess)
}

// flushProgress reports session status and counters; failures surface as
// lastError on the next heartbeat, never as a session failure.
func (c *Controller) flushProgress(ctx context.Context, sess *scan.Session) {
	err := c.catalog.ScanProgress(ctx, sess.ID, string(sess.Status()), sess.Counters.Snapshot(), sess.CurrentPath())
	if err != nil {
		sess.Counters.RPCErrors.Add(1)
		c.setLastError(err.Error())
		logging.Warn("scanProgress flush failed: %v", err)
	}
}

// runPathTest probes the requested paths out of band and reports through
// the dedicated call.
func (c *Controller) runPathTest(ctx context.Context, req catalog.PathTestRequest) {
	results := ProbePaths(c.cfg.MountBoundary, req.Paths)
	if err := c.catalog.ReportPathTest(ctx, req.RequestID, results); err != nil {
		c.setLastError(err.Error())
		logging.Warn("path test report failed: %v", err)
	}
}

func storageCreds(s config.StorageCredentials) publish.Credentials {
	return publish.Credentials{
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Region:    s.Region,
		Bucket:    s.Bucket,
		Endpoint:  s.Endpoint,
	}
}
