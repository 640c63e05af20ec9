package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"asset-agent/internal/catalog"
	"asset-agent/internal/checkpoint"
	"asset-agent/internal/config"
	"asset-agent/internal/render"
	"asset-agent/internal/scan"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cronForTest() *cron.Cron {
	c := cron.New()
	c.Start()
	return c
}

type progressCall struct {
	SessionID   string
	Status      string
	Counters    map[string]int64
	CurrentPath string
}

type heartbeatCall struct {
	Counters  map[string]int64
	LastError string
}

// fakeCatalog implements both the controller's catalog surface and the
// checkpoint store's.
type fakeCatalog struct {
	mu sync.Mutex

	heartbeats []heartbeatCall
	hbResp     catalog.HeartbeatResponse
	hbErr      error
	hbHook     func()

	ingests  []catalog.IngestRequest
	ingestFn func(catalog.IngestRequest) (*catalog.IngestResponse, error)

	progress []progressCall
	queued   []string

	pathTests map[string][]catalog.PathTestResult

	checkpoint      *catalog.Checkpoint
	savedCheckpoint []string
	cleared         bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		pathTests: map[string][]catalog.PathTestResult{},
		ingestFn: func(catalog.IngestRequest) (*catalog.IngestResponse, error) {
			return &catalog.IngestResponse{Action: "unchanged", AssetID: "A1"}, nil
		},
	}
}

func (f *fakeCatalog) Heartbeat(_ context.Context, counters map[string]int64, lastError string) (*catalog.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, heartbeatCall{Counters: counters, LastError: lastError})
	if f.hbHook != nil {
		f.hbHook()
	}
	if f.hbErr != nil {
		return nil, f.hbErr
	}
	resp := f.hbResp
	return &resp, nil
}

func (f *fakeCatalog) Ingest(_ context.Context, req catalog.IngestRequest) (*catalog.IngestResponse, error) {
	f.mu.Lock()
	fn := f.ingestFn
	f.ingests = append(f.ingests, req)
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeCatalog) ScanProgress(_ context.Context, sessionID, status string, counters map[string]int64, currentPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progressCall{sessionID, status, counters, currentPath})
	return nil
}

func (f *fakeCatalog) QueueRender(_ context.Context, assetID, reason string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, assetID)
	return "job-1", nil
}

func (f *fakeCatalog) ReportPathTest(_ context.Context, requestID string, results []catalog.PathTestResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pathTests[requestID] = results
	return nil
}

func (f *fakeCatalog) GetCheckpoint(context.Context) (*catalog.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoint, nil
}

func (f *fakeCatalog) SaveCheckpoint(_ context.Context, sessionID, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedCheckpoint = append(f.savedCheckpoint, dir)
	return nil
}

func (f *fakeCatalog) ClearCheckpoint(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
	return nil
}

func (f *fakeCatalog) ingestCalls() []catalog.IngestRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.IngestRequest(nil), f.ingests...)
}

func (f *fakeCatalog) progressCalls() []progressCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]progressCall(nil), f.progress...)
}

type fakeRenderer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeRenderer) Render(_ context.Context, _ scan.FormatKind, path string) (*render.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &render.Result{JPEG: []byte("jpeg"), Width: 800, Height: 600}, nil
}

type fakeUploader struct {
	mu  sync.Mutex
	err error
	ids []string
}

func (f *fakeUploader) Upload(_ context.Context, assetID string, _ []byte) (string, error) {
	f.mu.Lock()
	f.ids = append(f.ids, assetID)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/thumbnails/" + assetID + ".jpg", nil
}

func newTestController(t *testing.T, fc *fakeCatalog, rend renderAPI, up uploadAPI, roots []string, boundary string) *Controller {
	t.Helper()
	cloud := config.DefaultCloudConfig()
	cloud.ScanRoots = roots
	return &Controller{
		catalog:     fc,
		cfg:         config.Config{MountBoundary: boundary},
		handle:      config.NewHandle(cloud),
		uploader:    up,
		renderer:    rend,
		checkpoints: checkpoint.NewStore(fc),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func writeFixture(t *testing.T, root string, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("fixture content for "+rel), 0o644))
}

func TestReconcilerCreatedRendersAndReports(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "art.psd")

	fc := newFakeCatalog()
	fc.ingestFn = func(req catalog.IngestRequest) (*catalog.IngestResponse, error) {
		if req.PreviewURL != "" || req.PreviewError != "" {
			return &catalog.IngestResponse{Action: "updated", AssetID: "A1"}, nil
		}
		return &catalog.IngestResponse{Action: "created", AssetID: "A1"}, nil
	}
	up := &fakeUploader{}

	rec := newReconciler(context.Background(), fc,&fakeRenderer{}, up, &scan.Counters{}, 2, func(string) {})
	rec.process(context.Background(), candidate(t, dir, "art.psd"))
	rec.wait()

	calls := fc.ingestCalls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].PreviewURL)
	assert.Equal(t, "https://cdn.example.com/thumbnails/A1.jpg", calls[1].PreviewURL)
	assert.Equal(t, 800, calls[1].Width)
	assert.Equal(t, 600, calls[1].Height)
	assert.Equal(t, calls[0].Fingerprint, calls[1].Fingerprint)
	assert.Equal(t, []string{"A1"}, up.ids)
}

func TestReconcilerUnchangedSkipsPreview(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "art.psd")

	fc := newFakeCatalog()
	rend := &fakeRenderer{}
	counters := &scan.Counters{}

	rec := newReconciler(context.Background(), fc,rend, &fakeUploader{}, counters, 2, func(string) {})
	rec.process(context.Background(), candidate(t, dir, "art.psd"))
	rec.wait()

	assert.Len(t, fc.ingestCalls(), 1)
	assert.Empty(t, rend.calls)
	assert.Equal(t, int64(1), counters.Unchanged.Load())
}

func TestReconcilerQueuesRemoteJobOnNoPDFCompat(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "logo.ai")

	fc := newFakeCatalog()
	fc.ingestFn = func(catalog.IngestRequest) (*catalog.IngestResponse, error) {
		return &catalog.IngestResponse{Action: "created", AssetID: "A2"}, nil
	}
	counters := &scan.Counters{}

	rec := newReconciler(context.Background(), fc,&fakeRenderer{err: &render.Failure{Signal: render.ErrNoPDFCompat}}, &fakeUploader{}, counters, 2, func(string) {})
	rec.process(context.Background(), candidate(t, dir, "logo.ai"))
	rec.wait()

	assert.Equal(t, []string{"A2"}, fc.queued)
	// No follow-up ingest: the remote queue owns the outcome now.
	assert.Len(t, fc.ingestCalls(), 1)
	assert.Equal(t, int64(1), counters.RenderJobsQueued.Load())
}

func TestReconcilerReportsRenderFailure(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "art.psd")

	fc := newFakeCatalog()
	fc.ingestFn = func(catalog.IngestRequest) (*catalog.IngestResponse, error) {
		return &catalog.IngestResponse{Action: "created", AssetID: "A3"}, nil
	}
	counters := &scan.Counters{}

	rec := newReconciler(context.Background(), fc,&fakeRenderer{err: errors.New("decode blew up")}, &fakeUploader{}, counters, 2, func(string) {})
	rec.process(context.Background(), candidate(t, dir, "art.psd"))
	rec.wait()

	calls := fc.ingestCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "decode blew up", calls[1].PreviewError)
	assert.Empty(t, calls[1].PreviewURL)
	assert.Equal(t, int64(1), counters.PreviewFailures.Load())
}

func TestReconcilerReportsUploadFailure(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "art.psd")

	fc := newFakeCatalog()
	fc.ingestFn = func(catalog.IngestRequest) (*catalog.IngestResponse, error) {
		return &catalog.IngestResponse{Action: "created", AssetID: "A4"}, nil
	}
	counters := &scan.Counters{}

	rec := newReconciler(context.Background(), fc,&fakeRenderer{}, &fakeUploader{err: errors.New("bucket denied")}, counters, 2, func(string) {})
	rec.process(context.Background(), candidate(t, dir, "art.psd"))
	rec.wait()

	calls := fc.ingestCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "upload: bucket denied", calls[1].PreviewError)
	assert.Equal(t, int64(1), counters.UploadFailures.Load())
}

func TestReconcilerSkipsVanishedFile(t *testing.T) {
	fc := newFakeCatalog()
	counters := &scan.Counters{}

	rec := newReconciler(context.Background(), fc,&fakeRenderer{}, &fakeUploader{}, counters, 2, func(string) {})
	rec.process(context.Background(), scan.Candidate{
		AbsolutePath: filepath.Join(t.TempDir(), "gone.psd"),
		RelativePath: "gone.psd",
		Filename:     "gone.psd",
		Kind:         scan.FormatA,
	})
	rec.wait()

	assert.Empty(t, fc.ingestCalls())
	assert.Equal(t, int64(1), counters.HashFailures.Load())
}

func candidate(t *testing.T, root, rel string) scan.Candidate {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	require.NoError(t, err)
	kind, ok := scan.KindForFilename(filepath.Base(abs))
	require.True(t, ok)
	return scan.Candidate{
		AbsolutePath: abs,
		RelativePath: rel,
		Filename:     filepath.Base(abs),
		Kind:         kind,
		Size:         info.Size(),
		ModifiedAt:   info.ModTime(),
	}
}

func TestSessionRunCompletes(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "assets/a.psd")
	writeFixture(t, root, "assets/b.ai")
	writeFixture(t, root, "assets/notes.txt")

	fc := newFakeCatalog()
	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, []string{root}, root)

	c.runSession(context.Background(), "")

	calls := fc.ingestCalls()
	assert.Len(t, calls, 2)

	progress := fc.progressCalls()
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, string(scan.StatusCompleted), last.Status)
	assert.Equal(t, int64(2), last.Counters["filesFound"])
	assert.True(t, fc.cleared)
	assert.NotEmpty(t, fc.savedCheckpoint)
}

func TestSessionRunFailsOnInvalidRoots(t *testing.T) {
	root := t.TempDir()
	fc := newFakeCatalog()
	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, []string{filepath.Join(root, "missing")}, root)

	c.runSession(context.Background(), "")

	progress := fc.progressCalls()
	require.Len(t, progress, 1)
	assert.Equal(t, string(scan.StatusFailed), progress[0].Status)
	assert.Empty(t, fc.ingestCalls())
	assert.False(t, fc.cleared)

	_, lastError := c.heartbeatPayload()
	assert.NotEmpty(t, lastError)
}

func TestSessionRunAborts(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"a/one.psd", "b/two.psd", "c/three.psd"} {
		writeFixture(t, root, rel)
	}

	fc := newFakeCatalog()
	started := make(chan struct{})
	fc.ingestFn = func(catalog.IngestRequest) (*catalog.IngestResponse, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
		return &catalog.IngestResponse{Action: "unchanged", AssetID: "A1"}, nil
	}

	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, []string{root}, root)

	done := make(chan struct{})
	go func() {
		c.runSession(context.Background(), "")
		close(done)
	}()

	<-started
	c.AbortScan()
	<-done

	progress := fc.progressCalls()
	require.NotEmpty(t, progress)
	assert.Equal(t, string(scan.StatusAborted), progress[len(progress)-1].Status)
	// An aborted session keeps its checkpoint for resumption.
	assert.False(t, fc.cleared)
}

func TestTickAppliesConfigFragment(t *testing.T) {
	fc := newFakeCatalog()
	batch := 7
	schedule := "0 3 * * *"
	fc.hbResp = catalog.HeartbeatResponse{
		Config: &config.Fragment{BatchSize: &batch, ScanSchedule: &schedule},
	}

	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, nil, t.TempDir())
	c.cron = cronForTest()
	defer c.cron.Stop()

	c.tick(context.Background())

	cloud := c.handle.Load()
	assert.Equal(t, 7, cloud.BatchSize)
	assert.Equal(t, schedule, cloud.ScanSchedule)
	assert.NotZero(t, c.cronEntry)
}

func TestTickSurvivesHeartbeatFailure(t *testing.T) {
	fc := newFakeCatalog()
	fc.hbErr = errors.New("catalog unreachable")

	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, nil, t.TempDir())
	c.setLastError("earlier failure")

	c.tick(context.Background())

	// The undelivered error is requeued, not dropped.
	_, lastError := c.heartbeatPayload()
	assert.Equal(t, "earlier failure", lastError)

	fc.hbErr = nil
	c.setLastError("earlier failure")
	c.tick(context.Background())

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.heartbeats, 2)
	assert.Equal(t, "earlier failure", fc.heartbeats[1].LastError)
}

func TestTickDispatchesForceScan(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "x.psd")

	fc := newFakeCatalog()
	fc.hbResp = catalog.HeartbeatResponse{
		Commands: catalog.Commands{ForceScan: &catalog.ForceScan{}},
	}

	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, []string{root}, root)
	c.tick(context.Background())

	waitFor(t, func() bool {
		progress := fc.progressCalls()
		return len(progress) > 0 && progress[len(progress)-1].Status == string(scan.StatusCompleted)
	})
	assert.Len(t, fc.ingestCalls(), 1)
}

func TestStartScanRefusesConcurrentSession(t *testing.T) {
	c := newTestController(t, newFakeCatalog(), &fakeRenderer{}, &fakeUploader{}, nil, t.TempDir())

	c.mu.Lock()
	c.session = scan.NewSession("")
	c.mu.Unlock()

	c.StartScan(context.Background(), "", "test")

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.scanQueued)
}

func TestIntervalAdapts(t *testing.T) {
	c := newTestController(t, newFakeCatalog(), &fakeRenderer{}, &fakeUploader{}, nil, t.TempDir())
	cloud := c.handle.Load()

	assert.Equal(t, cloud.PollIdle, c.interval())

	c.mu.Lock()
	c.session = scan.NewSession("")
	c.mu.Unlock()
	assert.Equal(t, cloud.PollActive, c.interval())

	c.mu.Lock()
	c.session.Finish(scan.StatusCompleted)
	c.mu.Unlock()
	assert.Equal(t, cloud.PollIdle, c.interval())
}

// blockingRenderer parks each render until released, recording the
// context state it finished under.
type blockingRenderer struct {
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	calls   int
	ctxErrs []error
}

func (b *blockingRenderer) Render(ctx context.Context, _ scan.FormatKind, _ string) (*render.Result, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release

	b.mu.Lock()
	b.ctxErrs = append(b.ctxErrs, ctx.Err())
	b.mu.Unlock()
	return &render.Result{JPEG: []byte("jpeg"), Width: 800, Height: 600}, nil
}

func TestAbortDoesNotPreemptInFlightPreview(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "art.psd")

	fc := newFakeCatalog()
	fc.ingestFn = func(req catalog.IngestRequest) (*catalog.IngestResponse, error) {
		if req.PreviewURL != "" || req.PreviewError != "" {
			return &catalog.IngestResponse{Action: "updated", AssetID: "A1"}, nil
		}
		return &catalog.IngestResponse{Action: "created", AssetID: "A1"}, nil
	}
	rend := &blockingRenderer{started: make(chan struct{}, 1), release: make(chan struct{})}
	up := &fakeUploader{}

	scanCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newReconciler(context.Background(), fc, rend, up, &scan.Counters{}, 1, func(string) {})
	rec.process(scanCtx, candidate(t, dir, "art.psd"))

	// Abort lands while the render is in flight; the render, upload and
	// follow-up must still run to completion.
	<-rend.started
	cancel()
	close(rend.release)
	rec.wait()

	require.Len(t, rend.ctxErrs, 1)
	assert.NoError(t, rend.ctxErrs[0])
	assert.Equal(t, []string{"A1"}, up.ids)

	calls := fc.ingestCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "https://cdn.example.com/thumbnails/A1.jpg", calls[1].PreviewURL)

	// New previews are no longer admitted once the scan context is gone.
	writeFixture(t, dir, "late.psd")
	rec.process(scanCtx, candidate(t, dir, "late.psd"))
	rec.wait()

	rend.mu.Lock()
	defer rend.mu.Unlock()
	assert.Equal(t, 1, rend.calls)
}

func TestTickKeepsNewerErrorOverRequeued(t *testing.T) {
	fc := newFakeCatalog()
	fc.hbErr = errors.New("catalog unreachable")

	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, nil, t.TempDir())
	fc.hbHook = func() { c.setLastError("render pipeline failed") }

	c.setLastError("old failure")
	c.tick(context.Background())

	// The error that arrived mid-heartbeat wins over the requeued one.
	_, lastError := c.heartbeatPayload()
	assert.Equal(t, "render pipeline failed", lastError)
}

func TestIntervalClampsZeroPoll(t *testing.T) {
	c := newTestController(t, newFakeCatalog(), &fakeRenderer{}, &fakeUploader{}, nil, t.TempDir())

	zero := 0
	c.handle.Apply(config.Fragment{PollActiveSeconds: &zero, PollIdleSeconds: &zero})

	assert.Equal(t, minPollInterval, c.interval())

	c.mu.Lock()
	c.session = scan.NewSession("")
	c.mu.Unlock()
	assert.Equal(t, minPollInterval, c.interval())
}

func TestRunPathTest(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "inside/file.psd")

	fc := newFakeCatalog()
	c := newTestController(t, fc, &fakeRenderer{}, &fakeUploader{}, nil, root)

	c.runPathTest(context.Background(), catalog.PathTestRequest{
		RequestID: "req-1",
		Paths:     []string{"inside", "missing", "/etc"},
	})

	results := fc.pathTests["req-1"]
	require.Len(t, results, 3)

	assert.True(t, results[0].Exists)
	assert.True(t, results[0].IsDirectory)
	assert.True(t, results[0].Readable)
	assert.True(t, results[0].WithinBoundary)

	assert.False(t, results[1].Exists)
	assert.True(t, results[1].WithinBoundary)

	assert.True(t, results[2].Exists)
	assert.False(t, results[2].WithinBoundary)
}
