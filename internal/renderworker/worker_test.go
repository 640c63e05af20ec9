package renderworker

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"asset-agent/internal/catalog"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completion struct {
	JobID      string
	Success    bool
	PreviewURL string
	ErrMsg     string
}

type fakeQueue struct {
	mu          sync.Mutex
	jobs        []*catalog.RenderJob
	claimErr    error
	claims      int
	completions []completion
}

func (f *fakeQueue) ClaimRender(context.Context) (*catalog.RenderJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeQueue) CompleteRender(_ context.Context, jobID string, success bool, previewURL, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, completion{jobID, success, previewURL, errorMessage})
	return nil
}

type fakeUploader struct {
	err error
	ids []string
}

func (f *fakeUploader) Upload(_ context.Context, assetID string, _ []byte) (string, error) {
	f.ids = append(f.ids, assetID)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/thumbnails/" + assetID + ".jpg", nil
}

// writeStubTool writes a shell script that copies a fixture image to its
// last argument, or fails when told to.
func writeStubTool(t *testing.T, fail bool) string {
	t.Helper()
	dir := t.TempDir()

	fixture := filepath.Join(dir, "fixture.png")
	img := imaging.New(1600, 400, image.White.C)
	require.NoError(t, imaging.Save(img, fixture))

	script := "#!/bin/sh\ncp " + fixture + " \"$2\"\n"
	if fail {
		script = "#!/bin/sh\necho 'converter crashed' >&2\nexit 3\n"
	}
	tool := filepath.Join(dir, "convert.sh")
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))
	return tool
}

func newTestWorker(t *testing.T, q *fakeQueue, up *fakeUploader, mount, tool string) *Worker {
	t.Helper()
	w := New(q, up, mount, tool, nil)
	w.ScratchDir = t.TempDir()
	w.ToolTimeout = 10 * time.Second
	return w
}

func TestPollOnceCompletesJob(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "designs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "designs", "logo.ai"), []byte("source"), 0o644))

	q := &fakeQueue{jobs: []*catalog.RenderJob{
		{JobID: "J1", AssetID: "A1", RelativePath: "designs/logo.ai"},
	}}
	up := &fakeUploader{}
	w := newTestWorker(t, q, up, mount, writeStubTool(t, false))

	w.pollOnce(context.Background())

	require.Len(t, q.completions, 1)
	assert.True(t, q.completions[0].Success)
	assert.Equal(t, "J1", q.completions[0].JobID)
	assert.Equal(t, "https://cdn.example.com/thumbnails/A1.jpg", q.completions[0].PreviewURL)
	assert.Equal(t, []string{"A1"}, up.ids)
}

func TestPollOnceReportsToolFailure(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mount, "broken.ai"), []byte("source"), 0o644))

	q := &fakeQueue{jobs: []*catalog.RenderJob{
		{JobID: "J2", AssetID: "A2", RelativePath: "broken.ai"},
	}}
	up := &fakeUploader{}
	w := newTestWorker(t, q, up, mount, writeStubTool(t, true))

	w.pollOnce(context.Background())

	require.Len(t, q.completions, 1)
	assert.False(t, q.completions[0].Success)
	assert.Contains(t, q.completions[0].ErrMsg, "converter crashed")
	assert.Empty(t, up.ids)
}

func TestPollOnceReportsMissingSource(t *testing.T) {
	q := &fakeQueue{jobs: []*catalog.RenderJob{
		{JobID: "J3", AssetID: "A3", RelativePath: "nope/gone.ai"},
	}}
	w := newTestWorker(t, q, &fakeUploader{}, t.TempDir(), "/bin/true")

	w.pollOnce(context.Background())

	require.Len(t, q.completions, 1)
	assert.False(t, q.completions[0].Success)
	assert.Contains(t, q.completions[0].ErrMsg, "source file")
}

func TestPollOnceRejectsEscapingPath(t *testing.T) {
	q := &fakeQueue{jobs: []*catalog.RenderJob{
		{JobID: "J4", AssetID: "A4", RelativePath: "../../etc/passwd"},
	}}
	w := newTestWorker(t, q, &fakeUploader{}, t.TempDir(), "/bin/true")

	w.pollOnce(context.Background())

	require.Len(t, q.completions, 1)
	assert.False(t, q.completions[0].Success)
	assert.Contains(t, q.completions[0].ErrMsg, "escapes mount")
}

func TestPollOnceEmptyQueueIsQuiet(t *testing.T) {
	q := &fakeQueue{}
	w := newTestWorker(t, q, &fakeUploader{}, t.TempDir(), "/bin/true")

	w.pollOnce(context.Background())

	assert.Equal(t, 1, q.claims)
	assert.Empty(t, q.completions)
}

func TestPollOnceSurvivesClaimFailure(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("catalog unreachable")}
	w := newTestWorker(t, q, &fakeUploader{}, t.TempDir(), "/bin/true")

	w.pollOnce(context.Background())
	w.pollOnce(context.Background())

	assert.Equal(t, 2, q.claims)
	assert.Empty(t, q.completions)
}

func TestPollOnceReportsUploadFailure(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mount, "art.ai"), []byte("source"), 0o644))

	q := &fakeQueue{jobs: []*catalog.RenderJob{
		{JobID: "J5", AssetID: "A5", RelativePath: "art.ai"},
	}}
	up := &fakeUploader{err: errors.New("bucket denied")}
	w := newTestWorker(t, q, up, mount, writeStubTool(t, false))

	w.pollOnce(context.Background())

	require.Len(t, q.completions, 1)
	assert.False(t, q.completions[0].Success)
	assert.Contains(t, q.completions[0].ErrMsg, "bucket denied")
}

func TestToolArgsSubstitution(t *testing.T) {
	w := &Worker{ToolArgs: []string{"--in", "{input}", "--out", "{output}", "--dpi", "150"}}
	args := w.toolArgs("/mnt/a.ai", "/tmp/out.png")
	assert.Equal(t, []string{"--in", "/mnt/a.ai", "--out", "/tmp/out.png", "--dpi", "150"}, args)

	w = &Worker{ToolArgs: []string{"--fast"}}
	args = w.toolArgs("/mnt/a.ai", "/tmp/out.png")
	assert.Equal(t, []string{"--fast", "/mnt/a.ai", "/tmp/out.png"}, args)
}

func TestConvertBoundsPreview(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mount, "wide.ai"), []byte("source"), 0o644))
	w := newTestWorker(t, &fakeQueue{}, &fakeUploader{}, mount, writeStubTool(t, false))

	res, err := w.convert(context.Background(), filepath.Join(mount, "wide.ai"))
	require.NoError(t, err)
	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 200, res.Height)
	assert.NotEmpty(t, res.JPEG)
}
