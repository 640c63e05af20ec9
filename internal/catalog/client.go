package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
)

// Client talks to the catalog's single action-dispatched endpoint.
type Client struct {
	endpoint string
	authKey  string
	http     *http.Client
	retry    RetryPolicy

	mu      sync.RWMutex
	agentID string
}

// New creates a client for the given endpoint. The agent ID is attached
// after registration (or from persisted pairing state) via SetAgentID.
func New(endpoint, authKey string) *Client {
	return &Client{
		endpoint: endpoint,
		authKey:  authKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    DefaultRetryPolicy(),
	}
}

// SetAgentID attaches the catalog-assigned identity to subsequent calls.
func (c *Client) SetAgentID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentID = id
}

// AgentID returns the current identity, empty before pairing.
func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// call performs one action with bounded retries. Network failures and 5xx
// responses are transient; a 4xx or an unsuccessful envelope is permanent.
func (c *Client) call(ctx context.Context, action string, params any, out any) error {
	start := time.Now()
	err := c.retry.Do(ctx, action, func() error {
		return c.attempt(ctx, action, params, out)
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RPCCallsTotal.WithLabelValues(action, status).Inc()
	metrics.RPCCallDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, action string, params any, out any) error {
	body, err := json.Marshal(envelope{
		Action:  action,
		AgentID: c.AgentID(),
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return markTransient(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return markTransient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return markTransient(fmt.Errorf("server error: %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("catalog rejected %s: %s", action, env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s payload: %w", action, err)
		}
	}
	return nil
}

// Register pairs this agent with the catalog and returns the assigned ID.
func (c *Client) Register(ctx context.Context, agentName string) (string, error) {
	var result struct {
		AgentID string `json:"agentId"`
	}
	params := map[string]string{"agentName": agentName}
	if err := c.call(ctx, "register", params, &result); err != nil {
		return "", err
	}
	if result.AgentID == "" {
		return "", fmt.Errorf("register: catalog returned no agent id")
	}
	c.SetAgentID(result.AgentID)
	return result.AgentID, nil
}

// Heartbeat reports counters and the last error, and receives config
// fragments plus commands.
func (c *Client) Heartbeat(ctx context.Context, counters map[string]int64, lastError string) (*HeartbeatResponse, error) {
	params := map[string]any{"counters": counters}
	if lastError != "" {
		params["lastError"] = lastError
	}

	var result HeartbeatResponse
	if err := c.call(ctx, "heartbeat", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ingest submits one candidate for reconciliation.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	var result IngestResponse
	if err := c.call(ctx, "ingest", req, &result); err != nil {
		return nil, err
	}
	switch result.Action {
	case "created", "updated", "moved", "unchanged":
	default:
		return nil, fmt.Errorf("ingest: unknown action %q", result.Action)
	}
	return &result, nil
}

// ScanProgress flushes session status and counters.
func (c *Client) ScanProgress(ctx context.Context, sessionID, status string, counters map[string]int64, currentPath string) error {
	params := map[string]any{
		"sessionId": sessionID,
		"status":    status,
		"counters":  counters,
	}
	if currentPath != "" {
		params["currentPath"] = currentPath
	}
	return c.call(ctx, "scanProgress", params, nil)
}

// QueueRender delegates a candidate to the remote render queue.
func (c *Client) QueueRender(ctx context.Context, assetID, reason string) (string, error) {
	var result struct {
		JobID string `json:"jobId"`
	}
	params := map[string]string{"assetId": assetID, "reason": reason}
	if err := c.call(ctx, "queueRender", params, &result); err != nil {
		return "", err
	}
	return result.JobID, nil
}

// ClaimRender claims at most one pending render job. A nil job means the
// queue is empty.
func (c *Client) ClaimRender(ctx context.Context) (*RenderJob, error) {
	var result struct {
		Job *RenderJob `json:"job"`
	}
	if err := c.call(ctx, "claimRender", nil, &result); err != nil {
		return nil, err
	}
	return result.Job, nil
}

// CompleteRender reports the outcome of a claimed job.
func (c *Client) CompleteRender(ctx context.Context, jobID string, success bool, previewURL, errorMessage string) error {
	params := map[string]any{
		"jobId":   jobID,
		"success": success,
	}
	if previewURL != "" {
		params["previewUrl"] = previewURL
	}
	if errorMessage != "" {
		params["errorMessage"] = errorMessage
	}
	return c.call(ctx, "completeRender", params, nil)
}

// GetCheckpoint fetches this agent's stored checkpoint, nil when none exists.
func (c *Client) GetCheckpoint(ctx context.Context) (*Checkpoint, error) {
	var result struct {
		Checkpoint *Checkpoint `json:"checkpoint"`
	}
	if err := c.call(ctx, "getCheckpoint", nil, &result); err != nil {
		return nil, err
	}
	return result.Checkpoint, nil
}

// SaveCheckpoint overwrites the stored checkpoint.
func (c *Client) SaveCheckpoint(ctx context.Context, sessionID, lastCompletedDirectory string) error {
	params := map[string]string{
		"sessionId":              sessionID,
		"lastCompletedDirectory": lastCompletedDirectory,
	}
	return c.call(ctx, "saveCheckpoint", params, nil)
}

// ClearCheckpoint removes the stored checkpoint.
func (c *Client) ClearCheckpoint(ctx context.Context) error {
	return c.call(ctx, "clearCheckpoint", nil, nil)
}

// ReportPathTest delivers out-of-band path probe results.
func (c *Client) ReportPathTest(ctx context.Context, requestID string, results []PathTestResult) error {
	params := map[string]any{
		"requestId": requestID,
		"results":   results,
	}
	if err := c.call(ctx, "reportPathTest", params, nil); err != nil {
		return err
	}
	logging.Debug("path test %s reported (%d results)", requestID, len(results))
	return nil
}
