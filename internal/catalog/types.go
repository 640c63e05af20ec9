// Package catalog implements the agent side of the catalog RPC: a single
// action-dispatched JSON endpoint returning a success flag plus payload or
// error.
package catalog

import (
	"encoding/json"
	"time"

	"asset-agent/internal/config"
)

// envelope is the request frame every call sends.
type envelope struct {
	Action  string `json:"action"`
	AgentID string `json:"agentId,omitempty"`
	Params  any    `json:"params,omitempty"`
}

// response is the server frame: success flag plus payload or error message.
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ForceScan asks the agent to start a session. A non-empty SessionID resumes
// catalog-side bookkeeping (and any checkpoint) for that session.
type ForceScan struct {
	SessionID string `json:"sessionId,omitempty"`
}

// PathTestRequest asks the agent to probe paths out of band.
type PathTestRequest struct {
	RequestID string   `json:"requestId"`
	Paths     []string `json:"paths"`
}

// Commands is the command set delivered with a heartbeat response.
type Commands struct {
	ForceScan *ForceScan       `json:"forceScan,omitempty"`
	AbortScan bool             `json:"abortScan,omitempty"`
	PathTest  *PathTestRequest `json:"pathTest,omitempty"`
}

// HeartbeatResponse carries config fragments and commands back to the agent.
type HeartbeatResponse struct {
	Config   *config.Fragment `json:"config,omitempty"`
	Commands Commands         `json:"commands"`
}

// IngestRequest is the candidate identity the reconciler submits. The
// classification created/updated/moved/unchanged is catalog-authoritative;
// the agent only supplies deterministic inputs.
type IngestRequest struct {
	RelativePath       string     `json:"relativePath"`
	Filename           string     `json:"filename"`
	FormatKind         string     `json:"formatKind"`
	Size               int64      `json:"size"`
	ModifiedAt         time.Time  `json:"modifiedAt"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
	Fingerprint        string     `json:"fingerprint"`
	FingerprintVersion int        `json:"fingerprintVersion"`

	// Follow-up fields, set on the second call once a preview exists or
	// definitively failed.
	PreviewURL   string `json:"previewUrl,omitempty"`
	PreviewError string `json:"previewError,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// IngestResponse is the catalog's classification of a candidate.
type IngestResponse struct {
	Action  string `json:"action"` // "created", "updated", "moved", "unchanged"
	AssetID string `json:"assetId"`
}

// RenderJob is a unit of remote-rendering work for files that were not
// renderable locally.
type RenderJob struct {
	JobID        string `json:"jobId"`
	AssetID      string `json:"assetId"`
	RelativePath string `json:"relativePath"`
}

// Checkpoint is the server-held scan progress marker.
type Checkpoint struct {
	SessionID              string    `json:"sessionId"`
	LastCompletedDirectory string    `json:"lastCompletedDirectory"`
	SavedAt                time.Time `json:"savedAt"`
}

// PathTestResult is one probed path in a reportPathTest call.
type PathTestResult struct {
	Path           string `json:"path"`
	Exists         bool   `json:"exists"`
	Readable       bool   `json:"readable"`
	IsDirectory    bool   `json:"isDirectory"`
	WithinBoundary bool   `json:"withinBoundary"`
	Error          string `json:"error,omitempty"`
}
