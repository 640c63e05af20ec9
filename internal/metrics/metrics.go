// Package metrics exposes prometheus collectors for the agent and serves
// them on a local observability endpoint alongside health probes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan metrics
var (
	ScanSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_scan_sessions_total",
			Help: "Total number of scan sessions by terminal status",
		},
		[]string{"status"},
	)

	ScanRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_agent_scan_running",
			Help: "Whether a scan session is currently running (1 = running, 0 = idle)",
		},
	)

	ScanLastDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_agent_scan_last_duration_seconds",
			Help: "Duration of the last scan session in seconds",
		},
	)

	ScanFilesFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_agent_scan_files_found_total",
			Help: "Total number of candidate files discovered",
		},
	)

	ScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_scan_errors_total",
			Help: "Total number of per-entry scan errors",
		},
		[]string{"kind"}, // "permission", "stat", "hash"
	)
)

// Ingest metrics
var (
	IngestActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_ingest_actions_total",
			Help: "Total number of catalog reconciliation outcomes",
		},
		[]string{"action"}, // "created", "updated", "moved", "unchanged"
	)

	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_rpc_calls_total",
			Help: "Total number of catalog RPC calls",
		},
		[]string{"action", "status"},
	)

	RPCCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_agent_rpc_call_duration_seconds",
			Help:    "Catalog RPC call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)
)

// Preview metrics
var (
	PreviewRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_preview_renders_total",
			Help: "Total number of local preview render attempts",
		},
		[]string{"format", "status"}, // status: "success", "no_local_preview", "no_pdf_compat"
	)

	PreviewRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_agent_preview_render_duration_seconds",
			Help:    "Preview render duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"format"},
	)

	PreviewUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_preview_uploads_total",
			Help: "Total number of preview uploads to object storage",
		},
		[]string{"status"},
	)

	RenderJobsQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_agent_render_jobs_queued_total",
			Help: "Total number of render jobs delegated to the remote queue",
		},
	)

	RenderJobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_render_jobs_claimed_total",
			Help: "Total number of remote render jobs claimed by this worker",
		},
		[]string{"status"}, // "completed", "failed"
	)
)

// Control channel metrics
var (
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_agent_heartbeats_total",
			Help: "Total number of heartbeat ticks",
		},
		[]string{"status"},
	)

	ConfigApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_agent_config_fragments_applied_total",
			Help: "Total number of cloud config fragments merged into the live config",
		},
	)

	HeartbeatInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_agent_heartbeat_interval_seconds",
			Help: "Current adaptive heartbeat interval in seconds",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_agent_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
