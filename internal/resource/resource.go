// Package resource applies the centrally pushed resource guard: worker
// counts derived from available CPUs capped by the cloud limit, and a Go
// heap ceiling. Limits throttle new work; nothing in flight is killed.
package resource

import (
	"runtime"
	"runtime/debug"
	"strconv"

	"asset-agent/internal/config"
	"asset-agent/internal/logging"
)

// memoryRatio is the share of the pushed memory ceiling given to the Go
// heap; the rest is reserved for libvips buffers and subprocesses.
const memoryRatio = 0.8

// Guard tracks the applied limits so repeated heartbeats only act on change.
type Guard struct {
	appliedMemory int64
}

// Apply enforces the pushed limits. Safe to call on every config update.
func (g *Guard) Apply(limits config.ResourceLimits) {
	if limits.MemoryLimitBytes > 0 && limits.MemoryLimitBytes != g.appliedMemory {
		goLimit := int64(float64(limits.MemoryLimitBytes) * memoryRatio)
		debug.SetMemoryLimit(goLimit)
		g.appliedMemory = limits.MemoryLimitBytes
		logging.Info("memory ceiling applied: %s for Go heap (%s pushed)",
			formatBytes(goLimit), formatBytes(limits.MemoryLimitBytes))
	}
}

// RenderWorkers returns the bounded parallelism for the render/upload
// stage: one worker per available CPU, capped by the pushed concurrency
// limit. Rendering is CPU-bound, so no I/O multiplier applies.
func RenderWorkers(limits config.ResourceLimits) int {
	available := runtime.GOMAXPROCS(0)

	workers := available
	if limits.MaxCPUPercent > 0 {
		workers = available * limits.MaxCPUPercent / 100
	}
	if workers < 1 {
		workers = 1
	}
	if limits.MaxConcurrentRenders > 0 && workers > limits.MaxConcurrentRenders {
		workers = limits.MaxConcurrentRenders
	}
	return workers
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
