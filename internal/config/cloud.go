package config

import (
	"sync/atomic"
	"time"
)

// StorageCredentials holds the object-storage credential set. Empty fields in
// an update mean "keep the currently active value".
type StorageCredentials struct {
	AccessKey string `json:"accessKey,omitempty" yaml:"accessKey"`
	SecretKey string `json:"secretKey,omitempty" yaml:"secretKey"`
	Region    string `json:"region,omitempty" yaml:"region"`
	Bucket    string `json:"bucket,omitempty" yaml:"bucket"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint"`
}

// ResourceLimits is the centrally pushed resource guard. The agent respects
// it by throttling new work, never by killing work already in flight.
type ResourceLimits struct {
	MaxConcurrentRenders int   `json:"maxConcurrentRenders"`
	MemoryLimitBytes     int64 `json:"memoryLimitBytes"`
	MaxCPUPercent        int   `json:"maxCpuPercent"`
}

// CloudConfig is the process-wide configuration pushed from the catalog.
// Snapshots are immutable; updates go through Handle.Apply.
type CloudConfig struct {
	Storage      StorageCredentials
	ScanRoots    []string
	BatchSize    int
	PollActive   time.Duration
	PollIdle     time.Duration
	ScanSchedule string
	Resource     ResourceLimits
}

// Fragment is a partial CloudConfig received over the heartbeat. Nil fields
// are absent from the fragment and leave the active value untouched.
type Fragment struct {
	Storage           *StorageCredentials `json:"storage,omitempty"`
	ScanRoots         *[]string           `json:"scanRoots,omitempty"`
	BatchSize         *int                `json:"batchSize,omitempty"`
	PollActiveSeconds *int                `json:"pollActiveSeconds,omitempty"`
	PollIdleSeconds   *int                `json:"pollIdleSeconds,omitempty"`
	ScanSchedule      *string             `json:"scanSchedule,omitempty"`
	Resource          *resourceFragment   `json:"resourceLimits,omitempty"`
}

type resourceFragment struct {
	MaxConcurrentRenders *int   `json:"maxConcurrentRenders,omitempty"`
	MemoryLimitBytes     *int64 `json:"memoryLimitBytes,omitempty"`
	MaxCPUPercent        *int   `json:"maxCpuPercent,omitempty"`
}

// DefaultCloudConfig returns the configuration used until the catalog pushes
// its first fragment.
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{
		BatchSize:  50,
		PollActive: 15 * time.Second,
		PollIdle:   5 * time.Minute,
		Resource: ResourceLimits{
			MaxConcurrentRenders: 2,
		},
	}
}

// Handle owns the live CloudConfig. It is passed by reference into the
// scanner, publisher and control channel instead of living in a global.
type Handle struct {
	current atomic.Pointer[CloudConfig]
}

// NewHandle creates a handle seeded with cfg.
func NewHandle(cfg CloudConfig) *Handle {
	h := &Handle{}
	h.current.Store(&cfg)
	return h
}

// Load returns the current immutable snapshot.
func (h *Handle) Load() CloudConfig {
	return *h.current.Load()
}

// Apply merges a fragment over the current config, last writer wins, and
// returns the resulting snapshot. Absent fragment fields keep their active
// values; storage credentials merge field by field for the same reason.
func (h *Handle) Apply(frag Fragment) CloudConfig {
	for {
		old := h.current.Load()
		next := *old
		next.ScanRoots = append([]string(nil), old.ScanRoots...)

		if frag.Storage != nil {
			next.Storage = mergeStorage(old.Storage, *frag.Storage)
		}
		if frag.ScanRoots != nil {
			next.ScanRoots = append([]string(nil), (*frag.ScanRoots)...)
		}
		if frag.BatchSize != nil {
			next.BatchSize = *frag.BatchSize
		}
		if frag.PollActiveSeconds != nil {
			next.PollActive = time.Duration(*frag.PollActiveSeconds) * time.Second
		}
		if frag.PollIdleSeconds != nil {
			next.PollIdle = time.Duration(*frag.PollIdleSeconds) * time.Second
		}
		if frag.ScanSchedule != nil {
			next.ScanSchedule = *frag.ScanSchedule
		}
		if frag.Resource != nil {
			if frag.Resource.MaxConcurrentRenders != nil {
				next.Resource.MaxConcurrentRenders = *frag.Resource.MaxConcurrentRenders
			}
			if frag.Resource.MemoryLimitBytes != nil {
				next.Resource.MemoryLimitBytes = *frag.Resource.MemoryLimitBytes
			}
			if frag.Resource.MaxCPUPercent != nil {
				next.Resource.MaxCPUPercent = *frag.Resource.MaxCPUPercent
			}
		}

		if h.current.CompareAndSwap(old, &next) {
			return next
		}
	}
}

func mergeStorage(active, incoming StorageCredentials) StorageCredentials {
	out := active
	if incoming.AccessKey != "" {
		out.AccessKey = incoming.AccessKey
	}
	if incoming.SecretKey != "" {
		out.SecretKey = incoming.SecretKey
	}
	if incoming.Region != "" {
		out.Region = incoming.Region
	}
	if incoming.Bucket != "" {
		out.Bucket = incoming.Bucket
	}
	if incoming.Endpoint != "" {
		out.Endpoint = incoming.Endpoint
	}
	return out
}
