// Package config holds the process configuration surface, the cloud-pushed
// CloudConfig handle and the persisted pairing state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the local process configuration. Flags and environment variables
// populate it before Validate runs; cloud-pushed values later override the
// fields where the local value is zero ("defer to cloud").
type Config struct {
	ServerEndpoint string
	AuthKey        string
	AgentName      string
	MountBoundary  string
	ScanRoots      []string
	StateFile      string
	LogFile        string
	MetricsAddr    string
	ScratchDir     string
	RenderTimeout  time.Duration

	// Zero means defer to the cloud-pushed value.
	Concurrency int
	BatchSize   int

	// Optional local overrides for object storage.
	Storage StorageCredentials
}

// FromEnv returns a Config populated from environment variables with
// defaults suitable for an unattended agent. Flags layer on top of this.
func FromEnv() Config {
	hostname, _ := os.Hostname()

	cfg := Config{
		ServerEndpoint: os.Getenv("AGENT_SERVER"),
		AuthKey:        os.Getenv("AGENT_AUTH_KEY"),
		AgentName:      envOr("AGENT_NAME", hostname),
		MountBoundary:  os.Getenv("AGENT_MOUNT"),
		StateFile:      envOr("AGENT_STATE_FILE", defaultStateFile()),
		LogFile:        os.Getenv("AGENT_LOG_FILE"),
		MetricsAddr:    envOr("AGENT_METRICS_ADDR", ":9402"),
		ScratchDir:     envOr("AGENT_SCRATCH_DIR", os.TempDir()),
		RenderTimeout:  60 * time.Second,
	}

	if roots := os.Getenv("AGENT_SCAN_ROOTS"); roots != "" {
		cfg.ScanRoots = ParseRoots(roots)
	}

	return cfg
}

// ParseRoots splits a comma-separated root list, dropping empty entries.
func ParseRoots(s string) []string {
	var roots []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			roots = append(roots, part)
		}
	}
	return roots
}

// Validate checks the startup invariants. A failure here is the only error
// class that terminates the process.
func (c *Config) Validate() error {
	if c.ServerEndpoint == "" {
		return fmt.Errorf("server endpoint is required (--server or AGENT_SERVER)")
	}
	if c.MountBoundary == "" {
		return fmt.Errorf("mount boundary is required (--mount or AGENT_MOUNT)")
	}
	if !filepath.IsAbs(c.MountBoundary) {
		return fmt.Errorf("mount boundary %q must be an absolute path", c.MountBoundary)
	}

	info, err := os.Stat(c.MountBoundary)
	if err != nil {
		return fmt.Errorf("mount boundary %q: %w", c.MountBoundary, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount boundary %q is not a directory", c.MountBoundary)
	}

	for _, root := range c.ScanRoots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("scan root %q must be an absolute path", root)
		}
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative")
	}

	return nil
}

// InitialCloudConfig seeds a CloudConfig from the local overrides. Non-zero
// local values win until the catalog pushes replacements.
func (c *Config) InitialCloudConfig() CloudConfig {
	cloud := DefaultCloudConfig()
	cloud.ScanRoots = append([]string(nil), c.ScanRoots...)
	cloud.Storage = c.Storage
	if c.BatchSize > 0 {
		cloud.BatchSize = c.BatchSize
	}
	if c.Concurrency > 0 {
		cloud.Resource.MaxConcurrentRenders = c.Concurrency
	}
	return cloud
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".asset-agent.yaml"
	}
	return filepath.Join(home, ".asset-agent", "state.yaml")
}
