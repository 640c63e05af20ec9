// Package cmd wires the agent's command-line surface: the scanning agent
// itself, the render worker mode, pairing, and local path diagnostics.
package cmd

import (
	"time"

	"asset-agent/internal/config"
	"asset-agent/internal/logging"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"

	// Persistent flags layered over the environment.
	flagServer      string
	flagAuthKey     string
	flagAgentName   string
	flagMount       string
	flagRoots       string
	flagStateFile   string
	flagLogFile     string
	flagMetricsAddr string
	flagScratchDir  string
	flagConcurrency int
	flagBatchSize   int
)

var rootCmd = &cobra.Command{
	Use:   "asset-agent",
	Short: "Unattended design-asset scanning agent",
	Long: `asset-agent watches network-attached storage for design asset files,
fingerprints them, renders catalog previews and keeps a central catalog
in sync over a single JSON endpoint.

The agent is unattended: all durable state except the pairing identity
lives server-side, and configuration arrives over the heartbeat.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the binary version from build flags.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Catalog endpoint URL (env: AGENT_SERVER)")
	pf.StringVar(&flagAuthKey, "auth-key", "", "Shared auth key (env: AGENT_AUTH_KEY)")
	pf.StringVar(&flagAgentName, "name", "", "Agent display name, defaults to hostname (env: AGENT_NAME)")
	pf.StringVar(&flagMount, "mount", "", "Mount boundary the share is mapped under (env: AGENT_MOUNT)")
	pf.StringVar(&flagRoots, "roots", "", "Comma-separated scan roots (env: AGENT_SCAN_ROOTS)")
	pf.StringVar(&flagStateFile, "state-file", "", "Pairing state file (env: AGENT_STATE_FILE)")
	pf.StringVar(&flagLogFile, "log-file", "", "Rotating log file, empty for stderr only (env: AGENT_LOG_FILE)")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "Observability listen address (env: AGENT_METRICS_ADDR)")
	pf.StringVar(&flagScratchDir, "scratch-dir", "", "Scratch directory for render subprocesses (env: AGENT_SCRATCH_DIR)")
	pf.IntVar(&flagConcurrency, "concurrency", 0, "Max concurrent renders, 0 defers to cloud config")
	pf.IntVar(&flagBatchSize, "batch-size", 0, "Progress flush batch size, 0 defers to cloud config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(renderWorkerCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(pathTestCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges environment defaults with flag overrides.
func loadConfig() config.Config {
	cfg := config.FromEnv()

	if flagServer != "" {
		cfg.ServerEndpoint = flagServer
	}
	if flagAuthKey != "" {
		cfg.AuthKey = flagAuthKey
	}
	if flagAgentName != "" {
		cfg.AgentName = flagAgentName
	}
	if flagMount != "" {
		cfg.MountBoundary = flagMount
	}
	if flagRoots != "" {
		cfg.ScanRoots = config.ParseRoots(flagRoots)
	}
	if flagStateFile != "" {
		cfg.StateFile = flagStateFile
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if flagMetricsAddr != "" {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if flagScratchDir != "" {
		cfg.ScratchDir = flagScratchDir
	}
	if flagConcurrency > 0 {
		cfg.Concurrency = flagConcurrency
	}
	if flagBatchSize > 0 {
		cfg.BatchSize = flagBatchSize
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 60 * time.Second
	}

	if cfg.LogFile != "" {
		logging.EnableFile(cfg.LogFile)
	}

	return cfg
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("asset-agent %s\n", version)
	},
}
