package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
	"asset-agent/internal/publish"
	"asset-agent/internal/renderworker"

	"github.com/spf13/cobra"
)

var (
	flagRenderTool   string
	flagRenderArgs   []string
	flagPollInterval time.Duration
	flagToolTimeout  time.Duration
)

var renderWorkerCmd = &cobra.Command{
	Use:   "render-worker",
	Short: "Run the remote render worker",
	Long: `Render-worker runs on a host with the native design tooling installed.
It polls the catalog's render queue for files the scanning agents could
not rasterize locally, converts them with the configured external tool,
publishes the preview and reports the outcome.

The tool arguments may reference {input} and {output}; when neither
appears, the input and output paths are appended in that order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRenderWorker()
	},
}

func init() {
	renderWorkerCmd.Flags().StringVar(&flagRenderTool, "tool", "", "External converter binary (required)")
	renderWorkerCmd.Flags().StringSliceVar(&flagRenderArgs, "tool-arg", nil, "Converter argument template, repeatable")
	renderWorkerCmd.Flags().DurationVar(&flagPollInterval, "poll-interval", 30*time.Second, "Render queue poll interval")
	renderWorkerCmd.Flags().DurationVar(&flagToolTimeout, "tool-timeout", 2*time.Minute, "Per-job converter timeout")
}

func runRenderWorker() error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if flagRenderTool == "" {
		return fmt.Errorf("an external converter is required (--tool)")
	}

	client, err := pairedClient(&cfg)
	if err != nil {
		return err
	}

	publisher := publish.New(storageCredentials(cfg.Storage))

	worker := renderworker.New(client, publisher, cfg.MountBoundary, flagRenderTool, flagRenderArgs)
	worker.PollInterval = flagPollInterval
	worker.ToolTimeout = flagToolTimeout
	worker.ScratchDir = cfg.ScratchDir

	metrics.SetAppInfo(version, commit, runtime.Version())
	go metrics.Serve(cfg.MetricsAddr, func() bool {
		return client.AgentID() != ""
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = worker.Run(ctx)
	if err == context.Canceled {
		logging.Info("shutting down")
		return nil
	}
	return err
}
