package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"asset-agent/internal/catalog"
	"asset-agent/internal/config"
	"asset-agent/internal/control"
	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"
	"asset-agent/internal/publish"
	"asset-agent/internal/render"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scanning agent",
	Long: `Run starts the unattended scanning agent: it pairs with the catalog
(or reuses persisted pairing state), serves local observability
endpoints, and enters the heartbeat loop until terminated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

func runAgent() error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Info("asset-agent %s starting (mount: %s)", version, cfg.MountBoundary)

	client, err := pairedClient(&cfg)
	if err != nil {
		return err
	}

	render.InitVips()
	defer render.ShutdownVips()

	handle := config.NewHandle(cfg.InitialCloudConfig())
	publisher := publish.New(storageCredentials(cfg.Storage))
	renderer := render.New(cfg.ScratchDir, cfg.RenderTimeout)

	controller := control.New(client, cfg, handle, publisher, renderer)

	metrics.SetAppInfo(version, commit, runtime.Version())
	go metrics.Serve(cfg.MetricsAddr, func() bool {
		return client.AgentID() != ""
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = controller.Run(ctx)
	if err == context.Canceled {
		logging.Info("shutting down")
		return nil
	}
	return err
}

// pairedClient builds the catalog client, reusing persisted pairing state
// or registering anew when there is none.
func pairedClient(cfg *config.Config) (*catalog.Client, error) {
	state, err := config.LoadPairing(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("read pairing state: %w", err)
	}

	if state != nil {
		if cfg.AuthKey == "" {
			cfg.AuthKey = state.AuthKey
		}
		client := catalog.New(cfg.ServerEndpoint, cfg.AuthKey)
		client.SetAgentID(state.AgentID)
		logging.Info("using persisted pairing (agent %s, paired %s)", state.AgentID, state.PairedAt.Format(time.RFC3339))
		return client, nil
	}

	if cfg.AuthKey == "" {
		return nil, fmt.Errorf("no pairing state at %s and no auth key; run 'asset-agent pair' first", cfg.StateFile)
	}

	client := catalog.New(cfg.ServerEndpoint, cfg.AuthKey)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agentID, err := client.Register(ctx, cfg.AgentName)
	if err != nil {
		return nil, fmt.Errorf("register with catalog: %w", err)
	}

	if err := config.SavePairing(cfg.StateFile, config.PairingState{
		AgentID:  agentID,
		AuthKey:  cfg.AuthKey,
		PairedAt: time.Now().UTC(),
	}); err != nil {
		logging.Warn("could not persist pairing state: %v", err)
	}

	logging.Info("registered as agent %s", agentID)
	return client, nil
}

func storageCredentials(s config.StorageCredentials) publish.Credentials {
	return publish.Credentials{
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Region:    s.Region,
		Bucket:    s.Bucket,
		Endpoint:  s.Endpoint,
	}
}
