package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"asset-agent/internal/catalog"
	"asset-agent/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair this agent with the catalog",
	Long: `Pair registers this host with the catalog and persists the assigned
agent identity so subsequent runs skip registration. The auth key is
read from --auth-key, AGENT_AUTH_KEY, or an interactive prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPair(cmd)
	},
}

func runPair(cmd *cobra.Command) error {
	cfg := loadConfig()
	if cfg.ServerEndpoint == "" {
		return fmt.Errorf("server endpoint is required (--server or AGENT_SERVER)")
	}

	if state, err := config.LoadPairing(cfg.StateFile); err != nil {
		return fmt.Errorf("read pairing state: %w", err)
	} else if state != nil {
		return fmt.Errorf("already paired as agent %s (state: %s); remove the state file to re-pair", state.AgentID, cfg.StateFile)
	}

	if cfg.AuthKey == "" {
		key, err := promptAuthKey()
		if err != nil {
			return err
		}
		cfg.AuthKey = key
	}
	if cfg.AuthKey == "" {
		return fmt.Errorf("auth key must not be empty")
	}

	client := catalog.New(cfg.ServerEndpoint, cfg.AuthKey)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agentID, err := client.Register(ctx, cfg.AgentName)
	if err != nil {
		return fmt.Errorf("register with catalog: %w", err)
	}

	if err := config.SavePairing(cfg.StateFile, config.PairingState{
		AgentID:  agentID,
		AuthKey:  cfg.AuthKey,
		PairedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("persist pairing state: %w", err)
	}

	cmd.Printf("paired as agent %s, state saved to %s\n", agentID, cfg.StateFile)
	return nil
}

// promptAuthKey reads the key without echo when attached to a terminal.
func promptAuthKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("auth key is required (--auth-key or AGENT_AUTH_KEY)")
	}

	fmt.Fprint(os.Stderr, "Auth key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read auth key: %w", err)
	}
	return strings.TrimSpace(string(key)), nil
}
