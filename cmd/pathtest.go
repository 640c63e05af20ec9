package cmd

import (
	"fmt"

	"asset-agent/internal/control"

	"github.com/spf13/cobra"
)

var pathTestCmd = &cobra.Command{
	Use:   "path-test PATH [PATH...]",
	Short: "Probe paths against the local mount",
	Long: `Path-test runs the same probe the agent performs for a catalog-issued
path test, locally: existence, readability, type, and whether the path
falls inside the mount boundary. Relative paths resolve against the
mount.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if cfg.MountBoundary == "" {
			return fmt.Errorf("mount boundary is required (--mount or AGENT_MOUNT)")
		}

		for _, res := range control.ProbePaths(cfg.MountBoundary, args) {
			cmd.Printf("%s\n  exists=%t readable=%t directory=%t withinMount=%t\n",
				res.Path, res.Exists, res.Readable, res.IsDirectory, res.WithinBoundary)
		}
		return nil
	},
}
