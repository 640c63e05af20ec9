package main

import (
	"os"

	"asset-agent/cmd"
	"asset-agent/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
}
