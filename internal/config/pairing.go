package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PairingState is what survives a restart: the identity the catalog assigned
// at registration and the auth key used to talk to it.
type PairingState struct {
	AgentID  string    `yaml:"agentId"`
	AuthKey  string    `yaml:"authKey"`
	PairedAt time.Time `yaml:"pairedAt"`
}

// LoadPairing reads the persisted pairing state. A missing file is not an
// error; it just means the agent has never paired.
func LoadPairing(path string) (*PairingState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pairing state: %w", err)
	}

	var st PairingState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse pairing state %s: %w", path, err)
	}
	if st.AgentID == "" || st.AuthKey == "" {
		return nil, fmt.Errorf("pairing state %s is incomplete", path)
	}
	return &st, nil
}

// SavePairing writes the pairing state with owner-only permissions, creating
// parent directories as needed.
func SavePairing(path string, st PairingState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode pairing state: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write pairing state: %w", err)
	}
	return nil
}
