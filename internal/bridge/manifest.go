package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const manifestName = "wabridge-bridge.json"

// Manifest describes how to run the protocol bridge living in a directory.
type Manifest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Runtime     string      `json:"runtime"`
	Commands    [][]string  `json:"commands"` // all but the last run to completion; the last one is the long-running bridge
	Cwd         string      `json:"cwd"`
	EnvFile     string      `json:"envFile"`
	EnvSchema   []EnvSchema `json:"envSchema"`
}

type EnvSchema struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

func LoadManifest(bridgeDir string) (*Manifest, error) {
	p := filepath.Join(bridgeDir, manifestName)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	if m.Cwd == "" {
		m.Cwd = "."
	}
	if len(m.Commands) == 0 || len(m.Commands[len(m.Commands)-1]) == 0 {
		return nil, fmt.Errorf("%s: last command is empty", p)
	}
	return &m, nil
}

// setup returns the commands that must finish before the bridge starts.
func (m *Manifest) setup() [][]string { return m.Commands[:len(m.Commands)-1] }

// run returns the long-running bridge command.
func (m *Manifest) run() []string { return m.Commands[len(m.Commands)-1] }

// CheckEnv reports every required key that env does not set.
func (m *Manifest) CheckEnv(env []string) error {
	set := make(map[string]bool, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 && i < len(kv)-1 {
			set[kv[:i]] = true
		}
	}
	var errs []error
	for _, s := range m.EnvSchema {
		if s.Required && !set[s.Key] {
			errs = append(errs, fmt.Errorf("bridge env %s is required: %s", s.Key, s.Description))
		}
	}
	return errors.Join(errs...)
}
