// Package toolconfig loads forkyard's own operator settings: base
// directories for clones and pins, and the advisor endpoint. The
// system TOML file resolves relative to the running executable, with
// an environment override for tests and packaging.
package toolconfig

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const envConfigPath = "FORKYARD_CONFIG_SYSTEM"

// Config is forkyard's own settings, distinct from the per-entry JSON
// document in internal/config.
type Config struct {
	ClonesDir       string `toml:"clones_dir"`
	PinsDir         string `toml:"pins_dir"`
	EntriesDoc      string `toml:"entries_doc"`
	AdvisorEndpoint string `toml:"advisor_endpoint"`
}

func defaults() *Config {
	return &Config{
		ClonesDir:  "clones",
		PinsDir:    "pins",
		EntriesDoc: "forks.json",
	}
}

func systemPath() string {
	if p, ok := os.LookupEnv(envConfigPath); ok {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	prefix := filepath.Dir(exe)
	if filepath.Base(prefix) == "bin" {
		prefix = filepath.Dir(prefix)
	}
	return filepath.Join(prefix, "etc", "forkyard.toml")
}

// Load reads forkyard.toml if present, falling back to defaults for
// any field a missing or partial file doesn't set.
func Load() (*Config, error) {
	cfg := defaults()
	path := systemPath()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
