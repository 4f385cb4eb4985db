package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// Unset fields are filled with defaults after parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault loads the first config found in ./repairloop.yaml or
// ~/.repairloop/config.yaml. Without either it returns the defaults and an
// empty source path.
func LoadDefault() (*Config, string, error) {
	candidates := []string{"repairloop.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".repairloop", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	r := &cfg.Repairloop
	setString(&r.AuditLog, "runs/events.jsonl")
	setString(&r.Workdir, ".repairloop/work")
	setString(&r.Python, "python3")
	setString(&r.Node, "node")
	setString(&r.TSC, "tsc")

	v := &r.Verifier
	setString(&v.PyTimeout, "1s")
	setString(&v.TSTimeout, "2s")
	setString(&v.TSCTimeout, "20s")
	if v.MaxOutputKB == 0 {
		v.MaxOutputKB = 32
	}

	p := &r.Proposer
	setString(&p.Kind, KindCommand)
	if p.AllowedLanguages == nil {
		p.AllowedLanguages = []string{"py", "ts"}
	}
	if p.MaxCallsPerTask == 0 {
		p.MaxCallsPerTask = 1
	}
	if p.MaxCallsPerDay == 0 {
		p.MaxCallsPerDay = 20
	}
	if p.MaxTotalSecondsPerDay == 0 {
		p.MaxTotalSecondsPerDay = 30
	}
	if p.OnlyForUncoveredSignatures == nil {
		only := true
		p.OnlyForUncoveredSignatures = &only
	}
	setString(&p.UncoveredSource, "configs/uncovered_signatures.json")
	setString(&p.Timeout, "2s")
	setString(&p.BudgetStore, StoreMemory)

	setString(&r.Index.Path, "~/.repairloop/index.db")
	setString(&r.Logging.Level, "info")
	setString(&r.Logging.Format, "console")
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Duration parses a duration field, returning fallback when it is empty or
// invalid. Validate reports invalid values.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
