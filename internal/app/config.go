package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/probe"
	"github.com/raysh454/permafind/internal/webclient"
)

// Config is the whole runtime configuration. The zero-flag CLI run uses
// DefaultConfig unchanged.
type Config struct {
	Probe     probe.Config     `yaml:"probe"`
	Browser   browser.Config   `yaml:"browser"`
	WebClient webclient.Config `yaml:"webclient"`

	LogLevel string `yaml:"log_level"`

	// HistoryPath is the SQLite run history; empty disables it.
	HistoryPath string `yaml:"history_path"`

	ServerAddr string `yaml:"server_addr"`

	// RunTimeout bounds one whole run.
	RunTimeout time.Duration `yaml:"run_timeout"`
	// JobRetentionTime is how long finished server jobs stay queryable.
	JobRetentionTime time.Duration `yaml:"job_retention"`
}

// DefaultConfig returns a Config populated with the stock target and limits.
func DefaultConfig() *Config {
	return &Config{
		Probe:   probe.DefaultConfig(),
		Browser: browser.DefaultConfig(),
		WebClient: webclient.Config{
			Timeout:      15 * time.Second,
			UserAgent:    browser.DefaultUserAgent,
			MaxBodyBytes: 5 << 20,
		},
		LogLevel:         "info",
		ServerAddr:       "localhost:8080",
		RunTimeout:       5 * time.Minute,
		JobRetentionTime: time.Hour,
	}
}

// LoadConfigFile reads a YAML file over the defaults. Keys the file leaves
// out keep their default value; unknown keys are an error.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings no run could work with.
func (c *Config) Validate() error {
	p := c.Probe
	switch {
	case p.BaseURL == "":
		return errors.New("probe.base_url is required")
	case p.Query == "":
		return errors.New("probe.query is required")
	case p.TargetText == "":
		return errors.New("probe.target_text is required")
	case p.ResultsKey == "":
		return errors.New("probe.results_key is required")
	case len(p.SearchSelectors) == 0:
		return errors.New("probe.search_selectors must not be empty")
	case p.Scroll.MaxIterations < 0:
		return errors.New("probe.scroll.max_iterations must not be negative")
	case c.RunTimeout < 0:
		return errors.New("run_timeout must not be negative")
	}
	return nil
}
