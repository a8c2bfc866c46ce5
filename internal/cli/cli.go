package cli

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/raysh454/permafind/internal/app"
)

// Subcommands. The first argument selects one; without it the CLI runs once.
const (
	CmdRun     = "run"
	CmdServe   = "serve"
	CmdHistory = "history"
)

// CLIArgs are the command-line arguments of one invocation. Only flags given
// explicitly override the configuration.
type CLIArgs struct {
	Command string

	// ConfigPath is an optional YAML file read over the defaults.
	ConfigPath string

	// JSON prints the report (or history) as JSON instead of text.
	JSON bool

	// Limit caps the history listing; 0 lists everything.
	Limit int

	Headless     bool
	ArtifactsDir string
	HistoryPath  string
	LogLevel     string
	Query        string
	TargetText   string
	ServerAddr   string
	Timeout      time.Duration

	set map[string]bool

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	a := &CLIArgs{Command: CmdRun, RawArgs: args, set: map[string]bool{}}
	rest := args
	if len(rest) > 0 && len(rest[0]) > 0 && rest[0][0] != '-' {
		switch rest[0] {
		case CmdRun, CmdServe, CmdHistory:
			a.Command = rest[0]
			rest = rest[1:]
		default:
			return nil, fmt.Errorf("unknown command %q (want run, serve or history)", rest[0])
		}
	}

	fs := flag.NewFlagSet("permafind "+a.Command, flag.ContinueOnError)
	fs.StringVar(&a.ConfigPath, "config", "", "YAML config file read over the defaults")
	fs.BoolVar(&a.JSON, "json", false, "Print JSON instead of the text report")
	fs.BoolVar(&a.Headless, "headless", true, "Run Chrome without a window")
	fs.StringVar(&a.ArtifactsDir, "artifacts", "", "Directory for debug screenshots")
	fs.StringVar(&a.HistoryPath, "history", "", "SQLite file storing every run (empty disables history)")
	fs.StringVar(&a.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.StringVar(&a.Query, "query", "", "Search query typed into the site")
	fs.StringVar(&a.TargetText, "target", "", "Card text to look for (defaults to the query)")
	fs.StringVar(&a.ServerAddr, "addr", "", "Listen address for serve")
	fs.DurationVar(&a.Timeout, "timeout", 0, "Bound on one whole run")
	fs.IntVar(&a.Limit, "limit", 0, "Number of runs history lists (0 = all)")

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(rest); err != nil {
		// Flag parsing errors are useful to return to caller
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { a.set[f.Name] = true })
	if a.Limit < 0 {
		return nil, fmt.Errorf("-limit must not be negative")
	}

	return a, nil
}

// IsSet reports whether the flag was given on the command line.
func (a *CLIArgs) IsSet(name string) bool {
	return a.set[name]
}

// Apply overrides cfg with the flags that were given.
func (a *CLIArgs) Apply(cfg *app.Config) {
	if a.IsSet("headless") {
		cfg.Browser.Headless = a.Headless
	}
	if a.IsSet("artifacts") {
		cfg.Probe.ArtifactsDir = a.ArtifactsDir
	}
	if a.IsSet("history") {
		cfg.HistoryPath = a.HistoryPath
	}
	if a.IsSet("log-level") {
		cfg.LogLevel = a.LogLevel
	}
	if a.IsSet("query") {
		cfg.Probe.Query = a.Query
		cfg.Probe.TargetText = a.Query
	}
	if a.IsSet("target") {
		cfg.Probe.TargetText = a.TargetText
	}
	if a.IsSet("addr") {
		cfg.ServerAddr = a.ServerAddr
	}
	if a.IsSet("timeout") {
		cfg.RunTimeout = a.Timeout
	}
}

// Config builds the effective configuration: defaults, then the config
// file, then the flags.
func (a *CLIArgs) Config() (*app.Config, error) {
	cfg := app.DefaultConfig()
	if a.ConfigPath != "" {
		var err error
		if cfg, err = app.LoadConfigFile(a.ConfigPath); err != nil {
			return nil, err
		}
	}
	a.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
