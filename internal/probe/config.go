package probe

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/raysh454/permafind/internal/browser"
)

// Artifact file names. They are fixed; only the directory is configurable.
const (
	ErrorScreenshot = "debug_error.png"
	ClickScreenshot = "debug_after_click.png"
	MatchScreenshot = "debug_id_match.png"
)

// Config describes the target site and how hard to poke at it.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	BrowsePath  string `yaml:"browse_path"`
	APIMarker   string `yaml:"api_marker"`
	Query       string `yaml:"query"`
	ResultsKey  string `yaml:"results_key"`
	TargetText  string `yaml:"target_text"`
	ProjectName string `yaml:"project_name"`

	// APISearchTemplate is the direct API query suggested in the report.
	APISearchTemplate string `yaml:"api_search_template"`

	SearchSelectors []browser.Selector `yaml:"search_selectors"`
	ShareSelectors  []browser.Selector `yaml:"share_selectors"`

	// RouteTemplates use {base} and {id} placeholders.
	RouteTemplates []string `yaml:"route_templates"`
	Keywords       []string `yaml:"keywords"`
	ProbeTextLimit int      `yaml:"probe_text_limit"`

	AncestorLevels  int `yaml:"ancestor_levels"`
	AnchorTextLimit int `yaml:"anchor_text_limit"`

	Scroll   ScrollConfig  `yaml:"scroll"`
	Waits    WaitConfig    `yaml:"waits"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Source   SourceConfig  `yaml:"source"`

	ArtifactsDir string `yaml:"artifacts_dir"`
}

type ScrollConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	StepPixels    int           `yaml:"step_pixels"`
	Pause         time.Duration `yaml:"pause"`
}

// WaitConfig bounds each condition wait. A wait returns as soon as its
// condition holds; the bound is how long the site may take.
type WaitConfig struct {
	InitialSettle time.Duration `yaml:"initial_settle"`
	Search        time.Duration `yaml:"search"`
	Click         time.Duration `yaml:"click"`
	Share         time.Duration `yaml:"share"`
	ProbeSettle   time.Duration `yaml:"probe_settle"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type TimeoutConfig struct {
	InitialNavigation time.Duration `yaml:"initial_navigation"`
	ProbeNavigation   time.Duration `yaml:"probe_navigation"`
}

type SourceConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxScripts int  `yaml:"max_scripts"`
	// Concurrency bounds parallel bundle downloads.
	Concurrency int      `yaml:"concurrency"`
	MaxBytes    int      `yaml:"max_bytes"`
	Patterns    []string `yaml:"patterns"`
	MaxHits     int      `yaml:"max_hits_per_pattern"`
}

// DefaultConfig targets the NeuroVox submission on the v0 hackathon site.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://v0-v0prompttoproduction2026.vercel.app",
		BrowsePath:        "/browse",
		APIMarker:         "/api/",
		Query:             "renan-b-eth",
		ResultsKey:        "builds",
		TargetText:        "renan-b-eth",
		ProjectName:       "NeuroVox",
		APISearchTemplate: "{base}/api/builds?search={query}",
		SearchSelectors: []browser.Selector{
			browser.CSS("input[placeholder*='Search']"),
			browser.CSS("input[placeholder*='search']"),
			browser.CSS("input[type='search']"),
		},
		ShareSelectors: []browser.Selector{
			browser.ButtonText("Share"),
			browser.CSS("[aria-label*='share' i]"),
			browser.ButtonText("Copy"),
		},
		RouteTemplates: []string{
			"{base}/browse/{id}",
			"{base}/build/{id}",
			"{base}/builds/{id}",
			"{base}/project/{id}",
			"{base}/browse?id={id}",
			"{base}/browse?build={id}",
			"{base}/browse#{id}",
		},
		Keywords:        []string{"renan", "cognitive", "eco-ideiathon", "neurovox"},
		ProbeTextLimit:  800,
		AncestorLevels:  5,
		AnchorTextLimit: 60,
		Scroll: ScrollConfig{
			MaxIterations: 30,
			StepPixels:    600,
			Pause:         800 * time.Millisecond,
		},
		Waits: WaitConfig{
			InitialSettle: 2 * time.Second,
			Search:        3 * time.Second,
			Click:         3 * time.Second,
			Share:         2 * time.Second,
			ProbeSettle:   2 * time.Second,
			PollInterval:  100 * time.Millisecond,
		},
		Timeouts: TimeoutConfig{
			InitialNavigation: 30 * time.Second,
			ProbeNavigation:   15 * time.Second,
		},
		Source: SourceConfig{
			Enabled:     true,
			MaxScripts:  20,
			Concurrency: 4,
			MaxBytes:    5 << 20,
			Patterns:    []string{"/build/", "/builds/", "/project/", "/browse/", "pushState", "BuildCard"},
			MaxHits:     3,
		},
		ArtifactsDir: ".",
	}
}

func (c Config) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// BrowseURL is the page every run starts from.
func (c Config) BrowseURL() string {
	return c.base() + c.BrowsePath
}

// APISearchURL is the direct API query for the configured search.
func (c Config) APISearchURL() string {
	r := strings.NewReplacer("{base}", c.base(), "{query}", url.QueryEscape(c.Query))
	return r.Replace(c.APISearchTemplate)
}

func (c Config) artifact(name string) string {
	dir := c.ArtifactsDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name)
}
