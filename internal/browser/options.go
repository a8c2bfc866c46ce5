package browser

import (
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a realistic desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls how the Chrome instance is launched.
type Config struct {
	Headless       bool          `yaml:"headless"`
	UserAgent      string        `yaml:"user_agent"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	ExecPath       string        `yaml:"exec_path"`
	NoSandbox      bool          `yaml:"no_sandbox"`
	IdleAfter      time.Duration `yaml:"idle_after"`
	// ActionTimeout bounds element actions (click, fill), which otherwise
	// wait for the element to become visible.
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// DefaultConfig matches the viewport and user agent the probe was tuned with.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		UserAgent:      DefaultUserAgent,
		ViewportWidth:  1280,
		ViewportHeight: 900,
		IdleAfter:      500 * time.Millisecond,
		ActionTimeout:  5 * time.Second,
	}
}

// Options returns chromedp allocator options for cfg.
func Options(cfg Config) []chromedp.ExecAllocatorOption {
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	w, h := cfg.ViewportWidth, cfg.ViewportHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 900
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),

		// Keeps navigator.webdriver false.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(ua),
		chromedp.WindowSize(w, h),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	return opts
}
