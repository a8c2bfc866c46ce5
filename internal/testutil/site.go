package testutil

import (
	"context"
	"time"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/probe"
)

// FastProbeConfig is the default target with every wait shrunk so a scripted
// run finishes in milliseconds. Artifacts go to dir.
func FastProbeConfig(dir string) probe.Config {
	cfg := probe.DefaultConfig()
	cfg.Waits = probe.WaitConfig{
		InitialSettle: 50 * time.Millisecond,
		Search:        50 * time.Millisecond,
		Click:         20 * time.Millisecond,
		Share:         20 * time.Millisecond,
		ProbeSettle:   20 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
	cfg.Scroll.MaxIterations = 5
	cfg.Scroll.Pause = 0
	cfg.ArtifactsDir = dir
	return cfg
}

// SearchURL is the API call the site makes for cfg's query.
func SearchURL(cfg probe.Config) string {
	return cfg.BaseURL + "/api/builds?search=" + cfg.Query
}

// NewSitePage scripts the browse page: a search box that answers Enter with
// body, and the target card appearing after two scrolls.
func NewSitePage(cfg probe.Config, body string) *FakePage {
	p := NewFakePage("about:blank")
	p.DefaultText = "Browse builds\nSearch projects"
	p.RevealText = cfg.TargetText
	p.RevealAfter = 2
	p.Elements[cfg.SearchSelectors[0]] = &FakeElement{}
	p.Elements[browser.Text(cfg.TargetText)] = &FakeElement{Text: cfg.TargetText}
	p.OnEnter = []FakeResponse{
		{URL: cfg.BaseURL + "/api/stats", Status: 200, Body: `{"total": 3}`},
		{URL: SearchURL(cfg), Status: 200, Body: body},
	}
	return p
}

// HangingPage never finishes navigating; Navigate returns only when ctx
// ends. Started is closed on the first call.
type HangingPage struct {
	*FakePage
	Started chan struct{}
}

func NewHangingPage() *HangingPage {
	return &HangingPage{FakePage: NewFakePage("about:blank"), Started: make(chan struct{})}
}

func (p *HangingPage) Navigate(ctx context.Context, url string, _ time.Duration) error {
	select {
	case <-p.Started:
	default:
		close(p.Started)
	}
	<-ctx.Done()
	return ctx.Err()
}
