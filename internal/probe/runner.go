package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/logging"
)

// Phase names, used as keys in Report.Errors and in progress events.
const (
	PhaseOpen    = "open"
	PhaseSearch  = "search"
	PhaseScroll  = "scroll"
	PhaseClick   = "click"
	PhaseCard    = "card"
	PhaseShare   = "share"
	PhaseRoutes  = "routes"
	PhaseDump    = "dump"
	PhaseSource  = "source"
	PhaseSummary = "summary"
)

// Event reports that a phase finished.
type Event struct {
	Phase string `json:"phase"`
	Error string `json:"error,omitempty"`
}

// Runner drives one permalink hunt over a page. A Runner is single use.
type Runner struct {
	cfg     Config
	page    browser.Page
	fetcher SourceFetcher
	logger  logging.Logger
	out     io.Writer

	// RunID is copied into the report.
	RunID string
	// Progress, when set, is called after every phase.
	Progress func(Event)
}

// NewRunner prepares a run. out receives the text report as phases finish;
// nil discards it. fetcher may be nil, which limits Strategy F to inline
// scripts.
func NewRunner(cfg Config, page browser.Page, fetcher SourceFetcher, logger logging.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = logging.Nop{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		cfg:     cfg,
		page:    page,
		fetcher: fetcher,
		logger:  logger.With(logging.F("component", "runner")),
		out:     out,
	}
}

// Run executes every phase in order. The returned error is non-nil only
// when the run was aborted: the browse page failed to open, the search
// yielded no build (ErrBuildNotFound) or ctx ended. The report is returned
// in every case.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	cfg := r.cfg
	rep := &Report{
		RunID:       r.RunID,
		StartedAt:   time.Now().UTC(),
		Site:        cfg.base(),
		Query:       cfg.Query,
		ProjectName: cfg.ProjectName,
	}
	defer func() { rep.EndedAt = time.Now().UTC() }()

	apiLog := Listen(r.page, cfg.APIMarker, r.logger)
	defer func() { rep.APICalls = apiLog.Len() }()

	browse := cfg.BrowseURL()
	fmt.Fprintf(r.out, "[1] Opening %s ...\n", browse)
	if err := r.page.Navigate(ctx, browse, cfg.Timeouts.InitialNavigation); err != nil {
		if !errors.Is(err, browser.ErrIdleTimeout) {
			return r.abort(ctx, rep, PhaseOpen, fmt.Errorf("open browse page: %w", err))
		}
		r.logger.Warn("browse page never went idle", logging.F("url", browse))
	}
	if err := InjectInterceptor(ctx, r.page); err != nil {
		rep.recordError(PhaseOpen, err)
	}
	if _, err := waitUntil(ctx, cfg.Waits.InitialSettle, cfg.Waits.PollInterval, func() (bool, error) {
		return r.anySearchInput(ctx)
	}); err != nil {
		return r.abort(ctx, rep, PhaseOpen, err)
	}
	baseline, err := r.page.VisibleText(ctx)
	if err != nil {
		rep.recordError(PhaseOpen, err)
	}
	r.emit(PhaseOpen, nil)

	fmt.Fprintf(r.out, "[2] Searching %q in the search field ...\n", cfg.Query)
	sr, err := Search(ctx, r.page, apiLog, cfg)
	rep.Search = sr
	sr.Render(r.out, err)
	if err != nil {
		return r.abort(ctx, rep, PhaseSearch, err)
	}
	rep.Build = sr.Build
	r.logger.Info("build found",
		logging.F("id", sr.Build.ID()),
		logging.F("candidates", sr.Candidates),
		logging.F("url", sr.MatchedURL))
	r.emit(PhaseSearch, nil)

	fmt.Fprintln(r.out, "[3] Scrolling to find the card ...")
	rep.Scroll, err = ScrollToReveal(ctx, r.page, cfg)
	if err := r.step(ctx, rep, PhaseScroll, err); err != nil {
		return rep, err
	}
	rep.Scroll.Render(r.out)
	revealed := rep.Scroll.Found

	rep.Click, err = ClickAndObserve(ctx, r.page, cfg, revealed)
	if err := r.step(ctx, rep, PhaseClick, err); err != nil {
		return rep, err
	}
	rep.Click.Render(r.out)

	rep.Card, err = InspectCard(ctx, r.page, cfg, revealed)
	if err := r.step(ctx, rep, PhaseCard, err); err != nil {
		return rep, err
	}
	rep.Card.Render(r.out)

	rep.Share, err = FindShare(ctx, r.page, cfg)
	if err := r.step(ctx, rep, PhaseShare, err); err != nil {
		return rep, err
	}
	rep.Share.Render(r.out)

	// Source inspection reads the document the earlier strategies left
	// loaded; Strategy D navigates away from it.
	var source *SourceResult
	source, err = InspectSource(ctx, r.page, r.fetcher, cfg, r.logger)
	if err := r.step(ctx, rep, PhaseSource, err); err != nil {
		return rep, err
	}

	if id := sr.Build.ID(); id != "" {
		rep.Routes, err = ProbeRoutes(ctx, r.page, cfg, id, baseline, r.logger)
		if err := r.step(ctx, rep, PhaseRoutes, err); err != nil {
			return rep, err
		}
	} else {
		rep.Routes = &RoutesResult{}
		rep.recordError(PhaseRoutes, errors.New("build has no id"))
		r.emit(PhaseRoutes, errors.New("build has no id"))
	}
	rep.Routes.Render(r.out)
	rep.Permalink = rep.Routes.Permalink

	RenderBuild(r.out, rep.Build)
	r.emit(PhaseDump, nil)

	rep.Source = source
	source.Render(r.out)

	if rep.Permalink == "" {
		rep.Fallback = &Fallback{
			SearchURL:  browse,
			Query:      cfg.Query,
			ProjectURL: rep.Build.Field("project_url"),
			APIURL:     cfg.APISearchURL(),
		}
	}
	rep.RenderSummary(r.out)
	r.emit(PhaseSummary, nil)
	return rep, nil
}

func (r *Runner) anySearchInput(ctx context.Context) (bool, error) {
	for _, sel := range r.cfg.SearchSelectors {
		el, err := r.page.Find(ctx, sel)
		if err != nil {
			return false, err
		}
		if el != nil {
			return true, nil
		}
	}
	return false, nil
}

// step records a non-fatal phase error. It returns an error only when ctx
// has ended, which stops the run.
func (r *Runner) step(ctx context.Context, rep *Report, phase string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		rep.Aborted = true
		rep.AbortReason = cerr.Error()
		r.emit(phase, cerr)
		return cerr
	}
	if err != nil {
		r.logger.Warn("phase failed", logging.F("phase", phase), logging.F("error", err))
		rep.recordError(phase, err)
	}
	r.emit(phase, err)
	return nil
}

// abort ends the run: the error screenshot is taken and the report is
// marked aborted.
func (r *Runner) abort(ctx context.Context, rep *Report, phase string, err error) (*Report, error) {
	rep.Aborted = true
	rep.AbortReason = err.Error()
	r.logger.Error("run aborted", logging.F("phase", phase), logging.F("error", err))
	if ctx.Err() == nil {
		if shotErr := r.page.Screenshot(ctx, r.cfg.artifact(ErrorScreenshot)); shotErr != nil {
			r.logger.Warn("error screenshot failed", logging.F("error", shotErr))
		}
	}
	r.emit(phase, err)
	return rep, err
}

func (r *Runner) emit(phase string, err error) {
	if r.Progress == nil {
		return
	}
	ev := Event{Phase: phase}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Progress(ev)
}
