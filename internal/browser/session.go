package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/raysh454/permafind/internal/logging"
)

const refAttr = "data-permafind-ref"

// locateJS tags the matched element with refAttr so later actions can
// address it with a plain CSS selector.
const locateJS = `(kind, value, ref) => {
	let el = null;
	const needle = value.toLowerCase();
	const txt = (n) => (n.innerText || n.textContent || '').toLowerCase();
	if (kind === 'css') {
		el = document.querySelector(value);
	} else if (kind === 'button-text') {
		el = Array.from(document.querySelectorAll('button')).find(b => txt(b).includes(needle)) || null;
	} else {
		for (const n of document.querySelectorAll('body *')) {
			if (!txt(n).includes(needle)) continue;
			const inner = Array.from(n.children).some(c => txt(c).includes(needle));
			if (!inner) { el = n; break; }
		}
	}
	if (!el) return null;
	el.setAttribute('` + refAttr + `', ref);
	return { ref: ref, text: (el.innerText || '').trim() };
}`

// Session is a chromedp-backed Page. One Session owns one Chrome process
// and one tab.
type Session struct {
	cfg    Config
	logger logging.Logger

	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	nextRef atomic.Int64

	mu       sync.Mutex
	requests map[network.RequestID]struct{} // in flight, for idle detection
	pending  map[network.RequestID]pendingResponse
	handlers []func(Response)

	deliveries chan Response
	done       chan struct{}
	closeOnce  sync.Once
}

type pendingResponse struct {
	url    string
	status int
}

// NewSession launches Chrome and opens a tab sized to cfg's viewport.
func NewSession(ctx context.Context, cfg Config, logger logging.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 500 * time.Millisecond
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), Options(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	// chromedp's cancel blocks when called twice before Chrome started.
	tabCancel := sync.OnceFunc(cancelTab)

	s := newSession(cfg, logger)
	s.ctx = tabCtx
	s.tabCancel = tabCancel
	s.allocCancel = allocCancel

	chromedp.ListenTarget(tabCtx, s.onEvent)
	go s.deliver()

	w, h := cfg.ViewportWidth, cfg.ViewportHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 900
	}

	// The first Run allocates Chrome and the tab's event loop on the
	// context it is given, so it must run on tabCtx itself: a derived
	// context would kill the browser when it is cancelled. ctx only
	// bounds startup.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false),
	)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	s.logger.Info("browser session started",
		logging.F("headless", cfg.Headless),
		logging.F("viewport", fmt.Sprintf("%dx%d", w, h)))
	return s, nil
}

// newSession returns a Session with its bookkeeping set up and no browser
// attached.
func newSession(cfg Config, logger logging.Logger) *Session {
	return &Session{
		cfg:        cfg,
		logger:     logger.With(logging.F("component", "browser")),
		requests:   make(map[network.RequestID]struct{}),
		pending:    make(map[network.RequestID]pendingResponse),
		deliveries: make(chan Response, 1024),
		done:       make(chan struct{}),
	}
}

// run executes actions on the tab, bounded by ctx's cancellation and
// deadline. Cancelling ctx aborts the actions but keeps the tab open.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if d, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, d)
		defer cancelDeadline()
	}
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		// A redirect reuses the RequestID, and the chain finishes once.
		s.mu.Lock()
		s.requests[e.RequestID] = struct{}{}
		s.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		s.mu.Lock()
		s.pending[e.RequestID] = pendingResponse{url: e.Response.URL, status: int(e.Response.Status)}
		s.mu.Unlock()
	case *network.EventLoadingFinished:
		s.requestDone(e.RequestID)
		if p, ok := s.takePending(e.RequestID); ok {
			id := e.RequestID
			s.enqueue(NewResponse(p.url, p.status, func() (string, error) { return s.readBody(id) }))
		}
	case *network.EventLoadingFailed:
		s.requestDone(e.RequestID)
		if p, ok := s.takePending(e.RequestID); ok {
			s.enqueue(NewResponse(p.url, p.status, func() (string, error) {
				return "", fmt.Errorf("loading failed: %s", e.ErrorText)
			}))
		}
	}
}

func (s *Session) requestDone(id network.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
}

func (s *Session) inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// resetRequests forgets requests of the previous document, some of which
// never report completion once the page is left.
func (s *Session) resetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.requests)
}

func (s *Session) takePending(id network.RequestID) (pendingResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	return p, ok
}

// enqueue must not block: it runs on chromedp's event loop.
func (s *Session) enqueue(r Response) {
	select {
	case s.deliveries <- r:
	default:
		s.logger.Warn("response delivery queue full, dropping", logging.F("url", r.URL))
	}
}

func (s *Session) deliver() {
	for {
		select {
		case <-s.done:
			return
		case r := <-s.deliveries:
			s.mu.Lock()
			hs := slices.Clone(s.handlers)
			s.mu.Unlock()
			for _, h := range hs {
				h(r)
			}
		}
	}
}

func (s *Session) readBody(id network.RequestID) (string, error) {
	var body []byte
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("get response body: %w", err)
	}
	return string(body), nil
}

// OnResponse implements Page.
func (s *Session) OnResponse(fn func(Response)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Navigate implements Page.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.resetRequests()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := s.waitNetworkIdle(navCtx); err != nil {
		return fmt.Errorf("navigate %s: %w", url, ErrIdleTimeout)
	}
	return nil
}

// waitNetworkIdle returns once no request has been in flight for
// cfg.IdleAfter.
func (s *Session) waitNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var quietSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if s.inflight() > 0 {
				quietSince = time.Time{}
				continue
			}
			if quietSince.IsZero() {
				quietSince = now
			}
			if now.Sub(quietSince) >= s.cfg.IdleAfter {
				return nil
			}
		}
	}
}

// Location implements Page.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Evaluate implements Page.
func (s *Session) Evaluate(ctx context.Context, fn string, out any, args ...any) error {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	expr := "(" + fn + ")(" + strings.Join(encoded, ", ") + ")"
	if err := s.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Find implements Page.
func (s *Session) Find(ctx context.Context, sel Selector) (*Element, error) {
	ref := strconv.FormatInt(s.nextRef.Add(1), 10)
	var el *Element
	if err := s.Evaluate(ctx, locateJS, &el, string(sel.Kind), sel.Value, ref); err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	return el, nil
}

func refSelector(el *Element) string {
	return "[" + refAttr + `="` + el.Ref + `"]`
}

// actionContext bounds an element action by cfg.ActionTimeout. chromedp
// waits for the element to be visible first, and a matched element that
// stays hidden would otherwise hold the run until its own deadline.
func (s *Session) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ActionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.ActionTimeout)
}

// Click implements Page.
func (s *Session) Click(ctx context.Context, el *Element) error {
	ctx, cancel := s.actionContext(ctx)
	defer cancel()
	if err := s.run(ctx, chromedp.Click(refSelector(el), chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Fill implements Page. Existing content is selected first so typing
// replaces it.
func (s *Session) Fill(ctx context.Context, el *Element, value string) error {
	sel := refSelector(el)
	ctx, cancel := s.actionContext(ctx)
	defer cancel()
	err := s.run(ctx,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.Evaluate(`document.activeElement && document.activeElement.select && document.activeElement.select()`, nil),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return nil
}

// PressEnter implements Page.
func (s *Session) PressEnter(ctx context.Context) error {
	if err := s.run(ctx, chromedp.KeyEvent(kb.Enter)); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

// VisibleText implements Page.
func (s *Session) VisibleText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("visible text: %w", err)
	}
	return text, nil
}

// HTML implements Page.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Screenshot implements Page.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("screenshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	s.logger.Debug("screenshot written", logging.F("path", path))
	return nil
}

// Close shuts the tab and the browser process. It is safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.tabCancel()
		s.allocCancel()
		s.logger.Info("browser session closed")
	})
	return nil
}
