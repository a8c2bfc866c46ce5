package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/probe"
)

// FakeResponse is a scripted network response.
type FakeResponse struct {
	URL     string
	Status  int
	Body    string
	BodyErr error
}

// FakeElement is a scripted element. OnClick runs when the element is
// clicked and may mutate the page (PushState, SetURL).
type FakeElement struct {
	Text    string
	OnClick func(p *FakePage)
}

// FakePage implements browser.Page from a script. It understands the probe
// package's page-side scripts: the history interceptor, the capture read
// back, scrolling and the card inspection.
type FakePage struct {
	mu sync.Mutex

	url string

	// Texts maps an address to the visible text served there; DefaultText
	// is used for addresses not listed.
	Texts       map[string]string
	DefaultText string
	// RevealText is appended to the visible text once the page was
	// scrolled RevealAfter times.
	RevealText  string
	RevealAfter int

	// Document is what HTML returns.
	Document string

	// Elements answers Find by exact selector.
	Elements map[browser.Selector]*FakeElement

	// OnEnter is delivered to listeners when Enter is pressed.
	OnEnter []FakeResponse
	// OnNavigate is delivered when the page navigates to the key.
	OnNavigate map[string][]FakeResponse
	// NavigateErr fails navigation to the key. browser.ErrIdleTimeout
	// loads the page and then reports the error.
	NavigateErr map[string]error

	// Card is what the card inspection script returns; nil means no
	// element mentions the target.
	Card any

	// Scripts answers any other Evaluate call by function source.
	Scripts map[string]func(args []any) (any, error)

	hooked    bool
	captured  []string
	listeners []func(browser.Response)
	scrolls   int

	Navigations []string
	Clicks      []string
	Filled      map[string]string
	Screenshots []string
	Injections  int
	closed      bool
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage returns a page positioned at url.
func NewFakePage(url string) *FakePage {
	return &FakePage{
		url:      url,
		Texts:    map[string]string{},
		Elements: map[browser.Selector]*FakeElement{},
		Filled:   map[string]string{},
	}
}

// PushState emulates history.pushState(…, url): the address changes and a
// hooked interceptor records it.
func (p *FakePage) PushState(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	if p.hooked {
		p.captured = append(p.captured, url)
	}
}

// SetURL changes the address without touching the history API.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Deliver sends responses to every listener, in order.
func (p *FakePage) Deliver(responses ...FakeResponse) {
	p.mu.Lock()
	ls := slices.Clone(p.listeners)
	p.mu.Unlock()
	for _, r := range responses {
		resp := browser.NewResponse(r.URL, r.Status, func() (string, error) {
			return r.Body, r.BodyErr
		})
		for _, fn := range ls {
			fn(resp)
		}
	}
}

// NavigationCount returns how many times Navigate was called.
func (p *FakePage) NavigationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Navigations)
}

func (p *FakePage) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	navErr := p.NavigateErr[url]
	if navErr != nil && !errors.Is(navErr, browser.ErrIdleTimeout) {
		p.mu.Unlock()
		return navErr
	}
	p.url = url
	// a new document drops page-side state
	p.hooked = false
	p.captured = nil
	p.scrolls = 0
	responses := p.OnNavigate[url]
	p.mu.Unlock()

	p.Deliver(responses...)
	// an idle timeout still leaves the document loaded
	return navErr
}

func (p *FakePage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) Evaluate(_ context.Context, fn string, out any, args ...any) error {
	p.mu.Lock()
	var result any
	switch fn {
	case probe.InterceptorJS:
		p.Injections++
		p.hooked = true
		p.captured = []string{}
	case probe.CapturedURLsJS:
		result = append([]string{}, p.captured...)
	case probe.ScrollJS:
		p.scrolls++
	case probe.CardInspectJS:
		result = p.Card
	default:
		script, ok := p.Scripts[fn]
		p.mu.Unlock()
		if !ok {
			return fmt.Errorf("fake page: unscripted evaluate: %.40s", fn)
		}
		v, err := script(args)
		if err != nil {
			return err
		}
		return assign(out, v)
	}
	p.mu.Unlock()
	return assign(out, result)
}

func (p *FakePage) Find(_ context.Context, sel browser.Selector) (*browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.Elements[sel]
	if !ok {
		return nil, nil
	}
	if sel.Kind == browser.ByText && !strings.Contains(strings.ToLower(p.visibleTextLocked()), strings.ToLower(sel.Value)) {
		return nil, nil
	}
	return &browser.Element{Ref: sel.String(), Text: el.Text}, nil
}

func (p *FakePage) Click(_ context.Context, el *browser.Element) error {
	p.mu.Lock()
	p.Clicks = append(p.Clicks, el.Ref)
	var onClick func(*FakePage)
	for sel, fe := range p.Elements {
		if sel.String() == el.Ref {
			onClick = fe.OnClick
			break
		}
	}
	p.mu.Unlock()
	if onClick != nil {
		onClick(p)
	}
	return nil
}

func (p *FakePage) Fill(_ context.Context, el *browser.Element, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Filled[el.Ref] = value
	return nil
}

func (p *FakePage) PressEnter(context.Context) error {
	p.mu.Lock()
	responses := p.OnEnter
	p.mu.Unlock()
	p.Deliver(responses...)
	return nil
}

func (p *FakePage) VisibleText(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visibleTextLocked(), nil
}

func (p *FakePage) visibleTextLocked() string {
	text, ok := p.Texts[p.url]
	if !ok {
		text = p.DefaultText
	}
	if p.RevealText != "" && p.scrolls >= p.RevealAfter {
		text += "\n" + p.RevealText
	}
	return text
}

func (p *FakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Document, nil
}

func (p *FakePage) Screenshot(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

func (p *FakePage) OnResponse(fn func(browser.Response)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// assign copies v into out through JSON, the way the browser's results are
// decoded.
func assign(out, v any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
