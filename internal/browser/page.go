// Package browser abstracts the single browser page a probe run drives.
// Session implements Page on top of chromedp; tests use a scripted fake.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrIdleTimeout is returned by Navigate when the document loaded but the
// network never went quiet before the timeout.
var ErrIdleTimeout = errors.New("network did not become idle")

// SelectorKind selects how a Selector's Value is matched.
type SelectorKind string

const (
	// ByCSS matches with document.querySelector.
	ByCSS SelectorKind = "css"
	// ByText matches the innermost element whose visible text contains
	// Value, case-insensitively.
	ByText SelectorKind = "text"
	// ByButtonText matches the first <button> whose text contains Value.
	ByButtonText SelectorKind = "button-text"
)

// Selector locates one element on the page.
type Selector struct {
	Kind  SelectorKind `yaml:"kind" json:"kind"`
	Value string       `yaml:"value" json:"value"`
}

func CSS(v string) Selector        { return Selector{Kind: ByCSS, Value: v} }
func Text(v string) Selector       { return Selector{Kind: ByText, Value: v} }
func ButtonText(v string) Selector { return Selector{Kind: ByButtonText, Value: v} }

func (s Selector) String() string {
	return string(s.Kind) + "=" + s.Value
}

// Element is a handle to an element located by Find. Ref is only meaningful
// to the Page that returned it.
type Element struct {
	Ref  string `json:"ref"`
	Text string `json:"text"`
}

// Response is one network response observed on the page.
type Response struct {
	URL    string
	Status int

	readBody func() (string, error)
}

// NewResponse builds a Response whose body is produced by read.
func NewResponse(url string, status int, read func() (string, error)) Response {
	return Response{URL: url, Status: status, readBody: read}
}

// Body reads the response body as text.
func (r Response) Body() (string, error) {
	if r.readBody == nil {
		return "", errors.New("response body unavailable")
	}
	return r.readBody()
}

// Page is everything a probe run needs from the browser.
type Page interface {
	// Navigate loads url and waits for the network to go idle, bounded by
	// timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Location returns the page's current address.
	Location(ctx context.Context) (string, error)

	// Evaluate calls the JavaScript function source fn with args (JSON
	// encoded) and decodes the result into out. out may be nil.
	Evaluate(ctx context.Context, fn string, out any, args ...any) error

	// Find returns the first element matching sel, or nil when absent.
	Find(ctx context.Context, sel Selector) (*Element, error)

	Click(ctx context.Context, el *Element) error
	Fill(ctx context.Context, el *Element, value string) error
	PressEnter(ctx context.Context) error

	// VisibleText returns document.body.innerText.
	VisibleText(ctx context.Context) (string, error)

	// HTML returns the serialised document.
	HTML(ctx context.Context) (string, error)

	// Screenshot writes a PNG of the viewport to path.
	Screenshot(ctx context.Context, path string) error

	// OnResponse registers fn for every response the page receives. fn is
	// called from a delivery goroutine, in completion order.
	OnResponse(fn func(Response))

	Close() error
}
