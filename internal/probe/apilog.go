package probe

import (
	"strings"
	"sync"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/logging"
)

// APICall is one captured API response.
type APICall struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// APILog is the ordered list of API responses seen on a page. Appends come
// from the browser's delivery goroutine.
type APILog struct {
	mu    sync.Mutex
	calls []APICall
}

// Listen subscribes to page responses and records every one whose URL
// contains marker. A body that cannot be read is recorded as "".
func Listen(page browser.Page, marker string, logger logging.Logger) *APILog {
	if logger == nil {
		logger = logging.Nop{}
	}
	l := &APILog{}
	page.OnResponse(func(r browser.Response) {
		if !strings.Contains(r.URL, marker) {
			return
		}
		body, err := r.Body()
		if err != nil {
			logger.Debug("api body unreadable", logging.F("url", r.URL), logging.F("error", err))
			body = ""
		}
		l.Append(APICall{URL: r.URL, Status: r.Status, Body: body})
	})
	return l
}

func (l *APILog) Append(c APICall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// Calls returns a copy of the log in arrival order.
func (l *APILog) Calls() []APICall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]APICall(nil), l.calls...)
}

func (l *APILog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}
