package demoserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DemoServer is a local stand-in for the hackathon build browser: a
// client-rendered card grid over a JSON search API, with switchable project
// linking.
type DemoServer struct {
	cfg    Config
	builds []Build
	byID   map[string]Build

	mu      sync.RWMutex
	mode    Mode
	version int // bumped on every mode change so bundles are refetched
}

// NewDemoServer creates a new demo server instance.
func NewDemoServer(cfg Config) *DemoServer {
	if cfg.InitialMode == "" {
		cfg.InitialMode = ModeNone
	}
	builds := seedBuilds(cfg.Fillers)
	byID := make(map[string]Build, len(builds))
	for _, b := range builds {
		byID[b.ID] = b
	}
	return &DemoServer{
		cfg:     cfg,
		builds:  builds,
		byID:    byID,
		mode:    cfg.InitialMode,
		version: 1,
	}
}

// TargetID is the id of the build the default probe configuration looks for.
func (s *DemoServer) TargetID() string {
	return buildID(target.V0Username)
}

// Mode returns the current linking mode.
func (s *DemoServer) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the linking mode.
func (s *DemoServer) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != m {
		s.mode = m
		s.version++
	}
}

// Handler returns the site's routes.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/browse", http.StatusFound)
	})
	mux.HandleFunc("GET /browse", s.browseHandler)
	for _, prefix := range []string{"/browse/", "/build/", "/builds/", "/project/"} {
		mux.HandleFunc("GET "+prefix+"{id}", s.detailHandler(prefix))
	}

	mux.HandleFunc("GET /api/builds", s.apiBuildsHandler)
	mux.HandleFunc("GET /api/stats", s.apiStatsHandler)

	mux.HandleFunc("GET /static/app.js", s.staticHandler)

	// Control panel for mode switching
	mux.HandleFunc("GET /demo/control", s.controlPanelHandler)
	mux.HandleFunc("POST /demo/set-mode", s.setModeHandler)
	mux.HandleFunc("GET /demo/get-mode", s.getModeHandler)
	mux.HandleFunc("POST /demo/reset", s.resetHandler)

	return mux
}

// Start starts the demo server.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo server starting on http://localhost%s/browse\n", addr)
	fmt.Printf("Control panel at http://localhost%s/demo/control\n", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *DemoServer) browseHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	data := struct{ Version int }{s.version}
	s.mu.RUnlock()
	render(w, browseTmpl.Execute, data, "text/html")
}

// detailHandler serves a project page when prefix is the current mode's
// detail route and id is known; anything else gets the browse shell, the way
// an SPA host answers unknown deep links.
func (s *DemoServer) detailHandler(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := s.byID[r.PathValue("id")]
		if !ok || s.Mode().detailPrefix() != prefix {
			s.browseHandler(w, r)
			return
		}
		render(w, detailTmpl.Execute, b, "text/html")
	}
}

func (s *DemoServer) apiBuildsHandler(w http.ResponseWriter, r *http.Request) {
	s.delay(r)
	writeJSON(w, map[string]any{"builds": search(s.builds, r.URL.Query().Get("search"))})
}

func (s *DemoServer) apiStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.delay(r)
	writeJSON(w, map[string]any{"total": len(s.builds)})
}

func (s *DemoServer) delay(r *http.Request) {
	if s.cfg.APILatency <= 0 {
		return
	}
	select {
	case <-time.After(s.cfg.APILatency):
	case <-r.Context().Done():
	}
}

// staticHandler serves the client bundle for the current mode.
func (s *DemoServer) staticHandler(w http.ResponseWriter, r *http.Request) {
	data := struct{ Mode Mode }{s.Mode()}
	render(w, appJSTmpl.Execute, data, "application/javascript")
}

// controlPanelHandler serves the control panel for mode switching.
func (s *DemoServer) controlPanelHandler(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Modes    []Mode
		Mode     Mode
		TargetID string
	}{
		Modes:    Modes,
		Mode:     s.Mode(),
		TargetID: s.TargetID(),
	}
	render(w, controlTmpl.Execute, data, "text/html")
}

// setModeHandler sets the linking mode.
func (s *DemoServer) setModeHandler(w http.ResponseWriter, r *http.Request) {
	m, err := ParseMode(strings.TrimSpace(r.FormValue("mode")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.SetMode(m)

	writeJSON(w, map[string]any{
		"success": true,
		"mode":    m,
	})
}

// getModeHandler returns the current mode and where project pages live.
func (s *DemoServer) getModeHandler(w http.ResponseWriter, r *http.Request) {
	m := s.Mode()
	permalink := ""
	if p := m.detailPrefix(); p != "" {
		permalink = p + s.TargetID()
	}
	writeJSON(w, map[string]any{
		"mode":      m,
		"modes":     Modes,
		"target_id": s.TargetID(),
		"permalink": permalink,
	})
}

// resetHandler restores the initial mode.
func (s *DemoServer) resetHandler(w http.ResponseWriter, r *http.Request) {
	s.SetMode(s.cfg.InitialMode)
	writeJSON(w, map[string]any{
		"success": true,
		"message": "Mode reset to " + string(s.cfg.InitialMode),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// render executes a template into a buffer first so a failing template
// yields a 500 instead of a half-written page.
func render(w http.ResponseWriter, exec func(io.Writer, any) error, data any, contentType string) {
	var buf bytes.Buffer
	if err := exec(&buf, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(buf.Bytes())
}
