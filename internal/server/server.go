package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/raysh454/permafind/internal/app"
	"github.com/raysh454/permafind/internal/logging"
	_ "github.com/raysh454/permafind/internal/server/docs" // registers the API docs
)

// Server is the HTTP + WebSocket API surface for permafind.
type Server struct {
	cfg          Config
	orchestrator *app.Orchestrator
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
}

// NewServer wraps orch. The server owns orch from here on; Close closes it.
func NewServer(cfg Config, orch *app.Orchestrator) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStderrLogger("server")
	}

	r := chi.NewRouter()
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		router:       r,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the configured UI origin once one exists
				return true
			},
		},
	}

	s.routes()
	return s
}

// Orchestrator returns the underlying orchestrator for advanced use (tests, etc.).
func (s *Server) Orchestrator() *app.Orchestrator {
	return s.orchestrator
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/runs", s.optionsHandler("GET, POST"))
	r.Options("/runs/{runID}", s.optionsHandler("GET, DELETE"))
	r.Options("/history", s.optionsHandler("GET"))
	r.Options("/history/{runID}", s.optionsHandler("GET"))

	// Runs over REST
	r.Post("/runs", s.handleStartRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{runID}", s.handleGetRun)
	r.Delete("/runs/{runID}", s.handleCancelRun)

	// WebSocket for run progress
	r.Get("/ws/runs/{runID}", s.handleRunWS)

	// Stored reports
	r.Get("/history", s.handleListHistory)
	r.Get("/history/{runID}", s.handleGetHistory)

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		logging.F("method", r.Method),
		logging.F("path", r.URL.Path),
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.F("query", q))
	}

	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.F("body", string(bodyBytes)))
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close cancels running jobs and shuts down the orchestrator.
func (s *Server) Close() {
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps orchestrator errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// --- HTTP handlers ---

// handleStartRun starts a background run.
//
// @Summary Start a run
// @Tags runs
// @Accept json
// @Produce json
// @Param request body StartRunRequest false "Target overrides"
// @Success 202 {object} app.Job
// @Failure 400 {object} ErrorResponse
// @Router /runs [post]
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("decoding start run body", logging.F("error", err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// the run outlives the request
	job, err := s.orchestrator.StartRun(context.Background(), app.RunRequest{
		Query:      body.Query,
		TargetText: body.TargetText,
	})
	if err != nil {
		s.logger.Warn("starting run", logging.F("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("started run", logging.F("job_id", job.ID), logging.F("query", job.Query))
	writeJSON(w, http.StatusAccepted, job)
}

// handleListRuns lists the jobs the server still holds.
//
// @Summary List runs
// @Tags runs
// @Produce json
// @Success 200 {array} app.Job
// @Router /runs [get]
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	jobs := s.orchestrator.ListJobs()
	s.logger.Info("listed runs", logging.F("count", len(jobs)))
	writeJSON(w, http.StatusOK, jobs)
}

// handleGetRun returns one job, with its report once finished.
//
// @Summary Get a run
// @Tags runs
// @Produce json
// @Param runID path string true "Run ID"
// @Success 200 {object} app.Job
// @Failure 404 {object} ErrorResponse
// @Router /runs/{runID} [get]
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	job, err := s.orchestrator.GetJob(runID)
	if err != nil {
		s.logger.Warn("getting run", logging.F("run_id", runID), logging.F("error", err))
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelRun cancels a running job.
//
// @Summary Cancel a run
// @Tags runs
// @Param runID path string true "Run ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /runs/{runID} [delete]
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.orchestrator.CancelJob(runID); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	s.logger.Info("canceled run", logging.F("run_id", runID))
	writeJSON(w, http.StatusNoContent, nil)
}

// handleListHistory lists stored runs, newest first.
//
// @Summary List stored runs
// @Tags history
// @Produce json
// @Param limit query int false "Maximum number of runs"
// @Success 200 {array} history.Run
// @Failure 503 {object} ErrorResponse
// @Router /history [get]
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}
	runs, err := s.orchestrator.ListHistory(r.Context(), limit)
	if err != nil {
		s.logger.Warn("listing history", logging.F("error", err))
		writeError(w, errorStatus(err), err.Error())
		return
	}
	s.logger.Info("listed history", logging.F("count", len(runs)))
	writeJSON(w, http.StatusOK, runs)
}

// handleGetHistory returns one stored report.
//
// @Summary Get a stored report
// @Tags history
// @Produce json
// @Param runID path string true "Run ID"
// @Success 200 {object} probe.Report
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /history/{runID} [get]
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rep, err := s.orchestrator.GetHistory(r.Context(), runID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// WebSockets

// handleRunWS streams a job's events and finishes with its final state.
//
// @Summary Stream run events
// @Tags runs
// @Param runID path string true "Run ID"
// @Router /ws/runs/{runID} [get]
func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	job, err := s.orchestrator.GetJob(runID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.F("error", err))
		return
	}
	defer conn.Close()

	for ev := range job.Events {
		if err := conn.WriteJSON(ev); err != nil {
			// client went away; the run carries on
			s.logger.Debug("websocket write failed", logging.F("run_id", runID), logging.F("error", err))
			return
		}
	}

	if final, err := s.orchestrator.GetJob(runID); err == nil {
		_ = conn.WriteJSON(final)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
