package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/history"
	"github.com/raysh454/permafind/internal/logging"
	"github.com/raysh454/permafind/internal/probe"
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrHistoryDisabled = errors.New("run history is disabled")
)

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventProgress JobEventType = "progress"
	JobEventResult   JobEventType = "result"
)

type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	// For progress
	Phase string `json:"phase,omitempty"`

	// For the result
	Permalink string `json:"permalink,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// RunRequest overrides the configured target for one run. Empty fields keep
// the configured value; a query given without a target text searches and
// scrolls for the same string.
type RunRequest struct {
	Query      string `json:"query,omitempty"`
	TargetText string `json:"target_text,omitempty"`
}

type Job struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Status    JobStatus     `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Phases    []string      `json:"phases,omitempty"`
	Report    *probe.Report `json:"report,omitempty"`
	Events    chan JobEvent `json:"-"`
}

// PageFactory opens the browser page a run drives.
type PageFactory func(ctx context.Context) (browser.Page, error)

// ChromePages opens a chromedp session per run.
func ChromePages(cfg browser.Config, logger logging.Logger) PageFactory {
	return func(ctx context.Context) (browser.Page, error) {
		return browser.NewSession(ctx, cfg, logger)
	}
}

type Orchestrator struct {
	cfg     *Config
	history *history.Store
	logger  logging.Logger
	pages   PageFactory
	fetcher probe.SourceFetcher

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	jobCancels map[string]context.CancelFunc
	reapers    map[string]*time.Timer
	wg         sync.WaitGroup
}

// NewOrchestrator ties together config, page factory, bundle fetcher and
// run history. store and fetcher may be nil.
func NewOrchestrator(cfg *Config, pages PageFactory, fetcher probe.SourceFetcher, store *history.Store, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if pages == nil {
		pages = ChromePages(cfg.Browser, logger)
	}
	return &Orchestrator{
		cfg:        cfg,
		history:    store,
		logger:     logger.With(logging.F("component", "orchestrator")),
		pages:      pages,
		fetcher:    fetcher,
		jobs:       make(map[string]*Job),
		jobCancels: make(map[string]context.CancelFunc),
		reapers:    make(map[string]*time.Timer),
	}
}

// probeConfig applies req to the configured target.
func (o *Orchestrator) probeConfig(req RunRequest) probe.Config {
	pc := o.cfg.Probe
	if req.Query != "" {
		pc.Query = req.Query
		pc.TargetText = req.Query
	}
	if req.TargetText != "" {
		pc.TargetText = req.TargetText
	}
	return pc
}

// Run executes one run synchronously, writing the text report to out. The
// report is stored in the history when one is configured, aborted runs
// included.
func (o *Orchestrator) Run(ctx context.Context, runID string, req RunRequest, out io.Writer, progress func(probe.Event)) (*probe.Report, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	logger := o.logger.With(logging.F("run_id", runID))

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	page, err := o.pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("closing browser failed", logging.F("error", err))
		}
	}()

	r := probe.NewRunner(o.probeConfig(req), page, o.fetcher, logger, out)
	r.RunID = runID
	r.Progress = progress

	logger.Info("run started", logging.F("query", o.probeConfig(req).Query))
	rep, runErr := r.Run(ctx)
	logger.Info("run finished",
		logging.F("aborted", rep.Aborted),
		logging.F("permalink", rep.Permalink))

	if o.history != nil {
		// the run context may be spent; storing must still happen
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.history.Save(saveCtx, rep); err != nil {
			logger.Error("storing run failed", logging.F("error", err))
		}
	}
	return rep, runErr
}

func (o *Orchestrator) emitJobEvent(jobID string, ev JobEvent) {
	o.jobsMu.Lock()
	job, ok := o.jobs[jobID]
	o.jobsMu.Unlock()
	if !ok || job == nil || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (o *Orchestrator) updateJob(jobID string, fn func(j *Job)) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		fn(j)
	}
}

// StartRun launches a run in the background and returns its job.
func (o *Orchestrator) StartRun(ctx context.Context, req RunRequest) (*Job, error) {
	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Query:     o.probeConfig(req).Query,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
		Events:    make(chan JobEvent, 32),
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.jobsMu.Lock()
	o.jobs[jobID] = job
	o.jobCancels[jobID] = cancel
	o.jobsMu.Unlock()

	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobPending})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.finishJob(jobID)

		o.updateJob(jobID, func(j *Job) { j.Status = JobRunning })
		o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobRunning})

		progress := func(ev probe.Event) {
			o.updateJob(jobID, func(j *Job) { j.Phases = append(j.Phases, ev.Phase) })
			o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventProgress, Phase: ev.Phase, Error: ev.Error})
		}

		rep, err := o.Run(jobCtx, jobID, req, nil, progress)

		status := JobDone
		switch {
		case jobCtx.Err() != nil:
			status = JobCanceled
			err = jobCtx.Err()
		case err != nil:
			status = JobFailed
		}
		o.updateJob(jobID, func(j *Job) {
			j.Status = status
			j.Report = rep
			if err != nil {
				j.Error = err.Error()
			}
		})

		if status != JobDone {
			o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: status, Error: err.Error()})
			return
		}
		o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventResult, Status: JobDone, Permalink: rep.Permalink})
	}()

	return o.GetJob(jobID)
}

// finishJob stamps the end time, closes the event stream and schedules the
// job's removal.
func (o *Orchestrator) finishJob(jobID string) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return
	}
	j.EndedAt = time.Now().UTC()
	if cancel := o.jobCancels[jobID]; cancel != nil {
		cancel()
	}
	delete(o.jobCancels, jobID)
	// Close events channel so websocket loop can terminate cleanly
	close(j.Events)

	if ttl := o.cfg.JobRetentionTime; ttl > 0 {
		o.reapers[jobID] = time.AfterFunc(ttl, func() {
			o.jobsMu.Lock()
			defer o.jobsMu.Unlock()
			delete(o.jobs, jobID)
			delete(o.reapers, jobID)
		})
	}
}

// CancelJob stops a running job. It returns ErrRunNotFound for unknown jobs.
func (o *Orchestrator) CancelJob(jobID string) error {
	o.jobsMu.Lock()
	_, known := o.jobs[jobID]
	cancel := o.jobCancels[jobID]
	o.jobsMu.Unlock()
	if !known {
		return ErrRunNotFound
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// GetJob returns a snapshot of the job.
func (o *Orchestrator) GetJob(jobID string) (*Job, error) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *j
	cp.Phases = append([]string(nil), j.Phases...)
	return &cp, nil
}

// ListJobs returns snapshots of the known jobs, newest first.
func (o *Orchestrator) ListJobs() []*Job {
	o.jobsMu.Lock()
	out := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		cp := *j
		cp.Phases = append([]string(nil), j.Phases...)
		out = append(out, &cp)
	}
	o.jobsMu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	return out
}

func (o *Orchestrator) ListHistory(ctx context.Context, limit int) ([]history.Run, error) {
	if o.history == nil {
		return nil, ErrHistoryDisabled
	}
	return o.history.List(ctx, limit)
}

func (o *Orchestrator) GetHistory(ctx context.Context, runID string) (*probe.Report, error) {
	if o.history == nil {
		return nil, ErrHistoryDisabled
	}
	rep, err := o.history.Get(ctx, runID)
	if errors.Is(err, history.ErrRunNotFound) {
		return nil, ErrRunNotFound
	}
	return rep, err
}

// Close cancels running jobs and waits for them to finish.
func (o *Orchestrator) Close() error {
	o.jobsMu.Lock()
	for _, cancel := range o.jobCancels {
		cancel()
	}
	o.jobsMu.Unlock()
	o.wg.Wait()

	o.jobsMu.Lock()
	for id, t := range o.reapers {
		t.Stop()
		delete(o.reapers, id)
	}
	o.jobsMu.Unlock()
	return nil
}
