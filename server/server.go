// ABOUTME: HTTP API for validating, inferring and running workflows, with SSE event streaming.
// ABOUTME: Each run keeps its engine instance, so a re-run reuses results of unchanged nodes.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/spyglass-search/talos/pipeline"
	"github.com/spyglass-search/talos/workflow"
)

// Run states reported by the API.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
	StatusInvalid   = "invalid"
)

// maxWorkflowBytes bounds request bodies carrying a workflow.
const maxWorkflowBytes = 4 << 20

// Server exposes a pipeline engine over HTTP.
type Server struct {
	engine  *pipeline.Engine
	logger  *slog.Logger
	router  chi.Router
	reports *ReportCache

	mu   sync.RWMutex
	runs map[string]*WorkflowRun

	// ctx parents every run so Shutdown can stop them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WorkflowRun tracks one workflow instance and its latest run.
type WorkflowRun struct {
	ID        string
	CreatedAt time.Time
	instance  *pipeline.Instance

	mu       sync.RWMutex
	status   string
	attempts int
	result   *workflow.NodeResult
	errMsg   string
	events   []pipeline.EngineEvent
	cancel   context.CancelFunc
	finished time.Time
}

// RunStatus is the JSON view of a run.
type RunStatus struct {
	ID         string                                `json:"id"`
	Status     string                                `json:"status"`
	Attempts   int                                   `json:"attempts"`
	EngineRun  string                                `json:"engineRunId,omitempty"`
	Error      string                                `json:"error,omitempty"`
	Result     *workflow.NodeResult                  `json:"result,omitempty"`
	Results    map[string]pipeline.TimestampedResult `json:"results,omitempty"`
	CreatedAt  time.Time                             `json:"createdAt"`
	FinishedAt *time.Time                            `json:"finishedAt,omitempty"`
}

// New creates a server for engine.
func New(engine *pipeline.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  engine,
		logger:  logger.With("component", "server"),
		reports: NewReportCache(RenderReportHTML, reportCacheTTL),
		runs:    make(map[string]*WorkflowRun),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Shutdown cancels all runs and waits for them to stop or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/shapes", s.handleShapes)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleStartRun)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/events", s.handleEvents)
				r.Get("/report", s.handleReport)
				r.Post("/cancel", s.handleCancel)
				r.Post("/rerun", s.handleRerun)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ValidateResponse is returned by POST /api/validate.
type ValidateResponse struct {
	pipeline.ValidationResult
	Shapes []pipeline.IODefinition `json:"shapes"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	nodes, ok := s.decodeWorkflow(w, r)
	if !ok {
		return
	}
	defs, vr := s.engine.Check(r.Context(), nodes)
	writeJSON(w, http.StatusOK, ValidateResponse{ValidationResult: vr, Shapes: defs})
}

func (s *Server) handleShapes(w http.ResponseWriter, r *http.Request) {
	nodes, ok := s.decodeWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Inferrer().Infer(r.Context(), nodes))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	nodes, ok := s.decodeWorkflow(w, r)
	if !ok {
		return
	}
	run := &WorkflowRun{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now(),
	}
	run.instance = s.engine.NewInstance(nodes, pipeline.Observer{Event: run.record})

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.start(run)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "status": StatusRunning})
}

func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if r.ContentLength != 0 {
		nodes, ok := s.decodeWorkflow(w, r)
		if !ok {
			return
		}
		if nodes != nil {
			if run.instance.Running() {
				writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error())
				return
			}
			run.instance.SetNodes(nodes)
		}
	}
	if !s.start(run) {
		writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "status": StatusRunning})
}

// start launches the run's instance in the background. It reports false when
// the run is already in progress.
func (s *Server) start(run *WorkflowRun) bool {
	run.mu.Lock()
	if run.status == StatusRunning {
		run.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	run.status = StatusRunning
	run.attempts++
	run.cancel = cancel
	run.result = nil
	run.errMsg = ""
	run.events = nil
	run.finished = time.Time{}
	run.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := run.instance.Run(ctx)
		run.finish(result, err)
		s.logger.Info("run finished", "run", run.ID, "status", run.Status())
	}()
	return true
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	list := make([]RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		st := run.snapshot()
		st.Results = nil
		list = append(list, st)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	run.mu.RLock()
	cancel := run.cancel
	running := run.status == StatusRunning
	run.mu.RUnlock()
	if !running {
		writeError(w, http.StatusConflict, "run is not in progress")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"id": run.ID, "status": "canceling"})
}

// handleEvents streams a run's events as server-sent events until the run
// finishes or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sent := 0
	for {
		run.mu.RLock()
		events := run.events
		status := run.status
		run.mu.RUnlock()

		for ; sent < len(events); sent++ {
			data, _ := json.Marshal(events[sent])
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", events[sent].Type, data)
		}
		if status != StatusRunning {
			data, _ := json.Marshal(map[string]string{"status": status})
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
			flusher.Flush()
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	md := BuildReport(run.ID, run.instance.Nodes(), run.snapshot())
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, md)
		return
	}
	page, err := s.reports.Render(md)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*WorkflowRun, bool) {
	id := chi.URLParam(r, "runID")
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
	}
	return run, ok
}

// decodeWorkflow reads a JSON node list from the request body. An empty
// body yields nil nodes.
func (s *Server) decodeWorkflow(w http.ResponseWriter, r *http.Request) ([]*workflow.Node, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWorkflowBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if len(body) == 0 {
		return nil, true
	}
	nodes, err := workflow.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return nodes, true
}

func (run *WorkflowRun) record(evt pipeline.EngineEvent) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.events = append(run.events, evt)
}

func (run *WorkflowRun) finish(result *workflow.NodeResult, err error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.result = result
	run.finished = time.Now()
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		run.status = StatusInvalid
		run.errMsg = verr.Error()
	case err != nil:
		run.status = StatusFailed
		run.errMsg = err.Error()
	case result.IsCanceled():
		run.status = StatusCanceled
		run.errMsg = result.Error
	case result.Failed():
		run.status = StatusFailed
		run.errMsg = result.Error
	default:
		run.status = StatusCompleted
	}
}

// Status returns the run's current state.
func (run *WorkflowRun) Status() string {
	run.mu.RLock()
	defer run.mu.RUnlock()
	return run.status
}

func (run *WorkflowRun) snapshot() RunStatus {
	run.mu.RLock()
	st := RunStatus{
		ID:        run.ID,
		Status:    run.status,
		Attempts:  run.attempts,
		Error:     run.errMsg,
		Result:    run.result,
		CreatedAt: run.CreatedAt,
	}
	if !run.finished.IsZero() {
		finished := run.finished
		st.FinishedAt = &finished
	}
	run.mu.RUnlock()
	st.EngineRun = run.instance.RunID()
	st.Results = run.instance.Results()
	return st
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
