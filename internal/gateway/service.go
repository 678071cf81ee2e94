package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_run/internal/logging"
	"github.com/austindbirch/harbor_run/internal/supervisor"
	"github.com/austindbirch/harbor_run/internal/task"
	"github.com/austindbirch/harbor_run/internal/tracing"
)

// Service is the boundary of the run/subscribe API. It validates requests,
// owns nothing itself: tasks live in the registry, processes under the
// supervisor, and event delivery is the SSE handler in sse.go.
type Service struct {
	registry  *task.Registry
	sup       *supervisor.Supervisor
	logger    *logging.Logger
	heartbeat time.Duration
}

// New creates the gateway service.
func New(registry *task.Registry, sup *supervisor.Supervisor, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.New("harborrun-gateway")
	}
	return &Service{
		registry:  registry,
		sup:       sup,
		logger:    logger,
		heartbeat: 30 * time.Second,
	}
}

// Routes registers the API handlers on the mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tasks", s.handleRun)
	mux.HandleFunc("GET /v1/tasks", s.handleList)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/tasks/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleCancel)
}

type runRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

type runResponse struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleRun creates a task, initiates the spawn and returns the task id.
// It never waits for the process: the caller must be able to subscribe
// before the process finishes, or it would miss all non-replayed events.
func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "gateway.RunTask")
	defer span.End()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "command is required"})
		return
	}

	t, err := s.registry.Create(req.Command, req.Args, req.Dir, req.Env)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}
	span.SetAttributes(attribute.String("task_id", t.ID))

	s.sup.Spawn(t)
	s.logger.WithContext(ctx).WithTask(t.ID).WithField("command", req.Command).Info("task accepted")

	writeJSON(w, http.StatusAccepted, runResponse{TaskID: t.ID, Status: t.Status()})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.registry.List()})
}

// handleCancel signals the task's process to terminate. The task then reaches
// failed through the normal exit path; cancel itself never sets status.
func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "gateway.CancelTask")
	defer span.End()

	t, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}
	span.SetAttributes(attribute.String("task_id", t.ID))

	if err := t.Cancel(); err != nil {
		tracing.SetSpanError(ctx, err)
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}
	s.logger.WithContext(ctx).WithTask(t.ID).Info("cancellation requested")
	writeJSON(w, http.StatusAccepted, runResponse{TaskID: t.ID, Status: t.Status()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, task.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, task.ErrTaskTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
