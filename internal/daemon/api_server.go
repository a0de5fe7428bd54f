package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"clearmark/internal/config"
	"clearmark/internal/logging"
	"clearmark/internal/queue"
	"clearmark/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/", srv.handleTask)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// taskView is the wire representation of a task.
type taskView struct {
	ID              string  `json:"id"`
	SourcePath      string  `json:"source_path"`
	OutputPath      string  `json:"output_path"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
	ProgressMessage string  `json:"progress_message,omitempty"`
	TotalFrames     int64   `json:"total_frames,omitempty"`
	InpaintedFrames int64   `json:"inpainted_frames,omitempty"`
	DetectorErrors  int64   `json:"detector_errors,omitempty"`
	InpaintErrors   int64   `json:"inpaint_errors,omitempty"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	StartedAt       string  `json:"started_at,omitempty"`
	FinishedAt      string  `json:"finished_at,omitempty"`
}

func viewOf(task *queue.Task) taskView {
	view := taskView{
		ID:              task.ID,
		SourcePath:      task.SourcePath,
		OutputPath:      task.OutputPath,
		Status:          string(task.Status),
		ProgressPercent: task.ProgressPercent,
		ProgressMessage: task.ProgressMessage,
		TotalFrames:     task.TotalFrames,
		InpaintedFrames: task.InpaintedFrames,
		DetectorErrors:  task.DetectorErrors,
		InpaintErrors:   task.InpaintErrors,
		Error:           task.ErrorMessage,
		CreatedAt:       task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       task.UpdatedAt.Format(time.RFC3339),
	}
	if task.StartedAt != nil {
		view.StartedAt = task.StartedAt.Format(time.RFC3339)
	}
	if task.FinishedAt != nil {
		view.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return view
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running": status.Running,
		"queue": map[string]int{
			"total":     status.Queue.Total,
			"queued":    status.Queue.Queued,
			"running":   status.Queue.Running,
			"succeeded": status.Queue.Succeeded,
			"failed":    status.Queue.Failed,
			"cancelled": status.Queue.Cancelled,
		},
		"queue_db_path": status.QueueDBPath,
	})
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.submitTask(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := queue.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}

	tasks, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, viewOf(task))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

type submitRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (s *apiServer) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		s.writeError(w, http.StatusBadRequest, "input and output are required")
		return
	}

	id, err := s.daemon.manager.Submit(r.Context(), req.Input, req.Output)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "task id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.showTask(w, r, id)
	case action == "result" && r.Method == http.MethodGet:
		s.taskResult(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelTask(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown task endpoint")
	}
}

func (s *apiServer) showTask(w http.ResponseWriter, r *http.Request, id string) {
	task, err := s.daemon.manager.Status(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(task))
}

func (s *apiServer) taskResult(w http.ResponseWriter, r *http.Request, id string) {
	output, err := s.daemon.manager.Result(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"output": output})
}

func (s *apiServer) cancelTask(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.daemon.manager.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "cancelling"})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrNotReady):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
