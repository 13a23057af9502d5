// Package server exposes the HTTP API: submitting videos by URL, chunked
// file uploads with an optional subtitle sidecar, task status polling, and
// the Prometheus metrics endpoint.
//
// Processing is asynchronous: submission endpoints register a task, kick off
// a pipeline goroutine, and return the task ID immediately. Clients poll
// GET /api/status/{taskID} until the task completes or fails.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kikitori/kikitori/internal/health"
	"github.com/kikitori/kikitori/internal/media"
	"github.com/kikitori/kikitori/internal/observe"
	"github.com/kikitori/kikitori/internal/pipeline"
	"github.com/kikitori/kikitori/internal/task"
)

// maxUploadMemory bounds how much of a multipart body is held in memory;
// larger chunks spill to disk.
const maxUploadMemory = 32 << 20

// Config assembles a Server's collaborators.
type Config struct {
	Store     *task.Store
	Sessions  *task.Sessions
	Processor *pipeline.Processor
	Metrics   *observe.Metrics

	// HealthCheckers are evaluated by the /readyz endpoint.
	HealthCheckers []health.Checker
}

// Server serves the HTTP API. Create with [New] and mount via [Server.Handler].
type Server struct {
	store     *task.Store
	sessions  *task.Sessions
	processor *pipeline.Processor
	metrics   *observe.Metrics
	health    *health.Handler
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		processor: cfg.Processor,
		metrics:   m,
		health:    health.New(cfg.HealthCheckers...),
	}
}

// Handler returns the full API handler with observability middleware applied:
//
//	POST /api/process          — submit a video URL
//	GET  /api/status/{taskID}  — poll task state
//	POST /api/upload/init      — open a chunked upload session
//	POST /api/upload/chunk     — append one chunk, strictly in order
//	POST /api/upload/subtitle  — attach a subtitle sidecar
//	POST /api/upload/complete  — validate the upload and start processing
//	GET  /metrics              — Prometheus scrape endpoint
//	GET  /healthz, /readyz     — probes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("GET /api/status/{taskID}", s.handleStatus)
	mux.HandleFunc("POST /api/upload/init", s.handleUploadInit)
	mux.HandleFunc("POST /api/upload/chunk", s.handleUploadChunk)
	mux.HandleFunc("POST /api/upload/subtitle", s.handleUploadSubtitle)
	mux.HandleFunc("POST /api/upload/complete", s.handleUploadComplete)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// processRequest is the JSON body for the process endpoint.
type processRequest struct {
	URL string `json:"url"`
}

// taskResponse is returned by every endpoint that registers or advances a
// task.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// handleProcess handles POST /api/process. The download and the full
// pipeline run on a detached goroutine.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	taskID := s.store.Create()
	slog.Info("process request accepted", "task_id", taskID, "url", req.URL)

	// Detach from the request context so the client disconnecting does not
	// cancel the task, but keep trace values for correlation.
	go s.processor.DownloadAndProcess(context.WithoutCancel(r.Context()), taskID, req.URL)

	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID, Status: string(task.StatusPending)})
}

// handleStatus handles GET /api/status/{taskID}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, ok := s.store.Get(r.PathValue("taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleUploadInit handles POST /api/upload/init. Multipart form fields:
// file_name, total_chunks, total_size.
func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	filename := r.FormValue("file_name")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "file_name is required")
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil || totalChunks <= 0 {
		writeError(w, http.StatusBadRequest, "total_chunks must be a positive integer")
		return
	}
	totalSize, err := strconv.ParseInt(r.FormValue("total_size"), 10, 64)
	if err != nil || totalSize <= 0 {
		writeError(w, http.StatusBadRequest, "total_size must be a positive integer")
		return
	}

	taskID := s.store.Create()
	if err := s.sessions.Init(taskID, filename, totalChunks, totalSize); err != nil {
		slog.Error("upload init failed", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to initialize upload")
		return
	}
	s.metrics.ActiveUploads.Add(r.Context(), 1)

	writeJSON(w, http.StatusOK, taskResponse{TaskID: taskID, Status: string(task.StatusPending)})
}

// handleUploadChunk handles POST /api/upload/chunk. Multipart form fields:
// task_id, chunk_index, and the chunk bytes as "file".
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	taskID := r.FormValue("task_id")
	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk_index must be an integer")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk file is required")
		return
	}
	defer file.Close()

	if err := s.sessions.AppendChunk(taskID, index, file); err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadSubtitle handles POST /api/upload/subtitle. Multipart form
// fields: task_id and the subtitle as "file".
func (s *Server) handleUploadSubtitle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	taskID := r.FormValue("task_id")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "subtitle file is required")
		return
	}
	defer file.Close()

	if _, err := s.sessions.SaveSubtitle(taskID, header.Filename, file); err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadComplete handles POST /api/upload/complete. Multipart form
// fields: task_id, total_chunks, total_size. On success processing starts on
// a detached goroutine.
func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	taskID := r.FormValue("task_id")
	totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "total_chunks must be an integer")
		return
	}
	totalSize, err := strconv.ParseInt(r.FormValue("total_size"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "total_size must be an integer")
		return
	}

	audioPath, subtitlePath, err := s.sessions.Complete(taskID, totalChunks, totalSize)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	s.metrics.ActiveUploads.Add(r.Context(), -1)

	// A content-derived ID lets clients recognize re-uploads of the same
	// file; fall back to the task ID when hashing fails.
	videoID, err := media.ContentID(audioPath)
	if err != nil {
		slog.Warn("content ID derivation failed", "task_id", taskID, "err", err)
		videoID = taskID
	}
	filename := s.sessions.Filename(taskID)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	slog.Info("upload completed", "task_id", taskID, "video_id", videoID, "subtitle", subtitlePath != "")
	go s.processor.ProcessFile(context.WithoutCancel(r.Context()), taskID, audioPath, videoID, title, 0, subtitlePath)

	writeJSON(w, http.StatusOK, taskResponse{TaskID: taskID, Status: string(task.StatusProcessing)})
}

// writeUploadError maps upload session errors onto HTTP status codes.
func writeUploadError(w http.ResponseWriter, err error) {
	var outOfOrder *task.OutOfOrderError
	switch {
	case errors.Is(err, task.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "upload session not found")
	case errors.As(err, &outOfOrder),
		errors.Is(err, task.ErrUploadCompleted),
		errors.Is(err, task.ErrUploadIncomplete),
		errors.Is(err, task.ErrSizeMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, task.ErrInvalidChunkIndex),
		errors.Is(err, task.ErrChunkBeyondTotal),
		errors.Is(err, task.ErrChunksMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("upload operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "upload operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
