package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/jobstore"
	"github.com/redlinehq/redline/internal/parser"
	"github.com/redlinehq/redline/internal/pipeline"
	"github.com/redlinehq/redline/internal/splitter"
)

// Ceilings for the per-job fan-out overrides a caller may request.
const (
	maxChunkConcurrencyLimit = 32
	maxQueryConcurrencyLimit = 64
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	p, err := parser.ForFile(filename)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = s.cfg.PDFFallbackPdftotext
	}
	document, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		jsonError(w, "parse document: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if strings.TrimSpace(document.Text) == "" {
		jsonError(w, "document has no extractable text", http.StatusUnprocessableEntity)
		return
	}
	if title := r.FormValue("title"); title != "" {
		document.Title = title
	}

	opts := pipeline.Options{
		Chunk: splitter.Config{
			ChunkSize: formInt(r, "chunk_size", s.cfg.DefaultChunkSize),
			Overlap:   formInt(r, "overlap", s.cfg.DefaultChunkOverlap),
		},
	}
	if err := opts.Chunk.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Optional per-job fan-out overrides; zero means the server default.
	opts.Limits.MaxChunks = formInt(r, "max_chunk_concurrency", 0)
	if opts.Limits.MaxChunks < 0 || opts.Limits.MaxChunks > maxChunkConcurrencyLimit {
		jsonError(w, fmt.Sprintf("max_chunk_concurrency must be between 1 and %d", maxChunkConcurrencyLimit), http.StatusBadRequest)
		return
	}
	opts.Limits.MaxQueries = formInt(r, "max_query_concurrency", 0)
	if opts.Limits.MaxQueries < 0 || opts.Limits.MaxQueries > maxQueryConcurrencyLimit {
		jsonError(w, fmt.Sprintf("max_query_concurrency must be between 1 and %d", maxQueryConcurrencyLimit), http.StatusBadRequest)
		return
	}

	now := time.Now()
	job := &jobstore.Job{
		ID:        uuid.NewString(),
		DocID:     contentHashHex(data)[:16],
		Filename:  filename,
		Title:     document.Title,
		Status:    jobstore.StatusInitialized,
		Stage:     jobstore.StageInitialize,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orchestrator.Submit(job, *document, opts); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"doc_id":   job.DocID,
		"status":   job.Snapshot().Status,
		"poll_url": fmt.Sprintf("/api/review/%s/status", job.ID),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":         snap.ID,
		"doc_id":         snap.DocID,
		"status":         snap.Status,
		"stage":          snap.Stage,
		"progress":       snap.Progress,
		"total_chunks":   snap.TotalChunks,
		"chunks_done":    snap.ChunksDone,
		"chunk_failures": snap.ChunkFailures,
		"error":          snap.Error,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	switch snap.Status {
	case jobstore.StatusCompleted:
	case jobstore.StatusFailed:
		jsonError(w, "job failed: "+snap.Error, http.StatusGone)
		return
	default:
		jsonError(w, "job still processing", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":          snap.ID,
		"doc_id":          snap.DocID,
		"report_ref":      snap.ReportRef,
		"redline_ref":     snap.RedlineRef,
		"report_url":      fmt.Sprintf("/api/review/%s/report", snap.ID),
		"redline_url":     fmt.Sprintf("/api/review/%s/redline", snap.ID),
		"conflicts_found": snap.ConflictsFound,
		"unlocated":       snap.Unlocated,
		"chunk_failures":  snap.ChunkFailures,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, "application/json", func(snap jobstore.Snapshot) blob.Ref {
		return snap.ReportRef
	})
}

func (s *Server) handleRedline(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, "text/plain; charset=utf-8", func(snap jobstore.Snapshot) blob.Ref {
		return snap.RedlineRef
	})
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, contentType string, ref func(jobstore.Snapshot) blob.Ref) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	if snap.Status != jobstore.StatusCompleted {
		jsonError(w, "job not completed", http.StatusConflict)
		return
	}
	data, err := s.blobs.Get(r.Context(), ref(snap))
	if err != nil {
		s.log.Error("artifact fetch failed", "job_id", snap.ID, "error", err)
		jsonError(w, "artifact unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleEvents streams stage-transition events for a job as server-sent
// events until the job reaches a terminal state or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.notifier.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Terminal jobs get a single synthetic event instead of a stream.
	if job.Terminal() {
		snap := job.Snapshot()
		writeEvent(w, map[string]any{
			"job_id": snap.ID, "status": snap.Status, "stage": snap.Stage,
			"progress": snap.Progress, "message": snap.Error,
		})
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}

func formInt(r *http.Request, key string, fallback int) int {
	if v := r.FormValue(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func contentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
