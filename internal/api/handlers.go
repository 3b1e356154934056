package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leapstack-labs/datalens/internal/decoder"
	"github.com/leapstack-labs/datalens/internal/journal"
	"github.com/leapstack-labs/datalens/internal/profile"
	"github.com/leapstack-labs/datalens/internal/registry"
)

const (
	megabyte = 1 << 20
	// multipartSlack covers the multipart envelope around the file part.
	multipartSlack = megabyte
	maxQueryBody   = megabyte
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// UploadResponse is returned for an ingested file.
type UploadResponse struct {
	Success   bool                 `json:"success"`
	SessionID string               `json:"session_id"`
	Message   string               `json:"message"`
	Profile   *profile.DataProfile `json:"profile"`
}

// QueryRequest is the body of a question.
type QueryRequest struct {
	SessionID   string `json:"session_id"`
	Query       string `json:"query"`
	IncludeCode bool   `json:"include_code"`
}

// MessageResponse acknowledges an operation.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HistoryResponse lists the journaled questions of a session.
type HistoryResponse struct {
	Success   bool             `json:"success"`
	SessionID string           `json:"session_id"`
	Entries   []*journal.Entry `json:"entries"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	ActiveSessions int    `json:"active_sessions"`
}

// Handlers provides the HTTP handlers of the API.
type Handlers struct {
	svc    Service
	cfg    Config
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc Service, cfg Config, logger *slog.Logger) *Handlers {
	return &Handlers{svc: svc, cfg: cfg, logger: logger}
}

// Root describes the service.
func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    ServiceName,
		"version": h.cfg.Version,
	})
}

// Health reports liveness and the number of live sessions.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Service:        ServiceName,
		ActiveSessions: h.svc.ActiveSessionCount(),
	})
}

// Upload stores the multipart "file" part, ingests it, and returns its profile.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+multipartSlack)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File too large. Maximum: %dMB", h.maxUploadMB()))
			return
		}
		writeError(w, http.StatusBadRequest, "No file provided", err.Error())
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, err := decoder.DetectFileKind(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %s. Allowed: %s",
			ext, strings.Join(decoder.Extensions(), ", ")))
		return
	}

	if h.cfg.MaxUploadBytes > 0 && header.Size > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("File too large: %.1fMB. Maximum: %dMB",
			float64(header.Size)/megabyte, h.maxUploadMB()))
		return
	}

	path, err := h.save(file, ext)
	if err != nil {
		h.logger.Error("failed to store upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process file: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			h.logger.Warn("failed to remove upload", "path", path, "error", err)
		}
	}()

	id, prof, err := h.svc.IngestFile(r.Context(), path, header.Filename)
	if err != nil {
		h.logger.Error("failed to ingest upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process file: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:   true,
		SessionID: id,
		Message:   fmt.Sprintf("Successfully loaded %s", header.Filename),
		Profile:   prof,
	})
}

// save copies an upload to <upload dir>/<uuid><ext>.
func (h *Handlers) save(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(h.cfg.UploadDir, uuid.New().String()+ext)

	dst, err := os.Create(path) //nolint:gosec // name is generated
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

func (h *Handlers) maxUploadMB() int64 {
	return h.cfg.MaxUploadBytes / megabyte
}

// Profile returns the profile of a session.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prof, err := h.svc.Profile(id)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Session not found: %s", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

// Query answers a natural-language question about a session.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxQueryBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if !h.svc.Exists(req.SessionID) {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("Session not found: %s. Please upload a file first.", req.SessionID))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Answer(r.Context(), req.SessionID, req.Query, req.IncludeCode))
}

// DeleteSession removes a session.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.svc.Delete(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: fmt.Sprintf("Session %s deleted", id),
	})
}

// History lists the journaled questions of a session, newest first. The
// optional limit query parameter caps the number of entries.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := journal.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", raw))
			return
		}
		limit = n
	}

	entries, err := h.svc.History(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Session not found: %s", id))
			return
		}
		h.logger.Error("failed to read history", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read history", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, SessionID: id, Entries: entries})
}

// writeJSON encodes v before sending the status, so a value that cannot be
// encoded turns into a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(ErrorResponse{
			Success: false,
			Error:   "Failed to encode response",
			Detail:  err.Error(),
		})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string, detail ...string) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   msg,
		Detail:  strings.Join(detail, "; "),
	})
}
