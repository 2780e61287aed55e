package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yegors/callscribe/internal/config"
	"github.com/yegors/callscribe/internal/dedup"
	"github.com/yegors/callscribe/internal/pipeline"
	"github.com/yegors/callscribe/internal/storage/sqlite"
	"github.com/yegors/callscribe/internal/websocket"
	"github.com/yegors/callscribe/pkg/logger"
)

// BatchRunner runs a batch of uploaded recordings through the pipeline.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, inputs []pipeline.FileInput, onProgress pipeline.ProgressFunc) *pipeline.BatchResult
}

// FilenameChecker reports which filenames were already uploaded recently.
type FilenameChecker interface {
	CheckFilenames(ctx context.Context, scope string, filenames []string) (*dedup.FilenameReport, error)
}

// Handler contains the API handlers
type Handler struct {
	batchRunner BatchRunner
	dedupSvc    FilenameChecker
	callStorage *sqlite.CallStorage
	config      *config.Config
	logger      *logger.Logger
	wsServer    *websocket.Server
	scratchDir  string
}

// NewHandler creates a new API handler
func NewHandler(batchRunner BatchRunner, dedupSvc FilenameChecker, callStorage *sqlite.CallStorage, config *config.Config, logger *logger.Logger, wsServer *websocket.Server) *Handler {
	scratchDir := config.Audio.ScratchDir
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Handler{
		batchRunner: batchRunner,
		dedupSvc:    dedupSvc,
		callStorage: callStorage,
		config:      config,
		logger:      logger.Named("api-handler"),
		wsServer:    wsServer,
		scratchDir:  scratchDir,
	}
}

// GetHealth returns the health status of the server
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// GetCalls returns processed calls with pagination
func (h *Handler) GetCalls(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	calls, err := h.callStorage.GetCalls(r.Context(), r.URL.Query().Get("scope"), limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve calls", logger.Error(err))
		http.Error(w, "Failed to retrieve calls", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"count":     len(calls),
		"calls":     calls,
	})
}

// GetCallByID returns a single processed call
func (h *Handler) GetCallByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid call ID", http.StatusBadRequest)
		return
	}

	call, err := h.callStorage.GetCallByID(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to retrieve call", logger.Error(err), logger.Int64("id", id))
		http.Error(w, "Failed to retrieve call", http.StatusInternalServerError)
		return
	}
	if call == nil {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, call)
}

// CheckFilenames reports which of the posted filenames were uploaded recently
func (h *Handler) CheckFilenames(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Scope     string   `json:"scope"`
		Filenames []string `json:"filenames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(request.Filenames) == 0 {
		http.Error(w, "No filenames provided", http.StatusBadRequest)
		return
	}

	report, err := h.dedupSvc.CheckFilenames(r.Context(), request.Scope, request.Filenames)
	if err != nil {
		h.logger.Error("Failed to check filenames", logger.Error(err))
		http.Error(w, "Failed to check filenames", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// CreateBatch accepts a multipart upload of recordings and runs them
// through the processing pipeline. The response is sent once the whole
// batch has finished; per-file progress goes out over the WebSocket feed.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	maxUpload := int64(h.config.Server.MaxUploadMB) << 20
	if maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "No files provided", http.StatusBadRequest)
		return
	}

	// Call times are matched to files by position when provided; the
	// scope (salesperson or team) applies to the whole batch
	callTimes := r.MultipartForm.Value["call_times"]
	scope := r.FormValue("scope")

	inputs := make([]pipeline.FileInput, 0, len(files))
	saved := make([]string, 0, len(files))
	cleanup := func() {
		for _, path := range saved {
			os.Remove(path)
		}
	}

	for i, header := range files {
		path, err := h.saveUpload(header)
		if err != nil {
			cleanup()
			h.logger.Error("Failed to save upload",
				logger.Error(err),
				logger.String("filename", header.Filename))
			http.Error(w, fmt.Sprintf("Failed to save %s", header.Filename), http.StatusInternalServerError)
			return
		}
		saved = append(saved, path)

		input := pipeline.FileInput{
			Path:     path,
			Filename: header.Filename,
			Scope:    scope,
		}
		if i < len(callTimes) {
			input.CallTime = callTimes[i]
		}
		inputs = append(inputs, input)
	}
	defer cleanup()

	h.logger.Info("Received upload batch", logger.Int("file_count", len(inputs)))

	result := h.batchRunner.ProcessBatch(r.Context(), inputs, func(p pipeline.Progress) {
		h.wsServer.BroadcastProgress(p)
		if p.Result != nil {
			h.wsServer.BroadcastFileCompleted(p.BatchID, p.Result)
		}
	})
	h.wsServer.BroadcastBatchCompleted(result)

	WriteJSON(w, http.StatusOK, result)
}

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("WebSocket connection request received")

	h.wsServer.HandleConnection(w, r)
}

// saveUpload copies one multipart file into the scratch directory under a
// collision-free name. The original filename only travels in FileInput.
func (h *Handler) saveUpload(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ext := filepath.Ext(header.Filename)
	path := filepath.Join(h.scratchDir, "upload_"+uuid.New().String()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close scratch file: %w", err)
	}

	return path, nil
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Helper functions
func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100 // Default limit
	offset := 0  // Default offset

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
