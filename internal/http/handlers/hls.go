package handlers

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/streamrelay/internal/storage"
)

// HLSHandler serves playlists and segments written by transcode sessions.
type HLSHandler struct {
	files  HLSFiles
	logger *slog.Logger
}

// NewHLSHandler creates a new HLS file handler.
func NewHLSHandler(files HLSFiles) *HLSHandler {
	return &HLSHandler{
		files:  files,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *HLSHandler) WithLogger(logger *slog.Logger) *HLSHandler {
	h.logger = logger
	return h
}

// RegisterChiRoutes registers the file routes. They bypass huma so files
// can be streamed with range support.
func (h *HLSHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/stream/hls/{streamName}/{file}", h.ServeFile)
}

// ServeFile serves one file from a stream's output directory.
func (h *HLSHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "streamName"))
	if err != nil {
		writeJSONError(w, "invalid stream name", http.StatusBadRequest)
		return
	}
	file, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil {
		writeJSONError(w, "invalid file name", http.StatusBadRequest)
		return
	}

	f, err := h.files.OpenFile(name, file)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidFileName), errors.Is(err, storage.ErrPathEscapesSandbox):
			writeJSONError(w, "invalid file name", http.StatusBadRequest)
		case errors.Is(err, fs.ErrNotExist):
			writeJSONError(w, "file not found", http.StatusNotFound)
		default:
			h.logger.ErrorContext(r.Context(), "failed to open hls file",
				slog.String("stream", name),
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, "failed to open file", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeJSONError(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(file))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, file, info.ModTime(), f)
}

// writeJSONError writes an error response in JSON format for consistency with API clients.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
