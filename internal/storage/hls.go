package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// HLS output file names.
const (
	PlaylistName     = "stream.m3u8"
	SegmentExtension = ".ts"
	SegmentPattern   = "segment_%03d.ts"
)

// Content types for served HLS files.
const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
	ContentTypeDefault  = "application/octet-stream"
)

// Status messages reported by HLSStore.Status.
const (
	StatusNoDirectory = "Stream directory does not exist"
	StatusNoPlaylist  = "Playlist file does not exist yet"
)

// ErrInvalidFileName is returned when a requested HLS file name is not a
// plain file name.
var ErrInvalidFileName = errors.New("invalid file name")

// StreamStatus describes the on-disk state of one stream's HLS output.
type StreamStatus struct {
	Name            string `json:"name"`
	Message         string `json:"message"`
	DirectoryExists bool   `json:"directory_exists"`
	PlaylistExists  bool   `json:"playlist_exists"`
	Segments        int    `json:"segments"`
	MediaSequence   int    `json:"media_sequence,omitempty"`
	TargetDuration  int    `json:"target_duration,omitempty"`
	PlaylistEntries int    `json:"playlist_entries,omitempty"`
}

// Active reports whether the stream has a playlist and at least one segment.
func (s StreamStatus) Active() bool {
	return s.PlaylistExists && s.Segments > 0
}

// HLSStore owns the per-stream HLS output directories under a base directory.
// Each stream writes into <base>/<name>/ and the directory is removed when
// the stream ends.
type HLSStore struct {
	sandbox     *Sandbox
	orphanGrace time.Duration
	logger      *slog.Logger
}

// NewHLSStore creates an HLSStore rooted at baseDir.
func NewHLSStore(baseDir string) (*HLSStore, error) {
	sandbox, err := NewSandbox(baseDir)
	if err != nil {
		return nil, fmt.Errorf("creating hls sandbox: %w", err)
	}
	return &HLSStore{
		sandbox: sandbox,
		logger:  slog.Default().With(slog.String("component", "hls_store")),
	}, nil
}

// WithLogger sets the logger.
func (h *HLSStore) WithLogger(logger *slog.Logger) *HLSStore {
	h.logger = logger
	return h
}

// WithOrphanGrace makes SweepOrphans skip directories modified within d,
// so a stream that is still being prepared is never swept.
func (h *HLSStore) WithOrphanGrace(d time.Duration) *HLSStore {
	h.orphanGrace = d
	return h
}

// BaseDir returns the absolute base directory.
func (h *HLSStore) BaseDir() string {
	return h.sandbox.BaseDir()
}

// Prepare creates the output directory for a stream and clears any files
// left behind by a previous run. It returns the absolute directory path.
func (h *HLSStore) Prepare(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	dir, err := h.sandbox.MkdirAll(name)
	if err != nil {
		return "", err
	}

	removed, err := h.clearFiles(name)
	if err != nil {
		return "", err
	}
	if removed > 0 {
		h.logger.Debug("cleared stale hls files",
			slog.String("stream", name),
			slog.Int("files", removed),
		)
	}

	// A reused directory keeps its old mtime; refresh it so the orphan
	// sweep's grace period covers the session now opening.
	now := time.Now()
	if err := os.Chtimes(dir, now, now); err != nil {
		return "", fmt.Errorf("touching %s: %w", name, err)
	}
	return dir, nil
}

// PlaylistPath returns the absolute playlist path for a stream.
func (h *HLSStore) PlaylistPath(name string) string {
	return filepath.Join(h.sandbox.BaseDir(), name, PlaylistName)
}

// Purge removes every file in a stream's directory and then the directory
// itself. A missing directory is not an error.
func (h *HLSStore) Purge(name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	exists, err := h.sandbox.Exists(name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	removed, err := h.clearFiles(name)
	if err != nil {
		return err
	}
	if err := h.sandbox.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing hls directory: %w", err)
	}

	h.logger.Debug("purged hls output",
		slog.String("stream", name),
		slog.Int("files", removed),
	)
	return nil
}

// clearFiles deletes the regular files directly inside a stream directory.
// Subdirectories are removed recursively.
func (h *HLSStore) clearFiles(name string) (int, error) {
	entries, err := h.sandbox.List(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		rel := filepath.Join(name, entry.Name())
		if err := h.sandbox.RemoveAll(rel); err != nil {
			return removed, fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// SegmentCount returns the number of segment files currently on disk.
func (h *HLSStore) SegmentCount(name string) (int, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}

	entries, err := h.sandbox.List(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), SegmentExtension) {
			count++
		}
	}
	return count, nil
}

// Status inspects a stream's output directory and playlist.
func (h *HLSStore) Status(name string) (StreamStatus, error) {
	status := StreamStatus{Name: name}
	if err := checkName(name); err != nil {
		return status, err
	}

	exists, err := h.sandbox.Exists(name)
	if err != nil {
		return status, err
	}
	if !exists {
		status.Message = StatusNoDirectory
		return status, nil
	}
	status.DirectoryExists = true

	data, err := h.sandbox.ReadFile(filepath.Join(name, PlaylistName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			status.Message = StatusNoPlaylist
			return status, nil
		}
		return status, err
	}
	status.PlaylistExists = true

	segments, err := h.SegmentCount(name)
	if err != nil {
		return status, err
	}
	status.Segments = segments
	status.Message = fmt.Sprintf("Stream active - %d segments found", segments)

	// ffmpeg may be mid-write; a playlist that fails to parse still counts.
	if media, err := parseMediaPlaylist(data); err == nil {
		status.MediaSequence = media.MediaSequence
		status.TargetDuration = media.TargetDuration
		status.PlaylistEntries = len(media.Segments)
	} else {
		h.logger.Debug("playlist not parseable",
			slog.String("stream", name),
			slog.String("error", err.Error()),
		)
	}

	return status, nil
}

// OpenFile opens a served HLS file. The file name must be a plain name with
// no directory components.
func (h *HLSStore) OpenFile(name, file string) (*os.File, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := checkName(file); err != nil {
		return nil, err
	}
	return h.sandbox.Open(filepath.Join(name, file))
}

// SweepOrphans removes stream directories that do not belong to an active
// session and returns the names removed.
func (h *HLSStore) SweepOrphans(active []string) ([]string, error) {
	keep := make(map[string]struct{}, len(active))
	for _, name := range active {
		keep[name] = struct{}{}
	}

	entries, err := h.sandbox.List(".")
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := keep[entry.Name()]; ok {
			continue
		}
		if h.orphanGrace > 0 {
			// Stat again rather than trusting the listing, which may predate
			// a Prepare for a session that registered since.
			if fi, err := h.sandbox.Stat(entry.Name()); err == nil && time.Since(fi.ModTime()) < h.orphanGrace {
				continue
			}
		}
		if err := h.Purge(entry.Name()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		removed = append(removed, entry.Name())
	}

	sort.Strings(removed)
	if len(removed) > 0 {
		h.logger.Info("swept orphaned hls directories",
			slog.Int("count", len(removed)),
			slog.Any("streams", removed),
		)
	}
	return removed, errors.Join(errs...)
}

// ContentType returns the MIME type for an HLS file name.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".m3u8":
		return ContentTypePlaylist
	case SegmentExtension:
		return ContentTypeSegment
	default:
		return ContentTypeDefault
	}
}

func parseMediaPlaylist(data []byte) (*playlist.Media, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("not a media playlist")
	}
	return media, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}
