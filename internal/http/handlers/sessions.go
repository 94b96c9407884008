package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/streamrelay/internal/ffmpeg"
	"github.com/jmylchreest/streamrelay/internal/models"
	"github.com/jmylchreest/streamrelay/internal/relay"
)

// HistoryLister reads persisted session records.
type HistoryLister interface {
	List(ctx context.Context, name string, limit int) ([]*models.SessionRecord, error)
}

// StatsFunc samples resource usage of a process.
type StatsFunc func(ctx context.Context, pid int) (ffmpeg.ProcessStats, error)

// SessionHandler exposes live session snapshots and session history.
type SessionHandler struct {
	manager SessionManager
	history HistoryLister
	stats   StatsFunc
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager SessionManager) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		stats:   ffmpeg.StatsForPID,
	}
}

// WithHistory enables the history endpoint.
func (h *SessionHandler) WithHistory(history HistoryLister) *SessionHandler {
	h.history = history
	return h
}

// WithStatsFunc replaces the process stats sampler.
func (h *SessionHandler) WithStatsFunc(fn StatsFunc) *SessionHandler {
	h.stats = fn
	return h
}

// SessionResponse is a live session snapshot with process usage.
type SessionResponse struct {
	relay.SessionInfo
	Uptime      string               `json:"uptime" doc:"Time since the session started"`
	InputStats  *ffmpeg.ProcessStats `json:"input_stats,omitempty" doc:"Resource usage of the input process"`
	OutputStats *ffmpeg.ProcessStats `json:"output_stats,omitempty" doc:"Resource usage of the output process"`
}

// SessionRecordResponse is one persisted session.
type SessionRecordResponse struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	Name          string     `json:"name"`
	Mode          string     `json:"mode"`
	Source        string     `json:"source"`
	Target        string     `json:"target,omitempty"`
	State         string     `json:"state"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Duration      string     `json:"duration,omitempty"`
	FramesWritten uint64     `json:"frames_written"`
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
		Count    int               `json:"count"`
	}
}

// GetSessionInput is the input for getting one session.
type GetSessionInput struct {
	Mode string `path:"mode" enum:"relay,transcode" doc:"Session mode"`
	Name string `path:"name" doc:"Session name"`
}

// GetSessionOutput is the output for getting one session.
type GetSessionOutput struct {
	Body SessionResponse
}

// ListHistoryInput is the input for listing session history.
type ListHistoryInput struct {
	Name  string `query:"name" doc:"Only records for this stream name"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum records to return"`
}

// ListHistoryOutput is the output for listing session history.
type ListHistoryOutput struct {
	Body struct {
		Records []SessionRecordResponse `json:"records"`
		Count   int                     `json:"count"`
	}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Description: "Returns snapshots of all live relay and transcode sessions",
		Tags:        []string{"Sessions"},
	}, h.List)

	// Registered before {mode}/{name} so the static path is documented first.
	huma.Register(api, huma.Operation{
		OperationID: "listSessionHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/history",
		Summary:     "List session history",
		Description: "Returns persisted records of started sessions, newest first",
		Tags:        []string{"Sessions"},
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{mode}/{name}",
		Summary:     "Get session",
		Description: "Returns a snapshot of one live session",
		Tags:        []string{"Sessions"},
	}, h.Get)
}

// List returns all live sessions.
func (h *SessionHandler) List(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	infos := h.manager.List()
	out := &ListSessionsOutput{}
	out.Body.Sessions = make([]SessionResponse, 0, len(infos))
	for _, info := range infos {
		out.Body.Sessions = append(out.Body.Sessions, h.sessionResponse(ctx, info))
	}
	out.Body.Count = len(out.Body.Sessions)
	return out, nil
}

// Get returns one live session.
func (h *SessionHandler) Get(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	mode, err := relay.ParseMode(input.Mode)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	info, err := h.manager.Get(mode, input.Name)
	if err != nil {
		if errors.Is(err, relay.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("%s session %s not found", mode, input.Name))
		}
		return nil, huma.Error500InternalServerError("failed to get session", err)
	}
	return &GetSessionOutput{Body: h.sessionResponse(ctx, info)}, nil
}

// History returns persisted session records.
func (h *SessionHandler) History(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	if h.history == nil {
		return nil, huma.Error503ServiceUnavailable("session history is disabled")
	}

	records, err := h.history.List(ctx, input.Name, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list session history", err)
	}

	out := &ListHistoryOutput{}
	out.Body.Records = make([]SessionRecordResponse, 0, len(records))
	for _, rec := range records {
		out.Body.Records = append(out.Body.Records, recordResponse(rec))
	}
	out.Body.Count = len(out.Body.Records)
	return out, nil
}

func (h *SessionHandler) sessionResponse(ctx context.Context, info relay.SessionInfo) SessionResponse {
	resp := SessionResponse{SessionInfo: info}

	end := time.Now()
	if info.EndedAt != nil {
		end = *info.EndedAt
	}
	if !info.StartedAt.IsZero() {
		resp.Uptime = end.Sub(info.StartedAt).Round(time.Second).String()
	}

	if h.stats != nil {
		resp.InputStats = h.sample(ctx, info.InputPID)
		resp.OutputStats = h.sample(ctx, info.OutputPID)
	}
	return resp
}

// sample returns nil for processes that are gone or never started.
func (h *SessionHandler) sample(ctx context.Context, pid int) *ffmpeg.ProcessStats {
	if pid <= 0 {
		return nil
	}
	stats, err := h.stats(ctx, pid)
	if err != nil {
		return nil
	}
	return &stats
}

func recordResponse(rec *models.SessionRecord) SessionRecordResponse {
	resp := SessionRecordResponse{
		ID:            rec.ID.String(),
		SessionID:     rec.SessionID,
		Name:          rec.Name,
		Mode:          rec.Mode,
		Source:        rec.Source,
		Target:        rec.Target,
		State:         rec.State,
		Error:         rec.Error,
		StartedAt:     rec.StartedAt,
		EndedAt:       rec.EndedAt,
		FramesWritten: rec.FramesWritten,
	}
	if rec.EndedAt != nil {
		resp.Duration = rec.Duration().Round(time.Second).String()
	}
	return resp
}
