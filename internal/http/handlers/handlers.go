// Package handlers provides HTTP API handlers for streamrelay.
package handlers

import (
	"context"
	"errors"
	"os"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/streamrelay/internal/relay"
	"github.com/jmylchreest/streamrelay/internal/storage"
)

// SessionManager is the part of relay.Manager used by the HTTP layer.
type SessionManager interface {
	StartRelay(ctx context.Context, source, target, name string) (string, error)
	StartTranscode(ctx context.Context, source, name string) (string, error)
	Stop(ctx context.Context, mode relay.Mode, name string) error
	Get(mode relay.Mode, name string) (relay.SessionInfo, error)
	List() []relay.SessionInfo
	Count() int
	CircuitStats() map[string]relay.CircuitStats
	RelayURL(port int, name string) string
	SourceURL(port int, name string) string
}

// HLSFiles exposes the on-disk HLS output of transcode sessions.
type HLSFiles interface {
	Status(name string) (storage.StreamStatus, error)
	OpenFile(name, file string) (*os.File, error)
	BaseDir() string
}

var (
	_ SessionManager = (*relay.Manager)(nil)
	_ HLSFiles       = (*storage.HLSStore)(nil)
)

// ErrorResponse is the body of raw (non-huma) error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// startError translates a session start failure into an HTTP status error.
func startError(err error) error {
	switch {
	case errors.Is(err, relay.ErrDuplicateSession):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, relay.ErrInvalidSessionName):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, relay.ErrInputOpen):
		return huma.Error502BadGateway(err.Error())
	case errors.Is(err, relay.ErrOutputOpen):
		return huma.Error500InternalServerError(err.Error())
	case errors.Is(err, relay.ErrManagerClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return huma.Error504GatewayTimeout("timed out starting stream", err)
	default:
		return huma.Error500InternalServerError("failed to start stream", err)
	}
}
