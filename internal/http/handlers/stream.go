package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/streamrelay/internal/relay"
	"github.com/jmylchreest/streamrelay/internal/storage"
)

// StreamHandler handles starting, stopping and inspecting relay and
// transcode streams.
type StreamHandler struct {
	manager      SessionManager
	hls          HLSFiles
	defaultInput string
	logger       *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(manager SessionManager, hls HLSFiles) *StreamHandler {
	return &StreamHandler{
		manager: manager,
		hls:     hls,
		logger:  slog.Default(),
	}
}

// WithDefaultInput sets the relay source used when a request names none.
func (h *StreamHandler) WithDefaultInput(source string) *StreamHandler {
	h.defaultInput = source
	return h
}

// WithLogger sets the logger.
func (h *StreamHandler) WithLogger(logger *slog.Logger) *StreamHandler {
	h.logger = logger
	return h
}

// StartRelayInput is the input for starting an RTSP relay.
type StartRelayInput struct {
	Body struct {
		StreamName string `json:"streamName" minLength:"1" maxLength:"128" doc:"Name of the stream, used as the RTSP path"`
		RTSPPort   int    `json:"rtspPort,omitempty" minimum:"0" maximum:"65535" doc:"RTSP port to publish on (default from config)"`
		InputURL   string `json:"inputUrl,omitempty" doc:"Source URL or file path (default from config)"`
	}
}

// StartTranscodeInput is the input for starting an HLS transcode.
type StartTranscodeInput struct {
	Body struct {
		StreamName string `json:"streamName" minLength:"1" maxLength:"128" doc:"Name of the stream, used as the HLS directory"`
		RTSPURL    string `json:"rtspUrl,omitempty" doc:"Explicit RTSP source URL"`
		RTSPPort   int    `json:"rtspPort,omitempty" minimum:"0" maximum:"65535" doc:"Port of the media host stream when rtspUrl is absent"`
	}
}

// StartStreamOutput is the output of both start operations.
type StartStreamOutput struct {
	Body struct {
		URL string `json:"url" doc:"RTSP URL of the relay or HLS playlist URL of the transcode"`
	}
}

// StopStreamInput is the input for stopping a stream.
type StopStreamInput struct {
	Body struct {
		StreamName string `json:"streamName" minLength:"1" doc:"Name of the stream to stop"`
	}
}

// StopStreamOutput is empty; stop answers 204.
type StopStreamOutput struct{}

// StreamStatusInput is the input for the HLS status endpoint.
type StreamStatusInput struct {
	StreamName string `path:"streamName" doc:"Name of the stream"`
}

// StreamStatusOutput is the output for the HLS status endpoint.
type StreamStatusOutput struct {
	Body StreamStatusResponse
}

// StreamStatusResponse describes the HLS output of a stream.
type StreamStatusResponse struct {
	Status         string `json:"status" doc:"Human-readable state of the output directory"`
	Segments       int    `json:"segments" doc:"Number of .ts segments on disk"`
	MediaSequence  int    `json:"mediaSequence" doc:"Media sequence number of the live playlist"`
	TargetDuration int    `json:"targetDuration" doc:"Target segment duration in seconds"`
	Active         bool   `json:"active" doc:"Whether a playlist and at least one segment exist"`
	SessionState   string `json:"sessionState,omitempty" doc:"State of the live session, if one is registered"`
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startRelayStream",
		Method:      http.MethodPost,
		Path:        "/api/stream/rtsp/start",
		Summary:     "Start RTSP relay",
		Description: "Opens the input and re-publishes it as an RTSP stream named after streamName",
		Tags:        []string{"Streams"},
	}, h.StartRelay)

	huma.Register(api, huma.Operation{
		OperationID:   "stopRelayStream",
		Method:        http.MethodPost,
		Path:          "/api/stream/rtsp/stop",
		Summary:       "Stop RTSP relay",
		Description:   "Stops a relay. Stopping an unknown stream succeeds",
		Tags:          []string{"Streams"},
		DefaultStatus: http.StatusNoContent,
	}, h.StopRelay)

	huma.Register(api, huma.Operation{
		OperationID: "startHLSStream",
		Method:      http.MethodPost,
		Path:        "/api/stream/hls/start",
		Summary:     "Start HLS transcode",
		Description: "Transcodes an RTSP stream into a sliding-window HLS playlist",
		Tags:        []string{"Streams"},
	}, h.StartTranscode)

	huma.Register(api, huma.Operation{
		OperationID:   "stopHLSStream",
		Method:        http.MethodPost,
		Path:          "/api/stream/hls/stop",
		Summary:       "Stop HLS transcode",
		Description:   "Stops a transcode and removes its output. Stopping an unknown stream succeeds",
		Tags:          []string{"Streams"},
		DefaultStatus: http.StatusNoContent,
	}, h.StopTranscode)

	huma.Register(api, huma.Operation{
		OperationID: "getHLSStreamStatus",
		Method:      http.MethodGet,
		Path:        "/api/stream/hls/{streamName}/status",
		Summary:     "Get HLS stream status",
		Description: "Reports whether the output directory and playlist exist and how many segments are on disk",
		Tags:        []string{"Streams"},
	}, h.Status)
}

// StartRelay starts an RTSP relay.
func (h *StreamHandler) StartRelay(ctx context.Context, input *StartRelayInput) (*StartStreamOutput, error) {
	name := input.Body.StreamName
	source := input.Body.InputURL
	if source == "" {
		source = h.defaultInput
	}
	target := h.manager.RelayURL(input.Body.RTSPPort, name)

	url, err := h.manager.StartRelay(ctx, source, target, name)
	if err != nil {
		return nil, startError(err)
	}

	h.logger.InfoContext(ctx, "relay started",
		slog.String("stream", name),
		slog.String("url", url),
	)
	out := &StartStreamOutput{}
	out.Body.URL = url
	return out, nil
}

// StartTranscode starts an HLS transcode.
func (h *StreamHandler) StartTranscode(ctx context.Context, input *StartTranscodeInput) (*StartStreamOutput, error) {
	name := input.Body.StreamName
	source := input.Body.RTSPURL
	if source == "" {
		source = h.manager.SourceURL(input.Body.RTSPPort, name)
	}

	url, err := h.manager.StartTranscode(ctx, source, name)
	if err != nil {
		return nil, startError(err)
	}

	h.logger.InfoContext(ctx, "transcode started",
		slog.String("stream", name),
		slog.String("url", url),
	)
	out := &StartStreamOutput{}
	out.Body.URL = url
	return out, nil
}

// StopRelay stops a relay. Unknown names are not an error.
func (h *StreamHandler) StopRelay(ctx context.Context, input *StopStreamInput) (*StopStreamOutput, error) {
	return h.stop(ctx, relay.ModeRelay, input.Body.StreamName)
}

// StopTranscode stops a transcode. A relay of the same name keeps running.
func (h *StreamHandler) StopTranscode(ctx context.Context, input *StopStreamInput) (*StopStreamOutput, error) {
	return h.stop(ctx, relay.ModeTranscode, input.Body.StreamName)
}

func (h *StreamHandler) stop(ctx context.Context, mode relay.Mode, name string) (*StopStreamOutput, error) {
	if err := h.manager.Stop(ctx, mode, name); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, huma.Error504GatewayTimeout("timed out stopping stream", err)
		}
		return nil, huma.Error500InternalServerError("failed to stop stream", err)
	}
	return &StopStreamOutput{}, nil
}

// Status reports the HLS output state of a stream. A name with neither a
// live session nor an output directory is not found.
func (h *StreamHandler) Status(ctx context.Context, input *StreamStatusInput) (*StreamStatusOutput, error) {
	name := input.StreamName
	if err := relay.ValidateName(name); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	status, err := h.hls.Status(name)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidFileName) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to read stream status", err)
	}

	resp := StreamStatusResponse{
		Status:         status.Message,
		Segments:       status.Segments,
		MediaSequence:  status.MediaSequence,
		TargetDuration: status.TargetDuration,
		Active:         status.Active(),
	}

	info, err := h.manager.Get(relay.ModeTranscode, name)
	switch {
	case err == nil:
		resp.SessionState = info.State
	case !status.DirectoryExists:
		return nil, huma.Error404NotFound(status.Message)
	}

	return &StreamStatusOutput{Body: resp}, nil
}
