package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// EngineConfig configures the ffmpeg-backed engine.
type EngineConfig struct {
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration
	// CloseGrace bounds how long an output may take to flush on close.
	CloseGrace time.Duration
	// FrameBuffer is the number of demuxed frames queued per input.
	FrameBuffer int
}

// Engine implements codec.Engine with one ffmpeg process per handle:
// inputs emit MPEG-TS that is demuxed in-process, outputs receive
// MPEG-TS on stdin and encode and mux it to the target.
type Engine struct {
	config EngineConfig
	prober *Prober
	logger *slog.Logger
}

var _ codec.Engine = (*Engine)(nil)

// NewEngine creates an engine using the given binaries.
func NewEngine(config EngineConfig) *Engine {
	return &Engine{
		config: config,
		prober: NewProber(config.FFprobePath).WithTimeout(config.ProbeTimeout),
		logger: slog.Default().With(slog.String("component", "ffmpeg")),
	}
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// OpenInput probes the source, starts the reading process and waits for
// the first stream description. ctx bounds only the open.
func (e *Engine) OpenInput(ctx context.Context, source string, opts codec.InputOptions) (codec.Input, error) {
	props, err := e.prober.ProbeProperties(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("probing source: %w", err)
	}

	cmd := inputCommand(e.config.FFmpegPath, source, props, opts)
	logger := e.logger.With(slog.String("role", "input"))
	logger.Debug("starting ffmpeg input", slog.String("command", cmd.String()))

	started, err := cmd.Start(Pipes{Stdout: true}, logger)
	if err != nil {
		return nil, err
	}

	in := newInput(cmd, started.Stdout, props, e.config.FrameBuffer, logger)
	go in.run()

	select {
	case <-in.ready:
		if in.initErr != nil {
			_ = in.Close()
			return nil, in.initErr
		}
	case <-ctx.Done():
		_ = in.Close()
		return nil, ctx.Err()
	}

	logger.Info("input opened",
		slog.Int("pid", cmd.PID()),
		slog.String("video_codec", in.props.VideoCodec),
		slog.Int("width", in.props.Width),
		slog.Int("height", in.props.Height),
		slog.Float64("frame_rate", in.props.FrameRate),
		slog.Int("audio_channels", in.props.AudioChannels),
	)
	return in, nil
}

// OpenOutput starts the encoding process for target. For HLS, target is the
// playlist path and segments are written next to it.
func (e *Engine) OpenOutput(ctx context.Context, target string, format codec.Format, video codec.VideoParams, audio codec.AudioParams, opts codec.OutputOptions) (codec.Output, error) {
	var cmd *Command
	switch format {
	case codec.FormatRTSP:
		cmd = relayOutputCommand(e.config.FFmpegPath, target, video, audio)
	case codec.FormatHLS:
		cmd = hlsOutputCommand(e.config.FFmpegPath, target, video, audio, opts)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := e.logger.With(slog.String("role", "output"), slog.String("format", string(format)))
	logger.Debug("starting ffmpeg output", slog.String("command", cmd.String()))

	started, err := cmd.Start(Pipes{Stdin: true}, logger)
	if err != nil {
		return nil, err
	}

	out, err := newOutput(cmd, started.Stdin, audio, opts.Source, e.config.CloseGrace)
	if err != nil {
		_ = cmd.Kill()
		return nil, err
	}

	logger.Info("output opened", slog.Int("pid", cmd.PID()), slog.String("target", target))
	return out, nil
}
