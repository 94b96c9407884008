// Package relay manages live relay and transcode sessions: registration,
// pacing, worker lifecycle and teardown of their codec handles and output.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// HLSStore prepares and purges the per-session HLS output directories.
type HLSStore interface {
	// Prepare creates the session directory if missing and returns it.
	Prepare(name string) (string, error)
	// Purge removes all files of the session and then its directory.
	Purge(name string) error
	// PlaylistPath returns the playlist file path for the session.
	PlaylistPath(name string) string
}

// HistoryRecorder is notified when sessions begin and end.
type HistoryRecorder interface {
	SessionStarted(ctx context.Context, info SessionInfo)
	SessionEnded(ctx context.Context, info SessionInfo)
}

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// MediaHost is the host relay outputs are published to.
	MediaHost string
	// DefaultPort is the RTSP port used when a request does not name one.
	DefaultPort int
	// PublicBaseURL prefixes playlist URLs handed back to callers.
	PublicBaseURL string
	// ConnectTimeout bounds opening a session's input and output.
	ConnectTimeout time.Duration
	// SegmentDuration and WindowSize shape HLS output.
	SegmentDuration time.Duration
	WindowSize      int
	CircuitBreaker  CircuitBreakerConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MediaHost:       "localhost",
		DefaultPort:     8554,
		PublicBaseURL:   "http://localhost:8080",
		ConnectTimeout:  10 * time.Second,
		SegmentDuration: 2 * time.Second,
		WindowSize:      3,
		CircuitBreaker:  DefaultCircuitBreakerConfig(),
	}
}

// Manager starts, tracks and stops sessions.
type Manager struct {
	config   ManagerConfig
	engine   codec.Engine
	hls      HLSStore
	registry *Registry
	breakers *CircuitBreakerRegistry
	history  HistoryRecorder
	clock    Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewManager creates a session manager. The registry is owned by the manager
// from here on.
func NewManager(config ManagerConfig, engine codec.Engine, hls HLSStore, registry *Registry) *Manager {
	defaults := DefaultManagerConfig()
	if config.MediaHost == "" {
		config.MediaHost = defaults.MediaHost
	}
	if config.DefaultPort <= 0 {
		config.DefaultPort = defaults.DefaultPort
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.SegmentDuration <= 0 {
		config.SegmentDuration = defaults.SegmentDuration
	}
	if config.WindowSize <= 0 {
		config.WindowSize = defaults.WindowSize
	}
	if registry == nil {
		registry = NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:   config,
		engine:   engine,
		hls:      hls,
		registry: registry,
		breakers: NewCircuitBreakerRegistry(config.CircuitBreaker),
		clock:    SystemClock,
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default().With(slog.String("component", "relay")),
	}
}

// WithLogger sets the logger for the manager.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger.With(slog.String("component", "relay"))
	return m
}

// WithHistory sets the recorder notified of session starts and ends.
func (m *Manager) WithHistory(history HistoryRecorder) *Manager {
	m.history = history
	return m
}

// WithClock replaces the clock used for pacing.
func (m *Manager) WithClock(clock Clock) *Manager {
	m.clock = clock
	return m
}

// Config returns the manager configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// RelayURL returns the RTSP address a relay named name publishes to.
func (m *Manager) RelayURL(port int, name string) string {
	if port <= 0 {
		port = m.config.DefaultPort
	}
	return fmt.Sprintf("rtsp://%s:%d/%s", m.config.MediaHost, port, name)
}

// SourceURL returns the RTSP address of an upstream stream named name on the
// media host.
func (m *Manager) SourceURL(port int, name string) string {
	return m.RelayURL(port, name)
}

// PlaylistURL returns the HTTP address of a transcode session's playlist.
func (m *Manager) PlaylistURL(name string) string {
	base := strings.TrimRight(m.config.PublicBaseURL, "/")
	return base + "/api/stream/hls/" + url.PathEscape(name) + "/stream.m3u8"
}

// StartRelay opens source and re-publishes it to target as RTSP. An empty
// target publishes to the media host on the default port. It returns the
// resolved output address.
func (m *Manager) StartRelay(ctx context.Context, source, target, name string) (string, error) {
	if target == "" {
		target = m.RelayURL(0, name)
	}
	s, err := m.start(ctx, ModeRelay, source, target, name)
	if err != nil {
		return "", err
	}
	return s.Target, nil
}

// StartTranscode opens source and segments it into HLS under the session's
// output directory. It returns the playlist URL.
func (m *Manager) StartTranscode(ctx context.Context, source, name string) (string, error) {
	if _, err := m.start(ctx, ModeTranscode, source, "", name); err != nil {
		return "", err
	}
	return m.PlaylistURL(name), nil
}

// Stop signals the session of the given mode and name to stop and waits for
// its teardown or for ctx to end. Stopping an unknown session is a no-op.
func (m *Manager) Stop(ctx context.Context, mode Mode, name string) error {
	s, err := m.registry.Lookup(mode, name)
	if err != nil {
		m.logger.Debug("stop requested for unknown session",
			slog.String("session", name),
			slog.String("mode", mode.String()),
		)
		return nil
	}

	s.logger.Info("stopping session")
	s.requestStop()

	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %q to stop: %w", name, ctx.Err())
	}
}

// Get returns a snapshot of the session of the given mode and name.
func (m *Manager) Get(mode Mode, name string) (SessionInfo, error) {
	s, err := m.registry.Lookup(mode, name)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.Info(), nil
}

// List returns snapshots of all registered sessions sorted by name.
func (m *Manager) List() []SessionInfo {
	sessions := m.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// ActiveNames returns the names of registered transcode sessions, the only
// sessions that own HLS output directories.
func (m *Manager) ActiveNames() []string {
	sessions := m.registry.List()
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.Mode == ModeTranscode {
			names = append(names, s.Name)
		}
	}
	return names
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	return m.registry.Len()
}

// CircuitStats returns breaker statistics keyed by source.
func (m *Manager) CircuitStats() map[string]CircuitStats {
	return m.breakers.AllStats()
}

// Shutdown stops every session and waits for their teardown or for ctx to
// end. New sessions are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	sessions := m.registry.List()
	m.logger.Info("shutting down sessions", slog.Int("count", len(sessions)))
	for _, s := range sessions {
		s.requestStop()
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all sessions stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}
}

// start reserves the name, opens both handles and launches the worker.
// On any failure the reservation is released before returning.
func (m *Manager) start(ctx context.Context, mode Mode, source, target, name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	s := newSession(m.ctx, name, mode, source, target, m.logger)
	if err := m.registry.Register(s); err != nil {
		m.wg.Done()
		m.logger.Warn("rejecting duplicate session",
			slog.String("session", name),
			slog.String("mode", mode.String()),
		)
		return nil, err
	}

	s.logger.Info("starting session", slog.String("source", source))

	if err := m.open(ctx, s); err != nil {
		s.setError(err)
		s.logger.Error("failed to start session", slog.String("error", err.Error()))
		m.teardown(s)
		m.wg.Done()
		return nil, err
	}

	s.transition(StateRunning)
	s.started = true
	if m.history != nil {
		m.history.SessionStarted(ctx, s.Info())
	}

	props := s.Properties()
	s.logger.Info("session running",
		slog.String("target", s.Target),
		slog.Int("width", props.Width),
		slog.Int("height", props.Height),
		slog.Float64("frame_rate", props.FrameRate),
		slog.Int("audio_channels", props.AudioChannels),
	)

	go m.run(s)
	return s, nil
}

// open acquires the input and output handles. Both steps are bounded by the
// connect timeout and abort when the session is stopped.
func (m *Manager) open(ctx context.Context, s *Session) error {
	if s.Source == "" {
		return &InputOpenError{Name: s.Name, Source: s.Source, Err: errors.New("no input source")}
	}

	breaker := m.breakers.Get(s.Source)
	if !breaker.Allow() {
		return &InputOpenError{Name: s.Name, Source: s.Source, Err: ErrCircuitOpen}
	}

	openCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()
	stopOpen := context.AfterFunc(s.ctx, cancel)
	defer stopOpen()

	in, err := m.engine.OpenInput(openCtx, s.Source, codec.InputOptions{
		ConnectTimeout: m.config.ConnectTimeout,
		LowLatency:     s.Mode == ModeRelay,
	})
	if err != nil {
		// A stop or a departed caller aborts the open; only the source's
		// own failures and the connect timeout count against it.
		if ctx.Err() == nil && s.ctx.Err() == nil {
			breaker.RecordFailure()
		}
		return &InputOpenError{Name: s.Name, Source: s.Source, Err: err}
	}
	s.attach(in, nil)
	breaker.RecordSuccess()

	props := in.Properties()
	format := codec.FormatRTSP
	opts := codec.OutputOptions{Source: props}
	var video codec.VideoParams
	var audio codec.AudioParams

	switch s.Mode {
	case ModeRelay:
		video, audio = relayParams(props)
	case ModeTranscode:
		if m.hls == nil {
			return &OutputOpenError{Name: s.Name, Err: errors.New("no HLS store configured")}
		}
		dir, err := m.hls.Prepare(s.Name)
		if err != nil {
			return &OutputOpenError{Name: s.Name, Target: dir, Err: err}
		}
		s.setOutput(dir, m.hls.PlaylistPath(s.Name))
		format = codec.FormatHLS
		video, audio = transcodeParams(props)
		opts.SegmentDuration = m.config.SegmentDuration
		opts.WindowSize = m.config.WindowSize
	}

	out, err := m.engine.OpenOutput(openCtx, s.Target, format, video, audio, opts)
	if err != nil {
		return &OutputOpenError{Name: s.Name, Target: s.Target, Err: err}
	}
	s.attach(in, out)
	return nil
}
