package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/streamrelay/internal/codec"
	"github.com/oklog/ulid/v2"
)

// Mode selects what a session produces.
type Mode int

const (
	// ModeRelay re-emits the input as an RTSP stream.
	ModeRelay Mode = iota
	// ModeTranscode produces HLS segments on disk.
	ModeTranscode
)

func (m Mode) String() string {
	switch m {
	case ModeRelay:
		return "relay"
	case ModeTranscode:
		return "transcode"
	default:
		return "unknown"
	}
}

// ParseMode returns the mode named by s ("relay" or "transcode").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "relay":
		return ModeRelay, nil
	case "transcode":
		return ModeTranscode, nil
	default:
		return 0, fmt.Errorf("unknown session mode %q", s)
	}
}

// State is a session lifecycle state.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

var validTransitions = map[State][]State{
	StateStarting: {StateRunning, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is one active relay or transcode job. The input and output handles
// are touched only by the session's worker and by teardown.
type Session struct {
	ID        ulid.ULID
	Name      string
	Mode      Mode
	Source    string
	Target    string
	OutputDir string
	StartedAt time.Time

	input  codec.Input
	output codec.Output
	props  codec.Properties

	inputPID  int
	outputPID int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	teardownOnce sync.Once
	started      bool

	framesWritten atomic.Uint64

	mu        sync.RWMutex
	state     State
	lastError error
	endedAt   time.Time

	logger *slog.Logger
}

func newSession(parent context.Context, name string, mode Mode, source, target string, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := ulid.Make()
	return &Session{
		ID:        id,
		Name:      name,
		Mode:      mode,
		Source:    source,
		Target:    target,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateStarting,
		logger: logger.With(
			slog.String("session", name),
			slog.String("session_id", id.String()),
			slog.String("mode", mode.String()),
		),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// FramesWritten returns the number of frames forwarded to the output.
func (s *Session) FramesWritten() uint64 {
	return s.framesWritten.Load()
}

// Properties returns the measured input properties.
func (s *Session) Properties() codec.Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props
}

// transition moves the session to the given state if the move is legal.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.state, to) {
		s.logger.Warn("refusing illegal session transition",
			slog.String("from", s.state.String()),
			slog.String("to", to.String()),
		)
		return false
	}
	s.logger.Debug("session transition",
		slog.String("from", s.state.String()),
		slog.String("to", to.String()),
	)
	s.state = to
	if to.IsTerminal() {
		s.endedAt = time.Now()
	}
	return true
}

// requestStop raises the cancellation signal. A running session moves to
// Stopping; the worker notices between frames.
func (s *Session) requestStop() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopping
		s.logger.Debug("session transition",
			slog.String("from", StateRunning.String()),
			slog.String("to", StateStopping.String()),
		)
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastError == nil {
		s.lastError = err
	}
}

// attach records the opened handles. It runs before the session is visible
// to a worker.
func (s *Session) attach(in codec.Input, out codec.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = in
	s.output = out
	if in != nil {
		s.props = in.Properties()
		if p, ok := in.(codec.ProcessIdentifier); ok {
			s.inputPID = p.PID()
		}
	}
	if out != nil {
		if p, ok := out.(codec.ProcessIdentifier); ok {
			s.outputPID = p.PID()
		}
	}
}

func (s *Session) setOutput(dir, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OutputDir = dir
	s.Target = target
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Mode          string           `json:"mode"`
	State         string           `json:"state"`
	Source        string           `json:"source"`
	Target        string           `json:"target"`
	OutputDir     string           `json:"output_dir,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	FramesWritten uint64           `json:"frames_written"`
	Input         codec.Properties `json:"input"`
	InputPID      int              `json:"input_pid,omitempty"`
	OutputPID     int              `json:"output_pid,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		ID:            s.ID.String(),
		Name:          s.Name,
		Mode:          s.Mode.String(),
		State:         s.state.String(),
		Source:        s.Source,
		Target:        s.Target,
		OutputDir:     s.OutputDir,
		StartedAt:     s.StartedAt,
		FramesWritten: s.framesWritten.Load(),
		Input:         s.props,
		InputPID:      s.inputPID,
		OutputPID:     s.outputPID,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		info.EndedAt = &ended
	}
	if s.lastError != nil {
		info.Error = s.lastError.Error()
	}
	return info
}
