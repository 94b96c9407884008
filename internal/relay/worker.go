package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// run is the per-session worker. It pumps frames until the input ends, an
// I/O error occurs or the session is cancelled, then tears the session down.
func (m *Manager) run(s *Session) {
	defer m.wg.Done()

	if err := m.pump(s); err != nil {
		s.setError(err)
		s.logger.Error("session failed", slog.String("error", err.Error()))
		if errors.Is(err, ErrStreamRead) {
			m.breakers.Get(s.Source).RecordFailure()
		}
	}
	m.teardown(s)
}

// pump forwards frames in the order they were grabbed. Cancellation is only
// observed between frames.
func (m *Manager) pump(s *Session) error {
	var pacer *Pacer
	if s.Mode == ModeRelay {
		pacer = NewPacer(s.Properties().FrameRate, m.clock)
		if !pacer.Enabled() {
			s.logger.Warn("input frame rate unknown, relaying unpaced",
				slog.Float64("frame_rate", s.Properties().FrameRate),
			)
			pacer = nil
		}
	}

	for {
		if s.ctx.Err() != nil {
			return nil
		}

		frame, err := s.input.Grab()
		if errors.Is(err, codec.ErrEndOfStream) {
			s.logger.Info("input ended")
			return nil
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return &StreamReadError{Name: s.Name, Err: err}
		}

		var waitErr error
		if pacer != nil {
			waitErr = pacer.Wait(s.ctx, frame)
		}

		if err := s.output.Write(frame); err != nil {
			return &StreamWriteError{Name: s.Name, Err: err}
		}
		s.framesWritten.Add(1)

		if waitErr != nil {
			return nil
		}
	}
}

// teardown is the single release path for every way a session ends: caller
// stop, end of input, mid-stream failure, failed start or shutdown. It runs
// at most once per session.
func (m *Manager) teardown(s *Session) {
	s.teardownOnce.Do(func() {
		s.requestStop()

		m.closeHandles(s)

		if s.Mode == ModeTranscode && m.hls != nil {
			if err := m.hls.Purge(s.Name); err != nil {
				s.logger.Warn("failed to purge HLS output", slog.String("error", err.Error()))
			}
		}

		m.registry.removeSession(s)

		final := StateStopped
		if s.Err() != nil {
			final = StateFailed
		}
		s.transition(final)

		s.logger.Info("session ended",
			slog.String("state", final.String()),
			slog.Uint64("frames_written", s.FramesWritten()),
		)

		if s.started && m.history != nil {
			m.history.SessionEnded(context.Background(), s.Info())
		}
		close(s.done)
	})
}

// closeHandles closes the output then the input. Close errors are logged so
// the other handle is still released.
func (m *Manager) closeHandles(s *Session) {
	s.mu.RLock()
	in, out := s.input, s.output
	s.mu.RUnlock()

	if out != nil {
		if err := out.Close(); err != nil {
			s.logger.Warn("failed to close output", slog.String("error", err.Error()))
		}
	}
	if in != nil {
		if err := in.Close(); err != nil {
			s.logger.Warn("failed to close input", slog.String("error", err.Error()))
		}
	}
}
