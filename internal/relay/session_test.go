package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		final State
		ok    []bool
	}{
		{
			name:  "success path",
			path:  []State{StateRunning, StateStopping, StateStopped},
			final: StateStopped,
			ok:    []bool{true, true, true},
		},
		{
			name:  "failed while starting",
			path:  []State{StateFailed},
			final: StateFailed,
			ok:    []bool{true},
		},
		{
			name:  "failed while running",
			path:  []State{StateRunning, StateFailed},
			final: StateFailed,
			ok:    []bool{true, true},
		},
		{
			name:  "terminal states are final",
			path:  []State{StateRunning, StateStopping, StateStopped, StateRunning},
			final: StateStopped,
			ok:    []bool{true, true, true, false},
		},
		{
			name:  "cannot skip running",
			path:  []State{StateStopping},
			final: StateStarting,
			ok:    []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSession("cam1")
			for i, to := range tt.path {
				assert.Equal(t, tt.ok[i], s.transition(to), "transition to %s", to)
			}
			assert.Equal(t, tt.final, s.State())
		})
	}
}

func TestSession_RequestStop(t *testing.T) {
	s := testSession("cam1")
	require.True(t, s.transition(StateRunning))

	s.requestStop()

	assert.Equal(t, StateStopping, s.State())
	assert.ErrorIs(t, s.ctx.Err(), context.Canceled)

	// A second request is harmless.
	s.requestStop()
	assert.Equal(t, StateStopping, s.State())
}

func TestSession_InfoSnapshot(t *testing.T) {
	s := testSession("cam1")
	s.setError(errBoom)
	s.setError(errors.New("later"))
	require.True(t, s.transition(StateFailed))

	info := s.Info()
	assert.Equal(t, "cam1", info.Name)
	assert.Equal(t, "relay", info.Mode)
	assert.Equal(t, "failed", info.State)
	assert.Equal(t, "boom", info.Error, "first error wins")
	assert.NotEmpty(t, info.ID)
	require.NotNil(t, info.EndedAt)
}

func TestStateAndModeStrings(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.Equal(t, "relay", ModeRelay.String())
	assert.Equal(t, "transcode", ModeTranscode.String())
}

func TestErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{&InputOpenError{Name: "a", Source: "rtsp://x", Err: errBoom}, ErrInputOpen},
		{&OutputOpenError{Name: "a", Target: "rtsp://y", Err: errBoom}, ErrOutputOpen},
		{&StreamReadError{Name: "a", Err: errBoom}, ErrStreamRead},
		{&StreamWriteError{Name: "a", Err: errBoom}, ErrStreamWrite},
		{&DuplicateSessionError{Name: "a"}, ErrDuplicateSession},
		{&SessionNotFoundError{Name: "a"}, ErrSessionNotFound},
		{&InvalidSessionNameError{Name: "../a"}, ErrInvalidSessionName},
	}

	for _, tt := range tests {
		t.Run(tt.sentinel.Error(), func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Contains(t, tt.err.Error(), `"`)
		})
	}

	wrapped := &StreamReadError{Name: "a", Err: errBoom}
	assert.ErrorIs(t, wrapped, errBoom)
	assert.NotErrorIs(t, wrapped, ErrStreamWrite)
}

func TestValidateName(t *testing.T) {
	valid := []string{"cam1", "Cam-1", "front.door", "a_b", "0"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", "../etc", "a/b", ".hidden", "-x", "with space", "a\\b"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidSessionName, name)
	}
}
