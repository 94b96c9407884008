package ffmpeg

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsForPID_Self(t *testing.T) {
	stats, err := StatsForPID(context.Background(), os.Getpid())
	require.NoError(t, err)

	assert.Equal(t, os.Getpid(), stats.PID)
	assert.NotZero(t, stats.MemoryRSS)
}

func TestStatsForPID_Invalid(t *testing.T) {
	_, err := StatsForPID(context.Background(), 0)
	assert.Error(t, err)
}

func TestCommand_NotStarted(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("x").Output("y").Build()

	assert.Zero(t, cmd.PID())
	assert.False(t, cmd.IsRunning())
	assert.Zero(t, cmd.Duration())
	assert.NoError(t, cmd.Kill())
	assert.Error(t, cmd.Wait())
	assert.Empty(t, cmd.LastError())
}
