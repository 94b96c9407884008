package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/streamrelay/internal/ffmpeg"
	"github.com/jmylchreest/streamrelay/internal/models"
	"github.com/jmylchreest/streamrelay/internal/relay"
)

type fakeHistory struct {
	records  []*models.SessionRecord
	err      error
	gotName  string
	gotLimit int
}

func (f *fakeHistory) List(ctx context.Context, name string, limit int) ([]*models.SessionRecord, error) {
	f.gotName = name
	f.gotLimit = limit
	return f.records, f.err
}

func fakeStats(ctx context.Context, pid int) (ffmpeg.ProcessStats, error) {
	if pid == 99 {
		return ffmpeg.ProcessStats{}, errors.New("process exited")
	}
	return ffmpeg.ProcessStats{PID: pid, CPUPercent: 12.5, MemoryRSS: 1 << 20}, nil
}

func TestSessionHandler_List(t *testing.T) {
	mgr := newFakeManager()
	started := time.Now().Add(-90 * time.Second)
	mgr.add(relay.SessionInfo{Name: "a", Mode: "relay", State: "running", StartedAt: started, InputPID: 10, OutputPID: 11})
	mgr.add(relay.SessionInfo{Name: "b", Mode: "transcode", State: "running", StartedAt: started, InputPID: 99})

	handler := NewSessionHandler(mgr).WithStatsFunc(fakeStats)

	out, err := handler.List(context.Background(), &ListSessionsInput{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Body.Count)

	a := out.Body.Sessions[0]
	assert.Equal(t, "a", a.Name)
	require.NotNil(t, a.InputStats)
	assert.Equal(t, 10, a.InputStats.PID)
	require.NotNil(t, a.OutputStats)
	assert.Equal(t, 11, a.OutputStats.PID)
	assert.Equal(t, "1m30s", a.Uptime)

	b := out.Body.Sessions[1]
	assert.Nil(t, b.InputStats, "exited process yields no stats")
	assert.Nil(t, b.OutputStats, "unset pid yields no stats")
}

func TestSessionHandler_ListEmpty(t *testing.T) {
	handler := NewSessionHandler(newFakeManager()).WithStatsFunc(fakeStats)

	out, err := handler.List(context.Background(), &ListSessionsInput{})
	require.NoError(t, err)
	assert.NotNil(t, out.Body.Sessions)
	assert.Zero(t, out.Body.Count)
}

func TestSessionHandler_Get(t *testing.T) {
	mgr := newFakeManager()
	mgr.add(relay.SessionInfo{Name: "cam1", Mode: "relay", State: "running"})
	mgr.add(relay.SessionInfo{Name: "cam1", Mode: "transcode", State: "starting"})
	handler := NewSessionHandler(mgr).WithStatsFunc(nil)

	out, err := handler.Get(context.Background(), &GetSessionInput{Mode: "relay", Name: "cam1"})
	require.NoError(t, err)
	assert.Equal(t, "cam1", out.Body.Name)
	assert.Equal(t, "running", out.Body.State)

	out, err = handler.Get(context.Background(), &GetSessionInput{Mode: "transcode", Name: "cam1"})
	require.NoError(t, err)
	assert.Equal(t, "starting", out.Body.State)

	_, err = handler.Get(context.Background(), &GetSessionInput{Mode: "relay", Name: "nope"})
	requireStatus(t, err, 404)

	_, err = handler.Get(context.Background(), &GetSessionInput{Mode: "bogus", Name: "cam1"})
	requireStatus(t, err, 422)
}

func TestSessionHandler_History(t *testing.T) {
	t.Run("disabled without store", func(t *testing.T) {
		handler := NewSessionHandler(newFakeManager())

		_, err := handler.History(context.Background(), &ListHistoryInput{Limit: 10})
		requireStatus(t, err, 503)
	})

	t.Run("lists records", func(t *testing.T) {
		started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		ended := started.Add(2 * time.Minute)
		history := &fakeHistory{records: []*models.SessionRecord{
			{
				BaseModel:     models.BaseModel{ID: models.NewULID()},
				SessionID:     "01HZY0000000000000000000AA",
				Name:          "cam1",
				Mode:          "transcode",
				State:         models.SessionStateFailed,
				Error:         "reading frame: eof",
				StartedAt:     started,
				EndedAt:       &ended,
				FramesWritten: 3000,
			},
			{
				BaseModel: models.BaseModel{ID: models.NewULID()},
				SessionID: "01HZY0000000000000000000AB",
				Name:      "cam1",
				Mode:      "relay",
				State:     models.SessionStateRunning,
				StartedAt: started,
			},
		}}
		handler := NewSessionHandler(newFakeManager()).WithHistory(history)

		out, err := handler.History(context.Background(), &ListHistoryInput{Name: "cam1", Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, "cam1", history.gotName)
		assert.Equal(t, 5, history.gotLimit)
		require.Equal(t, 2, out.Body.Count)

		assert.Equal(t, "failed", out.Body.Records[0].State)
		assert.Equal(t, "2m0s", out.Body.Records[0].Duration)
		assert.Equal(t, uint64(3000), out.Body.Records[0].FramesWritten)
		assert.Empty(t, out.Body.Records[1].Duration)
		assert.Nil(t, out.Body.Records[1].EndedAt)
	})

	t.Run("store failure", func(t *testing.T) {
		handler := NewSessionHandler(newFakeManager()).WithHistory(&fakeHistory{err: errors.New("db down")})

		_, err := handler.History(context.Background(), &ListHistoryInput{Limit: 5})
		requireStatus(t, err, 500)
	})
}
