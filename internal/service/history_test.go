package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/streamrelay/internal/models"
	"github.com/jmylchreest/streamrelay/internal/relay"
	"github.com/jmylchreest/streamrelay/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupHistoryService(t *testing.T, retention time.Duration) (*HistoryService, repository.SessionRecordRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.SessionRecord{}))

	repo := repository.NewSessionRecordRepository(db)
	return NewHistoryService(repo, retention), repo
}

func testSessionInfo(name string) relay.SessionInfo {
	return relay.SessionInfo{
		ID:        models.NewULID().String(),
		Name:      name,
		Mode:      relay.ModeRelay.String(),
		State:     relay.StateRunning.String(),
		Source:    "rtsp://camera.local/" + name,
		Target:    "rtsp://localhost:8554/" + name,
		StartedAt: time.Now().Add(-time.Minute),
	}
}

func TestHistoryService_StartAndEnd(t *testing.T) {
	svc, repo := setupHistoryService(t, 0)
	ctx := context.Background()

	info := testSessionInfo("cam1")
	svc.SessionStarted(ctx, info)

	record, err := repo.GetBySessionID(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SessionStateRunning, record.State)
	assert.Equal(t, "relay", record.Mode)
	assert.Nil(t, record.EndedAt)

	ended := time.Now()
	info.State = relay.StateStopped.String()
	info.EndedAt = &ended
	info.FramesWritten = 250
	svc.SessionEnded(ctx, info)

	record, err = repo.GetBySessionID(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SessionStateStopped, record.State)
	assert.Equal(t, uint64(250), record.FramesWritten)
	require.NotNil(t, record.EndedAt)
	assert.WithinDuration(t, ended, *record.EndedAt, time.Second)
}

func TestHistoryService_FailedSession(t *testing.T) {
	svc, repo := setupHistoryService(t, 0)
	ctx := context.Background()

	info := testSessionInfo("cam1")
	svc.SessionStarted(ctx, info)

	info.State = relay.StateFailed.String()
	info.Error = "stream read error: connection reset"
	svc.SessionEnded(ctx, info)

	record, err := repo.GetBySessionID(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SessionStateFailed, record.State)
	assert.Equal(t, info.Error, record.Error)
	assert.NotNil(t, record.EndedAt, "missing end time falls back to now")
}

func TestHistoryService_CanceledContextStillPersists(t *testing.T) {
	svc, repo := setupHistoryService(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	info := testSessionInfo("cam1")
	svc.SessionStarted(ctx, info)

	record, err := repo.GetBySessionID(context.Background(), info.ID)
	require.NoError(t, err)
	assert.NotNil(t, record)
}

type failingRepo struct {
	repository.SessionRecordRepository
}

func (failingRepo) Create(context.Context, *models.SessionRecord) error {
	return errors.New("database is locked")
}

func (failingRepo) Finish(context.Context, string, string, string, uint64, time.Time) error {
	return errors.New("database is locked")
}

func TestHistoryService_FailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	svc := NewHistoryService(failingRepo{}, 0).
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	info := testSessionInfo("cam1")
	assert.NotPanics(t, func() {
		svc.SessionStarted(context.Background(), info)
		svc.SessionEnded(context.Background(), info)
	})
	assert.Contains(t, buf.String(), "failed to record session start")
	assert.Contains(t, buf.String(), "failed to record session end")
}

func TestHistoryService_List(t *testing.T) {
	svc, _ := setupHistoryService(t, 0)
	ctx := context.Background()

	svc.SessionStarted(ctx, testSessionInfo("cam1"))
	svc.SessionStarted(ctx, testSessionInfo("cam2"))

	records, err := svc.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = svc.List(ctx, "cam2", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cam2", records[0].Name)
}

func TestHistoryService_Prune(t *testing.T) {
	svc, repo := setupHistoryService(t, 24*time.Hour)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old := testSessionInfo("old")
	old.StartedAt = now.Add(-72 * time.Hour)
	svc.SessionStarted(ctx, old)
	oldEnd := now.Add(-48 * time.Hour)
	old.EndedAt = &oldEnd
	svc.SessionEnded(ctx, old)

	fresh := testSessionInfo("fresh")
	fresh.StartedAt = now.Add(-2 * time.Hour)
	svc.SessionStarted(ctx, fresh)
	freshEnd := now.Add(-time.Hour)
	fresh.EndedAt = &freshEnd
	svc.SessionEnded(ctx, fresh)

	deleted, err := svc.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	record, err := repo.GetBySessionID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestHistoryService_PruneDisabled(t *testing.T) {
	svc := NewHistoryService(failingRepo{}, 0)
	deleted, err := svc.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
