// Package service contains application services that sit between the relay
// core and persistence.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/streamrelay/internal/models"
	"github.com/jmylchreest/streamrelay/internal/relay"
	"github.com/jmylchreest/streamrelay/internal/repository"
)

// persistTimeout bounds each history write so a slow database never holds
// up session teardown.
const persistTimeout = 5 * time.Second

// HistoryService records session lifecycles and serves history queries.
type HistoryService struct {
	repo      repository.SessionRecordRepository
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

var _ relay.HistoryRecorder = (*HistoryService)(nil)

// NewHistoryService creates a history service. A zero retention keeps
// records forever.
func NewHistoryService(repo repository.SessionRecordRepository, retention time.Duration) *HistoryService {
	return &HistoryService{
		repo:      repo,
		retention: retention,
		logger:    slog.Default().With(slog.String("component", "history")),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *HistoryService) WithLogger(logger *slog.Logger) *HistoryService {
	s.logger = logger
	return s
}

// SessionStarted stores a running record for the session.
func (s *HistoryService) SessionStarted(ctx context.Context, info relay.SessionInfo) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	record := &models.SessionRecord{
		SessionID: info.ID,
		Name:      info.Name,
		Mode:      info.Mode,
		Source:    info.Source,
		Target:    info.Target,
		State:     models.SessionStateRunning,
		StartedAt: info.StartedAt.UTC(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Warn("failed to record session start",
			slog.String("session_id", info.ID),
			slog.String("stream", info.Name),
			slog.String("error", err.Error()),
		)
	}
}

// SessionEnded stamps the final state of the session.
func (s *HistoryService) SessionEnded(ctx context.Context, info relay.SessionInfo) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	endedAt := s.now().UTC()
	if info.EndedAt != nil {
		endedAt = info.EndedAt.UTC()
	}

	state := models.SessionStateStopped
	if info.State == relay.StateFailed.String() {
		state = models.SessionStateFailed
	}

	if err := s.repo.Finish(ctx, info.ID, state, info.Error, info.FramesWritten, endedAt); err != nil {
		s.logger.Warn("failed to record session end",
			slog.String("session_id", info.ID),
			slog.String("stream", info.Name),
			slog.String("error", err.Error()),
		)
	}
}

// List returns history records, newest first.
func (s *HistoryService) List(ctx context.Context, name string, limit int) ([]*models.SessionRecord, error) {
	records, err := s.repo.List(ctx, repository.SessionRecordFilter{Name: name, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing session history: %w", err)
	}
	return records, nil
}

// Prune deletes finished records older than the retention period.
func (s *HistoryService) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning session history: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("pruned session history",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
