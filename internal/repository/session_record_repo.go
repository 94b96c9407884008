package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/streamrelay/internal/models"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// sessionRecordRepo implements SessionRecordRepository using GORM.
type sessionRecordRepo struct {
	db *gorm.DB
}

var _ SessionRecordRepository = (*sessionRecordRepo)(nil)

// NewSessionRecordRepository creates a new SessionRecordRepository.
func NewSessionRecordRepository(db *gorm.DB) *sessionRecordRepo {
	return &sessionRecordRepo{db: db}
}

// Create stores a new session record.
func (r *sessionRecordRepo) Create(ctx context.Context, record *models.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validating session record: %w", err)
	}
	if record.State == "" {
		record.State = models.SessionStateRunning
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

// Finish records the final state of a session.
func (r *sessionRecordRepo) Finish(ctx context.Context, sessionID, state, errMsg string, frames uint64, endedAt time.Time) error {
	if sessionID == "" {
		return models.ErrSessionIDRequired
	}

	result := r.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"state":          state,
			"error":          errMsg,
			"frames_written": frames,
			"ended_at":       endedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("finishing session record: %w", result.Error)
	}
	return nil
}

// GetBySessionID retrieves a record by live session ID.
func (r *sessionRecordRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var record models.SessionRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session record: %w", err)
	}
	return &record, nil
}

// List returns records newest first, filtered by name when set.
func (r *sessionRecordRepo) List(ctx context.Context, filter SessionRecordFilter) ([]*models.SessionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := r.db.WithContext(ctx).Model(&models.SessionRecord{})
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}

	var records []*models.SessionRecord
	if err := query.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes finished records that ended before cutoff.
// Records without an end time are kept.
func (r *sessionRecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("ended_at IS NOT NULL AND ended_at < ?", cutoff).
		Delete(&models.SessionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old session records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
