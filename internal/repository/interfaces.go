// Package repository defines data access interfaces and GORM implementations
// for streamrelay entities.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/streamrelay/internal/models"
)

// SessionRecordFilter narrows history listings. Zero values match everything.
type SessionRecordFilter struct {
	// Name restricts results to one stream name.
	Name string
	// Limit caps the number of records returned; 0 uses the default.
	Limit int
}

// SessionRecordRepository defines operations for session history persistence.
type SessionRecordRepository interface {
	// Create stores a new record for a session that has just started.
	Create(ctx context.Context, record *models.SessionRecord) error
	// Finish stamps the final state of a session. Missing records are ignored.
	Finish(ctx context.Context, sessionID, state, errMsg string, frames uint64, endedAt time.Time) error
	// GetBySessionID retrieves a record by live session ID. Returns nil if not found.
	GetBySessionID(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	// List returns records newest first.
	List(ctx context.Context, filter SessionRecordFilter) ([]*models.SessionRecord, error)
	// DeleteOlderThan removes finished records that ended before cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
