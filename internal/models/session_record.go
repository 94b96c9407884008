package models

import (
	"errors"
	"time"
)

// Final states recorded for a session. A record without an end time is
// still running or was cut short by a crash.
const (
	SessionStateRunning = "running"
	SessionStateStopped = "stopped"
	SessionStateFailed  = "failed"
)

// ErrSessionIDRequired is returned when a record has no live session ID.
var ErrSessionIDRequired = errors.New("session id is required")

// SessionRecord is the persisted history of one relay or transcode session.
type SessionRecord struct {
	BaseModel

	// SessionID is the ULID of the live session.
	SessionID     string     `gorm:"uniqueIndex;size:26;not null" json:"session_id"`
	Name          string     `gorm:"index;size:255;not null" json:"name"`
	Mode          string     `gorm:"size:16;not null" json:"mode"`
	Source        string     `gorm:"size:2048" json:"source"`
	Target        string     `gorm:"size:2048" json:"target"`
	State         string     `gorm:"size:16;not null;default:running" json:"state"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt     time.Time  `gorm:"index;not null" json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	FramesWritten uint64     `json:"frames_written"`
}

// TableName returns the table name for session records.
func (SessionRecord) TableName() string {
	return "session_records"
}

// Validate checks required fields before the record is stored.
func (r *SessionRecord) Validate() error {
	if r.SessionID == "" {
		return ErrSessionIDRequired
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// Duration returns how long the session ran, or zero while it is running.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
