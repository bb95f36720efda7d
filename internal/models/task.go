package models

import (
	"time"
)

// Status is the lifecycle state of a publish task.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusPartialFailure Status = "partial_failure"
	StatusCancelled      Status = "cancelled"
)

// TerminalStatuses lists every sink state. No transition leaves any of them.
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusPartialFailure, StatusCancelled}
}

// Terminal reports whether s is a sink state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartialFailure, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning:
		return true
	}
	return s.Terminal()
}

// Task is one scheduled multi-platform publish request. Rows are created in
// scheduled state, mutated only by the executor and explicit cancellation,
// and reclaimed by the retention sweeper once terminal.
type Task struct {
	TaskID        string      `gorm:"primaryKey;size:64" json:"task_id"`
	ExternalRef   string      `gorm:"size:128" json:"external_ref,omitempty"`
	ContentID     string      `gorm:"not null;index;size:64" json:"content_id"`
	Platforms     StringArray `gorm:"type:text;not null" json:"platforms"`
	ScheduledTime time.Time   `gorm:"not null;index" json:"scheduled_time"`
	Status        Status      `gorm:"size:50;default:'scheduled';index" json:"status"`
	Attempts      int         `gorm:"default:0" json:"attempts"`
	CreatedAt     time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
	Error         string      `gorm:"type:text" json:"error,omitempty"`
	Result        string      `gorm:"type:text" json:"result,omitempty"`
}
