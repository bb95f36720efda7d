package models

import (
	"time"
)

// Receipt witnesses that a (task, platform) pair was already published.
// The unique index makes re-insertion a no-op, which is what lets a
// redelivered task skip platforms it already posted to.
type Receipt struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TaskID      string    `gorm:"uniqueIndex:idx_receipts_task_platform;not null;size:64" json:"task_id"`
	Platform    string    `gorm:"uniqueIndex:idx_receipts_task_platform;not null;size:50" json:"platform"`
	PostID      string    `gorm:"size:255" json:"post_id,omitempty"`
	PostURL     string    `gorm:"size:1024" json:"post_url,omitempty"`
	PublishedAt time.Time `gorm:"autoCreateTime" json:"published_at"`
}
