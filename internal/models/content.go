package models

import (
	"time"
)

// Content is the immutable per-platform payload a task publishes. Rows are
// write-once: never updated, only deleted by the retention sweeper.
type Content struct {
	ContentID    string    `gorm:"primaryKey;size:64" json:"content_id"`
	ContentsJSON string    `gorm:"type:text;not null" json:"contents_json"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
