package models

import "time"

// ReleaseStatus is the terminal or current status of a release run
type ReleaseStatus string

const (
	ReleaseStatusRunning   ReleaseStatus = "running"
	ReleaseStatusFinalized ReleaseStatus = "finalized"
	ReleaseStatusAborted   ReleaseStatus = "aborted"
)

// ReleaseLog records one execution of the release pipeline
type ReleaseLog struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	RunID        string        `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	Title        string        `gorm:"type:varchar(255);not null;index:idx_release_logs_title" json:"title"`
	Season       int           `gorm:"not null" json:"season"`
	Episode      int           `gorm:"not null" json:"episode"`
	Status       ReleaseStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	FailureCode  *string       `gorm:"type:varchar(50)" json:"failure_code,omitempty"`
	Renditions   int           `gorm:"not null;default:0" json:"renditions"`
	ErrorMessage *string       `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt    time.Time     `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for ReleaseLog
func (ReleaseLog) TableName() string {
	return "release_logs"
}
