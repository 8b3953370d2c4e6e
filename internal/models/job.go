package models

import (
	"time"
)

// JobStatus represents the lifecycle state of an outbound SMS job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status will never transition again.
// A failed job with retry budget left is not terminal; the retry pass owns
// that distinction, so failed counts as terminal here and the retry pass
// resets eligible rows back to pending.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSent || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one (execution, contact) outbound SMS attempt.
// Stored in the "smsjobs" collection.
type Job struct {
	ID        uint   `gorm:"primaryKey"`
	JobID     string `gorm:"uniqueIndex"`
	InstallID string `gorm:"index"`

	InstanceID  string `gorm:"index"`
	ExecutionID string `gorm:"index"`
	ContactID   string
	Email       string
	Mobile      string

	Message string `gorm:"type:text;comment:rendered message after field merge"`
	FromID  string

	Status      JobStatus `gorm:"index"`
	ScheduledAt time.Time `gorm:"index"`
	ProcessedAt *time.Time
	SentAt      *time.Time

	MessageID string `gorm:"comment:gateway message id once sent"`

	RetryCount  int
	MaxRetries  int `gorm:"default:3"`
	LastRetryAt *time.Time
	Error       string `gorm:"type:text"`

	SmsLogID uint `gorm:"index"`

	// RecordPayload is the custom-object record written on send success,
	// field id to value, carried as JSON until the worker needs it.
	RecordPayload  map[string]string `gorm:"serializer:json"`
	CustomObjectID string

	CampaignID string

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Job) TableName() string { return "smsjobs" }
