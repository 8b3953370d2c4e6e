package models

import (
	"time"
)

// SmsLog states and decision statuses.
const (
	SmsStatusSent      = "sent"
	SmsStatusDelivered = "delivered"
	SmsStatusFailed    = "failed"

	DecisionPending = "pending"
	DecisionYes     = "yes"
	DecisionNo      = "no"
)

// SmsLog is the per-contact audit record for one delivered SMS, and the
// anchor for decision evaluation once a decision step attaches to it.
// Stored in the "smslogs" collection. The (decision_status, decision_deadline)
// index drives the deadline sweeper.
type SmsLog struct {
	ID        uint   `gorm:"primaryKey"`
	InstallID string `gorm:"index"`

	InstanceID string `gorm:"index;comment:action instance that sent the message"`
	ContactID  string `gorm:"index"`
	Email      string
	Mobile     string `gorm:"index"`

	Message    string `gorm:"type:text"`
	MessageID  string `gorm:"index;comment:gateway message id"`
	FromID     string
	CampaignID string

	Status      string `gorm:"index"`
	SentAt      *time.Time
	DeliveredAt *time.Time

	// Decision linkage, populated when a decision step claims this log.
	DecisionInstanceID  string     `gorm:"index"`
	DecisionExecutionID string
	DecisionDeadline    *time.Time `gorm:"index:idx_decision_sweep,priority:2"`
	DecisionStatus      string     `gorm:"index:idx_decision_sweep,priority:1"`
	DecisionProcessedAt *time.Time

	HasResponse        bool
	ResponseMessage    string `gorm:"type:text"`
	ResponseReceivedAt *time.Time
	ReplyID            uint `gorm:"comment:correlated SmsReply id"`

	LinkHits int

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SmsLog) TableName() string { return "smslogs" }

// SmsReply captures one inbound SMS from the gateway webhook.
type SmsReply struct {
	ID         uint   `gorm:"primaryKey"`
	InstallID  string `gorm:"index"`
	FromMobile string `gorm:"index"`
	ToMobile   string `gorm:"index;comment:virtual number that received the reply"`
	Message    string `gorm:"type:text"`
	MessageID  string `gorm:"index;comment:provider id of the original outbound message, when supplied"`
	ReceivedAt time.Time
	Processed  bool `gorm:"index"`
	SmsLogID   uint `gorm:"comment:linked SmsLog once correlated"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SmsReply) TableName() string { return "smsreplies" }

// LinkHit records one click on a tracked link inside an outbound SMS.
type LinkHit struct {
	ID          uint   `gorm:"primaryKey"`
	InstallID   string `gorm:"index"`
	Mobile      string `gorm:"index"`
	ShortURL    string
	OriginalURL string
	HitAt       time.Time
	SmsLogID    uint `gorm:"index"`
	Processed   bool `gorm:"index;comment:consumed by a feeder flush"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (LinkHit) TableName() string { return "linkhits" }
