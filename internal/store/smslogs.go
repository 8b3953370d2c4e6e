package store

import (
	"time"

	"gorm.io/gorm"

	"eloqua-sms-bridge/internal/models"
)

// CreateSmsLog persists a new audit record for a sent message.
func (s *Store) CreateSmsLog(l *models.SmsLog) error {
	return s.db.Create(l).Error
}

// LatestSendableLog returns the most recent sent or delivered log for a
// contact with sent_at inside the window, or ErrNotFound.
func (s *Store) LatestSendableLog(installID, contactID string, since time.Time) (*models.SmsLog, error) {
	var l models.SmsLog
	err := s.db.
		Where("install_id = ? AND contact_id = ?", installID, contactID).
		Where("status IN ?", []string{models.SmsStatusSent, models.SmsStatusDelivered}).
		Where("sent_at >= ?", since).
		Order("sent_at desc").
		First(&l).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &l, nil
}

// AttachDecision links a log to a decision instance and sets its deadline.
// A redelivered notify for an execution the log already settled does not
// re-open it; the first verdict stands. Returns whether the log was attached.
func (s *Store) AttachDecision(logID uint, decisionInstanceID, executionID string, deadline time.Time) (bool, error) {
	res := s.db.Model(&models.SmsLog{}).
		Where("id = ?", logID).
		Where("NOT (decision_instance_id = ? AND decision_execution_id = ? AND decision_status IN ?)",
			decisionInstanceID, executionID, []string{models.DecisionYes, models.DecisionNo}).
		Updates(map[string]interface{}{
			"decision_instance_id":  decisionInstanceID,
			"decision_execution_id": executionID,
			"decision_deadline":     deadline,
			"decision_status":       models.DecisionPending,
		})
	return res.RowsAffected > 0, res.Error
}

// DuePendingDecisions returns pending decision logs whose deadline passed,
// bounded per sweep run.
func (s *Store) DuePendingDecisions(now time.Time, limit int) ([]*models.SmsLog, error) {
	var out []*models.SmsLog
	err := s.db.
		Where("decision_status = ? AND decision_deadline < ?", models.DecisionPending, now).
		Order("decision_deadline asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PendingLogByMobile locates the most recent pending decision log for a
// sender number with an unexpired deadline. Ambiguity resolves by recency.
func (s *Store) PendingLogByMobile(mobile string, now time.Time) (*models.SmsLog, error) {
	var l models.SmsLog
	err := s.db.
		Where("mobile = ? AND decision_status = ? AND decision_deadline >= ?",
			mobile, models.DecisionPending, now).
		Order("sent_at desc").
		First(&l).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &l, nil
}

// LogByMessageID finds a log by its gateway message id.
func (s *Store) LogByMessageID(messageID string) (*models.SmsLog, error) {
	var l models.SmsLog
	err := s.db.Where("message_id = ?", messageID).First(&l).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &l, nil
}

// SetResponse merges an inbound reply into a log.
func (s *Store) SetResponse(logID uint, replyID uint, message string, receivedAt time.Time) error {
	return s.db.Model(&models.SmsLog{}).Where("id = ?", logID).Updates(map[string]interface{}{
		"has_response":         true,
		"response_message":     message,
		"response_received_at": receivedAt,
		"reply_id":             replyID,
	}).Error
}

// FinalizeDecision moves a pending decision log to its terminal verdict.
// The pending guard makes replays a no-op.
func (s *Store) FinalizeDecision(logID uint, status string, processedAt time.Time) (bool, error) {
	res := s.db.Model(&models.SmsLog{}).
		Where("id = ? AND decision_status = ?", logID, models.DecisionPending).
		Updates(map[string]interface{}{
			"decision_status":       status,
			"decision_processed_at": processedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDelivered upgrades a log to delivered on a DLR webhook.
func (s *Store) MarkDelivered(messageID string, deliveredAt time.Time) error {
	res := s.db.Model(&models.SmsLog{}).
		Where("message_id = ? AND status = ?", messageID, models.SmsStatusSent).
		Updates(map[string]interface{}{
			"status":       models.SmsStatusDelivered,
			"delivered_at": deliveredAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementLinkHits bumps the hit counter on a log.
func (s *Store) IncrementLinkHits(logID uint) error {
	return s.db.Model(&models.SmsLog{}).Where("id = ?", logID).
		Update("link_hits", gorm.Expr("link_hits + 1")).Error
}

// PendingDecisionCount counts a tenant's unresolved decisions for the status
// page.
func (s *Store) PendingDecisionCount(installID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.SmsLog{}).
		Where("install_id = ? AND decision_status = ?", installID, models.DecisionPending).
		Count(&count).Error
	return count, err
}
