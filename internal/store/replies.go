package store

import (
	"eloqua-sms-bridge/internal/models"
)

// CreateReply archives one inbound SMS.
func (s *Store) CreateReply(r *models.SmsReply) error {
	return s.db.Create(r).Error
}

// MarkReplyProcessed links a reply to the log it resolved.
func (s *Store) MarkReplyProcessed(replyID, smsLogID uint) error {
	return s.db.Model(&models.SmsReply{}).Where("id = ?", replyID).Updates(map[string]interface{}{
		"processed":  true,
		"sms_log_id": smsLogID,
	}).Error
}

// UnprocessedReplies returns archived replies not yet consumed by a feeder,
// oldest first.
func (s *Store) UnprocessedReplies(installID string, limit int) ([]*models.SmsReply, error) {
	var out []*models.SmsReply
	err := s.db.
		Where("install_id = ? AND processed = ?", installID, false).
		Order("received_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkRepliesProcessed flags a feeder-consumed batch.
func (s *Store) MarkRepliesProcessed(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&models.SmsReply{}).Where("id IN ?", ids).
		Update("processed", true).Error
}

// CreateLinkHit records one tracked-link click.
func (s *Store) CreateLinkHit(h *models.LinkHit) error {
	return s.db.Create(h).Error
}

// UnprocessedLinkHits returns link hits not yet consumed by a feeder.
func (s *Store) UnprocessedLinkHits(installID string, limit int) ([]*models.LinkHit, error) {
	var out []*models.LinkHit
	err := s.db.
		Where("install_id = ? AND processed = ?", installID, false).
		Order("hit_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkLinkHitsProcessed flags a feeder-consumed batch.
func (s *Store) MarkLinkHitsProcessed(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&models.LinkHit{}).Where("id IN ?", ids).
		Update("processed", true).Error
}
