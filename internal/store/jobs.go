package store

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"eloqua-sms-bridge/internal/models"
)

// CreateJobs persists a batch of jobs in one transaction.
func (s *Store) CreateJobs(jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, j := range jobs {
			if err := tx.Create(j).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// HasJobsForExecution reports whether an execution has already been enqueued.
// Used by notify to make replays a no-op.
func (s *Store) HasJobsForExecution(instanceID, executionID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Job{}).
		Where("instance_id = ? AND execution_id = ?", instanceID, executionID).
		Count(&count).Error
	return count > 0, err
}

// LeaseBatch moves up to limit due pending jobs to processing and returns
// them, oldest scheduled first. The pending→processing guard in the update
// is the lease primitive; a row claimed by another writer is skipped.
func (s *Store) LeaseBatch(now time.Time, limit int) ([]*models.Job, error) {
	var candidates []*models.Job
	err := s.db.
		Where("status = ? AND scheduled_at <= ?", models.JobStatusPending, now).
		Order("scheduled_at asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	leased := make([]*models.Job, 0, len(candidates))
	for _, job := range candidates {
		res := s.db.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
			Updates(map[string]interface{}{
				"status":       models.JobStatusProcessing,
				"processed_at": now,
			})
		if res.Error != nil {
			return leased, res.Error
		}
		if res.RowsAffected == 0 {
			continue // lost the lease
		}
		job.Status = models.JobStatusProcessing
		job.ProcessedAt = &now
		leased = append(leased, job)
	}
	return leased, nil
}

// MarkSent finalizes a successful send, recording the gateway message id and
// the linked SmsLog.
func (s *Store) MarkSent(job *models.Job, messageID string, sentAt time.Time, smsLogID uint) error {
	err := s.db.Model(job).Updates(map[string]interface{}{
		"status":     models.JobStatusSent,
		"message_id": messageID,
		"sent_at":    sentAt,
		"sms_log_id": smsLogID,
		"error":      "",
	}).Error
	if err != nil {
		return err
	}
	job.Status = models.JobStatusSent
	job.MessageID = messageID
	job.SentAt = &sentAt
	job.SmsLogID = smsLogID
	return nil
}

// MarkFailed records a send failure and consumes one retry. A permanent
// failure exhausts the whole budget so the retry pass never picks it up.
func (s *Store) MarkFailed(job *models.Job, sendErr string, permanent bool) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        models.JobStatusFailed,
		"error":         sendErr,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_retry_at": now,
	}
	if permanent {
		updates["retry_count"] = gorm.Expr("max_retries")
	}
	if err := s.db.Model(job).Updates(updates).Error; err != nil {
		return err
	}
	job.Status = models.JobStatusFailed
	job.Error = sendErr
	if permanent {
		job.RetryCount = job.MaxRetries
	} else {
		job.RetryCount++
	}
	job.LastRetryAt = &now
	return nil
}

// ResetRetryable flips failed jobs with budget left back to pending, once the
// cool-off since the last attempt has elapsed. Returns the number reset.
func (s *Store) ResetRetryable(cooloff time.Duration) (int64, error) {
	cutoff := time.Now().Add(-cooloff)
	res := s.db.Model(&models.Job{}).
		Where("status = ? AND retry_count < max_retries AND last_retry_at <= ?",
			models.JobStatusFailed, cutoff).
		Update("status", models.JobStatusPending)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("count", res.RowsAffected).Msg("Reset failed jobs for retry")
	}
	return res.RowsAffected, nil
}

// PendingCountForExecution counts jobs of one execution not yet terminal.
func (s *Store) PendingCountForExecution(installID, instanceID, executionID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Job{}).
		Where("install_id = ? AND instance_id = ? AND execution_id = ?", installID, instanceID, executionID).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}

// RetryableCountForExecution counts failed jobs of one execution that still
// have retry budget. Execution completion must wait for these too.
func (s *Store) RetryableCountForExecution(installID, instanceID, executionID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Job{}).
		Where("install_id = ? AND instance_id = ? AND execution_id = ?", installID, instanceID, executionID).
		Where("status = ? AND retry_count < max_retries", models.JobStatusFailed).
		Count(&count).Error
	return count, err
}

// JobsForExecution returns every job of one execution.
func (s *Store) JobsForExecution(installID, instanceID, executionID string) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.db.
		Where("install_id = ? AND instance_id = ? AND execution_id = ?", installID, instanceID, executionID).
		Order("scheduled_at asc").
		Find(&jobs).Error
	return jobs, err
}

// PendingJobCount counts a tenant's non-terminal jobs for the status page.
func (s *Store) PendingJobCount(installID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Job{}).
		Where("install_id = ? AND status IN ?", installID,
			[]models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Count(&count).Error
	return count, err
}

// DeleteTerminalJobsBefore removes terminal jobs older than the cutoff.
func (s *Store) DeleteTerminalJobsBefore(cutoff time.Time) (int64, error) {
	res := s.db.
		Where("status IN ? AND updated_at < ?",
			[]models.JobStatus{models.JobStatusSent, models.JobStatusFailed, models.JobStatusCancelled}, cutoff).
		Delete(&models.Job{})
	return res.RowsAffected, res.Error
}
