package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/adapters/smsgateway"
	"eloqua-sms-bridge/internal/events"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// SendWorker drains the job queue at a controlled rate and reports
// per-execution completion batches through the tracker.
type SendWorker struct {
	cfg      *config.Config
	store    *store.Store
	gateway  *smsgateway.Client
	platform *eloqua.Client
	tracker  *Tracker
	events   *events.Publisher
}

// NewSendWorker wires the worker to its collaborators.
func NewSendWorker(cfg *config.Config, st *store.Store, gw *smsgateway.Client, platform *eloqua.Client, tracker *Tracker, pub *events.Publisher) *SendWorker {
	return &SendWorker{
		cfg:      cfg,
		store:    st,
		gateway:  gw,
		platform: platform,
		tracker:  tracker,
		events:   pub,
	}
}

// Run polls until the context is cancelled. The poll returns only after the
// batch in flight has drained, so cancellation never abandons a leased job
// mid-send.
func (w *SendWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WorkerPollInterval)
	defer ticker.Stop()

	log.Info().
		Dur("pollInterval", w.cfg.WorkerPollInterval).
		Int("batchSize", w.cfg.WorkerBatchSize).
		Int("concurrency", w.cfg.WorkerConcurrency).
		Msg("Send worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Send worker stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one worker cycle: reset retryable failures, lease and dispatch a
// batch, then attempt completion notification for every tracked execution.
func (w *SendWorker) Poll(ctx context.Context) {
	if _, err := w.store.ResetRetryable(w.cfg.JobRetryCooloff); err != nil {
		log.Error().Err(err).Msg("Retry pass failed")
	}

	w.processBatch(ctx)

	for _, key := range w.tracker.Keys() {
		w.maybeComplete(ctx, key)
	}
}

func (w *SendWorker) processBatch(ctx context.Context) {
	jobs, err := w.store.LeaseBatch(time.Now(), w.cfg.WorkerBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to lease job batch")
		return
	}
	if len(jobs) == 0 {
		return
	}
	log.Debug().Int("count", len(jobs)).Msg("Leased job batch")

	sem := make(chan struct{}, w.cfg.WorkerConcurrency)
	var wg sync.WaitGroup
	for i, job := range jobs {
		if i > 0 {
			// Inter-send pacing keeps us inside the gateway rate limit.
			time.Sleep(w.cfg.WorkerSendPacing)
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(j *models.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.dispatch(ctx, j)
		}(job)
	}
	wg.Wait()
}

// dispatch sends one job and records its outcome. Any failure is captured
// into the job row; it never propagates out of the contact.
func (w *SendWorker) dispatch(ctx context.Context, job *models.Job) {
	key := ExecutionKey{InstallID: job.InstallID, InstanceID: job.InstanceID, ExecutionID: job.ExecutionID}

	creds, err := w.store.Credentials(job.InstallID)
	if err != nil {
		w.fail(key, job, fmt.Sprintf("tenant unavailable: %v", err), true)
		return
	}
	if creds.GatewayAPIKey == "" || creds.GatewayAPISecret == "" {
		w.fail(key, job, "gateway credentials not configured", true)
		return
	}

	tenant, err := w.store.TenantByInstall(job.InstallID)
	if err != nil {
		w.fail(key, job, fmt.Sprintf("tenant unavailable: %v", err), true)
		return
	}

	resp, err := w.gateway.SendSMS(ctx, creds.GatewayAPIKey, creds.GatewayAPISecret, smsgateway.SendRequest{
		To:            job.Mobile,
		From:          job.FromID,
		Message:       job.Message,
		Country:       tenant.DefaultCountry,
		ReplyCallback: fmt.Sprintf("%s/webhooks/reply?installId=%s", w.cfg.BaseURL, job.InstallID),
		DLRCallback:   fmt.Sprintf("%s/webhooks/dlr?installId=%s", w.cfg.BaseURL, job.InstallID),
		LinkHits:      true,
	})
	if err != nil {
		w.fail(key, job, err.Error(), !smsgateway.IsTransient(err))
		return
	}

	now := time.Now()
	smsLog := &models.SmsLog{
		InstallID:  job.InstallID,
		InstanceID: job.InstanceID,
		ContactID:  job.ContactID,
		Email:      job.Email,
		Mobile:     job.Mobile,
		Message:    job.Message,
		MessageID:  resp.MessageID,
		FromID:     job.FromID,
		CampaignID: job.CampaignID,
		Status:     models.SmsStatusSent,
		SentAt:     &now,
	}
	if err := w.store.CreateSmsLog(smsLog); err != nil {
		log.Error().Err(err).Str("jobID", job.JobID).Msg("Failed to persist sms log for sent message")
	}
	if err := w.store.MarkSent(job, resp.MessageID, now, smsLog.ID); err != nil {
		log.Error().Err(err).Str("jobID", job.JobID).Msg("Failed to mark job sent")
		return
	}

	recordID := w.writeRecord(ctx, job)

	w.tracker.AddComplete(key, eloqua.CompletedContact{
		ContactID: job.ContactID,
		Email:     job.Email,
		Mobile:    job.Mobile,
		Message:   job.Message,
		MessageID: resp.MessageID,
		FromID:    job.FromID,
		Campaign:  job.CampaignID,
		RecordID:  recordID,
	})
	w.events.Publish(events.TypeJobSent, job.InstallID, map[string]string{
		"jobId":     job.JobID,
		"contactId": job.ContactID,
		"messageId": resp.MessageID,
	})

	log.Info().Str("jobID", job.JobID).Str("messageID", resp.MessageID).
		Str("executionID", job.ExecutionID).Msg("Job sent")
}

// writeRecord creates the configured custom-object record for a successful
// send. Failures here are logged but do not fail the job.
func (w *SendWorker) writeRecord(ctx context.Context, job *models.Job) string {
	if job.CustomObjectID == "" || len(job.RecordPayload) == 0 {
		return ""
	}
	record := eloqua.CustomObjectRecord{}
	for fieldID, value := range job.RecordPayload {
		record.FieldValues = append(record.FieldValues, eloqua.FieldValue{ID: fieldID, Value: value})
	}
	created, err := w.platform.CreateCustomObjectRecord(ctx, job.InstallID, job.CustomObjectID, record)
	if err != nil {
		log.Warn().Err(err).Str("jobID", job.JobID).Str("customObjectID", job.CustomObjectID).
			Msg("Failed to write custom object record for sent message")
		return ""
	}
	return created.ID
}

func (w *SendWorker) fail(key ExecutionKey, job *models.Job, sendErr string, permanent bool) {
	if err := w.store.MarkFailed(job, sendErr, permanent); err != nil {
		log.Error().Err(err).Str("jobID", job.JobID).Msg("Failed to mark job failed")
		return
	}

	if job.RetryCount >= job.MaxRetries {
		w.tracker.AddErrored(key, eloqua.ErroredContact{
			ContactID: job.ContactID,
			Email:     job.Email,
			Mobile:    job.Mobile,
			Message:   job.Message,
			Error:     sendErr,
		})
		w.events.Publish(events.TypeJobFailed, job.InstallID, map[string]string{
			"jobId":     job.JobID,
			"contactId": job.ContactID,
			"error":     sendErr,
		})
		log.Error().Str("jobID", job.JobID).Str("error", sendErr).Msg("Job terminally failed")
		return
	}
	log.Warn().Str("jobID", job.JobID).Int("retryCount", job.RetryCount).
		Int("maxRetries", job.MaxRetries).Str("error", sendErr).
		Msg("Job failed, will retry after cool-off")
}

// maybeComplete reports the execution batch once no job of the execution can
// still make progress.
func (w *SendWorker) maybeComplete(ctx context.Context, key ExecutionKey) {
	pending, err := w.store.PendingCountForExecution(key.InstallID, key.InstanceID, key.ExecutionID)
	if err != nil {
		log.Error().Err(err).Str("executionID", key.ExecutionID).Msg("Failed to count pending jobs")
		return
	}
	retryable, err := w.store.RetryableCountForExecution(key.InstallID, key.InstanceID, key.ExecutionID)
	if err != nil {
		log.Error().Err(err).Str("executionID", key.ExecutionID).Msg("Failed to count retryable jobs")
		return
	}
	if pending+retryable > 0 {
		return
	}

	err = w.tracker.Flush(key, func(res ExecutionResult) error {
		return w.platform.CompleteExecution(ctx, key.InstallID, key.InstanceID, key.ExecutionID, res.Complete, res.Errored)
	})
	if err == nil {
		w.store.TouchSynced(key.InstallID)
	}
}
