package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// Feeder injects contacts into the platform from archived inbound SMS and
// tracked-link events. Ingestion is webhook-driven; this service is the
// periodic flush that batches unconsumed events into one contact import per
// feeder instance.
type Feeder struct {
	cfg      *config.Config
	store    *store.Store
	platform *eloqua.Client
}

// NewFeeder wires the feeder flush.
func NewFeeder(cfg *config.Config, st *store.Store, platform *eloqua.Client) *Feeder {
	return &Feeder{cfg: cfg, store: st, platform: platform}
}

// Run flushes until the context is cancelled.
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.FeederFlushInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", f.cfg.FeederFlushInterval).Msg("Feeder flush started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Feeder flush stopped")
			return
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush processes every configured feeder instance once.
func (f *Feeder) Flush(ctx context.Context) {
	feeders, err := f.store.ActiveFeeders()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active feeders")
		return
	}

	for i := range feeders {
		inst := &feeders[i]
		switch inst.Source {
		case "linkhit":
			f.flushLinkHits(ctx, inst)
		default:
			f.flushReplies(ctx, inst)
		}
	}
}

func (f *Feeder) flushReplies(ctx context.Context, inst *models.FeederInstance) {
	replies, err := f.store.UnprocessedReplies(inst.InstallID, f.cfg.FeederFlushBatch)
	if err != nil {
		log.Error().Err(err).Str("instanceID", inst.InstanceID).Msg("Failed to load unprocessed replies")
		return
	}

	keyword := strings.ToLower(strings.TrimSpace(inst.Keyword))
	var rows []map[string]string
	var consumed []uint
	for _, r := range replies {
		if !inst.ListensTo(r.ToMobile) {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(r.Message), keyword) {
			continue
		}
		rows = append(rows, map[string]string{
			"MobilePhone":  r.FromMobile,
			"EmailAddress": "",
		})
		consumed = append(consumed, r.ID)
		f.writeEventRecord(ctx, inst, map[string]string{
			"mobile":   r.FromMobile,
			"response": truncate(r.Message, maxResponseLength),
		})
	}
	if len(rows) == 0 {
		return
	}

	if err := f.platform.FeedContacts(ctx, inst.InstallID, inst.InstanceID, rows); err != nil {
		log.Error().Err(err).Str("instanceID", inst.InstanceID).Msg("Feeder reply flush failed")
		return
	}
	if err := f.store.MarkRepliesProcessed(consumed); err != nil {
		log.Error().Err(err).Str("instanceID", inst.InstanceID).Msg("Failed to mark replies processed")
	}
	f.store.TouchSynced(inst.InstallID)
}

func (f *Feeder) flushLinkHits(ctx context.Context, inst *models.FeederInstance) {
	hits, err := f.store.UnprocessedLinkHits(inst.InstallID, f.cfg.FeederFlushBatch)
	if err != nil {
		log.Error().Err(err).Str("instanceID", inst.InstanceID).Msg("Failed to load unprocessed link hits")
		return
	}

	var rows []map[string]string
	var consumed []uint
	hitCounts := make(map[string]int)
	for _, h := range hits {
		hitCounts[h.Mobile]++
		rows = append(rows, map[string]string{
			"MobilePhone":  h.Mobile,
			"EmailAddress": "",
		})
		consumed = append(consumed, h.ID)
		f.writeEventRecord(ctx, inst, map[string]string{
			"mobile":       h.Mobile,
			"url":          h.ShortURL,
			"original-url": h.OriginalURL,
			"link-hits":    strconv.Itoa(hitCounts[h.Mobile]),
		})
	}
	if len(rows) == 0 {
		return
	}

	if err := f.platform.FeedContacts(ctx, inst.InstallID, inst.InstanceID, rows); err != nil {
		log.Error().Err(err).Str("instanceID", inst.InstanceID).Msg("Feeder link-hit flush failed")
		return
	}
	if err := f.store.MarkLinkHitsProcessed(consumed); err != nil {
		log.Error().Err(err).Str("instanceID", inst.InstanceID).Msg("Failed to mark link hits processed")
	}
	f.store.TouchSynced(inst.InstallID)
}

// writeEventRecord stores one custom-object record per event when the feeder
// maps one. Failure is logged; the contact import is the primary effect.
func (f *Feeder) writeEventRecord(ctx context.Context, inst *models.FeederInstance, values map[string]string) {
	if inst.CustomObjectID == "" || len(inst.FieldMapping) == 0 {
		return
	}
	record := eloqua.CustomObjectRecord{}
	for logical, value := range values {
		if fieldID := inst.FieldMapping[logical]; fieldID != "" && value != "" {
			record.FieldValues = append(record.FieldValues, eloqua.FieldValue{ID: fieldID, Value: value})
		}
	}
	if len(record.FieldValues) == 0 {
		return
	}
	if _, err := f.platform.CreateCustomObjectRecord(ctx, inst.InstallID, inst.CustomObjectID, record); err != nil {
		log.Warn().Err(err).Str("instanceID", inst.InstanceID).Msg("Failed to write feeder event record")
	}
}
