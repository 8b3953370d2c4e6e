package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/store"
)

// Janitor deletes terminal jobs past the retention window, once a day.
type Janitor struct {
	cfg   *config.Config
	store *store.Store
}

// NewJanitor wires the cleanup task.
func NewJanitor(cfg *config.Config, st *store.Store) *Janitor {
	return &Janitor{cfg: cfg, store: st}
}

// Run cleans daily until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Clean()
		}
	}
}

// Clean removes terminal jobs older than the retention window.
func (j *Janitor) Clean() {
	cutoff := time.Now().AddDate(0, 0, -j.cfg.JobRetentionDays)
	deleted, err := j.store.DeleteTerminalJobsBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Job cleanup failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Deleted expired terminal jobs")
	}
}
