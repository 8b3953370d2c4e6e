package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// Sweeper finalizes pending decision logs whose wait window elapsed. It runs
// periodically with a bounded batch per cycle and posts per-execution verdict
// batches to the platform.
type Sweeper struct {
	cfg       *config.Config
	store     *store.Store
	evaluator *Evaluator
}

// NewSweeper wires the sweeper.
func NewSweeper(cfg *config.Config, st *store.Store, evaluator *Evaluator) *Sweeper {
	return &Sweeper{cfg: cfg, store: st, evaluator: evaluator}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.SweepInterval).Int("batch", s.cfg.SweepBatch).
		Msg("Deadline sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Deadline sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

type verdictGroup struct {
	installID   string
	instanceID  string
	executionID string
	verdict     string
}

// Sweep runs one pass: pick due pending logs, finalize each, then group the
// finalized verdicts by execution and deliver them. Records without a known
// execution id are finalized locally but cannot advance the workflow; they
// are logged as stuck.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DuePendingDecisions(now, s.cfg.SweepBatch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to select due decision logs")
		return
	}
	if len(due) == 0 {
		return
	}
	log.Info().Int("count", len(due)).Msg("Sweeping expired decision logs")

	instances := make(map[string]*models.DecisionInstance)
	groups := make(map[verdictGroup][]eloqua.DecisionContact)

	for _, l := range due {
		inst, ok := instances[l.DecisionInstanceID]
		if !ok {
			inst, err = s.store.DecisionInstance(l.DecisionInstanceID)
			if err != nil {
				log.Error().Err(err).Uint("smsLogID", l.ID).Str("instanceID", l.DecisionInstanceID).
					Msg("Decision instance missing for pending log")
				continue
			}
			instances[l.DecisionInstanceID] = inst
		}

		verdict := models.DecisionNo
		if l.HasResponse && inst.Matches(l.ResponseMessage) {
			verdict = models.DecisionYes
		}

		transitioned, err := s.evaluator.finalize(ctx, inst, l, verdict, now)
		if err != nil {
			log.Error().Err(err).Uint("smsLogID", l.ID).Msg("Failed to finalize swept decision")
			continue
		}
		if !transitioned {
			continue
		}

		if l.DecisionExecutionID == "" {
			log.Error().Uint("smsLogID", l.ID).Str("instanceID", inst.InstanceID).Str("contactID", l.ContactID).
				Msg("Swept decision has no execution id; verdict cannot be delivered, contact is stuck")
			continue
		}

		key := verdictGroup{
			installID:   inst.InstallID,
			instanceID:  inst.InstanceID,
			executionID: l.DecisionExecutionID,
			verdict:     verdict,
		}
		groups[key] = append(groups[key], eloqua.DecisionContact{ContactID: l.ContactID, Email: l.Email})
	}

	for key, contacts := range groups {
		s.evaluator.syncVerdicts(ctx, key.installID, key.instanceID, key.verdict, contacts)
	}
}
