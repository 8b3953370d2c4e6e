package services

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/events"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// maxResponseLength caps reply text written into custom-object records.
const maxResponseLength = 250

// NotifyContact is one contact from a platform notify batch.
type NotifyContact struct {
	ContactID string
	Email     string
	Mobile    string
	Fields    map[string]string
}

// Evaluator decides yes/no per contact for decision instances, immediately at
// notify time where possible, otherwise via the inbound path or the sweeper.
type Evaluator struct {
	cfg      *config.Config
	store    *store.Store
	platform *eloqua.Client
	events   *events.Publisher
}

// NewEvaluator wires the evaluator to its collaborators.
func NewEvaluator(cfg *config.Config, st *store.Store, platform *eloqua.Client, pub *events.Publisher) *Evaluator {
	return &Evaluator{cfg: cfg, store: st, platform: platform, events: pub}
}

// HandleDecisionNotify processes a batch of contacts that reached the
// decision step. Contacts without a recent SMS get an immediate no; contacts
// whose log already carries a response are evaluated on the spot; the rest
// stay pending for the inbound path and the sweeper. A failure on one contact
// never fails the batch.
func (e *Evaluator) HandleDecisionNotify(ctx context.Context, inst *models.DecisionInstance, executionID string, contacts []NotifyContact) {
	window := inst.Window()
	now := time.Now()

	var yes, no []eloqua.DecisionContact
	for _, contact := range contacts {
		l, err := e.store.LatestSendableLog(inst.InstallID, contact.ContactID, now.Add(-window))
		if err == store.ErrNotFound {
			log.Debug().Str("contactID", contact.ContactID).Str("instanceID", inst.InstanceID).
				Msg("No SMS sent inside the window, contact decided no")
			no = append(no, eloqua.DecisionContact{ContactID: contact.ContactID, Email: contact.Email})
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("contactID", contact.ContactID).Msg("Failed to look up sms log for decision")
			continue
		}

		deadline := l.SentAt.Add(window)
		attached, err := e.store.AttachDecision(l.ID, inst.InstanceID, executionID, deadline)
		if err != nil {
			log.Error().Err(err).Uint("smsLogID", l.ID).Msg("Failed to attach decision to sms log")
			continue
		}
		if !attached {
			log.Debug().Uint("smsLogID", l.ID).Str("executionID", executionID).
				Msg("Decision already settled for this execution, redelivery ignored")
			continue
		}

		if !l.HasResponse {
			continue // pending; the reply webhook or the sweeper finalizes
		}

		verdict := models.DecisionNo
		if inst.Matches(l.ResponseMessage) {
			verdict = models.DecisionYes
		}
		transitioned, err := e.finalize(ctx, inst, l, verdict, now)
		if err != nil {
			log.Error().Err(err).Uint("smsLogID", l.ID).Msg("Failed to finalize immediate decision")
			continue
		}
		if !transitioned {
			continue
		}
		if verdict == models.DecisionYes {
			yes = append(yes, eloqua.DecisionContact{ContactID: contact.ContactID, Email: contact.Email})
		} else {
			no = append(no, eloqua.DecisionContact{ContactID: contact.ContactID, Email: contact.Email})
		}
	}

	e.syncVerdicts(ctx, inst.InstallID, inst.InstanceID, models.DecisionYes, yes)
	e.syncVerdicts(ctx, inst.InstallID, inst.InstanceID, models.DecisionNo, no)
}

// EvaluateInbound finalizes a pending log upon a correlated reply. Replies
// landing after the deadline flip the log to no. Returns whether this call
// performed the transition; a false return means the log was already
// terminal and nothing was sent to the platform.
func (e *Evaluator) EvaluateInbound(ctx context.Context, l *models.SmsLog, responseMessage string, receivedAt time.Time) (bool, error) {
	inst, err := e.store.DecisionInstance(l.DecisionInstanceID)
	if err != nil {
		return false, err
	}

	verdict := models.DecisionNo
	reason := "expired"
	if l.DecisionDeadline != nil && !receivedAt.After(*l.DecisionDeadline) {
		reason = "evaluated"
		if inst.Matches(responseMessage) {
			verdict = models.DecisionYes
		}
	}

	transitioned, err := e.finalize(ctx, inst, l, verdict, time.Now())
	if err != nil || !transitioned {
		return false, err
	}

	log.Info().Uint("smsLogID", l.ID).Str("verdict", verdict).Str("reason", reason).
		Str("instanceID", inst.InstanceID).Msg("Inbound reply decided contact")

	if l.DecisionExecutionID == "" {
		log.Error().Uint("smsLogID", l.ID).Str("instanceID", inst.InstanceID).
			Msg("Decision finalized without an execution id; contact cannot advance the workflow")
	} else {
		e.syncVerdicts(ctx, inst.InstallID, inst.InstanceID, verdict,
			[]eloqua.DecisionContact{{ContactID: l.ContactID, Email: l.Email}})
	}

	e.events.Publish(events.TypeDecisionVerdict, inst.InstallID, map[string]string{
		"instanceId": inst.InstanceID,
		"contactId":  l.ContactID,
		"verdict":    verdict,
	})
	return true, nil
}

// finalize moves the log to its terminal verdict and writes the configured
// response record. The pending guard in the store absorbs replays.
func (e *Evaluator) finalize(ctx context.Context, inst *models.DecisionInstance, l *models.SmsLog, verdict string, now time.Time) (bool, error) {
	transitioned, err := e.store.FinalizeDecision(l.ID, verdict, now)
	if err != nil || !transitioned {
		return false, err
	}
	l.DecisionStatus = verdict
	l.DecisionProcessedAt = &now

	e.writeResponseRecord(ctx, inst, l)
	return true, nil
}

// writeResponseRecord writes one custom-object record for the reply when the
// instance maps a response path. Length caps apply; failure is logged only.
func (e *Evaluator) writeResponseRecord(ctx context.Context, inst *models.DecisionInstance, l *models.SmsLog) {
	if inst.CustomObjectID == "" || !l.HasResponse {
		return
	}
	responseField := inst.FieldMapping["response"]
	if responseField == "" {
		return
	}

	record := eloqua.CustomObjectRecord{}
	add := func(logical, value string) {
		if fieldID := inst.FieldMapping[logical]; fieldID != "" && value != "" {
			record.FieldValues = append(record.FieldValues, eloqua.FieldValue{ID: fieldID, Value: value})
		}
	}
	add("mobile", l.Mobile)
	add("email", l.Email)
	add("response", truncate(l.ResponseMessage, maxResponseLength))
	add("title", truncate(l.Message, maxResponseLength))

	if _, err := e.platform.CreateCustomObjectRecord(ctx, inst.InstallID, inst.CustomObjectID, record); err != nil {
		log.Warn().Err(err).Uint("smsLogID", l.ID).Str("customObjectID", inst.CustomObjectID).
			Msg("Failed to write response custom object record")
	}
}

// syncVerdicts delivers one verdict group to the platform. A failed sync is
// logged; the records are already terminal locally and the next sweep retries
// nothing because the sweep is idempotent over terminal records.
func (e *Evaluator) syncVerdicts(ctx context.Context, installID, instanceID, verdict string, contacts []eloqua.DecisionContact) {
	if len(contacts) == 0 {
		return
	}
	if err := e.platform.SyncDecision(ctx, installID, instanceID, verdict, contacts); err != nil {
		log.Error().Err(err).Str("instanceID", instanceID).Str("verdict", verdict).
			Int("contacts", len(contacts)).Msg("Failed to sync decision verdicts")
		return
	}
	e.store.TouchSynced(installID)
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
