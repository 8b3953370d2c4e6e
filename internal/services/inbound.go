package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/internal/events"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// Correlator matches inbound SMS events to pending decision logs.
type Correlator struct {
	store     *store.Store
	evaluator *Evaluator
	events    *events.Publisher
}

// NewCorrelator wires the correlator.
func NewCorrelator(st *store.Store, evaluator *Evaluator, pub *events.Publisher) *Correlator {
	return &Correlator{store: st, evaluator: evaluator, events: pub}
}

// HandleReply archives one inbound SMS and, when it correlates to a pending
// decision log, evaluates it synchronously. Uncorrelated replies stay
// archived with processed=false for feeder consumption.
func (c *Correlator) HandleReply(ctx context.Context, installID, fromMobile, toMobile, message, messageID string, receivedAt time.Time) error {
	reply := &models.SmsReply{
		InstallID:  installID,
		FromMobile: fromMobile,
		ToMobile:   toMobile,
		Message:    message,
		MessageID:  messageID,
		ReceivedAt: receivedAt,
	}
	if err := c.store.CreateReply(reply); err != nil {
		return err
	}
	c.events.Publish(events.TypeInboundReply, installID, map[string]string{
		"from":      fromMobile,
		"messageId": messageID,
	})

	l := c.locate(fromMobile, messageID, receivedAt)
	if l == nil {
		log.Debug().Str("from", fromMobile).Str("messageID", messageID).
			Msg("Inbound reply matches no pending decision log, archived")
		return nil
	}

	if err := c.store.SetResponse(l.ID, reply.ID, message, receivedAt); err != nil {
		return err
	}
	l.HasResponse = true
	l.ResponseMessage = message
	l.ResponseReceivedAt = &receivedAt
	l.ReplyID = reply.ID

	transitioned, err := c.evaluator.EvaluateInbound(ctx, l, message, receivedAt)
	if err != nil {
		return err
	}
	if !transitioned {
		// Redelivery of an already-decided reply: keep the archive row, no
		// new platform notification.
		log.Debug().Uint("smsLogID", l.ID).Msg("Reply correlated to an already-decided log")
	}

	return c.store.MarkReplyProcessed(reply.ID, l.ID)
}

// locate resolves the pending log for a reply: first by the provider message
// id, then by sender number among unexpired pending logs, newest first.
func (c *Correlator) locate(fromMobile, messageID string, receivedAt time.Time) *models.SmsLog {
	if messageID != "" {
		l, err := c.store.LogByMessageID(messageID)
		if err == nil && l.DecisionStatus == models.DecisionPending {
			return l
		}
		if err != nil && err != store.ErrNotFound {
			log.Error().Err(err).Str("messageID", messageID).Msg("Failed to look up log by message id")
		}
	}

	l, err := c.store.PendingLogByMobile(fromMobile, receivedAt)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("from", fromMobile).Msg("Failed to look up pending log by mobile")
		return nil
	}
	return l
}

// HandleDLR upgrades a log to delivered on a delivery receipt.
func (c *Correlator) HandleDLR(installID, messageID, status string, at time.Time) error {
	if status != "delivered" {
		log.Debug().Str("messageID", messageID).Str("status", status).Msg("Ignoring non-delivered DLR")
		return nil
	}
	err := c.store.MarkDelivered(messageID, at)
	if err == store.ErrNotFound {
		log.Debug().Str("messageID", messageID).Msg("DLR for unknown or already-delivered message")
		return nil
	}
	return err
}

// HandleLinkHit records a tracked-link click and bumps the counter on the
// originating log when one is found.
func (c *Correlator) HandleLinkHit(installID, mobile, shortURL, originalURL string, at time.Time) error {
	hit := &models.LinkHit{
		InstallID:   installID,
		Mobile:      mobile,
		ShortURL:    shortURL,
		OriginalURL: originalURL,
		HitAt:       at,
	}

	if l, err := c.store.PendingLogByMobile(mobile, at); err == nil {
		hit.SmsLogID = l.ID
	}

	if err := c.store.CreateLinkHit(hit); err != nil {
		return err
	}
	if hit.SmsLogID != 0 {
		if err := c.store.IncrementLinkHits(hit.SmsLogID); err != nil {
			log.Warn().Err(err).Uint("smsLogID", hit.SmsLogID).Msg("Failed to increment link hits")
		}
	}
	c.events.Publish(events.TypeLinkHit, installID, map[string]string{
		"mobile": mobile,
		"url":    originalURL,
	})
	return nil
}
