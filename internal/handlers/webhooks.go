package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// gatewayTime parses the timestamp format the SMS provider posts on webhook
// callbacks, falling back to now when absent or malformed.
func gatewayTime(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	log.Debug().Str("raw", raw).Msg("Unparseable webhook timestamp, using now")
	return time.Now()
}

// ReplyWebhook receives inbound SMS callbacks from the gateway.
// POST /webhooks/reply?installId=
func (h *Handlers) ReplyWebhook(w http.ResponseWriter, r *http.Request) {
	installID := r.URL.Query().Get("installId")
	if installID == "" {
		respondError(w, http.StatusBadRequest, "installId is required")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	mobile := r.Form.Get("mobile")
	message := r.Form.Get("response")
	if message == "" {
		message = r.Form.Get("message")
	}
	if mobile == "" {
		respondError(w, http.StatusBadRequest, "mobile is required")
		return
	}

	to := r.Form.Get("longcode")
	if to == "" {
		to = r.Form.Get("to")
	}

	err := h.inbound.HandleReply(r.Context(), installID, mobile, to, message,
		r.Form.Get("message_id"), gatewayTime(r.Form.Get("datetime_entered")))
	if err != nil {
		log.Error().Err(err).Str("installID", installID).Str("mobile", mobile).
			Msg("Failed to process inbound reply")
		respondError(w, http.StatusInternalServerError, "could not process reply")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DLRWebhook receives delivery receipts from the gateway.
// POST /webhooks/dlr?installId=
func (h *Handlers) DLRWebhook(w http.ResponseWriter, r *http.Request) {
	installID := r.URL.Query().Get("installId")
	if installID == "" {
		respondError(w, http.StatusBadRequest, "installId is required")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	messageID := r.Form.Get("message_id")
	if messageID == "" {
		respondError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	err := h.inbound.HandleDLR(installID, messageID, r.Form.Get("status"),
		gatewayTime(r.Form.Get("datetime_entered")))
	if err != nil {
		log.Error().Err(err).Str("messageID", messageID).Msg("Failed to process delivery receipt")
		respondError(w, http.StatusInternalServerError, "could not process receipt")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LinkHitWebhook receives tracked-link click callbacks from the gateway.
// POST /webhooks/linkhit?installId=
func (h *Handlers) LinkHitWebhook(w http.ResponseWriter, r *http.Request) {
	installID := r.URL.Query().Get("installId")
	if installID == "" {
		respondError(w, http.StatusBadRequest, "installId is required")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	mobile := r.Form.Get("mobile")
	if mobile == "" {
		respondError(w, http.StatusBadRequest, "mobile is required")
		return
	}

	err := h.inbound.HandleLinkHit(installID, mobile, r.Form.Get("shorturl"),
		r.Form.Get("longurl"), gatewayTime(r.Form.Get("datetime_entered")))
	if err != nil {
		log.Error().Err(err).Str("installID", installID).Str("mobile", mobile).
			Msg("Failed to process link hit")
		respondError(w, http.StatusInternalServerError, "could not process link hit")
		return
	}
	w.WriteHeader(http.StatusOK)
}
