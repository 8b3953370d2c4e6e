package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/services"
	"eloqua-sms-bridge/internal/store"
)

func instanceIDVar(r *http.Request) string {
	return mux.Vars(r)["instanceId"]
}

// notifyPayload is the contact batch Eloqua posts to a step's notify URL. The
// item keys follow the record definition registered at create time.
type notifyPayload struct {
	Count int                      `json:"count"`
	Items []map[string]interface{} `json:"items"`
}

// notifyItem flattens one payload item to strings for templating.
func notifyItem(raw map[string]interface{}) (contact services.NotifyContact) {
	contact.Fields = make(map[string]string, len(raw))
	for k, v := range raw {
		s := fmt.Sprint(v)
		contact.Fields[k] = s
		switch k {
		case "ContactId", "ContactID":
			contact.ContactID = s
		case "EmailAddress":
			contact.Email = s
		case "MobilePhone", "Mobile":
			if contact.Mobile == "" {
				contact.Mobile = s
			}
		}
	}
	return contact
}

func decodeNotify(r *http.Request) ([]services.NotifyContact, error) {
	var payload notifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, err
	}
	contacts := make([]services.NotifyContact, 0, len(payload.Items))
	for _, item := range payload.Items {
		contacts = append(contacts, notifyItem(item))
	}
	return contacts, nil
}

// stepParams are the identifiers Eloqua appends to every step callback.
type stepParams struct {
	InstallID   string
	SiteID      string
	InstanceID  string
	ExecutionID string
	AssetID     string
}

func readStepParams(r *http.Request) stepParams {
	q := r.URL.Query()
	return stepParams{
		InstallID:   q.Get("installId"),
		SiteID:      q.Get("siteId"),
		InstanceID:  q.Get("instanceId"),
		ExecutionID: q.Get("executionId"),
		AssetID:     q.Get("assetId"),
	}
}

// pushStepDescription tells the canvas which fields a step wants and whether
// it still needs configuration. Best effort; the instance row is the truth.
func (h *Handlers) pushStepDescription(r *http.Request, installID, stepKind, instanceID string, fields map[string]string, requiresConfiguration bool) {
	desc := eloqua.StepDescription{
		RecordDefinition:      fields,
		RequiresConfiguration: requiresConfiguration,
	}
	if err := h.platform.UpdateStepDescription(r.Context(), installID, stepKind, instanceID, desc); err != nil {
		log.Warn().Err(err).Str("instanceID", instanceID).Str("kind", stepKind).
			Msg("Failed to push step description to canvas")
	}
}

func actionRecordDefinition() map[string]string {
	return map[string]string{
		"ContactId":    "{{Contact.Id}}",
		"EmailAddress": "{{Contact.Field(C_EmailAddress)}}",
		"MobilePhone":  "{{Contact.Field(C_MobilePhone)}}",
	}
}

func decisionRecordDefinition() map[string]string {
	return map[string]string{
		"ContactId":    "{{Contact.Id}}",
		"EmailAddress": "{{Contact.Field(C_EmailAddress)}}",
	}
}

func feederRecordDefinition() map[string]string {
	return map[string]string{
		"EmailAddress": "{{Contact.Field(C_EmailAddress)}}",
		"MobilePhone":  "{{Contact.Field(C_MobilePhone)}}",
	}
}

// Action steps ----------------------------------------------------------------

// ActionCreate registers a new SMS send step placed on a canvas.
// POST /eloqua/action/create
func (h *Handlers) ActionCreate(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	if p.InstallID == "" || p.InstanceID == "" {
		respondError(w, http.StatusBadRequest, "installId and instanceId are required")
		return
	}
	inst, err := h.store.CreateActionInstance(p.InstallID, p.SiteID, p.InstanceID)
	if err != nil {
		log.Error().Err(err).Str("instanceID", p.InstanceID).Msg("Failed to create action instance")
		respondError(w, http.StatusInternalServerError, "could not create instance")
		return
	}
	h.pushStepDescription(r, p.InstallID, "actions", inst.InstanceID, actionRecordDefinition(), true)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":                    inst.InstanceID,
		"requiresConfiguration": true,
	})
}

// ActionNotify enqueues one SMS job per contact in the batch. Redelivered
// batches for an execution already queued are acknowledged without new jobs.
// POST /eloqua/action/notify
func (h *Handlers) ActionNotify(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	if p.InstallID == "" || p.InstanceID == "" || p.ExecutionID == "" {
		respondError(w, http.StatusBadRequest, "installId, instanceId and executionId are required")
		return
	}

	inst, err := h.store.ActionInstance(p.InstanceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown instance")
		return
	}
	if inst.RequiresConfiguration {
		respondError(w, http.StatusBadRequest, "instance is not configured")
		return
	}

	seen, err := h.store.HasJobsForExecution(p.InstanceID, p.ExecutionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not check execution state")
		return
	}
	if seen {
		log.Info().Str("executionID", p.ExecutionID).Str("instanceID", p.InstanceID).
			Msg("Notify redelivery for an already-queued execution, acknowledged")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	contacts, err := decodeNotify(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid notify payload")
		return
	}

	now := time.Now()
	jobs := make([]*models.Job, 0, len(contacts))
	for _, contact := range contacts {
		message := services.RenderMessage(inst.Message, contact.Fields)
		jobs = append(jobs, &models.Job{
			JobID:          uuid.NewString(),
			InstallID:      p.InstallID,
			InstanceID:     p.InstanceID,
			ExecutionID:    p.ExecutionID,
			ContactID:      contact.ContactID,
			Email:          contact.Email,
			Mobile:         contact.Mobile,
			Message:        message,
			FromID:         inst.FromID,
			Status:         models.JobStatusPending,
			ScheduledAt:    now,
			MaxRetries:     h.cfg.JobMaxRetries,
			CustomObjectID: inst.CustomObjectID,
			RecordPayload:  recordPayload(inst.FieldMapping, contact, message),
			CampaignID:     p.AssetID,
		})
	}

	if err := h.store.CreateJobs(jobs); err != nil {
		log.Error().Err(err).Str("executionID", p.ExecutionID).Msg("Failed to enqueue sms jobs")
		respondError(w, http.StatusInternalServerError, "could not enqueue jobs")
		return
	}
	log.Info().Str("executionID", p.ExecutionID).Str("instanceID", p.InstanceID).
		Int("jobs", len(jobs)).Msg("Queued sms jobs for execution")
	w.WriteHeader(http.StatusNoContent)
}

// recordPayload precomputes the custom-object record written after a
// successful send, field id to value per the instance mapping.
func recordPayload(mapping models.FieldMapping, contact services.NotifyContact, message string) map[string]string {
	if len(mapping) == 0 {
		return nil
	}
	payload := make(map[string]string)
	set := func(logical, value string) {
		if fieldID := mapping[logical]; fieldID != "" && value != "" {
			payload[fieldID] = value
		}
	}
	set("mobile", contact.Mobile)
	set("email", contact.Email)
	set("title", message)
	if len(payload) == 0 {
		return nil
	}
	return payload
}

// ActionCopy duplicates an instance's configuration under a new id, for
// canvas copy-paste. POST /eloqua/action/copy
func (h *Handlers) ActionCopy(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	dup, err := h.store.CopyActionInstance(p.InstanceID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "unknown instance")
			return
		}
		respondError(w, http.StatusInternalServerError, "could not copy instance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":                    dup.InstanceID,
		"requiresConfiguration": true,
	})
}

// ActionDelete removes an instance from the canvas.
// POST /eloqua/action/delete
func (h *Handlers) ActionDelete(w http.ResponseWriter, r *http.Request) {
	h.deleteInstance(w, r, h.store.DeleteActionInstance)
}

func (h *Handlers) deleteInstance(w http.ResponseWriter, r *http.Request, del func(string) error) {
	p := readStepParams(r)
	if p.InstanceID == "" {
		respondError(w, http.StatusBadRequest, "instanceId is required")
		return
	}
	if err := del(p.InstanceID); err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "unknown instance")
			return
		}
		respondError(w, http.StatusInternalServerError, "could not delete instance")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetActionInstance returns an instance for the configure dialog.
// GET /eloqua/action/instance/{instanceId}
func (h *Handlers) GetActionInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.loadActionInstance(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

type actionInstanceUpdate struct {
	Message        string              `json:"message"`
	FromID         string              `json:"fromId"`
	CustomObjectID string              `json:"customObjectId"`
	FieldMapping   models.FieldMapping `json:"fieldMapping"`
}

// SaveActionInstance stores the configure dialog's settings and clears the
// configuration-required flag on the canvas.
// POST /eloqua/action/instance/{instanceId}
func (h *Handlers) SaveActionInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.loadActionInstance(w, r)
	if !ok {
		return
	}
	var update actionInstanceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if update.Message == "" {
		respondError(w, http.StatusBadRequest, "message template is required")
		return
	}

	inst.Message = update.Message
	inst.FromID = update.FromID
	inst.CustomObjectID = update.CustomObjectID
	inst.FieldMapping = update.FieldMapping
	inst.RequiresConfiguration = false
	if err := h.store.SaveActionInstance(inst); err != nil {
		respondError(w, http.StatusInternalServerError, "could not save instance")
		return
	}
	h.pushStepDescription(r, inst.InstallID, "actions", inst.InstanceID, actionRecordDefinition(), false)
	respondJSON(w, http.StatusOK, inst)
}

func (h *Handlers) loadActionInstance(w http.ResponseWriter, r *http.Request) (*models.ActionInstance, bool) {
	installID, ok := h.sessionInstall(w, r)
	if !ok {
		return nil, false
	}
	inst, err := h.store.ActionInstance(instanceIDVar(r))
	if err != nil || inst.InstallID != installID {
		respondError(w, http.StatusNotFound, "unknown instance")
		return nil, false
	}
	return inst, true
}

// Decision steps --------------------------------------------------------------

// DecisionCreate registers a new reply-evaluation step.
// POST /eloqua/decision/create
func (h *Handlers) DecisionCreate(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	if p.InstallID == "" || p.InstanceID == "" {
		respondError(w, http.StatusBadRequest, "installId and instanceId are required")
		return
	}
	inst, err := h.store.CreateDecisionInstance(p.InstallID, p.SiteID, p.InstanceID)
	if err != nil {
		log.Error().Err(err).Str("instanceID", p.InstanceID).Msg("Failed to create decision instance")
		respondError(w, http.StatusInternalServerError, "could not create instance")
		return
	}
	h.pushStepDescription(r, p.InstallID, "decisions", inst.InstanceID, decisionRecordDefinition(), true)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":                    inst.InstanceID,
		"requiresConfiguration": true,
	})
}

// DecisionNotify attaches evaluation deadlines for the batch and emits the
// verdicts that are already decidable. POST /eloqua/decision/notify
func (h *Handlers) DecisionNotify(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	if p.InstallID == "" || p.InstanceID == "" || p.ExecutionID == "" {
		respondError(w, http.StatusBadRequest, "installId, instanceId and executionId are required")
		return
	}

	inst, err := h.store.DecisionInstance(p.InstanceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown instance")
		return
	}
	if inst.RequiresConfiguration {
		respondError(w, http.StatusBadRequest, "instance is not configured")
		return
	}

	contacts, err := decodeNotify(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid notify payload")
		return
	}

	h.evaluator.HandleDecisionNotify(r.Context(), inst, p.ExecutionID, contacts)
	w.WriteHeader(http.StatusNoContent)
}

// DecisionCopy duplicates a decision instance. POST /eloqua/decision/copy
func (h *Handlers) DecisionCopy(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	dup, err := h.store.CopyDecisionInstance(p.InstanceID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "unknown instance")
			return
		}
		respondError(w, http.StatusInternalServerError, "could not copy instance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":                    dup.InstanceID,
		"requiresConfiguration": true,
	})
}

// DecisionDelete removes a decision instance. POST /eloqua/decision/delete
func (h *Handlers) DecisionDelete(w http.ResponseWriter, r *http.Request) {
	h.deleteInstance(w, r, h.store.DeleteDecisionInstance)
}

// GetDecisionInstance returns a decision instance for the configure dialog.
// GET /eloqua/decision/instance/{instanceId}
func (h *Handlers) GetDecisionInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.loadDecisionInstance(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

type decisionInstanceUpdate struct {
	EvaluationWindowHours int                 `json:"evaluationWindowHours"`
	MatchMode             string              `json:"matchMode"`
	Keywords              string              `json:"keywords"`
	CustomObjectID        string              `json:"customObjectId"`
	FieldMapping          models.FieldMapping `json:"fieldMapping"`
}

// SaveDecisionInstance stores the configure dialog's settings.
// POST /eloqua/decision/instance/{instanceId}
func (h *Handlers) SaveDecisionInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.loadDecisionInstance(w, r)
	if !ok {
		return
	}
	var update decisionInstanceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if update.EvaluationWindowHours != -1 && (update.EvaluationWindowHours < 1 || update.EvaluationWindowHours > 168) {
		respondError(w, http.StatusBadRequest, "evaluation window must be 1..168 hours or -1")
		return
	}
	if update.MatchMode != models.MatchAnything && update.MatchMode != models.MatchKeyword {
		respondError(w, http.StatusBadRequest, "match mode must be Anything or Keyword")
		return
	}

	inst.EvaluationWindowHours = update.EvaluationWindowHours
	inst.MatchMode = update.MatchMode
	inst.Keywords = update.Keywords
	inst.CustomObjectID = update.CustomObjectID
	inst.FieldMapping = update.FieldMapping
	inst.RequiresConfiguration = false
	if err := h.store.SaveDecisionInstance(inst); err != nil {
		respondError(w, http.StatusInternalServerError, "could not save instance")
		return
	}
	h.pushStepDescription(r, inst.InstallID, "decisions", inst.InstanceID, decisionRecordDefinition(), false)
	respondJSON(w, http.StatusOK, inst)
}

func (h *Handlers) loadDecisionInstance(w http.ResponseWriter, r *http.Request) (*models.DecisionInstance, bool) {
	installID, ok := h.sessionInstall(w, r)
	if !ok {
		return nil, false
	}
	inst, err := h.store.DecisionInstance(instanceIDVar(r))
	if err != nil || inst.InstallID != installID {
		respondError(w, http.StatusNotFound, "unknown instance")
		return nil, false
	}
	return inst, true
}

// Feeder steps ----------------------------------------------------------------

// FeederCreate registers a new contact feeder. POST /eloqua/feeder/create
func (h *Handlers) FeederCreate(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	if p.InstallID == "" || p.InstanceID == "" {
		respondError(w, http.StatusBadRequest, "installId and instanceId are required")
		return
	}
	inst, err := h.store.CreateFeederInstance(p.InstallID, p.SiteID, p.InstanceID)
	if err != nil {
		log.Error().Err(err).Str("instanceID", p.InstanceID).Msg("Failed to create feeder instance")
		respondError(w, http.StatusInternalServerError, "could not create instance")
		return
	}
	h.pushStepDescription(r, p.InstallID, "feeders", inst.InstanceID, feederRecordDefinition(), true)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":                    inst.InstanceID,
		"requiresConfiguration": true,
	})
}

// FeederCopy duplicates a feeder instance. POST /eloqua/feeder/copy
func (h *Handlers) FeederCopy(w http.ResponseWriter, r *http.Request) {
	p := readStepParams(r)
	dup, err := h.store.CopyFeederInstance(p.InstanceID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "unknown instance")
			return
		}
		respondError(w, http.StatusInternalServerError, "could not copy instance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":                    dup.InstanceID,
		"requiresConfiguration": true,
	})
}

// FeederDelete removes a feeder instance. POST /eloqua/feeder/delete
func (h *Handlers) FeederDelete(w http.ResponseWriter, r *http.Request) {
	h.deleteInstance(w, r, h.store.DeleteFeederInstance)
}

// GetFeederInstance returns a feeder instance for the configure dialog.
// GET /eloqua/feeder/instance/{instanceId}
func (h *Handlers) GetFeederInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.loadFeederInstance(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

type feederInstanceUpdate struct {
	SenderIDs      string              `json:"senderIds"`
	Keyword        string              `json:"keyword"`
	Source         string              `json:"source"`
	CustomObjectID string              `json:"customObjectId"`
	FieldMapping   models.FieldMapping `json:"fieldMapping"`
}

// SaveFeederInstance stores the configure dialog's settings.
// POST /eloqua/feeder/instance/{instanceId}
func (h *Handlers) SaveFeederInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.loadFeederInstance(w, r)
	if !ok {
		return
	}
	var update feederInstanceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if update.Source != "inbound" && update.Source != "linkhit" {
		respondError(w, http.StatusBadRequest, "source must be inbound or linkhit")
		return
	}

	inst.SenderIDs = update.SenderIDs
	inst.Keyword = update.Keyword
	inst.Source = update.Source
	inst.CustomObjectID = update.CustomObjectID
	inst.FieldMapping = update.FieldMapping
	inst.RequiresConfiguration = false
	if err := h.store.SaveFeederInstance(inst); err != nil {
		respondError(w, http.StatusInternalServerError, "could not save instance")
		return
	}
	h.pushStepDescription(r, inst.InstallID, "feeders", inst.InstanceID, feederRecordDefinition(), false)
	respondJSON(w, http.StatusOK, inst)
}

func (h *Handlers) loadFeederInstance(w http.ResponseWriter, r *http.Request) (*models.FeederInstance, bool) {
	installID, ok := h.sessionInstall(w, r)
	if !ok {
		return nil, false
	}
	inst, err := h.store.FeederInstance(instanceIDVar(r))
	if err != nil || inst.InstallID != installID {
		respondError(w, http.StatusNotFound, "unknown instance")
		return nil, false
	}
	return inst, true
}
