package eloqua

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Verdict values delivered through the decision sync action.
const (
	VerdictYes = "yes"
	VerdictNo  = "no"
)

// CreateImport declares a contact-import definition.
func (c *Client) CreateImport(ctx context.Context, installID string, def ImportDefinition) (*ImportDefinition, error) {
	var created ImportDefinition
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetBody(def).
			SetResult(&created).
			Post("/api/bulk/2.0/contacts/imports")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("CreateImport", resp)
	}
	if created.URI == "" {
		return nil, fmt.Errorf("eloqua CreateImport returned no uri")
	}
	return &created, nil
}

// UploadImportData posts rows into a declared import.
func (c *Client) UploadImportData(ctx context.Context, installID, importURI string, rows []map[string]string) error {
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetBody(rows).
			Post("/api/bulk/2.0" + importURI + "/data")
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError("UploadImportData", resp)
	}
	return nil
}

// TriggerSync starts the sync for an uploaded import.
func (c *Client) TriggerSync(ctx context.Context, installID, importURI string) (*Sync, error) {
	var sync Sync
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetBody(Sync{SyncedInstanceURI: importURI}).
			SetResult(&sync).
			Post("/api/bulk/2.0/syncs")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("TriggerSync", resp)
	}
	return &sync, nil
}

// runImport is the declare/upload/trigger sequence shared by every sync path.
func (c *Client) runImport(ctx context.Context, installID string, def ImportDefinition, rows []map[string]string) error {
	created, err := c.CreateImport(ctx, installID, def)
	if err != nil {
		return err
	}
	if err := c.UploadImportData(ctx, installID, created.URI, rows); err != nil {
		return err
	}
	if _, err := c.TriggerSync(ctx, installID, created.URI); err != nil {
		return err
	}
	return nil
}

// DecisionContact identifies one contact for a decision verdict sync.
type DecisionContact struct {
	ContactID string
	Email     string
}

// stripDashes converts an instance id to the dashless form Eloqua expects in
// sync-action destinations.
func stripDashes(instanceID string) string {
	return strings.ReplaceAll(instanceID, "-", "")
}

// SyncDecision delivers a yes/no verdict for a batch of contacts into a
// decision instance. The import name carries the instance, verdict and an
// epoch-ms suffix for uniqueness.
func (c *Client) SyncDecision(ctx context.Context, installID, instanceID, verdict string, contacts []DecisionContact) error {
	if len(contacts) == 0 {
		return nil
	}
	noDashes := stripDashes(instanceID)

	def := ImportDefinition{
		Name: fmt.Sprintf("SMS_Decision_%s_%s_%d", noDashes, verdict, time.Now().UnixMilli()),
		Fields: map[string]string{
			"ContactID":    "{{Contact.Id}}",
			"EmailAddress": "{{Contact.Field(C_EmailAddress)}}",
		},
		IdentifierFieldName:     "EmailAddress",
		IsSyncTriggeredOnImport: false,
		DataRetentionDuration:   "P7D",
		SyncActions: []SyncAction{{
			Destination: fmt.Sprintf("{{DecisionInstance(%s)}}", noDashes),
			Action:      "setDecision",
			Value:       verdict,
		}},
	}

	rows := make([]map[string]string, 0, len(contacts))
	for _, ct := range contacts {
		rows = append(rows, map[string]string{
			"ContactID":    ct.ContactID,
			"EmailAddress": ct.Email,
		})
	}

	if err := c.runImport(ctx, installID, def, rows); err != nil {
		return fmt.Errorf("decision sync for instance %s failed: %w", instanceID, err)
	}
	log.Info().Str("installID", installID).Str("instanceID", instanceID).
		Str("verdict", verdict).Int("contacts", len(contacts)).
		Msg("Decision verdict synced to Eloqua")
	return nil
}

// CompleteExecution reports an action execution's results back to the
// platform: one import marking the succeeded contacts complete, one marking
// the failures errored. Eloqua's own idempotency on the execution id absorbs
// redelivery.
func (c *Client) CompleteExecution(ctx context.Context, installID, instanceID, executionID string, complete []CompletedContact, errored []ErroredContact) error {
	noDashes := stripDashes(instanceID)

	// The import can only declare columns that map to contact field
	// statements. Message text, gateway ids and errors travel through the
	// custom-object record written per job instead.
	fields := map[string]string{
		"ContactID":    "{{Contact.Id}}",
		"EmailAddress": "{{Contact.Field(C_EmailAddress)}}",
		"MobilePhone":  "{{Contact.Field(C_MobilePhone)}}",
	}

	if len(complete) > 0 {
		def := ImportDefinition{
			Name:                    fmt.Sprintf("SMS_Action_%s_complete_%d", noDashes, time.Now().UnixMilli()),
			Fields:                  fields,
			IdentifierFieldName:     "EmailAddress",
			IsSyncTriggeredOnImport: false,
			DataRetentionDuration:   "P7D",
			SyncActions: []SyncAction{{
				Destination: fmt.Sprintf("{{ActionInstance(%s).Execution[%s]}}", noDashes, executionID),
				Action:      "setStatus",
				Status:      "complete",
			}},
		}
		rows := make([]map[string]string, 0, len(complete))
		for _, ct := range complete {
			rows = append(rows, map[string]string{
				"ContactID":    ct.ContactID,
				"EmailAddress": ct.Email,
				"MobilePhone":  ct.Mobile,
			})
		}
		if err := c.runImport(ctx, installID, def, rows); err != nil {
			return fmt.Errorf("completion sync for execution %s failed: %w", executionID, err)
		}
	}

	if len(errored) > 0 {
		def := ImportDefinition{
			Name:                    fmt.Sprintf("SMS_Action_%s_errored_%d", noDashes, time.Now().UnixMilli()),
			Fields:                  fields,
			IdentifierFieldName:     "EmailAddress",
			IsSyncTriggeredOnImport: false,
			DataRetentionDuration:   "P7D",
			SyncActions: []SyncAction{{
				Destination: fmt.Sprintf("{{ActionInstance(%s).Execution[%s]}}", noDashes, executionID),
				Action:      "setStatus",
				Status:      "errored",
			}},
		}
		rows := make([]map[string]string, 0, len(errored))
		for _, ct := range errored {
			rows = append(rows, map[string]string{
				"ContactID":    ct.ContactID,
				"EmailAddress": ct.Email,
				"MobilePhone":  ct.Mobile,
			})
		}
		if err := c.runImport(ctx, installID, def, rows); err != nil {
			return fmt.Errorf("errored sync for execution %s failed: %w", executionID, err)
		}
	}

	log.Info().Str("installID", installID).Str("instanceID", instanceID).
		Str("executionID", executionID).
		Int("complete", len(complete)).Int("errored", len(errored)).
		Msg("Execution completion reported to Eloqua")
	return nil
}

// FeedContacts injects contacts into a feeder instance through a bulk import.
func (c *Client) FeedContacts(ctx context.Context, installID, instanceID string, rows []map[string]string) error {
	if len(rows) == 0 {
		return nil
	}
	noDashes := stripDashes(instanceID)
	def := ImportDefinition{
		Name: fmt.Sprintf("SMS_Feeder_%s_%d", noDashes, time.Now().UnixMilli()),
		Fields: map[string]string{
			"EmailAddress": "{{Contact.Field(C_EmailAddress)}}",
			"MobilePhone":  "{{Contact.Field(C_MobilePhone)}}",
		},
		IdentifierFieldName:     "MobilePhone",
		IsSyncTriggeredOnImport: false,
		DataRetentionDuration:   "P7D",
		SyncActions: []SyncAction{{
			Destination: fmt.Sprintf("{{FeederInstance(%s)}}", noDashes),
			Action:      "setStatus",
			Status:      "complete",
		}},
	}
	if err := c.runImport(ctx, installID, def, rows); err != nil {
		return fmt.Errorf("feeder sync for instance %s failed: %w", instanceID, err)
	}
	log.Info().Str("installID", installID).Str("instanceID", instanceID).
		Int("contacts", len(rows)).Msg("Feeder contacts synced to Eloqua")
	return nil
}
