package eloqua

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/internal/auth"
)

// Client is a thin wrapper over the Eloqua REST and Bulk APIs. Every call is
// made through a client bound by the token manager; a 401 is retried exactly
// once after a forced refresh, and a second 401 surfaces ReauthRequiredError.
type Client struct {
	tokens *auth.Manager
}

// NewClient creates the platform client.
func NewClient(tokens *auth.Manager) *Client {
	return &Client{tokens: tokens}
}

// do runs one request through a bound client with the single 401 retry.
func (c *Client) do(ctx context.Context, installID string, fn func(rc *resty.Client) (*resty.Response, error)) (*resty.Response, error) {
	rc, err := c.tokens.BindClient(ctx, installID)
	if err != nil {
		return nil, err
	}

	resp, err := fn(rc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	log.Info().Str("installID", installID).Msg("Eloqua returned 401, forcing token refresh and retrying once")
	creds, err := c.tokens.RefreshTenant(ctx, installID)
	if err != nil {
		return nil, err
	}
	rc.SetAuthToken(creds.OauthToken)

	resp, err = fn(rc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, &auth.ReauthRequiredError{InstallID: installID, ReauthURL: c.tokens.ReauthURL(installID)}
	}
	return resp, nil
}

func apiError(op string, resp *resty.Response) error {
	return fmt.Errorf("eloqua %s error: status %s, body: %s", op, resp.Status(), resp.String())
}

// GetCustomObjects lists the custom-object catalog.
func (c *Client) GetCustomObjects(ctx context.Context, installID string) (*CustomObjectList, error) {
	var list CustomObjectList
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetQueryParam("depth", "minimal").
			SetResult(&list).
			Get("/api/REST/2.0/assets/customObjects")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("GetCustomObjects", resp)
	}
	return &list, nil
}

// GetCustomObject fetches one custom object with its fields.
func (c *Client) GetCustomObject(ctx context.Context, installID, objectID string) (*CustomObject, error) {
	var obj CustomObject
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetQueryParam("depth", "complete").
			SetResult(&obj).
			Get("/api/REST/2.0/assets/customObject/" + objectID)
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("GetCustomObject", resp)
	}
	return &obj, nil
}

// CreateCustomObjectRecord writes one data row into a custom object.
func (c *Client) CreateCustomObjectRecord(ctx context.Context, installID, objectID string, record CustomObjectRecord) (*CustomObjectRecord, error) {
	var created CustomObjectRecord
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetBody(record).
			SetResult(&created).
			Post(fmt.Sprintf("/api/REST/2.0/data/customObject/%s/instance", objectID))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("CreateCustomObjectRecord", resp)
	}
	log.Debug().Str("installID", installID).Str("objectID", objectID).Str("recordID", created.ID).
		Msg("Created custom object record")
	return &created, nil
}

// GetContactFields lists the contact field catalog.
func (c *Client) GetContactFields(ctx context.Context, installID string) (*ContactFieldList, error) {
	var list ContactFieldList
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetResult(&list).
			Get("/api/REST/1.0/assets/contact/fields")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("GetContactFields", resp)
	}
	return &list, nil
}

// GetContact fetches one contact.
func (c *Client) GetContact(ctx context.Context, installID, contactID string) (*Contact, error) {
	var contact Contact
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetQueryParam("depth", "complete").
			SetResult(&contact).
			Get("/api/REST/1.0/data/contact/" + contactID)
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("GetContact", resp)
	}
	return &contact, nil
}

// UpdateContact writes contact field values back to the platform.
func (c *Client) UpdateContact(ctx context.Context, installID string, contact *Contact) error {
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetBody(contact).
			Put("/api/REST/1.0/data/contact/" + contact.ID)
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError("UpdateContact", resp)
	}
	return nil
}

// GetCampaigns lists campaigns.
func (c *Client) GetCampaigns(ctx context.Context, installID string) (*CampaignList, error) {
	var list CampaignList
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetQueryParam("depth", "minimal").
			SetResult(&list).
			Get("/api/REST/2.0/assets/campaigns")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("GetCampaigns", resp)
	}
	return &list, nil
}

// GetCampaign fetches one campaign.
func (c *Client) GetCampaign(ctx context.Context, installID, campaignID string) (*Campaign, error) {
	var campaign Campaign
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetResult(&campaign).
			Get("/api/REST/2.0/assets/campaign/" + campaignID)
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError("GetCampaign", resp)
	}
	return &campaign, nil
}

// UpdateStepDescription PUTs a new record definition to a step instance's
// REST path, clearing or setting requiresConfiguration.
func (c *Client) UpdateStepDescription(ctx context.Context, installID, stepKind, instanceID string, desc StepDescription) error {
	resp, err := c.do(ctx, installID, func(rc *resty.Client) (*resty.Response, error) {
		return rc.R().SetContext(ctx).
			SetBody(desc).
			Put(fmt.Sprintf("/api/cloud/1.0/%s/instances/%s", stepKind, instanceID))
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError("UpdateStepDescription", resp)
	}
	log.Debug().Str("installID", installID).Str("instanceID", instanceID).
		Bool("requiresConfiguration", desc.RequiresConfiguration).
		Msg("Updated step instance description")
	return nil
}
