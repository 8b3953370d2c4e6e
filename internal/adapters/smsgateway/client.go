package smsgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// TransientError marks a gateway failure worth retrying (5xx, 429, network).
type TransientError struct {
	StatusCode int
	Body       string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway transient error: status %d, body: %s", e.StatusCode, e.Body)
}

// Client is a stateless wrapper over the SMS provider's send/status
// endpoints. Tenant credentials are passed per call as HTTP basic auth.
type Client struct {
	httpClient *resty.Client
}

// NewClient creates a gateway client for the given provider base URL.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway baseURL cannot be empty")
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	log.Info().Str("baseURL", baseURL).Msg("SMS gateway client configured")
	return &Client{httpClient: client}, nil
}

// SendSMS dispatches one message. Permanent gateway rejections come back as
// plain errors; 5xx and 429 come back as TransientError so the job retry
// budget applies.
func (c *Client) SendSMS(ctx context.Context, apiKey, apiSecret string, req SendRequest) (*SendResponse, error) {
	form := map[string]string{
		"to":      req.To,
		"message": req.Message,
	}
	if req.From != "" {
		form["from"] = req.From
	}
	if req.Country != "" {
		form["countrycode"] = req.Country
	}
	if req.ReplyCallback != "" {
		form["reply_callback"] = req.ReplyCallback
	}
	if req.DLRCallback != "" {
		form["dlr_callback"] = req.DLRCallback
	}
	if req.LinkHits {
		form["tracked_link_url"] = "true"
	}

	var out SendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBasicAuth(apiKey, apiSecret).
		SetFormData(form).
		SetResult(&out).
		Post("/send-sms.json")
	if err != nil {
		return nil, &TransientError{Body: err.Error()}
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
		return nil, &TransientError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway send rejected: status %s, body: %s", resp.Status(), resp.String())
	}
	if out.Error.Code != "" && out.Error.Code != "SUCCESS" {
		return nil, fmt.Errorf("gateway send rejected: %s %s", out.Error.Code, out.Error.Description)
	}
	if out.MessageID == "" {
		return nil, fmt.Errorf("gateway send response missing message_id")
	}

	log.Debug().Str("to", req.To).Str("messageID", out.MessageID).Msg("SMS dispatched to gateway")
	return &out, nil
}

// MessageStatus queries delivery state for a previously sent message.
func (c *Client) MessageStatus(ctx context.Context, apiKey, apiSecret, messageID string) (*StatusResponse, error) {
	var out StatusResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBasicAuth(apiKey, apiSecret).
		SetQueryParam("message_id", messageID).
		SetResult(&out).
		Get("/get-sms.json")
	if err != nil {
		return nil, &TransientError{Body: err.Error()}
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
		return nil, &TransientError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway status error: status %s, body: %s", resp.Status(), resp.String())
	}
	return &out, nil
}

// IsTransient reports whether the error is a retryable gateway failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
