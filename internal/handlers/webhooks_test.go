package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postForm(t *testing.T, e *routerEnv, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(r)
}

func TestReplyWebhookArchivesInbound(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")

	w := postForm(t, e, "/webhooks/reply?installId=install-1", url.Values{
		"mobile":           {"+61400000001"},
		"longcode":         {"61444001122"},
		"response":         {"YES please"},
		"message_id":       {"m-unknown"},
		"datetime_entered": {"2026-08-29 10:15:00"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	replies, err := e.store.UnprocessedReplies("install-1", 10)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "+61400000001", replies[0].FromMobile)
	assert.Equal(t, "61444001122", replies[0].ToMobile)
	assert.Equal(t, "YES please", replies[0].Message)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC), replies[0].ReceivedAt.UTC())
}

func TestReplyWebhookAcceptsMessageField(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")

	w := postForm(t, e, "/webhooks/reply?installId=install-1", url.Values{
		"mobile":  {"+61400000001"},
		"message": {"stop"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	replies, err := e.store.UnprocessedReplies("install-1", 10)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "stop", replies[0].Message)
}

func TestReplyWebhookRequiresInstallAndMobile(t *testing.T) {
	e := newRouterEnv(t)

	w := postForm(t, e, "/webhooks/reply", url.Values{"mobile": {"+61400000001"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postForm(t, e, "/webhooks/reply?installId=install-1", url.Values{"response": {"yes"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDLRWebhookRequiresMessageID(t *testing.T) {
	e := newRouterEnv(t)
	w := postForm(t, e, "/webhooks/dlr?installId=install-1", url.Values{"status": {"delivered"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDLRWebhookSwallowsUnknownMessage(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")

	w := postForm(t, e, "/webhooks/dlr?installId=install-1", url.Values{
		"message_id": {"m-unknown"},
		"status":     {"delivered"},
	})
	assert.Equal(t, http.StatusOK, w.Code, "receipts for pruned logs are acknowledged")
}

func TestLinkHitWebhookArchivesClick(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")

	w := postForm(t, e, "/webhooks/linkhit?installId=install-1", url.Values{
		"mobile":   {"+61400000001"},
		"shorturl": {"https://sms.gw/abc"},
		"longurl":  {"https://example.com/offer"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	hits, err := e.store.UnprocessedLinkHits("install-1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://example.com/offer", hits[0].OriginalURL)
}

func TestGatewayTime(t *testing.T) {
	parsed := gatewayTime("2026-08-29 10:15:00")
	assert.Equal(t, time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC), parsed.UTC())

	parsed = gatewayTime("2026-08-29T10:15:00Z")
	assert.Equal(t, time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC), parsed.UTC())

	assert.WithinDuration(t, time.Now(), gatewayTime(""), time.Second)
	assert.WithinDuration(t, time.Now(), gatewayTime("yesterday"), time.Second)
}
