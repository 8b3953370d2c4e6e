package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eloqua-sms-bridge/internal/models"
)

const notifyBody = `{
	"count": 2,
	"items": [
		{"ContactId": "c-1", "EmailAddress": "c1@example.com", "MobilePhone": "+61400000001", "FirstName": "Ada"},
		{"ContactId": "c-2", "EmailAddress": "c2@example.com", "MobilePhone": "+61400000002", "FirstName": "Grace"}
	]
}`

func configureAction(t *testing.T, e *routerEnv, instanceID string) *models.ActionInstance {
	t.Helper()
	inst, err := e.store.ActionInstance(instanceID)
	require.NoError(t, err)
	inst.Message = "Hi [FirstName], your code is ready"
	inst.FromID = "61400999999"
	inst.RequiresConfiguration = false
	require.NoError(t, e.store.SaveActionInstance(inst))
	return inst
}

func TestActionCreateRegistersInstance(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")

	w := e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"step-1"`)
	assert.Contains(t, w.Body.String(), `"requiresConfiguration":true`)

	inst, err := e.store.ActionInstance("step-1")
	require.NoError(t, err)
	assert.True(t, inst.RequiresConfiguration)
}

func TestActionCreateRequiresIdentifiers(t *testing.T) {
	e := newRouterEnv(t)
	w := e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActionNotifyQueuesJobs(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))
	configureAction(t, e, "step-1")

	url := "/eloqua/action/notify?installId=install-1&instanceId=step-1&executionId=exec-1&assetId=campaign-7"
	w := e.do(httptest.NewRequest("POST", url, strings.NewReader(notifyBody)))
	require.Equal(t, http.StatusNoContent, w.Code)

	jobs, err := e.store.JobsForExecution("install-1", "step-1", "exec-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	byContact := map[string]*models.Job{}
	for _, j := range jobs {
		byContact[j.ContactID] = j
	}
	require.Contains(t, byContact, "c-1")
	assert.Equal(t, "Hi Ada, your code is ready", byContact["c-1"].Message)
	assert.Equal(t, "+61400000001", byContact["c-1"].Mobile)
	assert.Equal(t, "campaign-7", byContact["c-1"].CampaignID)
	assert.Equal(t, models.JobStatusPending, byContact["c-1"].Status)
}

func TestActionNotifyRedeliveryIsAcknowledged(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))
	configureAction(t, e, "step-1")

	url := "/eloqua/action/notify?installId=install-1&instanceId=step-1&executionId=exec-1"
	w := e.do(httptest.NewRequest("POST", url, strings.NewReader(notifyBody)))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(httptest.NewRequest("POST", url, strings.NewReader(notifyBody)))
	require.Equal(t, http.StatusNoContent, w.Code)

	jobs, err := e.store.JobsForExecution("install-1", "step-1", "exec-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "redelivered batch queues no extra jobs")
}

func TestActionNotifyUnconfiguredInstance(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))

	url := "/eloqua/action/notify?installId=install-1&instanceId=step-1&executionId=exec-1"
	w := e.do(httptest.NewRequest("POST", url, strings.NewReader(notifyBody)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActionNotifyUnknownInstance(t *testing.T) {
	e := newRouterEnv(t)
	url := "/eloqua/action/notify?installId=install-1&instanceId=ghost&executionId=exec-1"
	w := e.do(httptest.NewRequest("POST", url, strings.NewReader(notifyBody)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActionCopyResetsConfiguration(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))
	configureAction(t, e, "step-1")

	w := e.do(httptest.NewRequest("POST", "/eloqua/action/copy?installId=install-1&instanceId=step-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"requiresConfiguration":true`)
	assert.NotContains(t, w.Body.String(), `"id":"step-1"`)
}

func TestActionDelete(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))

	w := e.do(httptest.NewRequest("DELETE", "/eloqua/action/delete?installId=install-1&instanceId=step-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, err := e.store.ActionInstance("step-1")
	assert.Error(t, err)
}

func TestSaveActionInstance(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))

	body := `{"message":"Sale on now","fromId":"61400999999","customObjectId":"42","fieldMapping":{"mobile":"100"}}`
	r := httptest.NewRequest("POST", "/eloqua/action/instance/step-1", strings.NewReader(body))
	r.AddCookie(e.sessionFor("install-1"))
	w := e.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	inst, err := e.store.ActionInstance("step-1")
	require.NoError(t, err)
	assert.Equal(t, "Sale on now", inst.Message)
	assert.False(t, inst.RequiresConfiguration)
	assert.Equal(t, "100", inst.FieldMapping["mobile"])
}

func TestSaveActionInstanceRequiresMessage(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))

	r := httptest.NewRequest("POST", "/eloqua/action/instance/step-1", strings.NewReader(`{"fromId":"61400999999"}`))
	r.AddCookie(e.sessionFor("install-1"))
	w := e.do(r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetActionInstanceForeignInstall(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	installTenant(t, e, "install-2")
	e.do(httptest.NewRequest("POST", "/eloqua/action/create?installId=install-1&siteId=site-1&instanceId=step-1", nil))

	r := httptest.NewRequest("GET", "/eloqua/action/instance/step-1", nil)
	r.AddCookie(e.sessionFor("install-2"))
	w := e.do(r)
	assert.Equal(t, http.StatusNotFound, w.Code, "instances are scoped to their installation")
}

func TestDecisionNotifyAcknowledgesBatch(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/decision/create?installId=install-1&siteId=site-1&instanceId=dec-1", nil))

	inst, err := e.store.DecisionInstance("dec-1")
	require.NoError(t, err)
	inst.EvaluationWindowHours = 24
	inst.MatchMode = models.MatchAnything
	inst.RequiresConfiguration = false
	require.NoError(t, e.store.SaveDecisionInstance(inst))

	url := "/eloqua/decision/notify?installId=install-1&instanceId=dec-1&executionId=exec-1"
	w := e.do(httptest.NewRequest("POST", url, strings.NewReader(notifyBody)))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSaveDecisionInstanceValidation(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/decision/create?installId=install-1&siteId=site-1&instanceId=dec-1", nil))

	cases := []struct {
		name string
		body string
		want int
	}{
		{"zero window", `{"evaluationWindowHours":0,"matchMode":"Anything"}`, http.StatusBadRequest},
		{"window too long", `{"evaluationWindowHours":200,"matchMode":"Anything"}`, http.StatusBadRequest},
		{"bad match mode", `{"evaluationWindowHours":24,"matchMode":"Fuzzy"}`, http.StatusBadRequest},
		{"campaign lifetime window", `{"evaluationWindowHours":-1,"matchMode":"Anything"}`, http.StatusOK},
		{"keyword mode", `{"evaluationWindowHours":24,"matchMode":"Keyword","keywords":"yes,stop"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/eloqua/decision/instance/dec-1", strings.NewReader(tc.body))
			r.AddCookie(e.sessionFor("install-1"))
			w := e.do(r)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestSaveFeederInstanceValidatesSource(t *testing.T) {
	e := newRouterEnv(t)
	installTenant(t, e, "install-1")
	e.do(httptest.NewRequest("POST", "/eloqua/feeder/create?installId=install-1&siteId=site-1&instanceId=feed-1", nil))

	r := httptest.NewRequest("POST", "/eloqua/feeder/instance/feed-1", strings.NewReader(`{"source":"webhook"}`))
	r.AddCookie(e.sessionFor("install-1"))
	w := e.do(r)
	require.Equal(t, http.StatusBadRequest, w.Code)

	r = httptest.NewRequest("POST", "/eloqua/feeder/instance/feed-1", strings.NewReader(`{"source":"linkhit","keyword":"join"}`))
	r.AddCookie(e.sessionFor("install-1"))
	w = e.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	inst, err := e.store.FeederInstance("feed-1")
	require.NoError(t, err)
	assert.Equal(t, "linkhit", inst.Source)
	assert.False(t, inst.RequiresConfiguration)
}

func TestNotifyItemNormalizesKeys(t *testing.T) {
	contact := notifyItem(map[string]interface{}{
		"ContactId":    "c-1",
		"EmailAddress": "c1@example.com",
		"MobilePhone":  "+61400000001",
		"FirstName":    "Ada",
	})
	assert.Equal(t, "c-1", contact.ContactID)
	assert.Equal(t, "c1@example.com", contact.Email)
	assert.Equal(t, "+61400000001", contact.Mobile)
	assert.Equal(t, "Ada", contact.Fields["FirstName"])
}

func TestRecordPayloadMapsConfiguredFields(t *testing.T) {
	mapping := models.FieldMapping{"mobile": "100", "title": "101"}
	contact := notifyItem(map[string]interface{}{"MobilePhone": "+61400000001"})

	payload := recordPayload(mapping, contact, "hello")
	assert.Equal(t, "+61400000001", payload["100"])
	assert.Equal(t, "hello", payload["101"])

	assert.Nil(t, recordPayload(nil, contact, "hello"))
	assert.Nil(t, recordPayload(models.FieldMapping{"email": "102"}, contact, "hello"))
}
