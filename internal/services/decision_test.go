package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/auth"
	"eloqua-sms-bridge/internal/events"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// newTestEnv builds a store-backed evaluator. The platform client has no
// usable grant, so verdict delivery fails fast and is logged; the tests
// observe the store, which is the source of truth.
func newTestEnv(t *testing.T) (*config.Config, *store.Store, *Evaluator) {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		BaseURL:            "https://bridge.example.com",
		EloquaClientID:     "client-id",
		EloquaClientSecret: "client-secret",
		EloquaTokenURL:     "http://127.0.0.1:0/token",
		EloquaLoginBase:    "http://127.0.0.1:0",
		SweepInterval:      2 * time.Minute,
		SweepBatch:         30,
		JobMaxRetries:      3,
		JobRetryCooloff:    5 * time.Minute,
	}
	platform := eloqua.NewClient(auth.NewManager(cfg, st))
	evaluator := NewEvaluator(cfg, st, platform, events.NewPublisherFromEnv())
	return cfg, st, evaluator
}

func newDecisionInstance(t *testing.T, st *store.Store, windowHours int, mode, keywords string) *models.DecisionInstance {
	t.Helper()
	inst, err := st.CreateDecisionInstance("install-1", "site-1", uuid.NewString())
	require.NoError(t, err)
	inst.EvaluationWindowHours = windowHours
	inst.MatchMode = mode
	inst.Keywords = keywords
	inst.RequiresConfiguration = false
	require.NoError(t, st.SaveDecisionInstance(inst))
	return inst
}

func newSentLog(t *testing.T, st *store.Store, contactID, mobile string, sentAt time.Time) *models.SmsLog {
	t.Helper()
	l := &models.SmsLog{
		InstallID:  "install-1",
		InstanceID: "action-1",
		ContactID:  contactID,
		Email:      contactID + "@example.com",
		Mobile:     mobile,
		Message:    "hello",
		MessageID:  "msg-" + uuid.NewString(),
		Status:     models.SmsStatusSent,
		SentAt:     &sentAt,
	}
	require.NoError(t, st.CreateSmsLog(l))
	return l
}

func mustAttach(t *testing.T, st *store.Store, logID uint, instanceID, executionID string, deadline time.Time) {
	t.Helper()
	attached, err := st.AttachDecision(logID, instanceID, executionID, deadline)
	require.NoError(t, err)
	require.True(t, attached)
}

func TestDecisionNotifyAttachesDeadline(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchAnything, "")
	sentAt := time.Now().Add(-time.Hour)
	l := newSentLog(t, st, "c-1", "+61400000001", sentAt)

	ev.HandleDecisionNotify(context.Background(), inst, "exec-1", []NotifyContact{
		{ContactID: "c-1", Email: "c-1@example.com"},
	})

	got, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, got.DecisionStatus)
	assert.Equal(t, inst.InstanceID, got.DecisionInstanceID)
	assert.Equal(t, "exec-1", got.DecisionExecutionID)
	require.NotNil(t, got.DecisionDeadline)
	assert.WithinDuration(t, sentAt.Add(24*time.Hour), *got.DecisionDeadline, time.Second)
}

func TestDecisionNotifySendOutsideWindowIsIgnored(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchAnything, "")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-30*time.Hour))

	ev.HandleDecisionNotify(context.Background(), inst, "exec-1", []NotifyContact{
		{ContactID: "c-1", Email: "c-1@example.com"},
	})

	got, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Empty(t, got.DecisionStatus, "a send older than the window never becomes pending")
}

func TestDecisionNotifyEvaluatesExistingResponse(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchKeyword, "yes")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-time.Hour))

	reply := &models.SmsReply{InstallID: "install-1", FromMobile: l.Mobile, Message: "YES please", ReceivedAt: time.Now()}
	require.NoError(t, st.CreateReply(reply))
	require.NoError(t, st.SetResponse(l.ID, reply.ID, "YES please", time.Now()))

	ev.HandleDecisionNotify(context.Background(), inst, "exec-1", []NotifyContact{
		{ContactID: "c-1", Email: "c-1@example.com"},
	})

	got, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionYes, got.DecisionStatus)
	assert.NotNil(t, got.DecisionProcessedAt)
}

func TestDecisionNotifyRedeliveryKeepsVerdict(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchKeyword, "yes")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-time.Hour))

	reply := &models.SmsReply{InstallID: "install-1", FromMobile: l.Mobile, Message: "yes", ReceivedAt: time.Now()}
	require.NoError(t, st.CreateReply(reply))
	require.NoError(t, st.SetResponse(l.ID, reply.ID, "yes", time.Now()))

	batch := []NotifyContact{{ContactID: "c-1", Email: "c-1@example.com"}}
	ev.HandleDecisionNotify(context.Background(), inst, "exec-1", batch)

	first, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	require.Equal(t, models.DecisionYes, first.DecisionStatus)
	require.NotNil(t, first.DecisionProcessedAt)

	time.Sleep(10 * time.Millisecond)
	ev.HandleDecisionNotify(context.Background(), inst, "exec-1", batch)

	second, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionYes, second.DecisionStatus)
	assert.Equal(t, *first.DecisionProcessedAt, *second.DecisionProcessedAt,
		"a redelivered batch does not re-open or re-process the log")
}

func TestDecisionNotifyKeywordMismatchDecidesNo(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchKeyword, "yes,ok")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-time.Hour))

	reply := &models.SmsReply{InstallID: "install-1", FromMobile: l.Mobile, Message: "no thanks", ReceivedAt: time.Now()}
	require.NoError(t, st.CreateReply(reply))
	require.NoError(t, st.SetResponse(l.ID, reply.ID, "no thanks", time.Now()))

	ev.HandleDecisionNotify(context.Background(), inst, "exec-1", []NotifyContact{
		{ContactID: "c-1", Email: "c-1@example.com"},
	})

	got, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionNo, got.DecisionStatus)
}

func TestEvaluateInboundWithinDeadline(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchAnything, "")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-time.Hour))
	mustAttach(t, st, l.ID, inst.InstanceID, "exec-1", time.Now().Add(23*time.Hour))

	pending, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)

	transitioned, err := ev.EvaluateInbound(context.Background(), pending, "sounds good", time.Now())
	require.NoError(t, err)
	assert.True(t, transitioned)

	got, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionYes, got.DecisionStatus)
}

func TestEvaluateInboundAfterDeadlineDecidesNo(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchAnything, "")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-25*time.Hour))
	mustAttach(t, st, l.ID, inst.InstanceID, "exec-1", time.Now().Add(-time.Hour))

	pending, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)

	transitioned, err := ev.EvaluateInbound(context.Background(), pending, "sounds good", time.Now())
	require.NoError(t, err)
	assert.True(t, transitioned)

	got, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionNo, got.DecisionStatus, "a late reply can never decide yes")
}

func TestEvaluateInboundReplayIsNoop(t *testing.T) {
	_, st, ev := newTestEnv(t)
	inst := newDecisionInstance(t, st, 24, models.MatchAnything, "")
	l := newSentLog(t, st, "c-1", "+61400000001", time.Now().Add(-time.Hour))
	mustAttach(t, st, l.ID, inst.InstanceID, "exec-1", time.Now().Add(23*time.Hour))

	pending, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)

	transitioned, err := ev.EvaluateInbound(context.Background(), pending, "yes", time.Now())
	require.NoError(t, err)
	require.True(t, transitioned)

	again, err := st.LogByMessageID(l.MessageID)
	require.NoError(t, err)
	transitioned, err = ev.EvaluateInbound(context.Background(), again, "yes", time.Now())
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 250))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long), maxResponseLength), 250)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "héllo" is 6 bytes; a 5-byte cap lands mid-rune without the boundary walk.
	got := truncate("héllo", 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "héll", got)

	multi := strings.Repeat("ü", 200) // 400 bytes
	got = truncate(multi, 251)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 250)
}
