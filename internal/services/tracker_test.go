package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eloqua-sms-bridge/internal/adapters/eloqua"
)

func trackerKey() ExecutionKey {
	return ExecutionKey{InstallID: "inst-1", InstanceID: "step-1", ExecutionID: "exec-1"}
}

func TestTrackerAccumulatesResults(t *testing.T) {
	tr := NewTracker()
	key := trackerKey()

	tr.AddComplete(key, eloqua.CompletedContact{ContactID: "1"})
	tr.AddComplete(key, eloqua.CompletedContact{ContactID: "2"})
	tr.AddErrored(key, eloqua.ErroredContact{ContactID: "3", Error: "boom"})

	assert.Equal(t, 1, tr.PendingCount())
	assert.Equal(t, []ExecutionKey{key}, tr.Keys())

	var got ExecutionResult
	err := tr.Flush(key, func(res ExecutionResult) error {
		got = res
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got.Complete, 2)
	assert.Len(t, got.Errored, 1)
	assert.Equal(t, 0, tr.PendingCount())
}

func TestTrackerRetainsOnNotifyFailure(t *testing.T) {
	tr := NewTracker()
	key := trackerKey()
	tr.AddComplete(key, eloqua.CompletedContact{ContactID: "1"})

	err := tr.Flush(key, func(ExecutionResult) error {
		return fmt.Errorf("platform unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, tr.PendingCount(), "failed notification keeps the batch")

	calls := 0
	err = tr.Flush(key, func(res ExecutionResult) error {
		calls++
		assert.Len(t, res.Complete, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, tr.PendingCount())
}

func TestTrackerNotifiesAtMostOnce(t *testing.T) {
	tr := NewTracker()
	key := trackerKey()
	tr.AddComplete(key, eloqua.CompletedContact{ContactID: "1"})

	calls := 0
	send := func(ExecutionResult) error { calls++; return nil }
	require.NoError(t, tr.Flush(key, send))
	require.NoError(t, tr.Flush(key, send))
	assert.Equal(t, 1, calls)

	// Late results against a notified execution are dropped.
	tr.AddComplete(key, eloqua.CompletedContact{ContactID: "2"})
	assert.Equal(t, 0, tr.PendingCount())
}

func TestTrackerFlushUnknownKey(t *testing.T) {
	tr := NewTracker()
	err := tr.Flush(trackerKey(), func(ExecutionResult) error {
		t.Fatal("notifier must not run for an unknown execution")
		return nil
	})
	assert.NoError(t, err)
}
