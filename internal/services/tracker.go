package services

import (
	"sync"

	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/internal/adapters/eloqua"
)

// ExecutionKey identifies one activation of a step instance.
type ExecutionKey struct {
	InstallID   string
	InstanceID  string
	ExecutionID string
}

// ExecutionResult accumulates per-contact outcomes for one execution.
type ExecutionResult struct {
	Complete []eloqua.CompletedContact
	Errored  []eloqua.ErroredContact
}

// Tracker aggregates per-contact results in memory until every job of an
// execution has terminated, then hands the batch to a notifier. An execution
// is notified at most once per process lifetime; a failed notification keeps
// the entry for the next poll cycle.
type Tracker struct {
	mu       sync.Mutex
	pending  map[ExecutionKey]*ExecutionResult
	notified map[ExecutionKey]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending:  make(map[ExecutionKey]*ExecutionResult),
		notified: make(map[ExecutionKey]bool),
	}
}

// AddComplete records one successfully sent contact.
func (t *Tracker) AddComplete(key ExecutionKey, contact eloqua.CompletedContact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notified[key] {
		log.Warn().Str("executionID", key.ExecutionID).Msg("Result added after execution was already notified")
		return
	}
	entry := t.entryLocked(key)
	entry.Complete = append(entry.Complete, contact)
}

// AddErrored records one terminally failed contact.
func (t *Tracker) AddErrored(key ExecutionKey, contact eloqua.ErroredContact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notified[key] {
		log.Warn().Str("executionID", key.ExecutionID).Msg("Result added after execution was already notified")
		return
	}
	entry := t.entryLocked(key)
	entry.Errored = append(entry.Errored, contact)
}

func (t *Tracker) entryLocked(key ExecutionKey) *ExecutionResult {
	entry, ok := t.pending[key]
	if !ok {
		entry = &ExecutionResult{}
		t.pending[key] = entry
	}
	return entry
}

// Keys returns the executions with accumulated results.
func (t *Tracker) Keys() []ExecutionKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]ExecutionKey, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	return keys
}

// Flush sends the accumulated batch for one execution through the notifier.
// On success the entry is discarded and the key marked notified; on failure
// the entry is retained untouched. Already-notified keys are a no-op.
func (t *Tracker) Flush(key ExecutionKey, send func(ExecutionResult) error) error {
	t.mu.Lock()
	if t.notified[key] {
		t.mu.Unlock()
		return nil
	}
	entry, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	snapshot := ExecutionResult{
		Complete: append([]eloqua.CompletedContact(nil), entry.Complete...),
		Errored:  append([]eloqua.ErroredContact(nil), entry.Errored...),
	}
	t.mu.Unlock()

	if err := send(snapshot); err != nil {
		log.Warn().Err(err).Str("executionID", key.ExecutionID).
			Msg("Execution completion notification failed, retaining for next cycle")
		return err
	}

	t.mu.Lock()
	t.notified[key] = true
	delete(t.pending, key)
	t.mu.Unlock()
	return nil
}

// PendingCount reports how many executions await notification.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
