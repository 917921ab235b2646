// Package outbox defers network side effects (search-index calls) until the
// enclosing unit of work commits. Effects are discarded on rollback.
package outbox

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Effect is a network side effect queued for execution after commit.
type Effect func(ctx context.Context) error

type entry struct {
	entityKey string
	run       Effect
}

// Queue collects effects during a unit of work. Effects for the same entity
// run in insertion order; no ordering is guaranteed across entities, and
// duplicates are not collapsed (receivers are idempotent).
type Queue struct {
	mu      sync.Mutex
	entries []entry
	flushed bool
	logger  *zap.Logger
}

// NewQueue builds an empty effect queue.
func NewQueue(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{logger: logger}
}

// Schedule appends an effect for the given entity.
func (q *Queue) Schedule(entityKey string, fn Effect) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry{entityKey: entityKey, run: fn})
}

// Scheduled reports whether any effect has been queued for the entity. Used
// to suppress the metadata-edit re-index when a transition in the same unit
// of work already scheduled one.
func (q *Queue) Scheduled(entityKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.entityKey == entityKey {
			return true
		}
	}
	return false
}

// Len returns the number of queued effects.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush runs every queued effect. Failures are logged and do not stop the
// remaining effects: the transaction has already committed, so the state
// change must not be reported as failed because an index call bounced.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushed {
		q.mu.Unlock()
		return
	}
	q.flushed = true
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range entries {
		if err := e.run(ctx); err != nil {
			q.logger.Warn("deferred effect failed",
				zap.String("entity", e.entityKey),
				zap.Error(err),
			)
		}
	}
}

// Discard drops all queued effects. Called on rollback.
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
