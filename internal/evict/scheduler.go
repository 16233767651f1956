// Package evict enforces the cache's TTL retention policy: every content key
// carries a countdown that is reset on access and tears the content down
// when it fires.
package evict

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/logctx"
)

// OnExpire tears down the content behind a key: ledger row, daemon torrent,
// and on-disk files. It runs on the timer's goroutine, outside the
// scheduler's lock.
type OnExpire func(ctx context.Context, key content.Key) error

// Scheduler keeps one cancellable timer per content key. It is an owned
// registry handed to both the HTTP layer and the boot re-arm path; never a
// package global, so tests can construct isolated instances.
type Scheduler struct {
	ttl      time.Duration
	onExpire OnExpire
	baseCtx  context.Context

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	key   content.Key
	timer *time.Timer
}

// NewScheduler creates a scheduler that invokes onExpire ttl after the last
// Schedule call for a key. ctx is the process context expiry callbacks run
// under; canceling it stops in-flight teardowns at their next blocking call.
func NewScheduler(ctx context.Context, ttl time.Duration, onExpire OnExpire) *Scheduler {
	return &Scheduler{
		ttl:      ttl,
		onExpire: onExpire,
		baseCtx:  ctx,
		jobs:     make(map[string]*job),
	}
}

// Schedule starts (or restarts) the countdown for key. An existing timer for
// the same key is stopped before the new one is installed, so retention is
// reset-on-access, never additive. Safe for concurrent use; cancel-then-
// install is atomic per key under the registry lock.
func (s *Scheduler) Schedule(key content.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()

	if existing, ok := s.jobs[id]; ok {
		existing.timer.Stop()
	}

	j := &job{key: key}
	j.timer = time.AfterFunc(s.ttl, func() { s.fire(j) })
	s.jobs[id] = j
}

// Cancel stops and removes the countdown for key; a no-op when none exists.
// Safe to call even if the timer already fired: once onExpire starts it runs
// to completion, cancellation is best effort.
func (s *Scheduler) Cancel(key content.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.String()

	if existing, ok := s.jobs[id]; ok {
		existing.timer.Stop()
		delete(s.jobs, id)
	}
}

// Len reports how many keys currently have a live countdown.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.jobs)
}

// Shutdown stops every outstanding timer without firing. Content already
// mid-teardown is unaffected.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, id)
	}
}

// fire runs on the timer goroutine. The map entry is removed first so a
// concurrent Schedule installs a fresh job instead of touching this one; the
// expiry callback then runs outside the lock. A reschedule racing this fire
// may operate on a key whose ledger row is about to vanish; the next stream
// read degrades to a not-found, which the client handles by re-downloading.
func (s *Scheduler) fire(j *job) {
	s.mu.Lock()

	id := j.key.String()
	if current, ok := s.jobs[id]; ok && current == j {
		delete(s.jobs, id)
	}

	s.mu.Unlock()

	logger := logctx.LoggerFromContext(s.baseCtx).With("content_key", id)
	logger.Info("content ttl expired, tearing down")

	if err := s.onExpire(s.baseCtx, j.key); err != nil {
		// Best effort: no retry, no re-insert. The content becomes an
		// orphaned record until the next access or operator intervention.
		logger.Error("content teardown failed", "err", err)
	}
}
