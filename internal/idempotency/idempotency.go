// Package idempotency deduplicates retried checkout requests by a
// client-supplied key.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrInProgress is returned when a request with the same key is still being
// processed.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// DefaultTTL bounds how long a completed key is remembered.
const DefaultTTL = 24 * time.Hour

// Store claims keys and remembers the result of completed requests.
type Store interface {
	// Claim takes ownership of key. When a previous request with the key has
	// completed, its result is returned with claimed=false. When one is still
	// running, ErrInProgress is returned.
	Claim(ctx context.Context, key string) (result string, claimed bool, err error)
	// Complete stores the result for a claimed key.
	Complete(ctx context.Context, key, result string) error
	// Abandon drops a claim so the request can be retried.
	Abandon(ctx context.Context, key string) error
}

type entry struct {
	result  string
	done    bool
	expires time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

var _ Store = (*Memory)(nil)

// NewMemory creates a Memory store. ttl <= 0 selects DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (m *Memory) Claim(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		if !e.done {
			return "", false, ErrInProgress
		}
		return e.result, false, nil
	}
	m.entries[key] = entry{expires: now.Add(m.ttl)}
	return "", true, nil
}

func (m *Memory) Complete(_ context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{result: result, done: true, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Abandon(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}
