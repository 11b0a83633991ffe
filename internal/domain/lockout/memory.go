package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in a mutex guarded map. It suits a single
// instance deployment; use RedisStore when several instances share limits.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	entry   Entry
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.entries[key]
	if !ok || !m.now().Before(me.expires) {
		return nil, nil
	}
	e := me.entry
	return &e, nil
}

func (m *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn func(cur *Entry) *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur *Entry
	if me, ok := m.entries[key]; ok && m.now().Before(me.expires) {
		e := me.entry
		cur = &e
	}

	next := fn(cur)
	if next == nil {
		delete(m.entries, key)
		return nil
	}

	expires := m.now().Add(ttl)
	if next.BlockedUntil.After(expires) {
		expires = next.BlockedUntil
	}
	m.entries[key] = memEntry{entry: *next, expires: expires}
	return nil
}

// Sweep evicts expired entries and those idle since before olderThan.
func (m *MemoryStore) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for k, me := range m.entries {
		if !now.Before(me.expires) || (me.entry.LastAttempt.Before(olderThan) && !now.Before(me.entry.BlockedUntil)) {
			delete(m.entries, k)
			evicted++
		}
	}
	return evicted, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
