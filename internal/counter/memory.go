package counter

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore implements Store on a process-local map. Tests use it in
// place of Redis; it honors expiry lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	nowFn   func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry), nowFn: time.Now}
}

// SetNow overrides the clock. Tests only.
func (s *MemoryStore) SetNow(nowFn func() time.Time) {
	s.mu.Lock()
	s.nowFn = nowFn
	s.mu.Unlock()
}

// live returns the entry for key, dropping it first if expired.
func (s *MemoryStore) live(key string) *memoryEntry {
	entry := s.entries[key]
	if entry == nil {
		return nil
	}
	if !entry.expiresAt.IsZero() && !s.nowFn().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

// Incr atomically increments key.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	entry.value++
	return entry.value, nil
}

// Decr atomically decrements key if it still exists. A missing or
// expired key stays absent.
func (s *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		return 0, nil
	}
	entry.value--
	return entry.value, nil
}

// Get returns the current value and existence.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		return 0, false, nil
	}
	return entry.value, true, nil
}

// ExpireIfUnset sets a TTL only when the key has none.
func (s *MemoryStore) ExpireIfUnset(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil || !entry.expiresAt.IsZero() {
		return nil
	}
	entry.expiresAt = s.nowFn().Add(ttl)
	return nil
}

// Keys enumerates live keys under prefix.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) && s.live(key) != nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Del removes keys and returns how many existed.
func (s *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if s.live(key) != nil {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
