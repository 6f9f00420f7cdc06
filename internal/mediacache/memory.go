package mediacache

import (
	"sync"
	"time"
)

type memoryTier struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func newMemoryTier() *memoryTier {
	return &memoryTier{entries: make(map[string]Entry)}
}

func (m *memoryTier) put(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
}

// touch returns the entry with its access time moved to at.
func (m *memoryTier) touch(id string, at time.Time) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	e.LastAccessedAt = at
	m.entries[id] = e
	return e, true
}

func (m *memoryTier) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

func (m *memoryTier) evictBefore(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, e := range m.entries {
		if e.LastAccessedAt.Before(cutoff) {
			delete(m.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
}

func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
