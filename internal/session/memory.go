package session

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/rs/zerolog"
)

type memoryEntry struct {
	state    *State
	lastSeen time.Time
}

// MemoryStore keeps conversation state in process memory and evicts
// conversations that have been idle for longer than the configured TTL.
type MemoryStore struct {
	idleTTL time.Duration
	clock   func() time.Time
	logger  zerolog.Logger
	keys    *keyedMutex

	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an in-memory store. An idleTTL of zero disables eviction.
func NewMemoryStore(idleTTL time.Duration, logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		idleTTL: idleTTL,
		clock:   time.Now,
		logger:  logger,
		keys:    newKeyedMutex(),
		entries: make(map[string]*memoryEntry),
	}
}

// WithClock overrides the time source (tests)
func (m *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	m.clock = clock
	return m
}

// With runs fn with exclusive access to the client's state
func (m *MemoryStore) With(ctx context.Context, clientID string, fn func(*State) error) error {
	id := ResolveClientID(clientID)
	unlock, err := m.keys.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	entry := m.entry(id)
	m.touch(entry)
	return fn(entry.state)
}

// touch stamps lastSeen under the map lock, which Sweep holds while reading it
func (m *MemoryStore) touch(e *memoryEntry) {
	m.mu.Lock()
	e.lastSeen = m.clock()
	m.mu.Unlock()
}

// entry returns the entry for id, materializing a default state on first use
func (m *MemoryStore) entry(id string) *memoryEntry {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[id]; ok {
		return e
	}
	e = &memoryEntry{state: NewState(), lastSeen: m.clock()}
	m.entries[id] = e
	observability.SetActiveSessions(len(m.entries))
	return e
}

// Reset restores the client's state to defaults
func (m *MemoryStore) Reset(ctx context.Context, clientID string) error {
	return m.With(ctx, clientID, func(s *State) error {
		s.Reset()
		return nil
	})
}

// Len returns the number of live conversations
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes conversations idle for longer than the TTL and returns how
// many were evicted. Conversations currently in use are skipped.
func (m *MemoryStore) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.entries {
		if m.keys.inUse(id) || now.Sub(e.lastSeen) < m.idleTTL {
			continue
		}
		delete(m.entries, id)
		evicted++
	}
	observability.SetActiveSessions(len(m.entries))
	return evicted
}

// Run sweeps idle conversations every interval until ctx is cancelled
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if m.idleTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug().
					Int("evicted", n).
					Int("remaining", m.Len()).
					Msg("Evicted idle conversations")
			}
		case <-ctx.Done():
			return
		}
	}
}

var _ Store = (*MemoryStore)(nil)
