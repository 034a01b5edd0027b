// Package session holds terminal result payloads in memory, keyed by
// session id, so the materialization endpoint can serve them without a
// fresh remote round trip. Scope and eviction are explicit: entries
// expire after a TTL and the store is capped. Nothing survives a
// process restart.
package session

import (
	"sync"
	"time"

	"github.com/use-agent/harvest/models"
)

const sweepInterval = 5 * time.Minute

// entry holds a stored payload with its deposit timestamp.
type entry struct {
	payload  *models.ResultPayload
	storedAt time.Time
}

// Store is an in-memory payload store. It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
	ttl        time.Duration
}

// New creates a Store capped at maxEntries with the given entry TTL.
// A background goroutine sweeps expired entries every five minutes.
func New(maxEntries int, ttl time.Duration) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
	go s.sweepLoop()
	return s
}

// Get retrieves the payload for a session if present and unexpired.
// An expired entry is deleted on read so it cannot hold a capacity slot
// until the next sweep.
func (s *Store) Get(sessionID string) (*models.ResultPayload, bool) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > s.ttl {
		s.mu.Lock()
		if cur, ok := s.entries[sessionID]; ok && cur == e {
			delete(s.entries, sessionID)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

// Put stores a payload. If the store is at capacity, an expired entry is
// evicted when one exists, otherwise a random one (map iteration is
// random in Go).
func (s *Store) Put(sessionID string, p *models.ResultPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[sessionID]; !exists && len(s.entries) >= s.maxEntries {
		victim := ""
		for k, e := range s.entries {
			if victim == "" {
				victim = k
			}
			if time.Since(e.storedAt) > s.ttl {
				victim = k
				break
			}
		}
		delete(s.entries, victim)
	}

	s.entries[sessionID] = &entry{
		payload:  p,
		storedAt: time.Now(),
	}
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// sweepLoop evicts entries older than the TTL.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.ttl)
		s.mu.Lock()
		for k, e := range s.entries {
			if e.storedAt.Before(cutoff) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}
