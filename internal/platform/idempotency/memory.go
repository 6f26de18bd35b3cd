package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It backs the local cart store and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	if !key.valid() {
		return OutcomeFresh, Entry{}, ErrInvalidKey
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.docID()
	if entry, ok := s.entries[id]; ok && !entry.expired(now) {
		if entry.Fingerprint != fingerprint {
			return OutcomeFresh, Entry{}, ErrFingerprintMismatch
		}
		if entry.Done {
			return OutcomeReplay, entry, nil
		}
		return OutcomeInFlight, entry, nil
	}

	entry := newPendingEntry(key, fingerprint, now, ttl)
	s.entries[id] = entry
	return OutcomeFresh, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if !key.valid() {
		return ErrInvalidKey
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.docID()
	entry, ok := s.entries[id]
	switch {
	case !ok:
		entry = newPendingEntry(key, fingerprint, now, ttl)
	case entry.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	entry.Done = true
	entry.Response = resp.clone()
	entry.ExpiresAt = now.Add(ttlOrDefault(ttl))
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key Key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.docID()
	entry, ok := s.entries[id]
	if !ok || entry.Done {
		return nil
	}
	if entry.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func newPendingEntry(key Key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Owner:       key.Owner,
		ClientKey:   key.Client,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)),
	}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
