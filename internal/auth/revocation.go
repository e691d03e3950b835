package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRevocationStore is a mutex-protected RevocationStore for single-instance deployments.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]RevocationEntry
	now     func() time.Time
}

// NewMemoryRevocationStore builds an empty store. A nil clock means time.Now.
func NewMemoryRevocationStore(now func() time.Time) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationStore{entries: make(map[string]RevocationEntry), now: now}
}

func (m *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time, fingerprint string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return ErrEmptyTokenID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[tokenID]; ok {
		if expiresAt.After(prev.ExpiresAt) {
			prev.ExpiresAt = expiresAt.UTC()
			m.entries[tokenID] = prev
		}
		return nil
	}
	m.entries[tokenID] = RevocationEntry{
		TokenID:     tokenID,
		RevokedAt:   m.now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
		Fingerprint: fingerprint,
	}
	return nil
}

func (m *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(entry.ExpiresAt) {
		delete(m.entries, tokenID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryRevocationStore) SweepExpired(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, entry := range m.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of tracked entries, matured ones included.
func (m *MemoryRevocationStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
