package otp

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown or expired request ids.
var ErrNotFound = errors.New("otp: record not found")

// Store persists challenge records. Update must be atomic per request id.
type Store interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	// Update loads the record, applies fn and persists the mutated record
	// whatever fn returns. Used records are deleted instead of persisted.
	Update(ctx context.Context, requestID string, fn func(*Record) error) error
	Delete(ctx context.Context, requestID string) error
	// ClaimCooldown marks phone+purpose busy for cooldown. When a claim is
	// already held it returns false and the time left on it.
	ClaimCooldown(ctx context.Context, phone string, purpose Purpose, cooldown time.Duration) (bool, time.Duration, error)
	// ReleaseCooldown drops a claim whose code was never delivered.
	ReleaseCooldown(ctx context.Context, phone string, purpose Purpose) error
}

type memEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is a mutex-protected Store for single-instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]memEntry
	cooldowns map[string]time.Time
	now       func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records:   make(map[string]memEntry),
		cooldowns: make(map[string]time.Time),
		now:       now,
	}
}

func (m *MemoryStore) Save(_ context.Context, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.RequestID] = memEntry{rec: rec, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Update(_ context.Context, requestID string, fn func(*Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.records[requestID]
	if !ok || !m.now().Before(entry.expiresAt) {
		delete(m.records, requestID)
		return ErrNotFound
	}
	rec := entry.rec
	err := fn(&rec)
	if rec.Used {
		delete(m.records, requestID)
	} else {
		entry.rec = rec
		m.records[requestID] = entry
	}
	return err
}

func (m *MemoryStore) Delete(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, requestID)
	return nil
}

func (m *MemoryStore) ClaimCooldown(_ context.Context, phone string, purpose Purpose, cooldown time.Duration) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := CooldownKey(phone, purpose)
	now := m.now()
	if until, ok := m.cooldowns[key]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}
	m.cooldowns[key] = now.Add(cooldown)
	return true, 0, nil
}

func (m *MemoryStore) ReleaseCooldown(_ context.Context, phone string, purpose Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cooldowns, CooldownKey(phone, purpose))
	return nil
}

// Sweep drops expired records and cooldowns.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, e := range m.records {
		if !now.Before(e.expiresAt) {
			delete(m.records, id)
			removed++
		}
	}
	for k, until := range m.cooldowns {
		if !now.Before(until) {
			delete(m.cooldowns, k)
		}
	}
	return removed
}

// CooldownKey is the store key guarding resends for phone and purpose.
func CooldownKey(phone string, purpose Purpose) string {
	return "otp_cooldown:" + phone + ":" + string(purpose)
}
