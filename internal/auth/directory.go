package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
)

var _ AccountStore = (*MemoryDirectory)(nil)

// MemoryDirectory is an in-process Directory used when no database is configured.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byPhone map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byID: make(map[string]Account), byPhone: make(map[string]string)}
}

// Put inserts or replaces acct. A phone owned by another user is rejected.
func (d *MemoryDirectory) Put(acct Account) error {
	if err := acct.Seed().Validate(); err != nil {
		return err
	}
	if acct.Status == "" {
		acct.Status = StatusPending
	}
	phone := strings.TrimSpace(acct.Phone)
	d.mu.Lock()
	defer d.mu.Unlock()
	if owner, ok := d.byPhone[phone]; ok && owner != acct.UserID {
		return ErrAccountExists
	}
	if prev, ok := d.byID[acct.UserID]; ok {
		delete(d.byPhone, strings.TrimSpace(prev.Phone))
	}
	d.byID[acct.UserID] = acct
	d.byPhone[phone] = acct.UserID
	return nil
}

func (d *MemoryDirectory) SetStatus(_ context.Context, userID string, status UserStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.byID[userID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.Status = status
	d.byID[userID] = acct
	return nil
}

func (d *MemoryDirectory) AccountByID(_ context.Context, userID string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.byID[userID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (d *MemoryDirectory) AccountByPhone(_ context.Context, phone string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byPhone[strings.TrimSpace(phone)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) ClinicAccounts(_ context.Context, clinicID string) ([]Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Account, 0)
	for _, acct := range d.byID {
		if acct.ClinicID == clinicID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
