package auth

import (
	"context"
	"time"
)

// RevocationStore keeps revoked token ids until their natural expiry.
// Revoke and IsRevoked must be atomic with respect to concurrent callers.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time, fingerprint string) error
	// IsRevoked returns false for, and removes, entries whose expiry has passed.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// SweepExpired drops matured entries and returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)
}

// Directory resolves the authorization read model of users.
type Directory interface {
	AccountByID(ctx context.Context, userID string) (Account, error)
	AccountByPhone(ctx context.Context, phone string) (Account, error)
}

// AccountStore is a Directory that can also move accounts through their
// lifecycle.
type AccountStore interface {
	Directory
	SetStatus(ctx context.Context, userID string, status UserStatus) error
	// ClinicAccounts lists the accounts of clinicID ordered by user id.
	ClinicAccounts(ctx context.Context, clinicID string) ([]Account, error)
}
