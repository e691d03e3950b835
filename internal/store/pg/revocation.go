package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"pulseops.app/internal/auth"
)

var _ auth.RevocationStore = (*RevocationStore)(nil)

// RevocationStore keeps revoked token ids in revoked_tokens.
type RevocationStore struct{ s *Store }

func (s *Store) Revocations() *RevocationStore { return &RevocationStore{s: s} }

func (r *RevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time, fingerprint string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return auth.ErrEmptyTokenID
	}
	if r.s.db == nil {
		return errNoDB
	}
	_, err := r.s.db.ExecContext(ctx, `
		insert into revoked_tokens (jti, revoked_at, expires_at, fingerprint)
		values ($1, $2, $3, $4)
		on conflict (jti) do update
		set expires_at = greatest(revoked_tokens.expires_at, excluded.expires_at)
	`, tokenID, r.s.now().UTC(), expiresAt.UTC(), fingerprint)
	return err
}

func (r *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if r.s.db == nil {
		return false, errNoDB
	}
	var expiresAt time.Time
	err := r.s.db.QueryRowContext(ctx, `select expires_at from revoked_tokens where jti = $1`, tokenID).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !r.s.now().Before(expiresAt) {
		// matured: the token is rejected as expired anyway
		if _, err := r.s.db.ExecContext(ctx, `delete from revoked_tokens where jti = $1`, tokenID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *RevocationStore) SweepExpired(ctx context.Context) (int, error) {
	if r.s.db == nil {
		return 0, errNoDB
	}
	res, err := r.s.db.ExecContext(ctx, `delete from revoked_tokens where expires_at <= $1`, r.s.now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
