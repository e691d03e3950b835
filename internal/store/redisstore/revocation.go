package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseops.app/internal/auth"
)

var _ auth.RevocationStore = (*RevocationStore)(nil)

// RevocationStore keeps one key per revoked jti. Keys expire with the
// token, so sweeping is left to Redis.
type RevocationStore struct{ s *Store }

func (s *Store) Revocations() *RevocationStore { return &RevocationStore{s: s} }

func (r *RevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time, fingerprint string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return auth.ErrEmptyTokenID
	}
	ttl := expiresAt.Sub(r.s.now())
	if ttl <= 0 {
		return nil
	}
	if fingerprint == "" {
		fingerprint = "1"
	}
	return extendRevocation.Run(ctx, r.s.rdb, []string{r.s.key("revoked", tokenID)},
		fingerprint, ttl.Milliseconds()).Err()
}

// extendRevocation creates the entry or pushes its expiry later. It never
// shortens an existing entry and keeps the first fingerprint.
var extendRevocation = redis.NewScript(`
local left = redis.call('PTTL', KEYS[1])
local ttl = tonumber(ARGV[2])
if left == -2 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
elseif left >= 0 and left < ttl then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

func (r *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.s.rdb.Exists(ctx, r.s.key("revoked", tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RevocationStore) SweepExpired(context.Context) (int, error) { return 0, nil }
