// Package redisstore backs token revocation, rate-limit windows and OTP
// records with Redis so several API instances share one view.
package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store namespaces every key under a prefix.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// Options mirror the redis section of the service configuration.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open dials Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return New(rdb, opts.Prefix), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "pulseops"
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) Close() error { return s.rdb.Close() }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}
