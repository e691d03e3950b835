package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseops.app/internal/otp"
)

var _ otp.Store = (*OTPStore)(nil)

const maxTxRetries = 5

// OTPStore keeps each record as JSON under its request id.
type OTPStore struct{ s *Store }

func (s *Store) OTP() *OTPStore { return &OTPStore{s: s} }

func (o *OTPStore) recordKey(requestID string) string { return o.s.key("otp", requestID) }

func (o *OTPStore) Save(ctx context.Context, rec otp.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return o.s.rdb.Set(ctx, o.recordKey(rec.RequestID), data, ttl).Err()
}

func (o *OTPStore) Update(ctx context.Context, requestID string, fn func(*otp.Record) error) error {
	key := o.recordKey(requestID)
	var fnErr error
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return otp.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec otp.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		fnErr = fn(&rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if rec.Used {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := o.s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return fnErr
	}
	return redis.TxFailedErr
}

func (o *OTPStore) Delete(ctx context.Context, requestID string) error {
	return o.s.rdb.Del(ctx, o.recordKey(requestID)).Err()
}

func (o *OTPStore) ClaimCooldown(ctx context.Context, phone string, purpose otp.Purpose, cooldown time.Duration) (bool, time.Duration, error) {
	key := o.s.key(otp.CooldownKey(phone, purpose))
	ok, err := o.s.rdb.SetNX(ctx, key, "1", cooldown).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	left, err := o.s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if left < 0 {
		left = cooldown
	}
	return false, left, nil
}

func (o *OTPStore) ReleaseCooldown(ctx context.Context, phone string, purpose otp.Purpose) error {
	return o.s.rdb.Del(ctx, o.s.key(otp.CooldownKey(phone, purpose))).Err()
}
