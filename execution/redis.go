package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so horizontally replicated engine
// instances share one idempotency view. The SUCCEEDED transition rides on
// SETNX: the replica that sets the marker key wins, everyone else observes a
// duplicate. Records expire after a retention TTL; the audit trail of record
// history lives in the relational store when both are deployed.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed execution store. Records expire after
// retention; zero means no expiry.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) recordKey(key Key) string {
	return fmt.Sprintf("automation:exec:%s:%d:%d", key.EventID, key.RuleID, key.ActionIndex)
}

func (s *RedisStore) successKey(key Key) string {
	return s.recordKey(key) + ":succeeded"
}

// attemptScript increments the attempt counter and refreshes the status,
// unless the record is already terminal. The marker check and the writes run
// as one script so a replica racing a concurrent SUCCEEDED transition cannot
// overwrite the winner's state.
//
// KEYS[1] record hash, KEYS[2] success marker.
// ARGV[1] PENDING, ARGV[2] RETRYING, ARGV[3] FAILED.
var attemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
end
if redis.call("HGET", KEYS[1], "status") == ARGV[3] then
	return tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts > 1 then
	redis.call("HSET", KEYS[1], "status", ARGV[2])
else
	redis.call("HSET", KEYS[1], "status", ARGV[1])
end
return attempts
`)

// failureScript writes a non-success outcome only while no replica has won
// the SUCCEEDED transition.
//
// KEYS[1] record hash, KEYS[2] success marker.
// ARGV[1] status, ARGV[2] last error, ARGV[3] executed at.
var failureScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "last_error", ARGV[2], "executed_at", ARGV[3])
return 1
`)

func (s *RedisStore) HasSucceeded(ctx context.Context, key Key) (bool, error) {
	n, err := s.client.Exists(ctx, s.successKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check execution record: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) RecordAttempt(ctx context.Context, key Key) (int, error) {
	rk := s.recordKey(key)
	attempts, err := attemptScript.Run(ctx, s.client,
		[]string{rk, s.successKey(key)},
		string(StatusPending), string(StatusRetrying), string(StatusFailed)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	s.expire(ctx, rk)
	return attempts, nil
}

func (s *RedisStore) RecordOutcome(ctx context.Context, key Key, status Status, lastErr string) (bool, error) {
	rk := s.recordKey(key)

	if status == StatusSucceeded {
		won, err := s.client.SetNX(ctx, s.successKey(key), 1, s.retention).Result()
		if err != nil {
			return false, fmt.Errorf("failed to record outcome: %w", err)
		}
		if !won {
			return false, nil
		}
		// The marker is already visible, so concurrent attempt and failure
		// writers leave this hash alone from here on.
		err = s.client.HSet(ctx, rk,
			"status", string(StatusSucceeded),
			"last_error", "",
			"executed_at", time.Now().UTC().Format(time.RFC3339Nano),
		).Err()
		if err != nil {
			return false, fmt.Errorf("failed to record outcome: %w", err)
		}
		s.expire(ctx, rk)
		return true, nil
	}

	applied, err := failureScript.Run(ctx, s.client,
		[]string{rk, s.successKey(key)},
		string(status), lastErr, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}
	if applied == 0 {
		return false, nil
	}
	s.expire(ctx, rk)
	return true, nil
}

func (s *RedisStore) expire(ctx context.Context, key string) {
	if s.retention > 0 {
		s.client.Expire(ctx, key, s.retention)
	}
}
