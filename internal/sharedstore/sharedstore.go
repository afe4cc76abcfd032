// Package sharedstore is the sole facade over the in-memory shared store
// (Redis). It exposes CAS locks, hash/set primitives, and pub/sub
// fan-out, and is the only package in this repo that talks to go-redis
// directly — every other component (presence, the connection hub,
// idempotency) goes through here.
//
// Locking is SetNX-based with a Lua compare-and-delete for release, and
// every call is wrapped with a latency observation.
package sharedstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/handshake/coordinator/internal/metrics"
)

// ErrLockUnavailable is returned by WithLock when the lock could not be
// acquired within the attempt budget.
var ErrLockUnavailable = errors.New("sharedstore: lock unavailable")

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Store is the typed facade over the shared store.
type Store struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies the connection with a ping.
func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sharedstore: connect: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

func observeLatency(start time.Time) {
	metrics.SharedStoreLatency.Observe(time.Since(start).Seconds())
}

// TryLock attempts a single, non-blocking acquisition of the named lock
// with the given owner token and TTL. Returns false (not an error) if
// another owner already holds it.
func (s *Store) TryLock(ctx context.Context, key, ownerToken string, ttl time.Duration) (bool, error) {
	defer observeLatency(time.Now())
	ok, err := s.client.SetNX(ctx, lockKey(key), ownerToken, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("sharedstore: try lock %s: %w", key, err)
	}
	return ok, nil
}

// Unlock releases the named lock only if it is still held by ownerToken
// (token-scoped release, the safer variant over a bare delete).
func (s *Store) Unlock(ctx context.Context, key, ownerToken string) error {
	defer observeLatency(time.Now())
	_, err := s.client.Eval(ctx, releaseScript, []string{lockKey(key)}, ownerToken).Result()
	if err != nil {
		return fmt.Errorf("sharedstore: unlock %s: %w", key, err)
	}
	return nil
}

// WithLock acquires the named lock, runs fn, and always releases the
// lock afterward — even if fn panics or returns an error. It retries the
// acquisition a handful of times with a short jittered backoff before
// giving up with ErrLockUnavailable, since a concurrent holder is
// expected to release well within ttl under normal load.
func WithLock[T any](ctx context.Context, s *Store, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ownerToken := newOwnerToken()

	const attempts = 5
	backoff := 20 * time.Millisecond
	acquired := false
	for i := 0; i < attempts; i++ {
		ok, err := s.TryLock(ctx, key, ownerToken, ttl)
		if err != nil {
			return zero, err
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if !acquired {
		namespace, _, _ := strings.Cut(key, ":")
		metrics.LockContention.WithLabelValues(namespace).Inc()
		return zero, ErrLockUnavailable
	}
	defer func() {
		// Release on a fresh, short-lived context: the caller's ctx may
		// already be cancelled (e.g. request deadline) by the time we
		// get here, but the lock must still be freed.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Unlock(releaseCtx, key, ownerToken)
	}()

	return fn(ctx)
}

// WithLock is the error-only convenience form of the package-level
// WithLock, for callers that don't need a typed result out of the
// critical section.
func (s *Store) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	_, err := WithLock(ctx, s, key, ttl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// HashPut writes fields into the hash at key and optionally sets its TTL.
func (s *Store) HashPut(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	defer observeLatency(time.Now())
	pipe := s.client.TxPipeline()
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	pipe.HSet(ctx, key, values)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sharedstore: hash put %s: %w", key, err)
	}
	return nil
}

// HashGetAll returns the entire hash at key, or an empty map if absent.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	defer observeLatency(time.Now())
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("sharedstore: hash get %s: %w", key, err)
	}
	return m, nil
}

// SetAdd adds member to the set at key.
func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	defer observeLatency(time.Now())
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sharedstore: set add %s: %w", key, err)
	}
	return nil
}

// SetRemove removes member from the set at key.
func (s *Store) SetRemove(ctx context.Context, key, member string) error {
	defer observeLatency(time.Now())
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sharedstore: set remove %s: %w", key, err)
	}
	return nil
}

// SetMembers returns every member of the set at key.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	defer observeLatency(time.Now())
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("sharedstore: set members %s: %w", key, err)
	}
	return members, nil
}

// SetCount returns the cardinality of the set at key.
func (s *Store) SetCount(ctx context.Context, key string) (int64, error) {
	defer observeLatency(time.Now())
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("sharedstore: set count %s: %w", key, err)
	}
	return n, nil
}

// KeyExists reports whether key is present.
func (s *Store) KeyExists(ctx context.Context, key string) (bool, error) {
	defer observeLatency(time.Now())
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("sharedstore: key exists %s: %w", key, err)
	}
	return n > 0, nil
}

// KeyExpire refreshes the TTL of an existing key.
func (s *Store) KeyExpire(ctx context.Context, key string, ttl time.Duration) error {
	defer observeLatency(time.Now())
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("sharedstore: key expire %s: %w", key, err)
	}
	return nil
}

// Set writes a plain string key with TTL, used by the idempotency cache.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer observeLatency(time.Now())
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("sharedstore: set %s: %w", key, err)
	}
	return nil
}

// Get reads a plain string key, returning "" if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	defer observeLatency(time.Now())
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sharedstore: get %s: %w", key, err)
	}
	return v, nil
}

// SetNX writes a plain string key only if absent, used for idempotency
// record creation that must not clobber a concurrent writer.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer observeLatency(time.Now())
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("sharedstore: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Publish sends payload to every subscriber of channel.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	defer observeLatency(time.Now())
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("sharedstore: publish %s: %w", channel, err)
	}
	return nil
}

// Subscription wraps a go-redis PubSub so callers don't import go-redis
// directly.
type Subscription struct {
	ps *redis.PubSub
}

// Channel returns the delivery channel for subscribed messages.
func (s *Subscription) Channel() <-chan *redis.Message { return s.ps.Channel() }

// Close ends the subscription.
func (s *Subscription) Close() error { return s.ps.Close() }

// Subscribe opens a pub/sub subscription to channel.
func (s *Store) Subscribe(ctx context.Context, channel string) *Subscription {
	return &Subscription{ps: s.client.Subscribe(ctx, channel)}
}

func lockKey(key string) string {
	return "lock:" + key
}
