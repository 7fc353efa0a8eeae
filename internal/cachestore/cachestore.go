// Package cachestore implements the Cache Store (C1): a thin, narrow
// interface over a durable KV store with TTLs, server-side scripted atomic
// execution, and pub/sub, backed by Redis. Any store satisfying the same
// three capabilities (GET/SET with EX/NX, atomic scripting, pub/sub) would
// suffice; this package just happens to use go-redis.
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/infrapass/infrapass/internal/entitlement"
)

// Sentinel errors surfaced to callers; handler boundaries translate these to
// machine-stable error strings and HTTP status codes.
var (
	// ErrCounterNotReady corresponds to atomic-script return code -2: the
	// entitlement key exists but the counter expired or was never seeded.
	ErrCounterNotReady = errors.New("cachestore: counter not ready")
	// ErrQuotaExceeded corresponds to atomic-script return code -1.
	ErrQuotaExceeded = errors.New("cachestore: quota exceeded")
	// ErrUnknownTierType corresponds to atomic-script return code -3.
	ErrUnknownTierType = errors.New("cachestore: unknown tier type")
)

// atomicCheckAndDecrement is the contractual quota script (KEYS[1] =
// counter key; ARGV[1] = cost; ARGV[2] = tier_type). It is the sole point
// of mutual exclusion on the counter key; no application-level lock backs
// it.
const atomicCheckAndDecrement = `
local quota_key = KEYS[1]
local cost = tonumber(ARGV[1])
local tier_type = tonumber(ARGV[2])

if tier_type == 0 then
    return 0
end

if tier_type == 2 or tier_type == 3 then
    local current = redis.call('GET', quota_key)
    if current == false then
        return -2
    end
    current = tonumber(current)
    if current < cost then
        return -1
    end
    return redis.call('DECRBY', quota_key, cost)
end

return -3
`

// Store is a pooled, multiplexed client over the cache store.
type Store struct {
	client *redis.Client
	script *redis.Script
}

// New parses redisURL and returns a Store backed by a pooled redis.Client.
// go-redis multiplexes commands over its own connection pool, satisfying
// the "pooled multiplexed connection" requirement without extra plumbing.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cachestore: parse redis url: %w", err)
	}
	return &Store{
		client: redis.NewClient(opts),
		script: redis.NewScript(atomicCheckAndDecrement),
	}, nil
}

// Ping verifies connectivity, used by the sidecar's /healthz.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func entitlementKey(user, service string) string {
	return fmt.Sprintf("entitlement:%s:%s", user, service)
}

func quotaKey(user, service string) string {
	return fmt.Sprintf("quota:%s:%s", user, service)
}

// ProviderChannel returns the pub/sub channel name for a provider.
func ProviderChannel(providerID string) string {
	return fmt.Sprintf("infrapass:%s:events", providerID)
}

// GetEntitlement performs the cache probe (step 3 of the hot path). The
// bool return is false on a cache miss (key absent); any other error is
// reported distinctly so the caller can tell "miss" from "broken store".
func (s *Store) GetEntitlement(ctx context.Context, user, service string) (*entitlement.Entitlement, bool, error) {
	raw, err := s.client.Get(ctx, entitlementKey(user, service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cachestore: get entitlement: %w", err)
	}
	var e entitlement.Entitlement
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("cachestore: decode entitlement: %w", err)
	}
	return &e, true, nil
}

// SetEntitlement writes the entitlement blob and, for tier types that carry
// a counter, seeds the counter key with SET NX EX so a concurrent miss-path
// race never clobbers an in-flight decrement. Both writes share ttl and are
// issued as one pipelined round trip, per the Cache Store's MUST.
func (s *Store) SetEntitlement(ctx context.Context, user, service string, e entitlement.Entitlement, ttl time.Duration) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cachestore: encode entitlement: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entitlementKey(user, service), payload, ttl)
	if seed, ok := e.SeedCounter(); ok {
		pipe.SetNX(ctx, quotaKey(user, service), seed, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cachestore: set entitlement: %w", err)
	}
	return nil
}

// Invalidate deletes both the entitlement and counter keys for (user,
// service), per the pub/sub bridge's Invalidate directive and the data
// model's invariant that a Refresh always deletes both keys before
// reseeding.
func (s *Store) Invalidate(ctx context.Context, user, service string) error {
	if err := s.client.Del(ctx, entitlementKey(user, service), quotaKey(user, service)).Err(); err != nil {
		return fmt.Errorf("cachestore: invalidate: %w", err)
	}
	return nil
}

// AtomicDecrement runs the contractual script against the counter key and
// maps its return codes onto Go errors/values:
//
//	 0  -> (0, nil)                 subscription tier (no counter), or a
//	                                counter decremented to exactly zero
//	>=1 -> (n, nil)                 remaining quota after decrement
//	-1  -> (0, ErrQuotaExceeded)
//	-2  -> (0, ErrCounterNotReady)
//	-3  -> (0, ErrUnknownTierType)
func (s *Store) AtomicDecrement(ctx context.Context, user, service string, cost int64, tierType entitlement.TierType) (int64, error) {
	res, err := s.script.Run(ctx, s.client, []string{quotaKey(user, service)}, cost, int(tierType)).Int64()
	if err != nil {
		return 0, fmt.Errorf("cachestore: atomic decrement: %w", err)
	}
	switch {
	case res == -1:
		return 0, ErrQuotaExceeded
	case res == -2:
		return 0, ErrCounterNotReady
	case res == -3:
		return 0, ErrUnknownTierType
	default:
		return res, nil
	}
}

// Publish sends a pub/sub message on the named channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a redis.PubSub bound to the given channel. Callers are
// responsible for reconnect-with-backoff on connection loss, per the pub/sub
// bridge's resiliency requirement.
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.client.Subscribe(ctx, channel)
}
