package sidecarproxy

import (
	"context"
	"sync"
	"time"

	"github.com/infrapass/infrapass/internal/cachestore"
	"github.com/infrapass/infrapass/internal/entitlement"
)

// fakeStore is an in-memory stand-in for *cachestore.Store: a map-backed
// cache plus a mutex-guarded counter, mirroring the atomicity the real
// Redis script provides without needing a live Redis connection.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]entitlement.Entitlement
	quota   map[string]int64
	setN    int
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string]entitlement.Entitlement),
		quota:   make(map[string]int64),
	}
}

func key(user, service string) string { return user + "|" + service }

func (f *fakeStore) seed(user, service string, e entitlement.Entitlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key(user, service)] = e
	if n, ok := e.SeedCounter(); ok {
		f.quota[key(user, service)] = n
	}
}

func (f *fakeStore) GetEntitlement(ctx context.Context, user, service string) (*entitlement.Entitlement, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key(user, service)]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (f *fakeStore) SetEntitlement(ctx context.Context, user, service string, e entitlement.Entitlement, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key(user, service)] = e
	f.setN++
	if n, ok := e.SeedCounter(); ok {
		if _, exists := f.quota[key(user, service)]; !exists {
			f.quota[key(user, service)] = n
		}
	}
	return nil
}

// AtomicDecrement reproduces the contractual script's return codes against
// the in-memory counter map, holding the lock for the whole check-then-set
// so concurrent callers serialize exactly as the real Lua script does.
func (f *fakeStore) AtomicDecrement(ctx context.Context, user, service string, cost int64, tierType entitlement.TierType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch tierType {
	case entitlement.TierSubscription:
		return 0, nil
	case entitlement.TierQuota, entitlement.TierPayPerRequest:
		current, ok := f.quota[key(user, service)]
		if !ok {
			return 0, cachestore.ErrCounterNotReady
		}
		if current < cost {
			return 0, cachestore.ErrQuotaExceeded
		}
		current -= cost
		f.quota[key(user, service)] = current
		return current, nil
	default:
		return 0, cachestore.ErrUnknownTierType
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }
