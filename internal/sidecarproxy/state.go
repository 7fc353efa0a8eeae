// Package sidecarproxy implements the Sidecar Proxy (C5): the
// latency-sensitive enforcement pipeline that terminates client requests,
// checks entitlement and quota, and forwards approved traffic upstream.
package sidecarproxy

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/infrapass/infrapass/internal/config"
	"github.com/infrapass/infrapass/internal/entitlement"
	"github.com/infrapass/infrapass/internal/metrics"
	"github.com/infrapass/infrapass/internal/pubsub"
	"github.com/infrapass/infrapass/internal/webhook"
)

// entitlementStore is the narrow slice of *cachestore.Store the hot path
// drives: cache probe, cache seed, atomic quota decrement, and the
// liveness ping. Narrowed here so the enforcement pipeline can be driven
// against an in-memory fake without a live Redis connection.
type entitlementStore interface {
	GetEntitlement(ctx context.Context, user, service string) (*entitlement.Entitlement, bool, error)
	SetEntitlement(ctx context.Context, user, service string, e entitlement.Entitlement, ttl time.Duration) error
	AtomicDecrement(ctx context.Context, user, service string, cost int64, tierType entitlement.TierType) (int64, error)
	Ping(ctx context.Context) error
}

// State bundles everything the hot-path handler needs. It holds no
// mutex-guarded application state of its own — the cache store's scripting
// is the sole point of synchronization on the hot path.
type State struct {
	Cfg             *config.Sidecar
	Store           entitlementStore
	ValidatorClient *http.Client
	UpstreamClient  *http.Client
	Webhook         *webhook.Client
	Metrics         *metrics.Registry
	Logger          zerolog.Logger
	Subscriber      *pubsub.Subscriber
}
