package pubsub

import (
	"context"
	"time"

	"github.com/infrapass/infrapass/internal/cachestore"
	"github.com/infrapass/infrapass/internal/eventworker"
)

// Publisher emits Refresh directives on a provider's channel, implementing
// eventworker.RefreshPublisher.
type Publisher struct {
	store *cachestore.Store
}

// NewPublisher wraps a cache store for publication.
func NewPublisher(store *cachestore.Store) *Publisher {
	return &Publisher{store: store}
}

// PublishRefresh builds the Refresh envelope from a purchased entitlement
// event and publishes it on the provider's channel, so sidecars can warm
// their caches without a synchronous validator hop.
func (p *Publisher) PublishRefresh(ctx context.Context, providerID, userAddress, serviceID string, ev eventworker.Event) error {
	update := EntitlementUpdate{
		EntitlementID: ev.EntitlementID,
		TierID:        ev.TierID,
		TierType:      ev.TierType,
		Quota:         ev.Quota,
		Units:         ev.Units,
		ExpiresAt:     ev.ExpiresAt,
	}
	msg := NewRefresh(userAddress, serviceID, update, time.Now())

	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}
	return p.store.Publish(ctx, cachestore.ProviderChannel(providerID), payload)
}
