package pubsub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/infrapass/infrapass/internal/cachestore"
)

// Subscriber applies Refresh/Invalidate directives received on a provider's
// channel to the local cache store. It is hosted inside the sidecar (C5),
// which subscribes to exactly one provider channel: its own configured
// provider_id.
type Subscriber struct {
	store           *cachestore.Store
	logger          zerolog.Logger
	providerID      string
	defaultCacheTTL time.Duration
	backoff         time.Duration
}

// NewSubscriber constructs a Subscriber for the given provider's channel.
func NewSubscriber(store *cachestore.Store, logger zerolog.Logger, providerID string, defaultCacheTTL, backoff time.Duration) *Subscriber {
	return &Subscriber{
		store:           store,
		logger:          logger.With().Str("component", "pubsub_subscriber").Logger(),
		providerID:      providerID,
		defaultCacheTTL: defaultCacheTTL,
		backoff:         backoff,
	}
}

// Run subscribes to the provider channel and applies messages until ctx is
// cancelled. A connection drop reconnects after the configured backoff; any
// invalidation missed during the gap is self-correcting because the cache
// TTL bounds staleness.
func (s *Subscriber) Run(ctx context.Context) {
	channel := cachestore.ProviderChannel(s.providerID)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.subscribeOnce(ctx, channel); err != nil {
			s.logger.Warn().Err(err).Str("channel", channel).Dur("backoff", s.backoff).Msg("pubsub subscription dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) subscribeOnce(ctx context.Context, channel string) error {
	ps := s.store.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("channel", channel).Msg("subscribed to provider channel")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.apply(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) apply(ctx context.Context, payload []byte) {
	m, err := FromJSON(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed pubsub message")
		return
	}

	// Every message, regardless of action, starts by deleting both keys —
	// the data model's invariant that a Refresh always deletes before
	// reseeding, and the natural meaning of Invalidate.
	if err := s.store.Invalidate(ctx, m.User, m.Service); err != nil {
		s.logger.Warn().Err(err).Str("user", m.User).Str("service", m.Service).Msg("failed to invalidate cache keys")
		return
	}

	if m.Action == ActionInvalidate {
		return
	}

	now := time.Now()
	ent := m.Update.toEntitlement(now)
	ttl := ent.TTL(now, s.defaultCacheTTL)
	if err := s.store.SetEntitlement(ctx, m.User, m.Service, ent, ttl); err != nil {
		s.logger.Warn().Err(err).Str("user", m.User).Str("service", m.Service).Msg("failed to apply refresh")
		return
	}

	s.logger.Debug().Str("user", m.User).Str("service", m.Service).Msg("refreshed cache from pub/sub")
}
