package eventworker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/infrapass/infrapass/internal/alerting"
	"github.com/infrapass/infrapass/internal/db"
	"github.com/infrapass/infrapass/internal/entitlement"
)

// RefreshPublisher is the narrow interface the worker needs to emit a
// Refresh directive on EntitlementPurchased; implemented by
// internal/pubsub over the cache store.
type RefreshPublisher interface {
	PublishRefresh(ctx context.Context, providerID, userAddress, serviceID string, ev Event) error
}

// repository is the narrow persistence interface the worker needs to apply
// the eight protocol events, satisfied by *db.Repository; narrowed here so
// Worker can be tested against a fake without an open database connection.
type repository interface {
	UpsertProvider(ctx context.Context, profileID, providerAddress, name, webhookURL, webhookSecret string) error
	UpsertService(ctx context.Context, serviceID, providerID, name string) error
	UpsertTier(ctx context.Context, tierID, serviceID string, tierType entitlement.TierType, price, durationMs, quotaLimit int64) error
	SetTierActive(ctx context.Context, tierID string, active bool) error
	CreateEntitlement(ctx context.Context, row db.EntitlementRow, userAddress, serviceID string) error
	RecordBlockchainEvent(ctx context.Context, checkpointNumber uint64, transactionDigest, eventType, refID string) error
}

// Worker applies events to the relational store in stream order. It is
// single-threaded at the application level: Run must only ever be called
// from one goroutine.
type Worker struct {
	repo      repository
	publisher RefreshPublisher
	logger    zerolog.Logger
	alerter   *alerting.Client

	consecutiveFailures int
	failureAlertAt      int
}

// NewWorker constructs a Worker.
func NewWorker(repo repository, publisher RefreshPublisher, alerter *alerting.Client, logger zerolog.Logger, failureAlertAt int) *Worker {
	return &Worker{
		repo:           repo,
		publisher:      publisher,
		alerter:        alerter,
		logger:         logger.With().Str("component", "event_worker").Logger(),
		failureAlertAt: failureAlertAt,
	}
}

// Run drains events from ch until it is closed or ctx is cancelled. A
// single event's failure is logged and skipped — it never halts the
// worker — but persistent failures raise an operator alert.
func (w *Worker) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := w.handle(ctx, ev); err != nil {
				w.logger.Error().Err(err).Str("event_type", string(ev.Type)).Msg("event application failed, skipping")
				w.consecutiveFailures++
				if w.consecutiveFailures == w.failureAlertAt {
					if aerr := w.alerter.AlertConsecutiveFailures(w.consecutiveFailures, err); aerr != nil {
						w.logger.Warn().Err(aerr).Msg("failed to raise consecutive-failure alert")
					}
				}
				continue
			}
			w.consecutiveFailures = 0
		}
	}
}

// handle applies exactly one state mutation per event and, for
// EntitlementPurchased only, one pub/sub Refresh emission; after a
// successful mutation it appends the event's blockchain_events row. Events
// carrying a tier type the hot path cannot enforce (such as the reserved
// value 1) are rejected before anything is written.
func (w *Worker) handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTierCreated, EventTierPriceUpdated, EventEntitlementPurchased:
		if !ev.TierType.Valid() {
			return fmt.Errorf("eventworker: rejecting %s with unsupported tier type %d", ev.Type, ev.TierType)
		}
	}

	var err error
	switch ev.Type {
	case EventProviderRegistered:
		err = w.repo.UpsertProvider(ctx, ev.ProfileID, ev.ProviderAddress, ev.Name, ev.WebhookURL, ev.WebhookSecret)

	case EventServiceCreated, EventServiceUpdated:
		err = w.repo.UpsertService(ctx, ev.ServiceID, ev.ProviderID, ev.Name)

	case EventTierCreated, EventTierPriceUpdated:
		err = w.repo.UpsertTier(ctx, ev.TierID, ev.ServiceID, ev.TierType, ev.Price, ev.DurationMs, ev.QuotaLimit)

	case EventTierDeactivated:
		err = w.repo.SetTierActive(ctx, ev.TierID, false)

	case EventTierReactivated:
		err = w.repo.SetTierActive(ctx, ev.TierID, true)

	case EventEntitlementPurchased:
		err = w.handlePurchase(ctx, ev)

	default:
		return fmt.Errorf("eventworker: unknown event type %q", ev.Type)
	}
	if err != nil {
		return err
	}

	if ref := ev.refID(); ref != "" {
		if err := w.repo.RecordBlockchainEvent(ctx, ev.CheckpointNumber, ev.TransactionDigest, string(ev.Type), ref); err != nil {
			return fmt.Errorf("record blockchain event: %w", err)
		}
	}
	return nil
}

func (w *Worker) handlePurchase(ctx context.Context, ev Event) error {
	row := db.EntitlementRow{
		EntitlementID: ev.EntitlementID,
		TierID:        ev.TierID,
		TierType:      ev.TierType,
		Quota:         ev.Quota,
		Units:         ev.Units,
		ExpiresAt:     ev.ExpiresAt,
	}
	if err := w.repo.CreateEntitlement(ctx, row, ev.UserAddress, ev.ServiceID); err != nil {
		return fmt.Errorf("create entitlement: %w", err)
	}

	if err := w.publisher.PublishRefresh(ctx, ev.ProviderID, ev.UserAddress, ev.ServiceID, ev); err != nil {
		// The DB write already committed; a failed publish only delays
		// cache warming until the next miss, so it is logged, not fatal.
		w.logger.Warn().Err(err).Str("entitlement_id", ev.EntitlementID).Msg("failed to publish refresh")
	}
	return nil
}
