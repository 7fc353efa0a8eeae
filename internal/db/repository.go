package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infrapass/infrapass/internal/entitlement"
)

// ErrNoEntitlement is returned when no valid entitlement row exists for a
// (user, service) pair — the validator's 403 "deny" case.
var ErrNoEntitlement = errors.New("db: no valid entitlement")

// EntitlementRow is the relational projection backing a /validate response.
type EntitlementRow struct {
	EntitlementID string
	TierID        string
	TierType      entitlement.TierType
	Quota         *int64
	Units         *int64
	ExpiresAt     *time.Time
}

// Repository implements the read/write operations C2 and C3 perform
// against the relational store.
type Repository struct {
	pool *Pool
}

// NewRepository wraps an open Pool.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

// FindValidEntitlement returns the newest non-expired entitlement row for
// (user, service) whose tier is still active; for tier=2, rows whose
// remaining quota covers cost are preferred; ties broken by the latest
// created_at.
func (r *Repository) FindValidEntitlement(ctx context.Context, userAddress, serviceID string, requestCost int64) (*EntitlementRow, error) {
	const q = `
SELECT e.entitlement_id, e.tier_id, e.tier_type, e.quota, e.units, e.expires_at
FROM entitlements e
JOIN tiers t ON t.tier_id = e.tier_id
WHERE e.user_address = $1
  AND e.service_id = $2
  AND (e.expires_at IS NULL OR e.expires_at > now())
  AND t.active
ORDER BY (e.tier_type = 2 AND e.quota >= $3) DESC, e.created_at DESC
LIMIT 1
`
	row := r.poolQueryRow(ctx, q, userAddress, serviceID, requestCost)

	var rec EntitlementRow
	var tierType int16
	err := row.Scan(&rec.EntitlementID, &rec.TierID, &tierType, &rec.Quota, &rec.Units, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoEntitlement
	}
	if err != nil {
		return nil, fmt.Errorf("db: find valid entitlement: %w", err)
	}
	rec.TierType = entitlement.TierType(tierType)
	return &rec, nil
}

// RecordUsage appends an immutable usage row. This endpoint does not
// guarantee idempotency; retries may over-record and the settlement
// relayer reconciles against ledger state.
func (r *Repository) RecordUsage(ctx context.Context, userAddress, entitlementID string, cost int64) error {
	const q = `INSERT INTO usage_records (user_address, entitlement_id, cost, recorded_at) VALUES ($1, $2, $3, now())`
	_, err := r.pool.pool.Exec(ctx, q, userAddress, entitlementID, cost)
	if err != nil {
		return fmt.Errorf("db: record usage: %w", err)
	}
	return nil
}

// UpsertProvider applies a ProviderRegistered event.
func (r *Repository) UpsertProvider(ctx context.Context, profileID, providerAddress, name, webhookURL, webhookSecret string) error {
	const q = `
INSERT INTO providers (profile_id, provider_address, name, webhook_url, webhook_secret, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (profile_id) DO UPDATE SET
  provider_address = EXCLUDED.provider_address,
  name = EXCLUDED.name,
  webhook_url = EXCLUDED.webhook_url,
  webhook_secret = EXCLUDED.webhook_secret,
  updated_at = now()
`
	_, err := r.pool.pool.Exec(ctx, q, profileID, providerAddress, name, webhookURL, webhookSecret)
	if err != nil {
		return fmt.Errorf("db: upsert provider: %w", err)
	}
	return nil
}

// UpsertService applies a ServiceCreated or ServiceUpdated event.
func (r *Repository) UpsertService(ctx context.Context, serviceID, providerID, name string) error {
	const q = `
INSERT INTO services (service_id, provider_id, name, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())
ON CONFLICT (service_id) DO UPDATE SET
  name = EXCLUDED.name,
  updated_at = now()
`
	_, err := r.pool.pool.Exec(ctx, q, serviceID, providerID, name)
	if err != nil {
		return fmt.Errorf("db: upsert service: %w", err)
	}
	return nil
}

// UpsertTier applies a TierCreated or TierPriceUpdated event.
func (r *Repository) UpsertTier(ctx context.Context, tierID, serviceID string, tierType entitlement.TierType, price, durationMs, quotaLimit int64) error {
	const q = `
INSERT INTO tiers (tier_id, service_id, tier_type, price, duration_ms, quota_limit, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
ON CONFLICT (tier_id) DO UPDATE SET
  price = EXCLUDED.price,
  duration_ms = EXCLUDED.duration_ms,
  quota_limit = EXCLUDED.quota_limit,
  updated_at = now()
`
	_, err := r.pool.pool.Exec(ctx, q, tierID, serviceID, int16(tierType), price, durationMs, quotaLimit)
	if err != nil {
		return fmt.Errorf("db: upsert tier: %w", err)
	}
	return nil
}

// SetTierActive applies TierDeactivated (active=false) or TierReactivated
// (active=true).
func (r *Repository) SetTierActive(ctx context.Context, tierID string, active bool) error {
	const q = `UPDATE tiers SET active = $2, updated_at = now() WHERE tier_id = $1`
	_, err := r.pool.pool.Exec(ctx, q, tierID, active)
	if err != nil {
		return fmt.Errorf("db: set tier active: %w", err)
	}
	return nil
}

// CreateEntitlement applies an EntitlementPurchased event. Idempotent on
// entitlement_id: a replayed purchase event is a no-op rather than a
// duplicate row.
func (r *Repository) CreateEntitlement(ctx context.Context, row EntitlementRow, userAddress, serviceID string) error {
	const q = `
INSERT INTO entitlements (entitlement_id, user_address, service_id, tier_id, tier_type, quota, units, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (entitlement_id) DO NOTHING
`
	_, err := r.pool.pool.Exec(ctx, q, row.EntitlementID, userAddress, serviceID, row.TierID, int16(row.TierType), row.Quota, row.Units, row.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db: create entitlement: %w", err)
	}
	return nil
}

// RecordBlockchainEvent appends an event row for audit/replay bookkeeping.
// refID is whichever of entitlement_id/tier_id/service_id/profile_id
// applies to eventType; duplicate-safety is delegated to the unique index
// on (event_type, ref_id) described in the schema.
func (r *Repository) RecordBlockchainEvent(ctx context.Context, checkpointNumber uint64, transactionDigest, eventType, refID string) error {
	const q = `
INSERT INTO blockchain_events (checkpoint_number, transaction_digest, event_type, ref_id, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (event_type, ref_id) DO NOTHING
`
	_, err := r.pool.pool.Exec(ctx, q, checkpointNumber, transactionDigest, eventType, refID)
	if err != nil {
		return fmt.Errorf("db: record blockchain event: %w", err)
	}
	return nil
}

func (r *Repository) poolQueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return r.pool.pool.QueryRow(ctx, sql, args...)
}
