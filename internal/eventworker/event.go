// Package eventworker implements the Event Worker (C3): a listener that
// consumes an ordered ledger event stream and a worker that applies each
// event to the relational store, publishing a cache Refresh on purchase.
package eventworker

import (
	"time"

	"github.com/infrapass/infrapass/internal/entitlement"
)

// EventType names one of the eight protocol events C3 understands.
type EventType string

const (
	EventProviderRegistered   EventType = "ProviderRegistered"
	EventServiceCreated       EventType = "ServiceCreated"
	EventServiceUpdated       EventType = "ServiceUpdated"
	EventTierCreated          EventType = "TierCreated"
	EventTierPriceUpdated     EventType = "TierPriceUpdated"
	EventTierDeactivated      EventType = "TierDeactivated"
	EventTierReactivated      EventType = "TierReactivated"
	EventEntitlementPurchased EventType = "EntitlementPurchased"
)

// Event is the flattened, Go-native shape of the ledger's tagged protocol
// event union. Only the fields relevant to Type are populated; this avoids
// eight near-identical structs while keeping Apply a plain switch.
type Event struct {
	Type              EventType
	CheckpointNumber  uint64
	TransactionDigest string

	// ProviderRegistered
	ProfileID       string
	ProviderAddress string
	Name            string
	WebhookURL      string
	WebhookSecret   string

	// ServiceCreated / ServiceUpdated
	ServiceID  string
	ProviderID string

	// TierCreated / TierPriceUpdated / TierDeactivated / TierReactivated
	TierID     string
	TierType   entitlement.TierType
	Price      int64
	DurationMs int64
	QuotaLimit int64

	// EntitlementPurchased
	EntitlementID string
	UserAddress   string
	Quota         *int64
	Units         *int64
	ExpiresAt     *time.Time
}

// refID returns the primary identifier RecordBlockchainEvent dedups on.
func (e Event) refID() string {
	switch e.Type {
	case EventProviderRegistered:
		return e.ProfileID
	case EventServiceCreated, EventServiceUpdated:
		return e.ServiceID
	case EventTierCreated, EventTierPriceUpdated, EventTierDeactivated, EventTierReactivated:
		return e.TierID
	case EventEntitlementPurchased:
		return e.EntitlementID
	default:
		return ""
	}
}
