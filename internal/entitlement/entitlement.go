// Package entitlement defines the dataplane's sole authoritative input: the
// cached entitlement projection and the predicate that decides whether a
// request is allowed to proceed.
package entitlement

import "time"

// TierType identifies which counter, if any, governs a request and how
// Allowed evaluates. Value 1 is reserved on the protocol side and rejected
// at ingestion; it never appears on the hot path.
type TierType int

const (
	// TierSubscription grants access until ExpiresAt, no counter involved.
	TierSubscription TierType = 0
	// tierReserved (1) is declared upstream but not handled here.
	tierReserved TierType = 1
	// TierQuota grants a bounded number of units within a time window.
	TierQuota TierType = 2
	// TierPayPerRequest meters consumption against a running unit balance.
	TierPayPerRequest TierType = 3
)

// Valid reports whether t is a tier type the hot path knows how to enforce.
func (t TierType) Valid() bool {
	switch t {
	case TierSubscription, TierQuota, TierPayPerRequest:
		return true
	default:
		return false
	}
}

// HasCounter reports whether t is backed by a separate counter key.
func (t TierType) HasCounter() bool {
	return t == TierQuota || t == TierPayPerRequest
}

// Entitlement is the cached projection described in the data model: the
// dataplane never reads the relational row directly, only this shape.
type Entitlement struct {
	ID        string     `json:"id"`
	TierID    string     `json:"tier_id"`
	TierType  TierType   `json:"tier_type"`
	Quota     *int64     `json:"quota,omitempty"`
	Units     *int64     `json:"units,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CachedAt  time.Time  `json:"cached_at"`
}

// Allowed evaluates the tier-specific predicate from the data model:
//
//	tier 0 -> expires_at > now
//	tier 2 -> quota > 0 AND expires_at > now
//	tier 3 -> units > 0
//	otherwise -> false
func (e Entitlement) Allowed(now time.Time) bool {
	switch e.TierType {
	case TierSubscription:
		return e.ExpiresAt != nil && e.ExpiresAt.After(now)
	case TierQuota:
		return e.Quota != nil && *e.Quota > 0 && e.ExpiresAt != nil && e.ExpiresAt.After(now)
	case TierPayPerRequest:
		return e.Units != nil && *e.Units > 0
	default:
		return false
	}
}

// TTL computes the cache TTL for this entitlement: the remaining time to
// ExpiresAt if set, clamped to zero, else the supplied default.
func (e Entitlement) TTL(now time.Time, def time.Duration) time.Duration {
	if e.ExpiresAt == nil {
		return def
	}
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SeedCounter returns the initial counter value for tier types that carry
// one, and whether a counter applies at all.
func (e Entitlement) SeedCounter() (value int64, ok bool) {
	switch e.TierType {
	case TierQuota:
		if e.Quota != nil {
			return *e.Quota, true
		}
		return 0, false
	case TierPayPerRequest:
		if e.Units != nil {
			return *e.Units, true
		}
		return 0, false
	default:
		return 0, false
	}
}
