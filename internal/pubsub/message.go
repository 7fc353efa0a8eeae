// Package pubsub implements the Pub/Sub Bridge (C4): the message envelope
// carried on a provider's channel, and the subscriber loop that applies
// Refresh/Invalidate directives to the local cache.
package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/infrapass/infrapass/internal/entitlement"
)

// Action distinguishes the two directives a provider channel carries.
type Action string

const (
	ActionInvalidate Action = "invalidate"
	ActionRefresh    Action = "refresh"
)

// EntitlementUpdate is the payload of a Refresh message: enough of the
// entitlement projection for a subscriber to reseed its cache without a
// synchronous validator hop.
type EntitlementUpdate struct {
	EntitlementID string               `json:"entitlement_id"`
	TierID        string               `json:"tier_id"`
	TierType      entitlement.TierType `json:"tier_type"`
	Quota         *int64               `json:"quota,omitempty"`
	Units         *int64               `json:"units,omitempty"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
}

// toEntitlement converts the wire update into the cached entitlement shape,
// stamping CachedAt with the supplied time so the non-decreasing invariant
// holds under the single-writer assumption.
func (u EntitlementUpdate) toEntitlement(now time.Time) entitlement.Entitlement {
	return entitlement.Entitlement{
		ID:        u.EntitlementID,
		TierID:    u.TierID,
		TierType:  u.TierType,
		Quota:     u.Quota,
		Units:     u.Units,
		ExpiresAt: u.ExpiresAt,
		CachedAt:  now,
	}
}

// Message is the envelope published on a provider's channel,
// `infrapass:{provider_id}:events`.
type Message struct {
	User        string             `json:"user"`
	Service     string             `json:"service"`
	Action      Action             `json:"action"`
	Update      *EntitlementUpdate `json:"update,omitempty"`
	TriggeredAt time.Time          `json:"triggered_at"`
}

// Validate checks the envelope is well-formed before it is published or
// applied.
func (m Message) Validate() error {
	if m.User == "" {
		return fmt.Errorf("pubsub: message missing user")
	}
	if m.Service == "" {
		return fmt.Errorf("pubsub: message missing service")
	}
	switch m.Action {
	case ActionInvalidate:
		return nil
	case ActionRefresh:
		if m.Update == nil {
			return fmt.Errorf("pubsub: refresh message missing update")
		}
		return nil
	default:
		return fmt.Errorf("pubsub: unknown action %q", m.Action)
	}
}

// ToJSON serialises the message for publication.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses a message received from the channel.
func FromJSON(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("pubsub: decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewInvalidate builds an Invalidate directive for (user, service).
func NewInvalidate(user, service string, now time.Time) Message {
	return Message{User: user, Service: service, Action: ActionInvalidate, TriggeredAt: now}
}

// NewRefresh builds a Refresh directive carrying the full entitlement
// projection, emitted by the event worker on EntitlementPurchased.
func NewRefresh(user, service string, update EntitlementUpdate, now time.Time) Message {
	return Message{User: user, Service: service, Action: ActionRefresh, Update: &update, TriggeredAt: now}
}
