package entitlement

import (
	"testing"
	"time"
)

func ptr(v int64) *int64 { return &v }

func TestTierTypeValid(t *testing.T) {
	cases := map[TierType]bool{
		TierSubscription:  true,
		tierReserved:      false,
		TierQuota:         true,
		TierPayPerRequest: true,
		TierType(7):       false,
	}
	for tier, want := range cases {
		if got := tier.Valid(); got != want {
			t.Errorf("TierType(%d).Valid() = %v, want %v", tier, got, want)
		}
	}
}

func TestTierTypeHasCounter(t *testing.T) {
	if TierSubscription.HasCounter() {
		t.Error("subscription tier must not have a counter")
	}
	if !TierQuota.HasCounter() {
		t.Error("quota tier must have a counter")
	}
	if !TierPayPerRequest.HasCounter() {
		t.Error("pay-per-request tier must have a counter")
	}
}

func TestAllowedSubscription(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	allowed := Entitlement{TierType: TierSubscription, ExpiresAt: &future}
	if !allowed.Allowed(now) {
		t.Error("subscription with future expiry should be allowed")
	}

	expired := Entitlement{TierType: TierSubscription, ExpiresAt: &past}
	if expired.Allowed(now) {
		t.Error("subscription with past expiry should be denied")
	}

	noExpiry := Entitlement{TierType: TierSubscription}
	if noExpiry.Allowed(now) {
		t.Error("subscription with nil expiry should be denied")
	}
}

func TestAllowedQuota(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)

	positive := Entitlement{TierType: TierQuota, Quota: ptr(5), ExpiresAt: &future}
	if !positive.Allowed(now) {
		t.Error("quota tier with remaining units and future expiry should be allowed")
	}

	zero := Entitlement{TierType: TierQuota, Quota: ptr(0), ExpiresAt: &future}
	if zero.Allowed(now) {
		t.Error("quota tier with zero remaining units should be denied")
	}

	negative := Entitlement{TierType: TierQuota, Quota: ptr(-1), ExpiresAt: &future}
	if negative.Allowed(now) {
		t.Error("quota tier with negative remaining units should be denied")
	}

	expired := Entitlement{TierType: TierQuota, Quota: ptr(5), ExpiresAt: &now}
	if expired.Allowed(now.Add(time.Second)) {
		t.Error("quota tier past expiry should be denied regardless of quota")
	}
}

func TestAllowedPayPerRequest(t *testing.T) {
	now := time.Now()

	positive := Entitlement{TierType: TierPayPerRequest, Units: ptr(1)}
	if !positive.Allowed(now) {
		t.Error("pay-per-request tier with remaining units should be allowed")
	}

	zero := Entitlement{TierType: TierPayPerRequest, Units: ptr(0)}
	if zero.Allowed(now) {
		t.Error("pay-per-request tier with zero units should be denied")
	}

	nilUnits := Entitlement{TierType: TierPayPerRequest}
	if nilUnits.Allowed(now) {
		t.Error("pay-per-request tier with nil units should be denied")
	}
}

func TestAllowedUnknownTier(t *testing.T) {
	e := Entitlement{TierType: tierReserved}
	if e.Allowed(time.Now()) {
		t.Error("reserved/unknown tier type should never be allowed")
	}
}

func TestTTL(t *testing.T) {
	now := time.Now()
	def := 15 * time.Second

	noExpiry := Entitlement{}
	if got := noExpiry.TTL(now, def); got != def {
		t.Errorf("TTL with nil expiry = %v, want default %v", got, def)
	}

	future := now.Add(30 * time.Second)
	withExpiry := Entitlement{ExpiresAt: &future}
	got := withExpiry.TTL(now, def)
	if got <= 0 || got > 30*time.Second {
		t.Errorf("TTL with future expiry = %v, want ~30s", got)
	}

	past := now.Add(-time.Second)
	expired := Entitlement{ExpiresAt: &past}
	if got := expired.TTL(now, def); got != 0 {
		t.Errorf("TTL with past expiry = %v, want 0 (clamped)", got)
	}
}

func TestSeedCounter(t *testing.T) {
	if _, ok := (Entitlement{TierType: TierSubscription}).SeedCounter(); ok {
		t.Error("subscription tier should not seed a counter")
	}

	q := Entitlement{TierType: TierQuota, Quota: ptr(42)}
	v, ok := q.SeedCounter()
	if !ok || v != 42 {
		t.Errorf("quota SeedCounter() = (%d, %v), want (42, true)", v, ok)
	}

	qNil := Entitlement{TierType: TierQuota}
	if _, ok := qNil.SeedCounter(); ok {
		t.Error("quota tier with nil Quota should not seed a counter")
	}

	p := Entitlement{TierType: TierPayPerRequest, Units: ptr(7)}
	v, ok = p.SeedCounter()
	if !ok || v != 7 {
		t.Errorf("pay-per-request SeedCounter() = (%d, %v), want (7, true)", v, ok)
	}
}
