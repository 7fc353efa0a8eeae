package eventworker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/infrapass/infrapass/internal/alerting"
	"github.com/infrapass/infrapass/internal/db"
	"github.com/infrapass/infrapass/internal/entitlement"
)

type fakeRepo struct {
	upsertProviderCalls int
	upsertServiceCalls  int
	upsertTierCalls     int
	setTierActiveCalls  int
	createEntCalls      int
	recordEventCalls    int

	createEntErr error
	failAlways   bool
}

func (f *fakeRepo) UpsertProvider(ctx context.Context, profileID, providerAddress, name, webhookURL, webhookSecret string) error {
	f.upsertProviderCalls++
	if f.failAlways {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeRepo) UpsertService(ctx context.Context, serviceID, providerID, name string) error {
	f.upsertServiceCalls++
	return nil
}

func (f *fakeRepo) UpsertTier(ctx context.Context, tierID, serviceID string, tierType entitlement.TierType, price, durationMs, quotaLimit int64) error {
	f.upsertTierCalls++
	return nil
}

func (f *fakeRepo) SetTierActive(ctx context.Context, tierID string, active bool) error {
	f.setTierActiveCalls++
	return nil
}

func (f *fakeRepo) CreateEntitlement(ctx context.Context, row db.EntitlementRow, userAddress, serviceID string) error {
	f.createEntCalls++
	return f.createEntErr
}

func (f *fakeRepo) RecordBlockchainEvent(ctx context.Context, checkpointNumber uint64, transactionDigest, eventType, refID string) error {
	f.recordEventCalls++
	return nil
}

type fakePublisher struct {
	calls int
	err   error
}

func (p *fakePublisher) PublishRefresh(ctx context.Context, providerID, userAddress, serviceID string, ev Event) error {
	p.calls++
	return p.err
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testAlerter() *alerting.Client {
	return alerting.New(alerting.Config{Enabled: false}, testLogger())
}

func TestHandleServiceCreatedUpsertsService(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWorker(repo, &fakePublisher{}, testAlerter(), testLogger(), 3)

	err := w.handle(context.Background(), Event{Type: EventServiceCreated, ServiceID: "svc-1", ProviderID: "prov-1"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if repo.upsertServiceCalls != 1 {
		t.Errorf("upsertServiceCalls = %d, want 1", repo.upsertServiceCalls)
	}
	if repo.recordEventCalls != 1 {
		t.Errorf("recordEventCalls = %d, want 1 (non-empty refID)", repo.recordEventCalls)
	}
}

func TestHandlePurchaseCreatesEntitlementAndPublishes(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	w := NewWorker(repo, pub, testAlerter(), testLogger(), 3)

	ev := Event{
		Type:          EventEntitlementPurchased,
		EntitlementID: "ent-1",
		UserAddress:   "0xA",
		ServiceID:     "svc-1",
		ProviderID:    "prov-1",
		TierID:        "tier-1",
	}
	if err := w.handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if repo.createEntCalls != 1 {
		t.Errorf("createEntCalls = %d, want 1", repo.createEntCalls)
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", pub.calls)
	}
}

func TestHandlePurchasePublishFailureDoesNotFailEvent(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{err: errors.New("pubsub down")}
	w := NewWorker(repo, pub, testAlerter(), testLogger(), 3)

	ev := Event{Type: EventEntitlementPurchased, EntitlementID: "ent-1", UserAddress: "0xA", ServiceID: "svc-1"}
	if err := w.handle(context.Background(), ev); err != nil {
		t.Fatalf("handle should succeed even if publish fails (DB write already committed): %v", err)
	}
	if repo.createEntCalls != 1 {
		t.Errorf("createEntCalls = %d, want 1", repo.createEntCalls)
	}
}

func TestHandleUnknownEventType(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWorker(repo, &fakePublisher{}, testAlerter(), testLogger(), 3)

	if err := w.handle(context.Background(), Event{Type: "Bogus"}); err == nil {
		t.Error("unknown event type should return an error")
	}
}

func TestRunNeverHaltsOnSingleFailure(t *testing.T) {
	repo := &fakeRepo{failAlways: true}
	w := NewWorker(repo, &fakePublisher{}, testAlerter(), testLogger(), 100)

	ch := make(chan Event, 2)
	ch <- Event{Type: EventProviderRegistered, ProfileID: "p1"}
	ch <- Event{Type: EventProviderRegistered, ProfileID: "p2"}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}

	if repo.upsertProviderCalls != 2 {
		t.Errorf("upsertProviderCalls = %d, want 2 (both events attempted despite failures)", repo.upsertProviderCalls)
	}
}
