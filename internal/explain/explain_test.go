package explain

import (
	"context"
	"testing"
	"time"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/xerrors"
)

type fakeMessages struct {
	msg *domain.NotificationMessage
}

func (f *fakeMessages) Create(context.Context, *domain.NotificationMessage) error { return nil }

func (f *fakeMessages) GetByID(_ context.Context, _, id string) (*domain.NotificationMessage, error) {
	if f.msg == nil || f.msg.ID != id {
		return nil, xerrors.ErrNotFound
	}
	return f.msg, nil
}

type fakeDeliveries struct {
	rows []*domain.NotificationDelivery
}

func (f *fakeDeliveries) Create(context.Context, *domain.NotificationDelivery) error { return nil }
func (f *fakeDeliveries) GetByID(context.Context, string, string) (*domain.NotificationDelivery, error) {
	return nil, xerrors.ErrNotFound
}
func (f *fakeDeliveries) ListByMessage(context.Context, string, string) ([]*domain.NotificationDelivery, error) {
	return f.rows, nil
}
func (f *fakeDeliveries) MarkQueued(context.Context, string, string) error          { return nil }
func (f *fakeDeliveries) MarkSent(context.Context, string, string, string) error    { return nil }
func (f *fakeDeliveries) MarkFailed(context.Context, string, string, string) error  { return nil }
func (f *fakeDeliveries) IncrementAttempt(context.Context, string, string, string) (int, error) {
	return 0, nil
}
func (f *fakeDeliveries) ApplyCallbackStatus(context.Context, string, string, domain.DeliveryStatus, string) error {
	return nil
}
func (f *fakeDeliveries) ListStuck(context.Context, time.Time, int) ([]*domain.NotificationDelivery, error) {
	return nil, nil
}

func TestTraceCombinesPlanningAndDeliverySteps(t *testing.T) {
	planned := []domain.ExplainStep{
		{Phase: domain.PhaseRuleMatch, Decision: domain.DecisionPassed},
		{Phase: domain.PhasePreference, Decision: domain.DecisionBlocked, Reason: domain.ReasonSuppressed},
	}
	msgs := &fakeMessages{msg: &domain.NotificationMessage{
		ID:        "m1",
		TenantID:  "t1",
		RuleCode:  "shipment-alert",
		EventType: "order.shipped",
		EventID:   "evt-1",
		Steps:     planned,
	}}

	failReason := "gateway rejected"
	deliveries := &fakeDeliveries{rows: []*domain.NotificationDelivery{
		{ID: "d1", Channel: "email", Status: domain.DeliverySent, RecipientAddr: "alice@example.com"},
		{ID: "d2", Channel: "sms", Status: domain.DeliveryFailed, LastError: &failReason, RecipientAddr: "+15550001111"},
		{ID: "d3", Channel: "inapp", Status: domain.DeliveryQueued, RecipientAddr: "alice"},
	}}

	svc := NewService(msgs, deliveries)
	trace, err := svc.Trace(context.Background(), "t1", "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trace.RuleCode != "shipment-alert" || trace.EventID != "evt-1" {
		t.Errorf("trace header = %+v", trace)
	}
	if len(trace.Steps) != 5 {
		t.Fatalf("got %d steps, want 2 planning + 3 delivery", len(trace.Steps))
	}
	for i, want := range planned {
		if trace.Steps[i].Phase != want.Phase || trace.Steps[i].Decision != want.Decision {
			t.Errorf("planning step %d changed: %+v", i, trace.Steps[i])
		}
	}

	byID := map[string]domain.ExplainStep{}
	for _, s := range trace.Steps[2:] {
		if s.Phase != domain.PhaseDelivery {
			t.Errorf("trailing step phase = %q", s.Phase)
		}
		byID[s.Input["delivery_id"].(string)] = s
	}

	if byID["d1"].Decision != domain.DecisionPassed {
		t.Errorf("sent delivery decision = %q, want passed", byID["d1"].Decision)
	}
	if byID["d2"].Decision != domain.DecisionBlocked || byID["d2"].Reason != failReason {
		t.Errorf("failed delivery step = %+v", byID["d2"])
	}
	if byID["d3"].Decision != domain.DecisionDeferred {
		t.Errorf("queued delivery decision = %q, want deferred", byID["d3"].Decision)
	}
}

func TestTraceMarksDigestStagedDeliveries(t *testing.T) {
	msgs := &fakeMessages{msg: &domain.NotificationMessage{ID: "m1", TenantID: "t1"}}
	staged := domain.ReasonDigestStaged
	deliveries := &fakeDeliveries{rows: []*domain.NotificationDelivery{
		{ID: "d1", Channel: "email", Status: domain.DeliveryFailed, LastError: &staged},
	}}

	trace, err := NewService(msgs, deliveries).Trace(context.Background(), "t1", "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step := trace.Steps[0]
	if step.Decision != domain.DecisionStaged {
		t.Errorf("decision = %q, want staged rather than blocked", step.Decision)
	}
	if step.Reason != domain.ReasonDigestStaged {
		t.Errorf("reason = %q", step.Reason)
	}
}

func TestTraceRedactsRecipientAddresses(t *testing.T) {
	msgs := &fakeMessages{msg: &domain.NotificationMessage{ID: "m1", TenantID: "t1"}}
	deliveries := &fakeDeliveries{rows: []*domain.NotificationDelivery{
		{ID: "d1", Channel: "email", Status: domain.DeliverySent, RecipientAddr: "alice@example.com"},
	}}

	trace, err := NewService(msgs, deliveries).Trace(context.Background(), "t1", "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr := trace.Steps[0].Input["recipient"].(string)
	if addr == "alice@example.com" {
		t.Fatal("recipient address must be redacted in traces")
	}
}

func TestTraceUnknownMessage(t *testing.T) {
	svc := NewService(&fakeMessages{}, &fakeDeliveries{})
	if _, err := svc.Trace(context.Background(), "t1", "missing"); err == nil {
		t.Fatal("expected an error for an unknown message")
	}
}
