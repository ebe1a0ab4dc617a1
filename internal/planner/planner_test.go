package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/preference"
	"notification-orchestrator/pkg/jobqueue"
)

type fakeRuleStore struct {
	rules []*domain.NotificationRule
}

func (f *fakeRuleStore) ListEnabledByEvent(context.Context, string, string) ([]*domain.NotificationRule, error) {
	return f.rules, nil
}

type fakeMessageStore struct {
	created   []*domain.NotificationMessage
	createErr error
}

func (f *fakeMessageStore) Create(_ context.Context, m *domain.NotificationMessage) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, m)
	return nil
}

func (f *fakeMessageStore) GetByID(context.Context, string, string) (*domain.NotificationMessage, error) {
	return nil, errors.New("not implemented")
}

type fakeDeliveryStore struct {
	created []*domain.NotificationDelivery
	queued  []string
}

func (f *fakeDeliveryStore) Create(_ context.Context, d *domain.NotificationDelivery) error {
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDeliveryStore) GetByID(context.Context, string, string) (*domain.NotificationDelivery, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDeliveryStore) ListByMessage(context.Context, string, string) ([]*domain.NotificationDelivery, error) {
	return nil, nil
}

func (f *fakeDeliveryStore) MarkQueued(_ context.Context, _, id string) error {
	f.queued = append(f.queued, id)
	return nil
}

func (f *fakeDeliveryStore) MarkSent(context.Context, string, string, string) error { return nil }

func (f *fakeDeliveryStore) MarkFailed(context.Context, string, string, string) error { return nil }

func (f *fakeDeliveryStore) IncrementAttempt(context.Context, string, string, string) (int, error) {
	return 0, nil
}

func (f *fakeDeliveryStore) ApplyCallbackStatus(context.Context, string, string, domain.DeliveryStatus, string) error {
	return nil
}

func (f *fakeDeliveryStore) ListStuck(context.Context, time.Time, int) ([]*domain.NotificationDelivery, error) {
	return nil, nil
}

type fakeDirectory struct {
	principals map[string]*domain.Principal
	byRole     map[string][]*domain.Principal
}

func (f *fakeDirectory) GetPrincipal(_ context.Context, _, id string) (*domain.Principal, error) {
	p, ok := f.principals[id]
	if !ok {
		return nil, errors.New("principal not found")
	}
	return p, nil
}

func (f *fakeDirectory) ListByRole(_ context.Context, _, role string) ([]*domain.Principal, error) {
	return f.byRole[role], nil
}

func (f *fakeDirectory) ListByGroup(context.Context, string, string) ([]*domain.Principal, error) {
	return nil, nil
}

type fakeQueue struct {
	jobs []jobqueue.Job
	opts []jobqueue.Options
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job jobqueue.Job, opts jobqueue.Options) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.opts = append(f.opts, opts)
	return nil
}

func (f *fakeQueue) Dequeue(context.Context, time.Duration) (*jobqueue.Job, error) {
	return nil, nil
}

type fakeDeduper struct {
	duplicates map[string]bool
	released   []string
}

func dedupKey(recipientID, channel string) string {
	return recipientID + "/" + channel
}

func (f *fakeDeduper) CheckAndClaim(_ context.Context, _, recipientID, _, channel string, _ time.Duration) (bool, error) {
	return !f.duplicates[dedupKey(recipientID, channel)], nil
}

func (f *fakeDeduper) Release(_ context.Context, _, recipientID, _, channel string) {
	f.released = append(f.released, dedupKey(recipientID, channel))
}

type allowAllPrefs struct{}

func (allowAllPrefs) ListApplicable(context.Context, string, string, string, string, string) ([]*domain.NotificationPreference, error) {
	return nil, nil
}

type noSuppressions struct{}

func (noSuppressions) IsSuppressed(context.Context, string, string, string) (bool, error) {
	return false, nil
}

type fixture struct {
	planner    *Planner
	rules      *fakeRuleStore
	messages   *fakeMessageStore
	deliveries *fakeDeliveryStore
	queue      *fakeQueue
	dedup      *fakeDeduper
}

func newFixture(rules []*domain.NotificationRule, dir *fakeDirectory) *fixture {
	logger := zap.NewNop()
	f := &fixture{
		rules:      &fakeRuleStore{rules: rules},
		messages:   &fakeMessageStore{},
		deliveries: &fakeDeliveryStore{},
		queue:      &fakeQueue{},
		dedup:      &fakeDeduper{duplicates: map[string]bool{}},
	}
	evaluator := preference.NewEvaluator(allowAllPrefs{}, noSuppressions{}, logger)
	resolver := NewResolver(dir, logger)
	f.planner = NewPlanner(f.rules, f.messages, f.deliveries, resolver, evaluator, f.dedup, f.queue, logger)
	return f
}

func twoOncallUsers() *fakeDirectory {
	alice := &domain.Principal{
		ID: "alice", TenantID: "t1",
		Addresses: map[string]string{"email": "alice@example.com", "sms": "+15550001111"},
	}
	bob := &domain.Principal{
		ID: "bob", TenantID: "t1",
		Addresses: map[string]string{"email": "bob@example.com", "sms": "+15550002222"},
	}
	return &fakeDirectory{
		principals: map[string]*domain.Principal{"alice": alice, "bob": bob},
		byRole:     map[string][]*domain.Principal{"oncall": {alice, bob}},
	}
}

func shipmentRule() *domain.NotificationRule {
	return &domain.NotificationRule{
		Code:           "shipment-alert",
		EventType:      "order.shipped",
		TemplateKey:    "shipment",
		Channels:       []string{"email", "sms"},
		Priority:       domain.PriorityHigh,
		RecipientRules: []domain.RecipientRule{{Type: domain.RecipientTypeRole, Value: "oncall"}},
		DedupWindow:    time.Minute,
		Enabled:        true,
	}
}

func shipmentEvent() domain.DomainEvent {
	return domain.DomainEvent{
		TenantID:  "t1",
		EventType: "order.shipped",
		EventID:   "evt-1",
		Data:      map[string]any{"region": "eu"},
	}
}

func TestPlanFansOutRecipientsAcrossChannels(t *testing.T) {
	f := newFixture([]*domain.NotificationRule{shipmentRule()}, twoOncallUsers())

	msgs, err := f.planner.Plan(context.Background(), shipmentEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if len(f.deliveries.created) != 4 {
		t.Fatalf("got %d deliveries, want 2 recipients x 2 channels = 4", len(f.deliveries.created))
	}
	if len(f.queue.jobs) != 4 {
		t.Fatalf("got %d jobs, want 4", len(f.queue.jobs))
	}
	if len(f.deliveries.queued) != 4 {
		t.Fatalf("got %d queued marks, want 4", len(f.deliveries.queued))
	}
	for _, o := range f.queue.opts {
		if o.Priority != "high" {
			t.Errorf("job priority = %q, want high", o.Priority)
		}
	}

	for _, d := range f.deliveries.created {
		var job domain.DeliveryJob
		if err := json.Unmarshal(d.JobPayload, &job); err != nil {
			t.Fatalf("delivery %s payload: %v", d.ID, err)
		}
		if job.EventCode != "order.shipped" || job.DeliveryID != d.ID {
			t.Errorf("stored payload = %+v", job)
		}
	}

	msg := f.messages.created[0]
	if msg.RuleCode != "shipment-alert" || msg.EventID != "evt-1" {
		t.Errorf("message misfiled: %+v", msg)
	}
	if msg.Steps[0].Phase != domain.PhaseRuleMatch || msg.Steps[0].Decision != domain.DecisionPassed {
		t.Errorf("first step = %+v, want a passed rule_match", msg.Steps[0])
	}
}

func TestPlanRecordsMissingAddressWithoutDelivery(t *testing.T) {
	dir := twoOncallUsers()
	delete(dir.principals["bob"].Addresses, "sms")

	f := newFixture([]*domain.NotificationRule{shipmentRule()}, dir)

	if _, err := f.planner.Plan(context.Background(), shipmentEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.deliveries.created) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(f.deliveries.created))
	}

	var blocked *domain.ExplainStep
	for i, s := range f.messages.created[0].Steps {
		if s.Phase == domain.PhaseRecipients && s.Decision == domain.DecisionBlocked {
			blocked = &f.messages.created[0].Steps[i]
		}
	}
	if blocked == nil {
		t.Fatal("expected a blocked recipient_resolution step")
	}
	if blocked.Reason != domain.ReasonNoAddress {
		t.Errorf("reason = %q, want %q", blocked.Reason, domain.ReasonNoAddress)
	}
}

func TestPlanSuppressesDuplicatesEntirely(t *testing.T) {
	f := newFixture([]*domain.NotificationRule{shipmentRule()}, twoOncallUsers())
	f.dedup.duplicates[dedupKey("alice", "email")] = true

	if _, err := f.planner.Plan(context.Background(), shipmentEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.deliveries.created) != 3 {
		t.Fatalf("got %d deliveries, want 3 (one pair deduped)", len(f.deliveries.created))
	}
	if len(f.queue.jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(f.queue.jobs))
	}

	found := false
	for _, s := range f.messages.created[0].Steps {
		if s.Phase == domain.PhaseDedup && s.Decision == domain.DecisionBlocked {
			if s.Reason != domain.ReasonDedupSuppressed {
				t.Errorf("reason = %q, want %q", s.Reason, domain.ReasonDedupSuppressed)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected a blocked dedup_check step")
	}
}

func TestPlanIsolatesFailingRules(t *testing.T) {
	broken := shipmentRule()
	broken.Code = "broken-rule"
	broken.ConditionExpr = "data.region <> eu" // unsupported operator

	f := newFixture([]*domain.NotificationRule{broken, shipmentRule()}, twoOncallUsers())

	msgs, err := f.planner.Plan(context.Background(), shipmentEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want the healthy rule to plan despite the broken one", len(msgs))
	}
	if msgs[0].RuleCode != "shipment-alert" {
		t.Errorf("planned rule = %q", msgs[0].RuleCode)
	}
}

func TestPlanSkipsNonMatchingCondition(t *testing.T) {
	rule := shipmentRule()
	rule.ConditionExpr = `data.region == "us"`

	f := newFixture([]*domain.NotificationRule{rule}, twoOncallUsers())

	msgs, err := f.planner.Plan(context.Background(), shipmentEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0 for a non-matching condition", len(msgs))
	}
	if len(f.deliveries.created) != 0 {
		t.Fatal("no deliveries expected")
	}
}

func TestPlanReleasesClaimsWhenPersistFails(t *testing.T) {
	f := newFixture([]*domain.NotificationRule{shipmentRule()}, twoOncallUsers())
	f.messages.createErr = fmt.Errorf("db down")

	msgs, err := f.planner.Plan(context.Background(), shipmentEvent())
	if err != nil {
		t.Fatalf("plan isolates rule failures: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0", len(msgs))
	}
	if len(f.dedup.released) != 4 {
		t.Errorf("released %d claims, want 4", len(f.dedup.released))
	}
	if len(f.queue.jobs) != 0 {
		t.Fatal("no jobs may be enqueued when the message row failed")
	}
}
