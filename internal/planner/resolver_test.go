package planner

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
)

func TestResolveExpandsEachPrincipalOnce(t *testing.T) {
	dir := twoOncallUsers()
	r := NewResolver(dir, zap.NewNop())

	// alice is reachable both directly and through the role.
	rules := []domain.RecipientRule{
		{Type: domain.RecipientTypeUser, Value: "alice"},
		{Type: domain.RecipientTypeRole, Value: "oncall"},
	}
	res, err := r.Resolve(context.Background(), "t1", rules, []string{"email"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Recipients) != 2 {
		t.Fatalf("got %d recipients, want alice and bob once each", len(res.Recipients))
	}
}

func TestResolveInAppDefaultsToPrincipalID(t *testing.T) {
	dir := twoOncallUsers()
	r := NewResolver(dir, zap.NewNop())

	rules := []domain.RecipientRule{{Type: domain.RecipientTypeUser, Value: "alice"}}
	res, err := r.Resolve(context.Background(), "t1", rules, []string{"inapp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Recipients) != 1 {
		t.Fatalf("got %d recipients, want 1", len(res.Recipients))
	}
	if res.Recipients[0].Address != "alice" {
		t.Errorf("inapp address = %q, want the principal id", res.Recipients[0].Address)
	}
}

func TestResolveMissingAddressBecomesBlockedStep(t *testing.T) {
	dir := twoOncallUsers()
	delete(dir.principals["alice"].Addresses, "sms")
	r := NewResolver(dir, zap.NewNop())

	rules := []domain.RecipientRule{{Type: domain.RecipientTypeUser, Value: "alice"}}
	res, err := r.Resolve(context.Background(), "t1", rules, []string{"email", "sms"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Recipients) != 1 {
		t.Fatalf("got %d recipients, want only the email tuple", len(res.Recipients))
	}
	if len(res.Steps) != 1 {
		t.Fatalf("got %d steps, want 1 blocked step", len(res.Steps))
	}
	step := res.Steps[0]
	if step.Phase != domain.PhaseRecipients || step.Decision != domain.DecisionBlocked || step.Reason != domain.ReasonNoAddress {
		t.Errorf("step = %+v", step)
	}
}

func TestResolveUnknownRuleTypeSkipped(t *testing.T) {
	r := NewResolver(twoOncallUsers(), zap.NewNop())

	rules := []domain.RecipientRule{{Type: "webhook", Value: "x"}}
	res, err := r.Resolve(context.Background(), "t1", rules, []string{"email"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Recipients) != 0 {
		t.Fatal("an unknown rule type resolves to nobody")
	}
}
