package preference

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
)

type fakePrefStore struct {
	prefs []*domain.NotificationPreference
	err   error
}

// ListApplicable mirrors the store's SQL narrowing: a row with an event
// code or channel only applies when it matches the request.
func (f *fakePrefStore) ListApplicable(_ context.Context, _, _, _, eventCode, channel string) ([]*domain.NotificationPreference, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.NotificationPreference
	for _, p := range f.prefs {
		if p.EventCode != "" && p.EventCode != eventCode {
			continue
		}
		if p.Channel != "" && p.Channel != channel {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type fakeSuppressionStore struct {
	suppressed bool
	err        error
}

func (f *fakeSuppressionStore) IsSuppressed(context.Context, string, string, string) (bool, error) {
	return f.suppressed, f.err
}

func newTestEvaluator(prefs *fakePrefStore, supp *fakeSuppressionStore, now time.Time) *Evaluator {
	e := NewEvaluator(prefs, supp, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func baseRequest() CheckRequest {
	return CheckRequest{
		TenantID:      "t1",
		PrincipalID:   "u1",
		OrgUnitID:     "ou1",
		EventCode:     "order.shipped",
		Channel:       "email",
		RecipientAddr: "user@example.com",
		Priority:      domain.PriorityNormal,
	}
}

func TestCheckDefaultAllows(t *testing.T) {
	e := newTestEvaluator(&fakePrefStore{}, &fakeSuppressionStore{}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if !res.Allowed {
		t.Fatalf("default must allow, got reason %q", res.Reason)
	}
	if res.Frequency != domain.FrequencyImmediate {
		t.Errorf("default frequency = %q, want immediate", res.Frequency)
	}
}

func TestCheckDisabledPreferenceBlocks(t *testing.T) {
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{Scope: domain.ScopeUser, Enabled: false, Frequency: domain.FrequencyImmediate},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if res.Allowed {
		t.Fatal("disabled preference must block")
	}
	if res.Reason != domain.ReasonPreferenceDisabled {
		t.Errorf("reason = %q, want %q", res.Reason, domain.ReasonPreferenceDisabled)
	}
}

func TestCheckSuppressionBlocks(t *testing.T) {
	e := newTestEvaluator(&fakePrefStore{}, &fakeSuppressionStore{suppressed: true}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if res.Allowed {
		t.Fatal("suppressed address must block")
	}
	if res.Reason != domain.ReasonSuppressed {
		t.Errorf("reason = %q, want %q", res.Reason, domain.ReasonSuppressed)
	}
}

func TestCheckSuppressionErrorFailsOpen(t *testing.T) {
	e := newTestEvaluator(&fakePrefStore{}, &fakeSuppressionStore{err: errors.New("store down")}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if !res.Allowed {
		t.Fatal("a suppression-store failure must fail open")
	}
}

func TestCheckQuietHoursDefers(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{
			Scope:     domain.ScopeUser,
			Enabled:   true,
			Frequency: domain.FrequencyImmediate,
			Quiet:     &domain.QuietHours{Start: "22:00", End: "07:00", Timezone: "UTC"},
		},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, now)

	res := e.Check(context.Background(), baseRequest())
	if !res.Allowed {
		t.Fatal("quiet hours defer, they do not block")
	}
	if res.Reason != domain.ReasonQuietHoursDeferred {
		t.Errorf("reason = %q, want %q", res.Reason, domain.ReasonQuietHoursDeferred)
	}
	if res.DeferUntil == nil {
		t.Fatal("DeferUntil must be set")
	}
	wantEnd := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	if !res.DeferUntil.Equal(wantEnd) {
		t.Errorf("DeferUntil = %v, want %v", res.DeferUntil, wantEnd)
	}
}

func TestCheckCriticalBypassesQuietHours(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{
			Scope:   domain.ScopeUser,
			Enabled: true,
			Quiet:   &domain.QuietHours{Start: "22:00", End: "07:00", Timezone: "UTC"},
		},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, now)

	req := baseRequest()
	req.Priority = domain.PriorityCritical
	res := e.Check(context.Background(), req)
	if !res.Allowed || res.DeferUntil != nil {
		t.Fatal("critical priority must bypass quiet hours")
	}
}

func TestCheckQuietHoursTimezoneFailureFailsOpen(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{
			Scope:   domain.ScopeUser,
			Enabled: true,
			Quiet:   &domain.QuietHours{Start: "22:00", End: "07:00", Timezone: "Not/AZone"},
		},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, now)

	res := e.Check(context.Background(), baseRequest())
	if !res.Allowed || res.DeferUntil != nil {
		t.Fatal("an unparseable timezone must fail open")
	}
}

func TestCheckPreferenceStoreFailureFallsBackToDefault(t *testing.T) {
	prefs := &fakePrefStore{err: errors.New("db down")}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if !res.Allowed {
		t.Fatal("a preference-store failure must fall back to the allowing default")
	}
}

func TestResolvePrefersNarrowerScope(t *testing.T) {
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{Scope: domain.ScopeTenant, Enabled: true, Frequency: domain.FrequencyDaily},
		{Scope: domain.ScopeUser, Enabled: false, Frequency: domain.FrequencyImmediate},
		{Scope: domain.ScopeOrgUnit, Enabled: true, Frequency: domain.FrequencyHourly},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if res.Allowed {
		t.Fatal("the user-scope row disables the channel and must win")
	}
}

func TestResolvePrefersEventNarrowedRow(t *testing.T) {
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{Scope: domain.ScopeUser, Enabled: true, Frequency: domain.FrequencyDaily},
		{Scope: domain.ScopeUser, EventCode: "order.shipped", Enabled: true, Frequency: domain.FrequencyImmediate},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, time.Now())

	res := e.Check(context.Background(), baseRequest())
	if res.Frequency != domain.FrequencyImmediate {
		t.Errorf("frequency = %q, the event-narrowed row must win", res.Frequency)
	}
}

func TestCheckBatchPreservesOrder(t *testing.T) {
	prefs := &fakePrefStore{prefs: []*domain.NotificationPreference{
		{Scope: domain.ScopeUser, Channel: "sms", Enabled: false},
	}}
	e := newTestEvaluator(prefs, &fakeSuppressionStore{}, time.Now())

	reqs := make([]CheckRequest, 20)
	for i := range reqs {
		reqs[i] = baseRequest()
		if i%2 == 1 {
			reqs[i].Channel = "sms"
		}
	}
	results := e.CheckBatch(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("got %d results, want %d", len(results), len(reqs))
	}
	for i, res := range results {
		wantAllowed := i%2 == 0
		if res.Allowed != wantAllowed {
			t.Errorf("result %d allowed = %v, want %v", i, res.Allowed, wantAllowed)
		}
	}
}
