package preference

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/redact"
)

var scopeRank = map[string]int{
	domain.ScopeUser:    0,
	domain.ScopeOrgUnit: 1,
	domain.ScopeTenant:  2,
}

// CheckRequest is one (recipient, channel) preference question.
type CheckRequest struct {
	TenantID      string
	PrincipalID   string
	OrgUnitID     string
	EventCode     string
	Channel       string
	RecipientAddr string
	Priority      string
}

// CheckResult answers whether delivery is allowed now, blocked, or deferred
// until the end of quiet hours.
type CheckResult struct {
	Allowed    bool
	Reason     string
	DeferUntil *time.Time
	Frequency  domain.Frequency
}

// Evaluator resolves the preference scope hierarchy and applies the
// suppression and quiet-hours gates, in that order.
type Evaluator struct {
	prefs        repository.PreferenceStore
	suppressions repository.SuppressionStore
	logger       *zap.Logger
	now          func() time.Time
}

func NewEvaluator(prefs repository.PreferenceStore, suppressions repository.SuppressionStore, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		prefs:        prefs,
		suppressions: suppressions,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the evaluator's time source.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Check runs the gates in order; the first blocking condition wins.
func (e *Evaluator) Check(ctx context.Context, req CheckRequest) CheckResult {
	eff := e.resolve(ctx, req)

	if !eff.IsEnabled {
		return CheckResult{Allowed: false, Reason: domain.ReasonPreferenceDisabled, Frequency: eff.Frequency}
	}

	suppressed, err := e.suppressions.IsSuppressed(ctx, req.TenantID, req.Channel, req.RecipientAddr)
	if err != nil {
		// Fail open: a suppression-store outage must not halt delivery.
		e.logger.Warn("suppression check failed",
			zap.String("channel", req.Channel),
			zap.String("recipient", redact.Addr(req.RecipientAddr)),
			zap.Error(err))
	}
	if suppressed {
		return CheckResult{Allowed: false, Reason: domain.ReasonSuppressed, Frequency: eff.Frequency}
	}

	if req.Priority != domain.PriorityCritical && eff.Quiet != nil {
		status, err := IsInQuietHours(eff.Quiet, e.now())
		if err != nil {
			// Fail open per policy: treat timezone/parse failures as
			// "not in quiet hours" rather than blocking delivery.
			e.logger.Warn("quiet hours check failed",
				zap.String("principal_id", req.PrincipalID),
				zap.Error(err))
		} else if status.InQuietHours {
			endsAt := status.EndsAt
			return CheckResult{
				Allowed:    true,
				Reason:     domain.ReasonQuietHoursDeferred,
				DeferUntil: &endsAt,
				Frequency:  eff.Frequency,
			}
		}
	}

	return CheckResult{Allowed: true, Frequency: eff.Frequency}
}

// CheckBatch evaluates all requests concurrently and preserves input order
// in the output.
func (e *Evaluator) CheckBatch(ctx context.Context, reqs []CheckRequest) []CheckResult {
	results := make([]CheckResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req CheckRequest) {
			defer wg.Done()
			results[i] = e.Check(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

// resolve walks user > org_unit > tenant and falls back to the system
// default (enabled, immediate) when no row applies. A store failure also
// falls back to the default.
func (e *Evaluator) resolve(ctx context.Context, req CheckRequest) domain.EffectivePreference {
	def := domain.EffectivePreference{
		IsEnabled:    true,
		Frequency:    domain.FrequencyImmediate,
		ResolvedFrom: domain.ScopeDefault,
	}

	prefs, err := e.prefs.ListApplicable(ctx, req.TenantID, req.PrincipalID, req.OrgUnitID, req.EventCode, req.Channel)
	if err != nil {
		e.logger.Warn("preference lookup failed",
			zap.String("principal_id", req.PrincipalID), zap.Error(err))
		return def
	}
	if len(prefs) == 0 {
		return def
	}

	best := prefs[0]
	for _, p := range prefs[1:] {
		if moreSpecific(p, best) {
			best = p
		}
	}

	eff := domain.EffectivePreference{
		IsEnabled:    best.Enabled,
		Frequency:    best.Frequency,
		Quiet:        best.Quiet,
		ResolvedFrom: best.Scope,
	}
	if eff.Frequency == "" {
		eff.Frequency = domain.FrequencyImmediate
	}
	return eff
}

// moreSpecific prefers narrower scope, then rows narrowed to the exact
// event code, then to the exact channel.
func moreSpecific(a, b *domain.NotificationPreference) bool {
	ra, rb := scopeRank[a.Scope], scopeRank[b.Scope]
	if ra != rb {
		return ra < rb
	}
	if (a.EventCode != "") != (b.EventCode != "") {
		return a.EventCode != ""
	}
	if (a.Channel != "") != (b.Channel != "") {
		return a.Channel != ""
	}
	return false
}
