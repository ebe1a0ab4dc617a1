package domain

import "time"

// Frequency controls whether a delivery goes out immediately or is staged
// into a digest tier.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
)

// Preference scopes, most specific first.
const (
	ScopeUser    = "user"
	ScopeOrgUnit = "org_unit"
	ScopeTenant  = "tenant"
	ScopeDefault = "default"
)

// QuietHours is a local-time window during which non-critical delivery is
// deferred. Start/End are "HH:MM"; the window wraps midnight when start > end.
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// NotificationPreference is one persisted preference row at some scope.
// EventCode and Channel are optional narrowing filters (empty = any).
type NotificationPreference struct {
	ID        int64
	TenantID  string
	Scope     string
	ScopeID   string
	EventCode string
	Channel   string
	Enabled   bool
	Frequency Frequency
	Quiet     *QuietHours
	CreatedAt time.Time
}

// EffectivePreference is the computed result of resolving the scope
// hierarchy (user > org_unit > tenant > system default). Never persisted.
type EffectivePreference struct {
	IsEnabled    bool
	Frequency    Frequency
	Quiet        *QuietHours
	ResolvedFrom string
}

// Suppression is one entry on the per-channel suppression list.
type Suppression struct {
	ID        int64
	TenantID  string
	Channel   string
	Address   string
	Reason    string
	CreatedAt time.Time
}
