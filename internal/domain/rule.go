package domain

import "time"

// RecipientRule is an abstract recipient selector on a notification rule. The
// resolver expands it into concrete (principal, channel, address) tuples.
type RecipientRule struct {
	Type  string `json:"type"` // user, role, group
	Value string `json:"value"`
}

const (
	RecipientTypeUser  = "user"
	RecipientTypeRole  = "role"
	RecipientTypeGroup = "group"
)

// NotificationRule is read-only configuration consumed by the planner.
// Rules are matched at plan time; a later rule update never changes an
// in-flight plan.
type NotificationRule struct {
	ID             int64
	TenantID       string
	Code           string
	EventType      string
	EntityType     string
	LifecycleState string
	ConditionExpr  string
	TemplateKey    string
	Channels       []string
	Priority       string
	RecipientRules []RecipientRule
	SLAMinutes     *int
	DedupWindow    time.Duration
	Enabled        bool
	CreatedAt      time.Time
}

const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)
