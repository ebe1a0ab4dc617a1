package domain

import "time"

// Decision is the outcome recorded on an explain step.
type Decision string

const (
	DecisionPassed   Decision = "passed"
	DecisionBlocked  Decision = "blocked"
	DecisionDeferred Decision = "deferred"
	DecisionStaged   Decision = "staged"
)

// Explain phases, in pipeline order.
const (
	PhaseRuleMatch  = "rule_match"
	PhaseRecipients = "recipient_resolution"
	PhasePreference = "preference_check"
	PhaseDedup      = "dedup_check"
	PhaseDelivery   = "delivery"
)

// ExplainStep records one decision point in the pipeline. Planning-phase
// steps are embedded in the message metadata; delivery-phase steps are
// synthesized from delivery rows at read time.
type ExplainStep struct {
	Phase     string         `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Decision  Decision       `json:"decision"`
	Reason    string         `json:"reason,omitempty"`
}

// NotificationMessage is one (event, rule) match: "this event should notify
// these people". Immutable after planning.
type NotificationMessage struct {
	ID        string
	TenantID  string
	RuleCode  string
	EventType string
	EventID   string
	CreatedAt time.Time
	Metadata  map[string]any
	Steps     []ExplainStep
}

// ExplainTrace is the assembled decision path for one message.
type ExplainTrace struct {
	MessageID string        `json:"message_id"`
	TenantID  string        `json:"tenant_id"`
	EventType string        `json:"event_type"`
	EventID   string        `json:"event_id"`
	RuleCode  string        `json:"rule_code"`
	Steps     []ExplainStep `json:"steps"`
}
