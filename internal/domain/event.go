package domain

// DomainEvent is the inbound trigger for notification planning. It is
// produced elsewhere in the platform and reaches the planner either through
// the Kafka event topic or a plan-notification job.
type DomainEvent struct {
	TenantID   string         `json:"tenant_id"`
	EventType  string         `json:"event_type"`
	EventID    string         `json:"event_id"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}
