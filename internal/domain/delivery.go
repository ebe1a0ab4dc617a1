package domain

import "time"

// DeliveryStatus is the state machine of a single delivery:
// pending → queued → {sent|delivered} | failed.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ErrorCategory classifies a provider failure and drives the retry/DLQ
// decision. Only transient and rate_limit are retryable.
type ErrorCategory string

const (
	ErrTransient ErrorCategory = "transient"
	ErrPermanent ErrorCategory = "permanent"
	ErrAuth      ErrorCategory = "auth"
	ErrRateLimit ErrorCategory = "rate_limit"
)

// Retryable reports whether a failure with this category should be
// re-attempted rather than dead-lettered.
func (c ErrorCategory) Retryable() bool {
	return c == ErrTransient || c == ErrRateLimit
}

// Soft block reasons recorded on deliveries that never reach a provider.
const (
	ReasonPreferenceDisabled = "preference_disabled"
	ReasonSuppressed         = "suppressed"
	ReasonQuietHoursDeferred = "quiet_hours_deferred"
	ReasonNoAddress          = "no_address"
	ReasonDedupSuppressed    = "dedup_suppressed"
	ReasonDigestStaged       = "digest_staged"
)

// NotificationDelivery is the unit of work: one (message, recipient, channel).
type NotificationDelivery struct {
	ID            string
	MessageID     string
	TenantID      string
	Channel       string
	ProviderCode  string
	RecipientID   string
	RecipientAddr string
	TemplateKey   string
	Priority      string
	Status        DeliveryStatus
	AttemptCount  int
	LastError     *string
	ExternalID    *string
	SentAt        *time.Time
	CreatedAt     time.Time
	// JobPayload is the serialized DeliveryJob enqueued for this row. The
	// sweep worker replays it verbatim, so a requeued delivery keeps its
	// event code and any pre-rendered body.
	JobPayload []byte
}

// DeliveryJob is the payload of a deliver-notification queue job. A DLQ
// entry stores the same payload so a replay never re-queries the original
// event.
type DeliveryJob struct {
	TenantID      string         `json:"tenant_id"`
	MessageID     string         `json:"message_id"`
	DeliveryID    string         `json:"delivery_id"`
	Channel       string         `json:"channel"`
	ProviderCode  string         `json:"provider_code"`
	RecipientID   string         `json:"recipient_id"`
	RecipientAddr string         `json:"recipient_addr"`
	TemplateKey   string         `json:"template_key"`
	Priority      string         `json:"priority,omitempty"`
	EventCode     string         `json:"event_code,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	BodyText      string         `json:"body_text,omitempty"`
	BodyJSON      map[string]any `json:"body_json,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ProviderCallback is an asynchronous delivery receipt pushed by a provider
// webhook. It transitions sent → delivered or sent → failed independently of
// the executor's retry loop.
type ProviderCallback struct {
	ProviderCode string    `json:"provider_code"`
	ExternalID   string    `json:"message_id"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Errors       []string  `json:"errors,omitempty"`
}
