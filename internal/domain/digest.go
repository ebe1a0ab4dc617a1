package domain

import "time"

// DigestEntry is a deferred delivery buffered for a later batched flush,
// keyed by (tenant, recipient, channel, frequency). DeliveredAt stays nil
// until the entry is flushed, which makes flushes idempotent.
type DigestEntry struct {
	ID          string
	TenantID    string
	RecipientID string
	Channel     string
	Frequency   Frequency
	Payload     DeliveryJob
	StagedAt    time.Time
	DeliveredAt *time.Time
}
