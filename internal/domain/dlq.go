package domain

import "time"

// DlqEntry is a terminally failed delivery. The payload is self-contained
// for replay. Entries are never deleted on retry, only marked replayed.
type DlqEntry struct {
	ID            string
	TenantID      string
	Payload       DeliveryJob
	LastError     string
	ErrorCategory ErrorCategory
	AttemptCount  int
	CreatedAt     time.Time
	ReplayedAt    *time.Time
	ReplayedBy    *string
}
