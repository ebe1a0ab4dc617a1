package domain

// Principal is a concrete person or service account known to the directory,
// with one deliverable address per channel.
type Principal struct {
	ID        string
	TenantID  string
	OrgUnitID string
	Name      string
	Addresses map[string]string // channel -> address
}

// Recipient is one resolved (principal, channel, address) tuple ready for
// preference and dedup checks.
type Recipient struct {
	PrincipalID string
	OrgUnitID   string
	Channel     string
	Address     string
}
