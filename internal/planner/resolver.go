package planner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/xerrors"
)

// Resolver expands abstract recipient rules into concrete
// (principal, channel, address) tuples using the directory.
type Resolver struct {
	directory repository.DirectoryStore
	logger    *zap.Logger
}

func NewResolver(directory repository.DirectoryStore, logger *zap.Logger) *Resolver {
	return &Resolver{directory: directory, logger: logger}
}

// Resolution carries the resolved tuples plus the explain steps produced
// while resolving (one blocked step per principal/channel without an
// address).
type Resolution struct {
	Recipients []domain.Recipient
	Steps      []domain.ExplainStep
}

// Resolve expands every recipient rule across the given channels. A
// principal without an address for a channel is dropped from that channel
// (not an error) and recorded as blocked with reason no_address. Principals
// reachable through several recipient rules are expanded once.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, rules []domain.RecipientRule, channels []string) (*Resolution, error) {
	res := &Resolution{}
	seen := make(map[string]struct{}) // principalID

	for _, rule := range rules {
		principals, err := r.lookup(ctx, tenantID, rule)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				r.logger.Warn("recipient rule matched no principals",
					zap.String("type", rule.Type), zap.String("value", rule.Value))
				continue
			}
			return nil, err
		}

		for _, p := range principals {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}

			for _, channel := range channels {
				addr := p.Addresses[channel]
				if channel == "inapp" && addr == "" {
					// In-app needs no address book entry; the principal id
					// is the address.
					addr = p.ID
				}
				if addr == "" {
					res.Steps = append(res.Steps, domain.ExplainStep{
						Phase:     domain.PhaseRecipients,
						Timestamp: time.Now().UTC(),
						Input: map[string]any{
							"principal_id": p.ID,
							"channel":      channel,
						},
						Decision: domain.DecisionBlocked,
						Reason:   domain.ReasonNoAddress,
					})
					continue
				}
				res.Recipients = append(res.Recipients, domain.Recipient{
					PrincipalID: p.ID,
					OrgUnitID:   p.OrgUnitID,
					Channel:     channel,
					Address:     addr,
				})
			}
		}
	}
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, tenantID string, rule domain.RecipientRule) ([]*domain.Principal, error) {
	switch rule.Type {
	case domain.RecipientTypeUser:
		p, err := r.directory.GetPrincipal(ctx, tenantID, rule.Value)
		if err != nil {
			return nil, err
		}
		return []*domain.Principal{p}, nil
	case domain.RecipientTypeRole:
		return r.directory.ListByRole(ctx, tenantID, rule.Value)
	case domain.RecipientTypeGroup:
		return r.directory.ListByGroup(ctx, tenantID, rule.Value)
	default:
		r.logger.Warn("unknown recipient rule type", zap.String("type", rule.Type))
		return nil, nil
	}
}
