package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"notification-orchestrator/internal/domain"
)

// RuleStore is the read-only view of notification rules the planner
// consumes. Rule CRUD lives in the admin service.
type RuleStore interface {
	ListEnabledByEvent(ctx context.Context, tenantID, eventType string) ([]*domain.NotificationRule, error)
}

type pgRuleRepo struct {
	db *pgxpool.Pool
}

func NewRuleStore(db *pgxpool.Pool) RuleStore {
	return &pgRuleRepo{db: db}
}

func (p *pgRuleRepo) ListEnabledByEvent(ctx context.Context, tenantID, eventType string) ([]*domain.NotificationRule, error) {
	query := `
		SELECT
			id, tenant_id, code, event_type, entity_type, lifecycle_state,
			condition_expr, template_key, channels, priority, recipient_rules,
			sla_minutes, dedup_window_ms, enabled, created_at
		FROM notification_rules
		WHERE tenant_id = $1
		  AND event_type = $2
		  AND enabled = true
		ORDER BY id
	`

	rows, err := p.db.Query(ctx, query, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.NotificationRule
	for rows.Next() {
		var r domain.NotificationRule
		var recipientRules []byte
		var dedupWindowMs int64
		err := rows.Scan(
			&r.ID,
			&r.TenantID,
			&r.Code,
			&r.EventType,
			&r.EntityType,
			&r.LifecycleState,
			&r.ConditionExpr,
			&r.TemplateKey,
			&r.Channels,
			&r.Priority,
			&recipientRules,
			&r.SLAMinutes,
			&dedupWindowMs,
			&r.Enabled,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(recipientRules) > 0 {
			if err := json.Unmarshal(recipientRules, &r.RecipientRules); err != nil {
				return nil, fmt.Errorf("decode recipient rules for %s: %w", r.Code, err)
			}
		}
		r.DedupWindow = time.Duration(dedupWindowMs) * time.Millisecond
		rules = append(rules, &r)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}
