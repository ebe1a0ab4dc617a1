package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"notification-orchestrator/internal/domain"
)

// PreferenceStore returns the preference rows that could apply to one
// (principal, event, channel) check. The evaluator picks the most specific
// scope; absence of any row means the system default (enabled, immediate).
type PreferenceStore interface {
	ListApplicable(ctx context.Context, tenantID, principalID, orgUnitID, eventCode, channel string) ([]*domain.NotificationPreference, error)
}

// SuppressionStore checks the per-channel suppression list.
type SuppressionStore interface {
	IsSuppressed(ctx context.Context, tenantID, channel, address string) (bool, error)
}

type pgPreferenceRepo struct {
	db *pgxpool.Pool
}

func NewPreferenceStore(db *pgxpool.Pool) PreferenceStore {
	return &pgPreferenceRepo{db: db}
}

func (p *pgPreferenceRepo) ListApplicable(ctx context.Context, tenantID, principalID, orgUnitID, eventCode, channel string) ([]*domain.NotificationPreference, error) {
	query := `
		SELECT id, tenant_id, scope, scope_id, event_code, channel,
		       enabled, frequency, quiet_hours, created_at
		FROM notification_preferences
		WHERE tenant_id = $1
		  AND (
		        (scope = 'user' AND scope_id = $2)
		     OR (scope = 'org_unit' AND scope_id = $3)
		     OR (scope = 'tenant' AND scope_id = $1)
		  )
		  AND (event_code = '' OR event_code = $4)
		  AND (channel = '' OR channel = $5)
	`

	rows, err := p.db.Query(ctx, query, tenantID, principalID, orgUnitID, eventCode, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []*domain.NotificationPreference
	for rows.Next() {
		var pr domain.NotificationPreference
		var quiet []byte
		err := rows.Scan(
			&pr.ID,
			&pr.TenantID,
			&pr.Scope,
			&pr.ScopeID,
			&pr.EventCode,
			&pr.Channel,
			&pr.Enabled,
			&pr.Frequency,
			&quiet,
			&pr.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(quiet) > 0 {
			var q domain.QuietHours
			if err := json.Unmarshal(quiet, &q); err != nil {
				return nil, fmt.Errorf("decode quiet hours for pref %d: %w", pr.ID, err)
			}
			if q.Start != "" && q.End != "" {
				pr.Quiet = &q
			}
		}
		prefs = append(prefs, &pr)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prefs, nil
}

type pgSuppressionRepo struct {
	db *pgxpool.Pool
}

func NewSuppressionStore(db *pgxpool.Pool) SuppressionStore {
	return &pgSuppressionRepo{db: db}
}

func (p *pgSuppressionRepo) IsSuppressed(ctx context.Context, tenantID, channel, address string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_suppressions
			WHERE tenant_id = $1 AND channel = $2 AND address = $3
		)
	`
	var suppressed bool
	if err := p.db.QueryRow(ctx, query, tenantID, channel, address).Scan(&suppressed); err != nil {
		return false, err
	}
	return suppressed, nil
}
