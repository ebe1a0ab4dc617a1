package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/xerrors"
)

// MessageStore persists notification messages with their embedded
// planning-phase explain steps.
type MessageStore interface {
	Create(ctx context.Context, m *domain.NotificationMessage) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.NotificationMessage, error)
}

type pgMessageRepo struct {
	db *pgxpool.Pool
}

func NewMessageStore(db *pgxpool.Pool) MessageStore {
	return &pgMessageRepo{db: db}
}

func (p *pgMessageRepo) Create(ctx context.Context, m *domain.NotificationMessage) error {
	steps, err := json.Marshal(m.Steps)
	if err != nil {
		return fmt.Errorf("encode explain steps: %w", err)
	}

	query := `
		INSERT INTO notification_messages (
			id, tenant_id, rule_code, event_type, event_id, metadata, explain_steps, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = p.db.Exec(ctx, query,
		m.ID,
		m.TenantID,
		m.RuleCode,
		m.EventType,
		m.EventID,
		m.Metadata,
		steps,
		m.CreatedAt,
	)
	return err
}

func (p *pgMessageRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.NotificationMessage, error) {
	query := `
		SELECT id, tenant_id, rule_code, event_type, event_id, metadata, explain_steps, created_at
		FROM notification_messages
		WHERE tenant_id = $1 AND id = $2
	`

	var m domain.NotificationMessage
	var steps []byte
	err := p.db.QueryRow(ctx, query, tenantID, id).Scan(
		&m.ID,
		&m.TenantID,
		&m.RuleCode,
		&m.EventType,
		&m.EventID,
		&m.Metadata,
		&steps,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &m.Steps); err != nil {
			return nil, fmt.Errorf("decode explain steps for %s: %w", id, err)
		}
	}
	return &m, nil
}
