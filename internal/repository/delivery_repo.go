package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/xerrors"
)

// DeliveryStore mutates delivery rows through single-row conditional writes.
// Status transitions are guarded in SQL so concurrent workers and provider
// callbacks cannot regress a terminal state.
type DeliveryStore interface {
	Create(ctx context.Context, d *domain.NotificationDelivery) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.NotificationDelivery, error)
	ListByMessage(ctx context.Context, tenantID, messageID string) ([]*domain.NotificationDelivery, error)
	MarkQueued(ctx context.Context, tenantID, id string) error
	MarkSent(ctx context.Context, tenantID, id, externalID string) error
	MarkFailed(ctx context.Context, tenantID, id, reason string) error
	IncrementAttempt(ctx context.Context, tenantID, id, lastError string) (int, error)
	ApplyCallbackStatus(ctx context.Context, providerCode, externalID string, status domain.DeliveryStatus, errMsg string) error
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.NotificationDelivery, error)
}

type pgDeliveryRepo struct {
	db *pgxpool.Pool
}

func NewDeliveryStore(db *pgxpool.Pool) DeliveryStore {
	return &pgDeliveryRepo{db: db}
}

const deliveryColumns = `
	id, message_id, tenant_id, channel, provider_code, recipient_id,
	recipient_addr, template_key, priority, status, attempt_count,
	last_error, external_id, sent_at, created_at, job_payload
`

func scanDelivery(row pgx.Row) (*domain.NotificationDelivery, error) {
	var d domain.NotificationDelivery
	err := row.Scan(
		&d.ID,
		&d.MessageID,
		&d.TenantID,
		&d.Channel,
		&d.ProviderCode,
		&d.RecipientID,
		&d.RecipientAddr,
		&d.TemplateKey,
		&d.Priority,
		&d.Status,
		&d.AttemptCount,
		&d.LastError,
		&d.ExternalID,
		&d.SentAt,
		&d.CreatedAt,
		&d.JobPayload,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *pgDeliveryRepo) Create(ctx context.Context, d *domain.NotificationDelivery) error {
	query := `
		INSERT INTO notification_deliveries (
			id, message_id, tenant_id, channel, provider_code, recipient_id,
			recipient_addr, template_key, priority, status, attempt_count,
			last_error, created_at, job_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := p.db.Exec(ctx, query,
		d.ID,
		d.MessageID,
		d.TenantID,
		d.Channel,
		d.ProviderCode,
		d.RecipientID,
		d.RecipientAddr,
		d.TemplateKey,
		d.Priority,
		d.Status,
		d.AttemptCount,
		d.LastError,
		d.CreatedAt,
		d.JobPayload,
	)
	return err
}

func (p *pgDeliveryRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.NotificationDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM notification_deliveries
		WHERE tenant_id = $1 AND id = $2
	`
	d, err := scanDelivery(p.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (p *pgDeliveryRepo) ListByMessage(ctx context.Context, tenantID, messageID string) ([]*domain.NotificationDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM notification_deliveries
		WHERE tenant_id = $1 AND message_id = $2
		ORDER BY created_at
	`
	rows, err := p.db.Query(ctx, query, tenantID, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.NotificationDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deliveries, nil
}

func (p *pgDeliveryRepo) MarkQueued(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE notification_deliveries
		SET status = 'queued'
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
	`
	ct, err := p.db.Exec(ctx, query, tenantID, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (p *pgDeliveryRepo) MarkSent(ctx context.Context, tenantID, id, externalID string) error {
	query := `
		UPDATE notification_deliveries
		SET status = 'sent',
		    external_id = NULLIF($3, ''),
		    sent_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'queued')
	`
	ct, err := p.db.Exec(ctx, query, tenantID, id, externalID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (p *pgDeliveryRepo) MarkFailed(ctx context.Context, tenantID, id, reason string) error {
	query := `
		UPDATE notification_deliveries
		SET status = 'failed',
		    last_error = $3
		WHERE tenant_id = $1 AND id = $2 AND status NOT IN ('delivered', 'failed')
	`
	ct, err := p.db.Exec(ctx, query, tenantID, id, reason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// IncrementAttempt bumps the attempt counter and returns the new count.
// attempt_count is monotonically non-decreasing by construction.
func (p *pgDeliveryRepo) IncrementAttempt(ctx context.Context, tenantID, id, lastError string) (int, error) {
	query := `
		UPDATE notification_deliveries
		SET attempt_count = attempt_count + 1,
		    last_error = NULLIF($3, '')
		WHERE tenant_id = $1 AND id = $2
		RETURNING attempt_count
	`
	var count int
	err := p.db.QueryRow(ctx, query, tenantID, id, lastError).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, xerrors.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

// ApplyCallbackStatus transitions sent → delivered|failed from a provider
// receipt, matched on the provider's external id.
func (p *pgDeliveryRepo) ApplyCallbackStatus(ctx context.Context, providerCode, externalID string, status domain.DeliveryStatus, errMsg string) error {
	query := `
		UPDATE notification_deliveries
		SET status = $3,
		    last_error = NULLIF($4, '')
		WHERE provider_code = $1 AND external_id = $2 AND status = 'sent'
	`
	ct, err := p.db.Exec(ctx, query, providerCode, externalID, status, errMsg)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (p *pgDeliveryRepo) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.NotificationDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM notification_deliveries
		WHERE status IN ('pending', 'queued')
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := p.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.NotificationDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deliveries, nil
}
