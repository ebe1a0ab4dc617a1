package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"notification-orchestrator/internal/domain"
)

// DigestStore buffers deferred deliveries until the next flush of their
// frequency tier.
type DigestStore interface {
	Stage(ctx context.Context, e *domain.DigestEntry) error
	ListDue(ctx context.Context, frequency domain.Frequency, limit int) ([]*domain.DigestEntry, error)
	MarkDelivered(ctx context.Context, ids []string) error
	DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type pgDigestRepo struct {
	db *pgxpool.Pool
}

func NewDigestStore(db *pgxpool.Pool) DigestStore {
	return &pgDigestRepo{db: db}
}

func (p *pgDigestRepo) Stage(ctx context.Context, e *domain.DigestEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode digest payload: %w", err)
	}

	query := `
		INSERT INTO notification_digest_staging (
			id, tenant_id, recipient_id, channel, frequency, payload, staged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.Exec(ctx, query,
		e.ID,
		e.TenantID,
		e.RecipientID,
		e.Channel,
		e.Frequency,
		payload,
		e.StagedAt,
	)
	return err
}

func (p *pgDigestRepo) ListDue(ctx context.Context, frequency domain.Frequency, limit int) ([]*domain.DigestEntry, error) {
	query := `
		SELECT id, tenant_id, recipient_id, channel, frequency, payload, staged_at, delivered_at
		FROM notification_digest_staging
		WHERE frequency = $1 AND delivered_at IS NULL
		ORDER BY staged_at
		LIMIT $2
	`
	rows, err := p.db.Query(ctx, query, frequency, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.DigestEntry
	for rows.Next() {
		var e domain.DigestEntry
		var payload []byte
		err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.RecipientID,
			&e.Channel,
			&e.Frequency,
			&payload,
			&e.StagedAt,
			&e.DeliveredAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode digest payload %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// MarkDelivered only touches rows still pending, so re-running a flush for
// an already delivered entry is a no-op.
func (p *pgDigestRepo) MarkDelivered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE notification_digest_staging
		SET delivered_at = NOW()
		WHERE id = ANY($1) AND delivered_at IS NULL
	`
	_, err := p.db.Exec(ctx, query, ids)
	return err
}

func (p *pgDigestRepo) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_digest_staging
		WHERE delivered_at IS NOT NULL AND delivered_at < $1
	`
	ct, err := p.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
