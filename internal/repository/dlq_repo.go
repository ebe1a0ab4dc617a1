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

// DlqStore persists terminally failed deliveries. Entries are append-only:
// a replay only stamps replayed_at/replayed_by.
type DlqStore interface {
	Create(ctx context.Context, e *domain.DlqEntry) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.DlqEntry, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]*domain.DlqEntry, error)
	ListUnreplayed(ctx context.Context, tenantID string, limit int) ([]*domain.DlqEntry, error)
	MarkReplayed(ctx context.Context, tenantID, id, replayedBy string) error
}

type pgDlqRepo struct {
	db *pgxpool.Pool
}

func NewDlqStore(db *pgxpool.Pool) DlqStore {
	return &pgDlqRepo{db: db}
}

const dlqColumns = `
	id, tenant_id, payload, last_error, error_category, attempt_count,
	created_at, replayed_at, replayed_by
`

func scanDlqEntry(row pgx.Row) (*domain.DlqEntry, error) {
	var e domain.DlqEntry
	var payload []byte
	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&payload,
		&e.LastError,
		&e.ErrorCategory,
		&e.AttemptCount,
		&e.CreatedAt,
		&e.ReplayedAt,
		&e.ReplayedBy,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("decode dlq payload %s: %w", e.ID, err)
	}
	return &e, nil
}

func (p *pgDlqRepo) Create(ctx context.Context, e *domain.DlqEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode dlq payload: %w", err)
	}

	query := `
		INSERT INTO notification_dlq (
			id, tenant_id, payload, last_error, error_category, attempt_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.Exec(ctx, query,
		e.ID,
		e.TenantID,
		payload,
		e.LastError,
		e.ErrorCategory,
		e.AttemptCount,
		e.CreatedAt,
	)
	return err
}

func (p *pgDlqRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.DlqEntry, error) {
	query := `
		SELECT ` + dlqColumns + `
		FROM notification_dlq
		WHERE tenant_id = $1 AND id = $2
	`
	e, err := scanDlqEntry(p.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (p *pgDlqRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]*domain.DlqEntry, error) {
	query := `
		SELECT ` + dlqColumns + `
		FROM notification_dlq
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return p.list(ctx, query, tenantID, limit, offset)
}

func (p *pgDlqRepo) ListUnreplayed(ctx context.Context, tenantID string, limit int) ([]*domain.DlqEntry, error) {
	query := `
		SELECT ` + dlqColumns + `
		FROM notification_dlq
		WHERE tenant_id = $1 AND replayed_at IS NULL
		ORDER BY created_at
		LIMIT $2
	`
	return p.list(ctx, query, tenantID, limit)
}

func (p *pgDlqRepo) list(ctx context.Context, query string, args ...any) ([]*domain.DlqEntry, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.DlqEntry
	for rows.Next() {
		e, err := scanDlqEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func (p *pgDlqRepo) MarkReplayed(ctx context.Context, tenantID, id, replayedBy string) error {
	query := `
		UPDATE notification_dlq
		SET replayed_at = NOW(),
		    replayed_by = $3
		WHERE tenant_id = $1 AND id = $2
	`
	ct, err := p.db.Exec(ctx, query, tenantID, id, replayedBy)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
