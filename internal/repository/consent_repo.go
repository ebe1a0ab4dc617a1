package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConsentStore records channel opt-ins. It satisfies the WhatsApp adapter's
// consent gate directly.
type ConsentStore interface {
	HasOptedIn(ctx context.Context, tenantID, addr string) (bool, error)
}

type pgConsentRepo struct {
	db *pgxpool.Pool
}

func NewConsentStore(db *pgxpool.Pool) ConsentStore {
	return &pgConsentRepo{db: db}
}

func (p *pgConsentRepo) HasOptedIn(ctx context.Context, tenantID, addr string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM channel_consents
			WHERE tenant_id = $1 AND channel = 'whatsapp' AND address = $2
			  AND revoked_at IS NULL
		)
	`
	var optedIn bool
	if err := p.db.QueryRow(ctx, query, tenantID, addr).Scan(&optedIn); err != nil {
		return false, err
	}
	return optedIn, nil
}
