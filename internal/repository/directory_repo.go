package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/xerrors"
)

// DirectoryStore looks up principals and role/group membership for
// recipient resolution. The address book is one address per channel,
// stored as JSONB on the principal row.
type DirectoryStore interface {
	GetPrincipal(ctx context.Context, tenantID, principalID string) (*domain.Principal, error)
	ListByRole(ctx context.Context, tenantID, role string) ([]*domain.Principal, error)
	ListByGroup(ctx context.Context, tenantID, group string) ([]*domain.Principal, error)
}

type pgDirectoryRepo struct {
	db *pgxpool.Pool
}

func NewDirectoryStore(db *pgxpool.Pool) DirectoryStore {
	return &pgDirectoryRepo{db: db}
}

func (p *pgDirectoryRepo) GetPrincipal(ctx context.Context, tenantID, principalID string) (*domain.Principal, error) {
	query := `
		SELECT id, tenant_id, org_unit_id, name, addresses
		FROM principals
		WHERE tenant_id = $1 AND id = $2
	`
	var pr domain.Principal
	err := p.db.QueryRow(ctx, query, tenantID, principalID).Scan(
		&pr.ID,
		&pr.TenantID,
		&pr.OrgUnitID,
		&pr.Name,
		&pr.Addresses,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &pr, nil
}

func (p *pgDirectoryRepo) ListByRole(ctx context.Context, tenantID, role string) ([]*domain.Principal, error) {
	query := `
		SELECT pr.id, pr.tenant_id, pr.org_unit_id, pr.name, pr.addresses
		FROM principals pr
		JOIN principal_roles r ON r.principal_id = pr.id AND r.tenant_id = pr.tenant_id
		WHERE pr.tenant_id = $1 AND r.role = $2
		ORDER BY pr.id
	`
	return p.list(ctx, query, tenantID, role)
}

func (p *pgDirectoryRepo) ListByGroup(ctx context.Context, tenantID, group string) ([]*domain.Principal, error) {
	query := `
		SELECT pr.id, pr.tenant_id, pr.org_unit_id, pr.name, pr.addresses
		FROM principals pr
		JOIN principal_groups g ON g.principal_id = pr.id AND g.tenant_id = pr.tenant_id
		WHERE pr.tenant_id = $1 AND g.group_name = $2
		ORDER BY pr.id
	`
	return p.list(ctx, query, tenantID, group)
}

func (p *pgDirectoryRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Principal, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var principals []*domain.Principal
	for rows.Next() {
		var pr domain.Principal
		err := rows.Scan(&pr.ID, &pr.TenantID, &pr.OrgUnitID, &pr.Name, &pr.Addresses)
		if err != nil {
			return nil, err
		}
		principals = append(principals, &pr)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return principals, nil
}
