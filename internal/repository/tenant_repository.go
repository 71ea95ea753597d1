package repository

import (
	"context"
	"database/sql"

	"github.com/spendlens/spendlens-api/internal/models"
)

type TenantRepository interface {
	CreateTenant(ctx context.Context, tenant models.Tenant) (models.Tenant, error)
	GetTenantByID(ctx context.Context, id string) (models.Tenant, error)
	UpdateSubscription(ctx context.Context, id string, status models.SubscriptionStatus, tier models.SubscriptionTier) error
	SetAPIKeyHash(ctx context.Context, id, hash string) error
}

type tenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) CreateTenant(ctx context.Context, tenant models.Tenant) (models.Tenant, error) {
	const query = `
		INSERT INTO tenant.tenants (name, environment, subscription_status, subscription_tier, api_key_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		tenant.Name,
		tenant.Environment,
		tenant.SubscriptionStatus,
		tenant.SubscriptionTier,
		tenant.APIKeyHash,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	return tenant, err
}

func (r *tenantRepository) GetTenantByID(ctx context.Context, id string) (models.Tenant, error) {
	const query = `
		SELECT id, name, environment, subscription_status, subscription_tier, api_key_hash, created_at, updated_at
		FROM tenant.tenants
		WHERE id = $1;
	`
	var tenant models.Tenant
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Environment,
		&tenant.SubscriptionStatus,
		&tenant.SubscriptionTier,
		&tenant.APIKeyHash,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return tenant, ErrNotFound
	}
	return tenant, err
}

func (r *tenantRepository) UpdateSubscription(ctx context.Context, id string, status models.SubscriptionStatus, tier models.SubscriptionTier) error {
	const query = `
		UPDATE tenant.tenants
		SET subscription_status = $1, subscription_tier = $2, updated_at = NOW()
		WHERE id = $3;
	`
	res, err := r.db.ExecContext(ctx, query, status, tier, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *tenantRepository) SetAPIKeyHash(ctx context.Context, id, hash string) error {
	const query = `
		UPDATE tenant.tenants
		SET api_key_hash = $1, updated_at = NOW()
		WHERE id = $2;
	`
	res, err := r.db.ExecContext(ctx, query, hash, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
