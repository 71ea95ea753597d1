package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/spendlens/spendlens-api/internal/models"
)

type CredentialRepository interface {
	// GetActive returns the single active credential for (tenant, provider).
	GetActive(ctx context.Context, tenantID, provider string) (models.Credential, error)
	// Replace marks any existing active credential rotated and inserts the
	// new one in the same transaction. Rows are never updated in place.
	Replace(ctx context.Context, cred models.Credential) (models.Credential, error)
	// Revoke marks the active credential for (tenant, provider) revoked.
	Revoke(ctx context.Context, tenantID, provider string) error
	// List returns all credential rows for display, newest first. Ciphertext
	// is not loaded.
	List(ctx context.Context, tenantID string) ([]models.Credential, error)
}

type credentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) GetActive(ctx context.Context, tenantID, provider string) (models.Credential, error) {
	const query = `
		SELECT id, tenant_id, provider, ciphertext, key_version, fingerprint, status, created_at, updated_at
		FROM tenant.credentials
		WHERE tenant_id = $1 AND provider = $2 AND status = 'active';
	`
	var cred models.Credential
	err := r.db.QueryRowContext(ctx, query, tenantID, provider).Scan(
		&cred.ID,
		&cred.TenantID,
		&cred.Provider,
		&cred.Ciphertext,
		&cred.KeyVersion,
		&cred.Fingerprint,
		&cred.Status,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return cred, ErrNotFound
	}
	return cred, err
}

func (r *credentialRepository) Replace(ctx context.Context, cred models.Credential) (models.Credential, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return cred, errors.Wrap(err, "begin credential replace")
	}
	defer tx.Rollback()

	const rotate = `
		UPDATE tenant.credentials
		SET status = 'rotated', updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2 AND status = 'active';
	`
	if _, err := tx.ExecContext(ctx, rotate, cred.TenantID, cred.Provider); err != nil {
		return cred, errors.Wrap(err, "rotate previous credential")
	}

	const insert = `
		INSERT INTO tenant.credentials (tenant_id, provider, ciphertext, key_version, fingerprint, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		RETURNING id, status, created_at, updated_at;
	`
	err = tx.QueryRowContext(ctx, insert,
		cred.TenantID,
		cred.Provider,
		cred.Ciphertext,
		cred.KeyVersion,
		cred.Fingerprint,
	).Scan(&cred.ID, &cred.Status, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return cred, errors.Wrap(err, "insert credential")
	}

	return cred, tx.Commit()
}

func (r *credentialRepository) Revoke(ctx context.Context, tenantID, provider string) error {
	const query = `
		UPDATE tenant.credentials
		SET status = 'revoked', updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2 AND status = 'active';
	`
	res, err := r.db.ExecContext(ctx, query, tenantID, provider)
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

func (r *credentialRepository) List(ctx context.Context, tenantID string) ([]models.Credential, error) {
	const query = `
		SELECT id, tenant_id, provider, key_version, fingerprint, status, created_at, updated_at
		FROM tenant.credentials
		WHERE tenant_id = $1
		ORDER BY created_at DESC;
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var cred models.Credential
		if err := rows.Scan(
			&cred.ID,
			&cred.TenantID,
			&cred.Provider,
			&cred.KeyVersion,
			&cred.Fingerprint,
			&cred.Status,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}
