// Package secrets holds per-tenant provider credentials encrypted at rest.
// Plaintext exists only transiently in the caller's frame for the span of a
// single run and is never persisted or logged.
package secrets

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/repository"
)

type Store struct {
	repo   repository.CredentialRepository
	enc    Encryptor
	logger zerolog.Logger
}

func NewStore(repo repository.CredentialRepository, enc Encryptor, logger zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		enc:    enc,
		logger: logger.With().Str("component", "credential_store").Logger(),
	}
}

// Set encrypts and stores a credential for (tenant, provider). An existing
// active credential is rotated out, not overwritten; the returned record
// carries the non-secret fingerprint for display.
func (s *Store) Set(ctx context.Context, tenantID, provider string, plaintext []byte) (models.Credential, error) {
	ciphertext, keyVersion, err := s.enc.Encrypt(plaintext)
	if err != nil {
		return models.Credential{}, fmt.Errorf("encrypt credential: %w", err)
	}
	cred, err := s.repo.Replace(ctx, models.Credential{
		TenantID:    tenantID,
		Provider:    provider,
		Ciphertext:  ciphertext,
		KeyVersion:  keyVersion,
		Fingerprint: Fingerprint(plaintext),
	})
	if err != nil {
		return models.Credential{}, err
	}
	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("provider", provider).
		Int("key_version", keyVersion).
		Str("fingerprint", cred.Fingerprint).
		Msg("credential stored")
	return cred, nil
}

// Get fetches and decrypts the active credential. A missing credential is an
// integration-not-active condition; a decryption failure maps to its own
// error kind so failed runs report it precisely.
func (s *Store) Get(ctx context.Context, tenantID, provider string) ([]byte, error) {
	cred, err := s.repo.GetActive(ctx, tenantID, provider)
	if err == repository.ErrNotFound {
		return nil, apperr.New(apperr.KindIntegrationNotActive,
			"no active %s credential for tenant %s", provider, tenantID)
	}
	if err != nil {
		return nil, err
	}
	plaintext, err := s.enc.Decrypt(cred.Ciphertext, cred.KeyVersion)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindCredentialDecryption,
			fmt.Sprintf("decrypt %s credential (key version %d)", provider, cred.KeyVersion))
	}
	return plaintext, nil
}

// HasActive reports whether an active credential exists without decrypting it.
func (s *Store) HasActive(ctx context.Context, tenantID, provider string) (bool, error) {
	_, err := s.repo.GetActive(ctx, tenantID, provider)
	if err == repository.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]models.Credential, error) {
	return s.repo.List(ctx, tenantID)
}

func (s *Store) Revoke(ctx context.Context, tenantID, provider string) error {
	return s.repo.Revoke(ctx, tenantID, provider)
}

// Fingerprint derives the non-secret display tag for a credential.
func Fingerprint(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return fmt.Sprintf("sha256:%x", sum[:4])
}
