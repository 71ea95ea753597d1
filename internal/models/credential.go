package models

import "time"

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRotated CredentialStatus = "rotated"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is one encrypted secret per (tenant, provider). Rotation inserts
// a new row and marks the old one rotated; rows are never updated in place, so
// the history of which key version encrypted which secret stays intact.
type Credential struct {
	ID          string           `json:"id" db:"id"`
	TenantID    string           `json:"tenant_id" db:"tenant_id"`
	Provider    string           `json:"provider" db:"provider"`
	Ciphertext  []byte           `json:"-" db:"ciphertext"`
	KeyVersion  int              `json:"key_version" db:"key_version"`
	Fingerprint string           `json:"fingerprint" db:"fingerprint"`
	Status      CredentialStatus `json:"status" db:"status"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}
