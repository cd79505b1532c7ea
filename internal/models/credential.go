package models

import "time"

// Credential is the decrypted, in-memory view of a stored user credential.
// It is never persisted in this shape; see vault.EncryptedBlob for the
// at-rest representation.
type Credential struct {
	UserID        string    `json:"user_id"`
	Service       string    `json:"service"`
	Username      string    `json:"username"`
	Password      string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
	Valid         bool      `json:"valid"`
	AttemptCount  int       `json:"attempt_count"`
}

// MaskedCredential is the API-safe projection of a Credential: never
// carries the password.
type MaskedCredential struct {
	HasCredentials bool      `json:"has_credentials"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Mask produces the API-safe projection of a Credential.
func (c *Credential) Mask() MaskedCredential {
	return MaskedCredential{
		HasCredentials: true,
		Username:       c.Username,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.LastUsedAt,
	}
}

// CredentialMaxAge is the maximum age (per spec §4.1, §8.1) before a
// stored credential is considered expired by Validate, even though it
// remains retrievable.
const CredentialMaxAge = 30 * 24 * time.Hour
