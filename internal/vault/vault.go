// Package vault implements the credential vault (spec §4.1): per-user
// encryption, persistence, retrieval, and validation of third-party
// site credentials. Grounded on original_source/backend/app/services/credential_manager.py
// for semantics (PBKDF2 key derivation, 30-day expiry, one credential
// per user/service) and on the teacher's storage-adapter pattern
// (internal/storage/badger/auth_storage.go) for persistence.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/pbkdf2"

	"github.com/fossawork/dispatcher/internal/models"
)

// CredentialError wraps the vault's storage, cipher and decoding
// failures. Its message never leaks the underlying decryption or KDF
// error (spec §7: credential errors never leak secret-manager detail).
// Retrieve reports a missing credential as the bare ErrNotFound.
type CredentialError struct {
	Op  string
	err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("credential_error: %s", e.Op) }
func (e *CredentialError) Unwrap() error { return e.err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CredentialError{Op: op, err: err}
}

// ErrNotFound is returned by Retrieve when no credential is stored for
// the given user/service.
var ErrNotFound = errors.New("credential not found")

const encryptionVersion byte = 1

// EncryptedBlob is the at-rest representation persisted by Store:
// version tag, nonce, and AES-256-GCM ciphertext, plus the bookkeeping
// fields the in-memory Credential needs to rehydrate.
type EncryptedBlob struct {
	Version      byte      `json:"version"`
	Nonce        []byte    `json:"nonce"`
	Ciphertext   []byte    `json:"ciphertext"`
	Username     string    `json:"username"` // not encrypted: needed for masked listing
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	AttemptCount int       `json:"attempt_count"`
}

// Storage is the persistence boundary the vault depends on. The Badger
// adapter (internal/storage/badger) is the default implementation.
type Storage interface {
	Put(ctx context.Context, key string, blob *EncryptedBlob) error
	Get(ctx context.Context, key string) (*EncryptedBlob, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Vault encrypts, persists, retrieves, and validates per-user
// credentials (spec §4.1).
type Vault struct {
	masterKey  []byte
	iterations int
	storage    Storage
	logger     arbor.ILogger
}

// New constructs a Vault. masterKey must be non-empty; its absence is a
// startup error at the caller (spec §4.1).
func New(masterKey string, iterations int, storage Storage, logger arbor.ILogger) (*Vault, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required")
	}
	if iterations < 100_000 {
		iterations = 100_000
	}
	return &Vault{
		masterKey:  []byte(masterKey),
		iterations: iterations,
		storage:    storage,
		logger:     logger,
	}, nil
}

func storageKey(userID, service string) string {
	return userID + ":" + service
}

// deriveKey derives a per-user 32-byte AES-256 key from the master
// secret and a deterministic salt = SHA-256(userID)[:16], following
// credential_manager.py's _derive_key/_get_encryption_key.
func (v *Vault) deriveKey(userID string) []byte {
	sum := sha256.Sum256([]byte(userID))
	salt := sum[:16]
	return pbkdf2.Key(v.masterKey, salt, v.iterations, 32, sha256.New)
}

func (v *Vault) cipherFor(userID string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.deriveKey(userID))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Store persists an encrypted credential for (userID, service). Only
// one active credential per (user_id, service) is kept (spec §3): Store
// overwrites any existing blob.
func (v *Vault) Store(ctx context.Context, userID, service, username, password string) error {
	gcm, err := v.cipherFor(userID)
	if err != nil {
		v.logger.Error().Err(err).Str("user_id", userID).Msg("vault: failed to build cipher")
		return wrapErr("store", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return wrapErr("store", err)
	}

	plaintext, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: username, Password: password})
	if err != nil {
		return wrapErr("store", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	blob := &EncryptedBlob{
		Version:    encryptionVersion,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Username:   username,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}

	if err := v.storage.Put(ctx, storageKey(userID, service), blob); err != nil {
		return wrapErr("store", err)
	}

	v.logger.Info().Str("user_id", userID).Str("service", service).Msg("stored credential")
	return nil
}

// Retrieve decrypts and returns the stored credential for (userID,
// service). Retrieval succeeds even if the credential has expired
// (spec §4.1: expired credential -> validate() false, retrieval still
// works).
func (v *Vault) Retrieve(ctx context.Context, userID, service string) (*models.Credential, string, error) {
	blob, err := v.storage.Get(ctx, storageKey(userID, service))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", wrapErr("retrieve", err)
	}

	gcm, err := v.cipherFor(userID)
	if err != nil {
		return nil, "", wrapErr("retrieve", err)
	}

	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		v.logger.Error().Str("user_id", userID).Str("service", service).Msg("vault: decryption failed")
		return nil, "", wrapErr("retrieve", err)
	}

	var decoded struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		return nil, "", wrapErr("retrieve", err)
	}

	cred := &models.Credential{
		UserID:       userID,
		Service:      service,
		Username:     decoded.Username,
		Password:     decoded.Password,
		CreatedAt:    blob.CreatedAt,
		LastUsedAt:   blob.LastUsedAt,
		AttemptCount: blob.AttemptCount,
		Valid:        time.Since(blob.CreatedAt) <= models.CredentialMaxAge,
	}
	return cred, decoded.Password, nil
}

// Validate reports whether a credential is present, decryptable, and
// not older than 30 days (spec §4.1).
func (v *Vault) Validate(ctx context.Context, userID, service string) bool {
	cred, _, err := v.Retrieve(ctx, userID, service)
	if err != nil {
		return false
	}
	return cred.Valid
}

// Touch updates last_used_at for a stored credential.
func (v *Vault) Touch(ctx context.Context, userID, service string) error {
	blob, err := v.storage.Get(ctx, storageKey(userID, service))
	if err != nil {
		return wrapErr("touch", err)
	}
	blob.LastUsedAt = time.Now()
	if err := v.storage.Put(ctx, storageKey(userID, service), blob); err != nil {
		return wrapErr("touch", err)
	}
	return nil
}

// Delete removes a stored credential.
func (v *Vault) Delete(ctx context.Context, userID, service string) error {
	if err := v.storage.Delete(ctx, storageKey(userID, service)); err != nil {
		return wrapErr("delete", err)
	}
	return nil
}

// Masked returns the API-safe projection for GET /credentials/{service}
// (spec §6), never including the password.
func (v *Vault) Masked(ctx context.Context, userID, service string) (*models.MaskedCredential, error) {
	blob, err := v.storage.Get(ctx, storageKey(userID, service))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &models.MaskedCredential{HasCredentials: false}, nil
		}
		return nil, wrapErr("masked", err)
	}
	return &models.MaskedCredential{
		HasCredentials: true,
		Username:       blob.Username,
		CreatedAt:      blob.CreatedAt,
		UpdatedAt:      blob.LastUsedAt,
	}, nil
}
