package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/fossawork/dispatcher/internal/vault"
)

// storedBlob is the badgerhold record type: vault.EncryptedBlob plus the
// storage key, since badgerhold needs a field to key rows on.
type storedBlob struct {
	Key string `badgerhold:"key"`
	vault.EncryptedBlob
}

// VaultStorage implements vault.Storage on top of badgerhold, mirroring
// the teacher's AuthStorage adapter (internal/storage/badger/auth_storage.go).
type VaultStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewVaultStorage constructs a vault.Storage backed by Badger.
func NewVaultStorage(db *DB, logger arbor.ILogger) *VaultStorage {
	return &VaultStorage{db: db, logger: logger}
}

func (s *VaultStorage) Put(_ context.Context, key string, blob *vault.EncryptedBlob) error {
	rec := storedBlob{Key: key, EncryptedBlob: *blob}
	if err := s.db.Store().Upsert(key, &rec); err != nil {
		return fmt.Errorf("failed to store credential blob: %w", err)
	}
	return nil
}

func (s *VaultStorage) Get(_ context.Context, key string) (*vault.EncryptedBlob, error) {
	var rec storedBlob
	if err := s.db.Store().Get(key, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential blob: %w", err)
	}
	return &rec.EncryptedBlob, nil
}

func (s *VaultStorage) Delete(_ context.Context, key string) error {
	if err := s.db.Store().Delete(key, &storedBlob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete credential blob: %w", err)
	}
	return nil
}

func (s *VaultStorage) List(_ context.Context) ([]string, error) {
	var recs []storedBlob
	if err := s.db.Store().Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("failed to list credential blobs: %w", err)
	}
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys, nil
}
