package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// memStorage is an in-memory Storage used only by tests.
type memStorage struct {
	mu   sync.Mutex
	data map[string]*EncryptedBlob
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string]*EncryptedBlob)}
}

func (m *memStorage) Put(_ context.Context, key string, blob *EncryptedBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *blob
	m.data[key] = &cp
	return nil
}

func (m *memStorage) Get(_ context.Context, key string) (*EncryptedBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStorage) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func testVault(t *testing.T, masterKey string) (*Vault, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	v, err := New(masterKey, 1000, storage, arbor.NewLogger())
	require.NoError(t, err)
	return v, storage
}

// Testable property 1: credential round-trip.
func TestRoundTrip(t *testing.T) {
	v, _ := testVault(t, "test-master-key")
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "user-1", "workfossa", "alice@example.com", "hunter2"))

	cred, password, err := v.Retrieve(ctx, "user-1", "workfossa")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", cred.Username)
	require.Equal(t, "hunter2", password)
}

// Testable property 1 (continued): decryption fails if the master key changes.
func TestRetrieve_MasterKeyChange_Fails(t *testing.T) {
	storage := newMemStorage()
	v1, err := New("key-one", 1000, storage, arbor.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v1.Store(ctx, "user-1", "workfossa", "alice", "secret"))

	v2, err := New("key-two", 1000, storage, arbor.NewLogger())
	require.NoError(t, err)

	_, _, err = v2.Retrieve(ctx, "user-1", "workfossa")
	require.Error(t, err)
}

// Testable property 2: no plaintext at rest.
func TestStore_NoPlaintextAtRest(t *testing.T) {
	v, storage := testVault(t, "test-master-key")
	ctx := context.Background()

	username := "alice@example.com"
	password := "super-secret-password"
	require.NoError(t, v.Store(ctx, "user-1", "workfossa", username, password))

	blob, err := storage.Get(ctx, storageKey("user-1", "workfossa"))
	require.NoError(t, err)

	raw, err := json.Marshal(blob)
	require.NoError(t, err)
	require.False(t, bytes.Contains(raw, []byte(password)))
}

// S5: credential rotation — store A, retrieve A, overwrite with B,
// retrieve returns B; only one record exists for the user.
func TestCredentialRotation(t *testing.T) {
	v, storage := testVault(t, "test-master-key")
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "user-1", "workfossa", "a@example.com", "passA"))
	cred, pw, err := v.Retrieve(ctx, "user-1", "workfossa")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", cred.Username)
	require.Equal(t, "passA", pw)

	require.NoError(t, v.Store(ctx, "user-1", "workfossa", "b@example.com", "passB"))
	cred, pw, err = v.Retrieve(ctx, "user-1", "workfossa")
	require.NoError(t, err)
	require.Equal(t, "b@example.com", cred.Username)
	require.Equal(t, "passB", pw)

	keys, err := storage.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestValidate_NotFound(t *testing.T) {
	v, _ := testVault(t, "test-master-key")
	require.False(t, v.Validate(context.Background(), "nobody", "workfossa"))
}

func TestDelete(t *testing.T) {
	v, _ := testVault(t, "test-master-key")
	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "user-1", "workfossa", "alice", "secret"))
	require.NoError(t, v.Delete(ctx, "user-1", "workfossa"))

	_, _, err := v.Retrieve(ctx, "user-1", "workfossa")
	require.ErrorIs(t, err, ErrNotFound)
}
