package localstate

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrSecretStore wraps failures of the secret backend.
var ErrSecretStore = errors.New("secret store error")

// SecretStore keeps sensitive values out of the local state file.
type SecretStore interface {
	// Get returns the stored value; ok is false when nothing is stored.
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(key string) error
}

// KeyringStore stores secrets in the operating system keyring, one service
// name per project directory.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a keyring-backed store scoped to projectDir.
func NewKeyringStore(projectDir string) *KeyringStore {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	return &KeyringStore{service: "kapsel:" + abs}
}

// Service is the keyring service name used for this project.
func (k *KeyringStore) Service() string {
	return k.service
}

// Available probes the keyring. A missing entry means it works; any other
// error (for example no D-Bus session in a container) means it does not.
func (k *KeyringStore) Available() error {
	_, err := keyring.Get(k.service, "kapsel-keyring-probe")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Join(ErrSecretStore, fmt.Errorf("system keyring not available: %w", err))
	}
	return nil
}

func (k *KeyringStore) Get(key string) (string, bool, error) {
	value, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Join(ErrSecretStore, fmt.Errorf("read %s from keyring: %w", key, err))
	}
	return value, true, nil
}

func (k *KeyringStore) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return errors.Join(ErrSecretStore, fmt.Errorf("store %s in keyring: %w", key, err))
	}
	return nil
}

func (k *KeyringStore) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Join(ErrSecretStore, fmt.Errorf("delete %s from keyring: %w", key, err))
	}
	return nil
}

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
