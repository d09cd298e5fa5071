package secret

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "saasloader"

// KeyringStore keeps secrets in the OS credential store (macOS Keychain,
// Secret Service, Windows Credential Manager).
type KeyringStore struct {
	Service string
}

// NewKeyringStore creates a KeyringStore under the default service name.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{Service: keyringService}
}

func (k *KeyringStore) service() string {
	if k.Service == "" {
		return keyringService
	}
	return k.Service
}

// Set stores or replaces a secret.
func (k *KeyringStore) Set(key string, value []byte) error {
	if err := keyring.Set(k.service(), key, string(value)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

// Get returns nil without error when the key is absent.
func (k *KeyringStore) Get(key string) ([]byte, error) {
	v, err := keyring.Get(k.service(), key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	return []byte(v), nil
}

// Delete removes a secret; a missing key is not an error.
func (k *KeyringStore) Delete(key string) error {
	err := keyring.Delete(k.service(), key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
