package secret

import (
	"fmt"
	"os"
	"strings"
)

// SecretStore holds connection passwords and API secrets outside the YAML
// configuration. Keys are connection ids.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// ── Env ────────────────────────────────────────────────────

// EnvStore reads secrets from environment variables named
// <Prefix><KEY>, with the key upper-cased and non-alphanumerics as '_'.
// It is read-only.
type EnvStore struct {
	Prefix string
}

func (e *EnvStore) varName(key string) string {
	var b strings.Builder
	b.WriteString(e.Prefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(e.varName(key))
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Set(key string, _ []byte) error {
	return fmt.Errorf("env secret store is read-only: set %s in the environment", e.varName(key))
}

func (e *EnvStore) Delete(key string) error {
	return fmt.Errorf("env secret store is read-only: unset %s in the environment", e.varName(key))
}

// ── Chain ──────────────────────────────────────────────────

// Chain reads from each store in order and returns the first hit. Writes go
// to the first store.
type Chain []SecretStore

func (c Chain) Get(key string) ([]byte, error) {
	for _, s := range c {
		v, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			return v, nil
		}
	}
	return nil, nil
}

func (c Chain) Set(key string, value []byte) error {
	if len(c) == 0 {
		return fmt.Errorf("no secret store configured")
	}
	return c[0].Set(key, value)
}

func (c Chain) Delete(key string) error {
	if len(c) == 0 {
		return fmt.Errorf("no secret store configured")
	}
	return c[0].Delete(key)
}
