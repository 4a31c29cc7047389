package kapital

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Credentials is the cached session state that lets the exporter skip the
// SMS challenge on subsequent runs.
type Credentials struct {
	DeviceID string `yaml:"device_id"`
	Token    string `yaml:"token"`
	Phone    string `yaml:"phone"`
}

// Valid reports whether the credentials carry a usable session token.
func (c Credentials) Valid() bool {
	return c.Token != "" && c.DeviceID != ""
}

// CredentialStore persists Credentials across runs.
type CredentialStore struct {
	path string
	log  zerolog.Logger
}

// NewCredentialStore creates a store backed by the given file path.
func NewCredentialStore(path string, log zerolog.Logger) *CredentialStore {
	return &CredentialStore{path: path, log: log}
}

// Load reads cached credentials. A missing, corrupt or token-less cache
// is not an error: it returns ok=false, which means a fresh
// authentication is needed.
func (s *CredentialStore) Load() (Credentials, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("credential cache unreadable, re-authenticating")
		}
		return Credentials{}, false
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("credential cache corrupt, re-authenticating")
		return Credentials{}, false
	}
	if !creds.Valid() {
		return Credentials{}, false
	}
	return creds, true
}

// Save overwrites the cache atomically: the new state is written to a
// temp file in the same directory and renamed over the old one, so a
// crash never leaves a partial cache.
func (s *CredentialStore) Save(creds Credentials) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".kapidata-*")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp credential file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting credential file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing credential cache: %w", err)
	}
	return nil
}

// Clear removes the cache. A missing file is fine.
func (s *CredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing credential cache: %w", err)
	}
	return nil
}
