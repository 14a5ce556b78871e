package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modelhub/internal/logging"
)

// KeyStore persists provider API keys encrypted at rest. Keys never land
// in the YAML configuration file; the registry resolves them from here
// when rebuilding an adapter.
type KeyStore struct {
	dir    string
	key    *[KeySize]byte
	logger *logging.Logger
}

// NewKeyStore creates a key store rooted at dir, generating the local
// passphrase on first use.
func NewKeyStore(dir string, logger *logging.Logger) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	passphrase, err := loadOrGeneratePassphrase(filepath.Join(dir, ".passphrase"))
	if err != nil {
		return nil, fmt.Errorf("failed to load passphrase: %w", err)
	}

	key := DeriveKey(passphrase)

	return &KeyStore{
		dir:    dir,
		key:    &key,
		logger: logger,
	}, nil
}

// SetAPIKey stores the API key for one provider type, encrypted
func (s *KeyStore) SetAPIKey(providerType, apiKey string) error {
	encrypted, err := Encrypt([]byte(apiKey), s.key)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	path := s.secretPath(providerType)
	if err := os.WriteFile(path, encrypted, 0o600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	s.logger.Info("secrets.stored", "API key stored", map[string]interface{}{
		"provider": providerType,
	})

	return nil
}

// APIKey returns the stored API key for a provider type, or empty string
// when none is stored.
func (s *KeyStore) APIKey(providerType string) (string, error) {
	data, err := os.ReadFile(s.secretPath(providerType))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	decrypted, err := Decrypt(data, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(decrypted), nil
}

// DeleteAPIKey removes a stored API key; missing keys are not an error
func (s *KeyStore) DeleteAPIKey(providerType string) error {
	if err := os.Remove(s.secretPath(providerType)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (s *KeyStore) secretPath(providerType string) string {
	// Provider types may contain ':' (custom variants); keep filenames flat
	name := strings.ReplaceAll(providerType, ":", "_")
	return filepath.Join(s.dir, name+".enc")
}

func loadOrGeneratePassphrase(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := hex.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(passphrase), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist passphrase: %w", err)
	}

	return passphrase, nil
}
