package secrets

import (
	"os"
	"testing"

	"modelhub/internal/logging"
)

func TestKeyStore_RoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "secrets-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.LevelError)
	store, err := NewKeyStore(tmpDir, logger)
	if err != nil {
		t.Fatalf("Failed to create key store: %v", err)
	}

	if err := store.SetAPIKey("openai-compat", "sk-local-test-key"); err != nil {
		t.Fatalf("Failed to store API key: %v", err)
	}

	got, err := store.APIKey("openai-compat")
	if err != nil {
		t.Fatalf("Failed to read API key: %v", err)
	}
	if got != "sk-local-test-key" {
		t.Errorf("Expected stored key back, got %q", got)
	}
}

func TestKeyStore_MissingKey(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "secrets-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := NewKeyStore(tmpDir, logging.NewLogger(logging.LevelError))
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.APIKey("ollama")
	if err != nil {
		t.Fatalf("Expected no error for missing key, got %v", err)
	}
	if got != "" {
		t.Errorf("Expected empty key, got %q", got)
	}
}

func TestKeyStore_PassphrasePersists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "secrets-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.LevelError)

	first, err := NewKeyStore(tmpDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.SetAPIKey("custom:mine", "secret-value"); err != nil {
		t.Fatal(err)
	}

	// A second store over the same directory must reuse the passphrase
	second, err := NewKeyStore(tmpDir, logger)
	if err != nil {
		t.Fatal(err)
	}

	got, err := second.APIKey("custom:mine")
	if err != nil {
		t.Fatalf("Second store failed to decrypt: %v", err)
	}
	if got != "secret-value" {
		t.Errorf("Expected secret-value, got %q", got)
	}
}

func TestCrypto_RejectsTamperedData(t *testing.T) {
	key := DeriveKey("test-passphrase")

	encrypted, err := Encrypt([]byte("payload"), &key)
	if err != nil {
		t.Fatal(err)
	}

	encrypted[len(encrypted)-1] ^= 0xFF
	if _, err := Decrypt(encrypted, &key); err == nil {
		t.Error("Expected decryption failure for tampered ciphertext")
	}
}
