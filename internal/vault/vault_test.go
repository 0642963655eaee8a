package vault

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/teamgate-io/teamgate/internal/schema"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := New(t.TempDir())

	publicKey, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	plaintext := []byte(`{"api_key":"sk-secret-value"}`)
	stored, err := v.Encrypt(publicKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	blob, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		t.Fatalf("stored value is not base64: %v", err)
	}
	if !strings.HasPrefix(string(blob), "HYBRID:") {
		t.Errorf("envelope missing HYBRID: prefix")
	}

	got, err := v.Decrypt("team-1", stored)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestGenerateKeyPair_Idempotent(t *testing.T) {
	v := New(t.TempDir())

	first, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	second, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() second call error = %v", err)
	}
	if first != second {
		t.Errorf("second GenerateKeyPair() returned a different public key")
	}
}

func TestDecrypt_LegacyDirectRSA(t *testing.T) {
	v := New(t.TempDir())

	publicKey, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	pub, err := parsePublicPEM(publicKey)
	if err != nil {
		t.Fatalf("parsePublicPEM() error = %v", err)
	}

	plaintext := []byte("legacy-record")
	raw, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		t.Fatalf("EncryptOAEP() error = %v", err)
	}

	got, err := v.Decrypt("team-1", base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecrypt_MissingKey(t *testing.T) {
	v := New(t.TempDir())

	_, err := v.Decrypt("unknown-team", "aGVsbG8=")
	if !errors.Is(err, ErrPrivateKeyNotFound) {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrPrivateKeyNotFound)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	v := New(t.TempDir())

	publicKey, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	stored, err := v.Encrypt(publicKey, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	blob, _ := base64.StdEncoding.DecodeString(stored)
	blob[len(blob)-1] ^= 0xff
	if _, err := v.Decrypt("team-1", base64.StdEncoding.EncodeToString(blob)); !errors.Is(err, ErrCrypto) {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrCrypto)
	}
}

func TestObfuscate(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", strings.Repeat("*", 20)},
		{"short", "abc", strings.Repeat("*", 20)},
		{"boundary eight chars", "12345678", strings.Repeat("*", 20)},
		{"long", "sk-abcdef1234567890xy", "sk-abc" + strings.Repeat("*", 12) + "xy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Obfuscate(tt.secret); got != tt.want {
				t.Errorf("Obfuscate(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}

func TestCredentials_RoundTripAndHidden(t *testing.T) {
	v := New(t.TempDir())
	form := []schema.FormField{
		{Name: "api_key", Type: schema.FieldSecret, Required: true},
		{Name: "base_url", Type: schema.FieldString},
	}

	publicKey, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	creds := map[string]string{"api_key": "sk-abcdef1234567890xy", "base_url": "https://api.example.com"}
	stored, err := v.EncryptCredentials(publicKey, creds)
	if err != nil {
		t.Fatalf("EncryptCredentials() error = %v", err)
	}
	decrypted, err := v.DecryptCredentials("team-1", stored)
	if err != nil {
		t.Fatalf("DecryptCredentials() error = %v", err)
	}
	if decrypted["api_key"] != creds["api_key"] || decrypted["base_url"] != creds["base_url"] {
		t.Errorf("DecryptCredentials() = %v, want %v", decrypted, creds)
	}

	obfuscated := ObfuscateSecrets(form, decrypted)
	if obfuscated["api_key"] == creds["api_key"] {
		t.Errorf("secret field came back in plaintext")
	}
	if obfuscated["base_url"] != creds["base_url"] {
		t.Errorf("non-secret field was obfuscated: %q", obfuscated["base_url"])
	}

	// A re-submit with the sentinel keeps the stored secret.
	update := map[string]string{"api_key": HiddenValue, "base_url": "https://eu.example.com"}
	restored := RestoreHidden(form, update, decrypted)
	if restored["api_key"] != creds["api_key"] {
		t.Errorf("RestoreHidden() api_key = %q, want stored plaintext", restored["api_key"])
	}
	if restored["base_url"] != "https://eu.example.com" {
		t.Errorf("RestoreHidden() base_url = %q, want updated value", restored["base_url"])
	}
}
