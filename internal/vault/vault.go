// Package vault implements the per-team credential vault: keypair
// generation, hybrid envelope encryption of credential maps and obfuscated
// read-back of secret fields.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrPrivateKeyNotFound indicates the team keystore has no private key.
	ErrPrivateKeyNotFound = errors.New("team private key not found")

	// ErrCrypto indicates envelope encryption or decryption failed. The
	// detailed cause is kept internal; callers surface a generic message.
	ErrCrypto = errors.New("credentials unreadable")
)

const (
	// HiddenValue is the sentinel clients send for secret fields they did
	// not change; the previously stored plaintext is substituted.
	HiddenValue = "[__HIDDEN__]"

	hybridPrefix = "HYBRID:"
	rsaKeyBits   = 2048
	aesKeyBytes  = 16
	gcmNonceSize = 16
	gcmTagSize   = 16
)

// Vault manages team keypairs under <root>/teams/<team_id>/private.pem and
// performs envelope encryption against the team public key.
type Vault struct {
	root  string
	group singleflight.Group
}

// New constructs a vault over the given keystore root.
func New(root string) *Vault {
	return &Vault{root: root}
}

func (v *Vault) keyPath(teamID string) string {
	return filepath.Join(v.root, "teams", teamID, "private.pem")
}

// GenerateKeyPair creates the team's 2048-bit RSA keypair on first need and
// returns the public key in PEM form. Generation is serialised per team id:
// a concurrent duplicate would orphan every ciphertext produced under the
// losing public key. If a keypair already exists its public half is returned.
func (v *Vault) GenerateKeyPair(teamID string) (string, error) {
	pub, err, _ := v.group.Do(teamID, func() (any, error) {
		if key, err := v.privateKey(teamID); err == nil {
			return publicPEM(&key.PublicKey)
		}

		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return "", fmt.Errorf("generate keypair for team %s: %w", teamID, err)
		}

		path := v.keyPath(teamID)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return "", fmt.Errorf("create keystore for team %s: %w", teamID, err)
		}
		block := &pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}
		if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
			return "", fmt.Errorf("persist private key for team %s: %w", teamID, err)
		}
		return publicPEM(&key.PublicKey)
	})
	if err != nil {
		return "", err
	}
	return pub.(string), nil
}

func publicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (v *Vault) privateKey(teamID string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(v.keyPath(teamID))
	if err != nil {
		return nil, fmt.Errorf("%w: team %s", ErrPrivateKeyNotFound, teamID)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: malformed keystore for team %s", ErrCrypto, teamID)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key for team %s: %v", ErrCrypto, teamID, err)
	}
	return key, nil
}

func parsePublicPEM(publicKey string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKey))
	if block == nil {
		return nil, fmt.Errorf("%w: malformed public key", ErrCrypto)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrCrypto, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrCrypto)
	}
	return pub, nil
}

// Encrypt seals plaintext for the holder of publicKey using the hybrid
// envelope: a fresh AES-128 key encrypts the payload under GCM with a
// 16-byte nonce, the AES key is wrapped with RSA-OAEP, and the parts are
// laid out as "HYBRID:" || wrapped key || nonce || tag || ciphertext, then
// base64-encoded for storage.
func (v *Vault) Encrypt(publicKey string, plaintext []byte) (string, error) {
	pub, err := parsePublicPEM(publicKey)
	if err != nil {
		return "", err
	}

	aesKey := make([]byte, aesKeyBytes)
	if _, err := rand.Read(aesKey); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	wrappedKey, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	blob := make([]byte, 0, len(hybridPrefix)+len(wrappedKey)+gcmNonceSize+gcmTagSize+len(ciphertext))
	blob = append(blob, hybridPrefix...)
	blob = append(blob, wrappedKey...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a stored ciphertext with the team's private key. Records
// without the hybrid prefix are treated as legacy direct-RSA ciphertexts.
func (v *Vault) Decrypt(teamID, stored string) ([]byte, error) {
	key, err := v.privateKey(teamID)
	if err != nil {
		return nil, err
	}

	blob, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	if len(blob) < len(hybridPrefix) || string(blob[:len(hybridPrefix)]) != hybridPrefix {
		plaintext, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, key, blob, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
		return plaintext, nil
	}
	blob = blob[len(hybridPrefix):]

	keySize := key.PublicKey.Size()
	if len(blob) < keySize+gcmNonceSize+gcmTagSize {
		return nil, fmt.Errorf("%w: truncated envelope", ErrCrypto)
	}
	wrappedKey := blob[:keySize]
	nonce := blob[keySize : keySize+gcmNonceSize]
	tag := blob[keySize+gcmNonceSize : keySize+gcmNonceSize+gcmTagSize]
	ciphertext := blob[keySize+gcmNonceSize+gcmTagSize:]

	aesKey, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, key, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	plaintext, err := gcm.Open(nil, nonce, append(append([]byte{}, ciphertext...), tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return plaintext, nil
}

// Obfuscate renders a secret for read-back: values of 8 characters or fewer
// become 20 stars; longer values keep the first 6 and last 2 characters with
// 12 stars between.
func Obfuscate(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", 20)
	}
	return secret[:6] + strings.Repeat("*", 12) + secret[len(secret)-2:]
}
