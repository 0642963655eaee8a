package vault

import (
	"encoding/json"
	"fmt"

	"github.com/teamgate-io/teamgate/internal/schema"
)

// EncryptCredentials seals a plaintext credential map for a team public key.
func (v *Vault) EncryptCredentials(publicKey string, credentials map[string]string) (string, error) {
	plaintext, err := json.Marshal(credentials)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return v.Encrypt(publicKey, plaintext)
}

// DecryptCredentials opens a stored credential record back into a map.
func (v *Vault) DecryptCredentials(teamID, stored string) (map[string]string, error) {
	plaintext, err := v.Decrypt(teamID, stored)
	if err != nil {
		return nil, err
	}
	var credentials map[string]string
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return credentials, nil
}

// RestoreHidden replaces the [__HIDDEN__] sentinel in an update with the
// previously stored plaintext for that field. Only secret fields of the
// credential form are eligible.
func RestoreHidden(form []schema.FormField, update, previous map[string]string) map[string]string {
	secret := secretFields(form)
	out := make(map[string]string, len(update))
	for name, value := range update {
		if value == HiddenValue && secret[name] {
			if prev, ok := previous[name]; ok {
				out[name] = prev
				continue
			}
		}
		out[name] = value
	}
	return out
}

// ObfuscateSecrets prepares a decrypted credential map for read-back by
// obfuscating every secret field.
func ObfuscateSecrets(form []schema.FormField, credentials map[string]string) map[string]string {
	secret := secretFields(form)
	out := make(map[string]string, len(credentials))
	for name, value := range credentials {
		if secret[name] {
			out[name] = Obfuscate(value)
		} else {
			out[name] = value
		}
	}
	return out
}

func secretFields(form []schema.FormField) map[string]bool {
	secret := make(map[string]bool, len(form))
	for _, f := range form {
		if f.Type == schema.FieldSecret {
			secret[f.Name] = true
		}
	}
	return secret
}
