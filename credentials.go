package main

import (
	"fmt"
	"os"
	"path/filepath"

	"Drover/pkg/types"

	"github.com/fernet/fernet-go"
)

// ========================================
// Credentials - encrypted at rest
// ========================================

// CredentialCipher encrypts and decrypts stored passwords with a fernet key
// kept next to the database
type CredentialCipher struct {
	key *fernet.Key
}

// LoadOrCreateCipher reads the fernet key from keyPath, generating one on
// first run. The key file is created with owner-only permissions.
func LoadOrCreateCipher(keyPath string) (*CredentialCipher, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, derr := fernet.DecodeKey(string(data))
		if derr != nil {
			return nil, fmt.Errorf("invalid credential key at %s: %w", keyPath, derr)
		}
		return &CredentialCipher{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read credential key: %w", err)
	}

	key := new(fernet.Key)
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("failed to generate credential key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(key.Encode()), 0600); err != nil {
		return nil, fmt.Errorf("failed to write credential key: %w", err)
	}
	LogInfo("credentials").Str("path", keyPath).Msg("Generated new credential key")
	return &CredentialCipher{key: key}, nil
}

// Encrypt returns the fernet token for a plaintext password
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	token, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return string(token), nil
}

// Decrypt verifies and decrypts a fernet token. Tokens never expire; the
// key file is the only secret.
func (c *CredentialCipher) Decrypt(token string) (string, error) {
	plaintext := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{c.key})
	if plaintext == nil {
		return "", fmt.Errorf("failed to decrypt credential: invalid token or wrong key")
	}
	return string(plaintext), nil
}

// ========================================
// App-level credential operations
// ========================================

// SaveCredentials encrypts the password and stores the pair for a device
func (a *App) SaveCredentials(address, username, password string) error {
	if err := ValidateDeviceID(address); err != nil {
		return err
	}
	if username == "" || password == "" {
		return fmt.Errorf("username and password must not be empty")
	}
	encrypted, err := a.cipher.Encrypt(password)
	if err != nil {
		return err
	}
	if err := a.store.SaveCredentials(address, username, encrypted); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	LogInfo("credentials").Str("device", address).Str("username", username).Msg("Credentials saved")
	return nil
}

// GetCredentials returns the decrypted credentials for a device
func (a *App) GetCredentials(address string) (types.Credentials, error) {
	username, encrypted, err := a.store.GetCredentials(address)
	if err != nil {
		return types.Credentials{}, err
	}
	password, err := a.cipher.Decrypt(encrypted)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("credentials for %s unusable: %w", address, err)
	}
	return types.Credentials{
		Address:  address,
		Username: username,
		Password: password,
	}, nil
}

// DeleteCredentials removes the stored credentials for a device
func (a *App) DeleteCredentials(address string) error {
	return a.store.DeleteCredentials(address)
}
