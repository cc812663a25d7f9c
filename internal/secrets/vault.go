// Package secrets resolves API credentials by name. Names follow the
// "<exchange>-api-key" / "<exchange>-api-secret" convention.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Vault looks up a secret by name. Missing secrets return an error wrapping
// domain.ErrSecretNotFound.
type Vault interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvVault reads secrets from environment variables: "binance-api-key" is
// looked up as ARBBOT_SECRET_BINANCE_API_KEY.
type EnvVault struct {
	lookup func(string) (string, bool)
}

// NewEnvVault creates an EnvVault over the process environment.
func NewEnvVault() *EnvVault {
	return &EnvVault{lookup: os.LookupEnv}
}

// EnvName maps a secret name to its environment variable.
func EnvName(name string) string {
	return "ARBBOT_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// Get implements Vault.
func (v *EnvVault) Get(_ context.Context, name string) (string, error) {
	if val, ok := v.lookup(EnvName(name)); ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("secrets: %s: %w", name, domain.ErrSecretNotFound)
}

// FileVault serves secrets from an encrypted file produced by vaultctl. The
// file is decrypted once at construction.
type FileVault struct {
	values map[string]string
}

// OpenFileVault decrypts the secrets file at path.
func OpenFileVault(path, password string) (*FileVault, error) {
	values, err := crypto.LoadSecretsFile(path, password)
	if err != nil {
		return nil, fmt.Errorf("secrets: open %s: %w", path, err)
	}
	return &FileVault{values: values}, nil
}

// Get implements Vault.
func (v *FileVault) Get(_ context.Context, name string) (string, error) {
	if val, ok := v.values[name]; ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("secrets: %s: %w", name, domain.ErrSecretNotFound)
}

// Len returns the number of stored secrets.
func (v *FileVault) Len() int { return len(v.values) }

// Chain tries each vault in order and returns the first hit.
type Chain []Vault

// Get implements Vault.
func (c Chain) Get(ctx context.Context, name string) (string, error) {
	for _, v := range c {
		val, err := v.Get(ctx, name)
		if err == nil {
			return val, nil
		}
	}
	return "", fmt.Errorf("secrets: %s: %w", name, domain.ErrSecretNotFound)
}
