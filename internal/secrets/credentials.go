package secrets

import (
	"context"
	"errors"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// AdvisorKeyName is the secret holding the advisory API key.
const AdvisorKeyName = "openai-api-key"

// ExchangeCredentials resolves the key pair for exchange. A missing key or
// secret yields empty credentials and no error: public market data works
// without them.
func ExchangeCredentials(ctx context.Context, v Vault, exchange string) (crypto.HMACAuth, error) {
	key, err := v.Get(ctx, exchange+"-api-key")
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return crypto.HMACAuth{}, nil
		}
		return crypto.HMACAuth{}, err
	}
	secret, err := v.Get(ctx, exchange+"-api-secret")
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return crypto.HMACAuth{}, nil
		}
		return crypto.HMACAuth{}, err
	}
	return crypto.HMACAuth{Key: key, Secret: secret}, nil
}

// AdvisorKey resolves the advisory API key, returning "" when absent.
func AdvisorKey(ctx context.Context, v Vault) (string, error) {
	key, err := v.Get(ctx, AdvisorKeyName)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return "", nil
	}
	return key, err
}
