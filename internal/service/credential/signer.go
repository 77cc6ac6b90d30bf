package credential

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/entity"
)

const (
	SignerTypeNone        = "none"
	SignerTypeStatic      = "static"
	SignerTypeCoinbaseJWT = "coinbase_jwt"
)

// NewSigner builds the signer described by an exchange's credential section.
func NewSigner(exchange entity.ExchangeName, cfg config.CredentialConfig) (Signer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", SignerTypeNone:
		return NoopSigner{}, nil
	case SignerTypeStatic:
		return NewStaticSigner(exchange, cfg.APIKey, cfg.APISecret, cfg.TTL), nil
	case SignerTypeCoinbaseJWT:
		keyName, privateKey := cfg.KeyName, cfg.PrivateKey
		if strings.TrimSpace(cfg.KeyFile) != "" {
			keyFile, err := LoadKeyFile(cfg.KeyFile)
			if err != nil {
				return nil, &entity.CredentialError{Exchange: exchange, Err: err}
			}
			if strings.TrimSpace(keyName) == "" {
				keyName = keyFile.Name
			}
			if strings.TrimSpace(privateKey) == "" {
				privateKey = keyFile.PrivateKey
			}
		}

		signer, err := NewCoinbaseJWTSigner(keyName, privateKey, cfg.URI, cfg.TTL)
		if err != nil {
			return nil, err
		}

		return signer, nil
	default:
		return nil, &entity.CredentialError{
			Exchange: exchange,
			Err:      fmt.Errorf("unsupported credential type %q: %w", cfg.Type, entity.ErrKeyMaterial),
		}
	}
}

// LoadKeyFile reads a {"name": ..., "privateKey": ...} key file.
func LoadKeyFile(path string) (entity.CredentialKeyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return entity.CredentialKeyFile{}, fmt.Errorf("read key file: %v: %w", err, entity.ErrKeyMaterial)
	}

	var keyFile entity.CredentialKeyFile
	if err := json.Unmarshal(raw, &keyFile); err != nil {
		return entity.CredentialKeyFile{}, fmt.Errorf("decode key file: %v: %w", err, entity.ErrKeyMaterial)
	}

	return keyFile, nil
}
