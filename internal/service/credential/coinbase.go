package credential

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/krobus00/market-collector/internal/entity"
)

const (
	coinbaseIssuer     = "cdp"
	defaultCoinbaseTTL = 120 * time.Second
)

type coinbaseClaims struct {
	jwt.RegisteredClaims
	URI string `json:"uri,omitempty"`
}

// CoinbaseJWTSigner signs short-lived ES256 tokens for the Coinbase developer platform.
type CoinbaseJWTSigner struct {
	keyName string
	key     *ecdsa.PrivateKey
	uri     string
	ttl     time.Duration
}

// NewCoinbaseJWTSigner parses a SEC1 or PKCS8 EC private key in PEM form.
// uri is optional; websocket tokens leave it empty.
func NewCoinbaseJWTSigner(keyName, privateKeyPEM, uri string, ttl time.Duration) (*CoinbaseJWTSigner, error) {
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		return nil, &entity.CredentialError{
			Exchange: entity.ExchangeCoinbase,
			Err:      fmt.Errorf("key name is empty: %w", entity.ErrKeyMaterial),
		}
	}

	// keys kept in env files usually carry escaped newlines
	privateKeyPEM = strings.ReplaceAll(strings.TrimSpace(privateKeyPEM), `\n`, "\n")
	if privateKeyPEM == "" {
		return nil, &entity.CredentialError{
			Exchange: entity.ExchangeCoinbase,
			Err:      fmt.Errorf("private key is empty: %w", entity.ErrKeyMaterial),
		}
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, &entity.CredentialError{
			Exchange: entity.ExchangeCoinbase,
			Err:      fmt.Errorf("parse private key: %v: %w", err, entity.ErrKeyMaterial),
		}
	}

	if ttl <= 0 {
		ttl = defaultCoinbaseTTL
	}

	return &CoinbaseJWTSigner{
		keyName: keyName,
		key:     key,
		uri:     strings.TrimSpace(uri),
		ttl:     ttl,
	}, nil
}

func (s *CoinbaseJWTSigner) Sign(_ context.Context, now time.Time) (entity.Credential, error) {
	nonce, err := newNonce()
	if err != nil {
		return entity.Credential{}, fmt.Errorf("generate nonce: %w", err)
	}

	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, coinbaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    coinbaseIssuer,
			Subject:   s.keyName,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		URI: s.uri,
	})
	token.Header["kid"] = s.keyName
	token.Header["nonce"] = nonce

	signed, err := token.SignedString(s.key)
	if err != nil {
		return entity.Credential{}, fmt.Errorf("sign coinbase jwt: %w", err)
	}

	return entity.Credential{
		APIKey:    s.keyName,
		Signature: signed,
		ExpiresAt: expiresAt,
	}, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
