package credential

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/krobus00/market-collector/internal/entity"
)

const defaultStaticSignatureTTL = 60 * time.Second

// StaticSigner hands out a configured API key. With a secret it also signs
// "timestamp=<ms>" with HMAC-SHA256, which is only valid for ttl.
type StaticSigner struct {
	exchange  entity.ExchangeName
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewStaticSigner(exchange entity.ExchangeName, apiKey, apiSecret string, ttl time.Duration) *StaticSigner {
	if ttl <= 0 {
		ttl = defaultStaticSignatureTTL
	}

	return &StaticSigner{
		exchange:  exchange,
		apiKey:    strings.TrimSpace(apiKey),
		apiSecret: strings.TrimSpace(apiSecret),
		ttl:       ttl,
	}
}

func (s *StaticSigner) Sign(_ context.Context, now time.Time) (entity.Credential, error) {
	if s.apiKey == "" {
		return entity.Credential{}, &entity.CredentialError{
			Exchange: s.exchange,
			Err:      fmt.Errorf("api key is empty: %w", entity.ErrKeyMaterial),
		}
	}

	if s.apiSecret == "" {
		return entity.Credential{APIKey: s.apiKey}, nil
	}

	payload := "timestamp=" + strconv.FormatInt(now.UnixMilli(), 10)
	return entity.Credential{
		APIKey:    s.apiKey,
		Signature: payload + "&signature=" + hmacSHA256Hex(s.apiSecret, payload),
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

// NoopSigner serves public feeds that need no credential.
type NoopSigner struct{}

func (NoopSigner) Sign(context.Context, time.Time) (entity.Credential, error) {
	return entity.Credential{}, nil
}

func hmacSHA256Hex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
