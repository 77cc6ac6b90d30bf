package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshMargin = 10 * time.Second

// Signer produces fresh credential material for one exchange.
type Signer interface {
	Sign(ctx context.Context, now time.Time) (entity.Credential, error)
}

type registration struct {
	signer        Signer
	refreshMargin time.Duration
}

// Provider caches credentials per exchange and coalesces concurrent refreshes,
// so a burst of sessions asking at once triggers a single signing.
type Provider struct {
	mu      sync.RWMutex
	signers map[entity.ExchangeName]registration
	cache   map[entity.ExchangeName]entity.Credential
	group   singleflight.Group
	now     func() time.Time
}

type Option func(*Provider)

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		signers: make(map[entity.ExchangeName]registration),
		cache:   make(map[entity.ExchangeName]entity.Credential),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Provider) Register(exchange entity.ExchangeName, signer Signer, refreshMargin time.Duration) {
	if refreshMargin <= 0 {
		refreshMargin = defaultRefreshMargin
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.signers[exchange] = registration{signer: signer, refreshMargin: refreshMargin}
	delete(p.cache, exchange)
}

func (p *Provider) Credential(ctx context.Context, exchange entity.ExchangeName) (entity.Credential, error) {
	reg, ok := p.registration(exchange)
	if !ok {
		return entity.Credential{}, &entity.CredentialError{
			Exchange: exchange,
			Err:      fmt.Errorf("no signer registered: %w", entity.ErrKeyMaterial),
		}
	}

	if cred, ok := p.cached(exchange, reg.refreshMargin); ok {
		return cred, nil
	}

	result := p.group.DoChan(string(exchange), func() (any, error) {
		// a flight that finished just before this one started already stored fresh material
		if cred, ok := p.cached(exchange, reg.refreshMargin); ok {
			return cred, nil
		}

		cred, err := reg.signer.Sign(context.WithoutCancel(ctx), p.now())
		if err != nil {
			var credErr *entity.CredentialError
			if errors.As(err, &credErr) {
				return entity.Credential{}, err
			}

			return entity.Credential{}, &entity.CredentialError{Exchange: exchange, Err: err}
		}

		metrics.IncCredentialSigning(string(exchange))
		logrus.WithFields(logrus.Fields{
			"exchange":   exchange,
			"expires_at": cred.ExpiresAt,
		}).Debug("credential refreshed")

		p.mu.Lock()
		p.cache[exchange] = cred
		p.mu.Unlock()

		return cred, nil
	})

	select {
	case <-ctx.Done():
		return entity.Credential{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return entity.Credential{}, res.Err
		}

		return res.Val.(entity.Credential), nil
	}
}

// Invalidate drops cached material so the next request signs again.
func (p *Provider) Invalidate(exchange entity.ExchangeName) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.cache, exchange)
}

func (p *Provider) registration(exchange entity.ExchangeName) (registration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reg, ok := p.signers[exchange]
	return reg, ok
}

func (p *Provider) cached(exchange entity.ExchangeName, margin time.Duration) (entity.Credential, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cred, ok := p.cache[exchange]
	if !ok || cred.ExpiresWithin(p.now(), margin) {
		return entity.Credential{}, false
	}

	return cred, true
}
