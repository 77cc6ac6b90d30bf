package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSigner struct {
	calls   atomic.Int32
	release chan struct{}
	ttl     time.Duration
	err     error
}

func (s *countingSigner) Sign(_ context.Context, now time.Time) (entity.Credential, error) {
	n := s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return entity.Credential{}, s.err
	}

	return entity.Credential{
		APIKey:    "key",
		Signature: fmt.Sprintf("sig-%d", n),
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

func TestProvider_CoalescesConcurrentRefresh(t *testing.T) {
	signer := &countingSigner{release: make(chan struct{}), ttl: time.Minute}
	provider := NewProvider()
	provider.Register(entity.ExchangeCoinbase, signer, time.Second)

	const callers = 16
	results := make([]entity.Credential, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = provider.Credential(context.Background(), entity.ExchangeCoinbase)
		}(i)
	}

	started.Wait()
	require.Eventually(t, func() bool { return signer.calls.Load() == 1 }, time.Second, time.Millisecond)
	// give the remaining callers time to join the in-flight refresh
	time.Sleep(20 * time.Millisecond)
	close(signer.release)
	done.Wait()

	assert.Equal(t, int32(1), signer.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, "sig-1", results[0].Signature)
}

func TestProvider_RefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := &countingSigner{ttl: 2 * time.Minute}
	provider := NewProvider(WithClock(func() time.Time { return now }))
	provider.Register(entity.ExchangeCoinbase, signer, 15*time.Second)

	first, err := provider.Credential(context.Background(), entity.ExchangeCoinbase)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	cached, err := provider.Credential(context.Background(), entity.ExchangeCoinbase)
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, int32(1), signer.calls.Load())

	now = now.Add(50 * time.Second)
	refreshed, err := provider.Credential(context.Background(), entity.ExchangeCoinbase)
	require.NoError(t, err)
	assert.NotEqual(t, first.Signature, refreshed.Signature)
	assert.Equal(t, int32(2), signer.calls.Load())
}

func TestProvider_Invalidate(t *testing.T) {
	signer := &countingSigner{ttl: time.Hour}
	provider := NewProvider()
	provider.Register(entity.ExchangeFiri, signer, 0)

	_, err := provider.Credential(context.Background(), entity.ExchangeFiri)
	require.NoError(t, err)
	provider.Invalidate(entity.ExchangeFiri)
	_, err = provider.Credential(context.Background(), entity.ExchangeFiri)
	require.NoError(t, err)

	assert.Equal(t, int32(2), signer.calls.Load())
}

func TestProvider_Errors(t *testing.T) {
	provider := NewProvider()

	_, err := provider.Credential(context.Background(), entity.ExchangeCoinbase)
	var credErr *entity.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.ErrorIs(t, err, entity.ErrKeyMaterial)

	provider.Register(entity.ExchangeCoinbase, &countingSigner{err: errors.New("hsm unavailable")}, 0)
	_, err = provider.Credential(context.Background(), entity.ExchangeCoinbase)
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, entity.ExchangeCoinbase, credErr.Exchange)
	assert.Contains(t, err.Error(), "hsm unavailable")
}

func TestProvider_ContextCancelled(t *testing.T) {
	signer := &countingSigner{release: make(chan struct{}), ttl: time.Minute}
	defer close(signer.release)

	provider := NewProvider()
	provider.Register(entity.ExchangeCoinbase, signer, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.Credential(ctx, entity.ExchangeCoinbase)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
