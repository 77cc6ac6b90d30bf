package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstrument(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		want    Instrument
		wantErr bool
	}{
		{name: "dash", symbol: "btc-usd", want: Instrument{Exchange: ExchangeCoinbase, Base: "BTC", Quote: "USD"}},
		{name: "slash", symbol: "ETH/NOK", want: Instrument{Exchange: ExchangeCoinbase, Base: "ETH", Quote: "NOK"}},
		{name: "underscore", symbol: " sol_usdt ", want: Instrument{Exchange: ExchangeCoinbase, Base: "SOL", Quote: "USDT"}},
		{name: "no separator", symbol: "BTCUSD", wantErr: true},
		{name: "missing quote", symbol: "BTC-", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInstrument(ExchangeCoinbase, tt.symbol)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstrumentKey(t *testing.T) {
	inst := NewInstrument(ExchangeFiri, "btc", "nok")
	assert.Equal(t, "BTC-NOK", inst.Symbol())
	assert.Equal(t, "firi:BTC-NOK", inst.Key())
	assert.False(t, inst.IsLink())

	link := LinkInstrument(ExchangeFiri)
	assert.True(t, link.IsLink())
	assert.False(t, link.IsZero())
	assert.Equal(t, "firi:", link.Key())
	assert.True(t, Instrument{}.IsZero())
}

func TestCredentialExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, Credential{}.ExpiresWithin(now, time.Hour))
	assert.False(t, Credential{ExpiresAt: now.Add(time.Minute)}.ExpiresWithin(now, 10*time.Second))
	assert.True(t, Credential{ExpiresAt: now.Add(5 * time.Second)}.ExpiresWithin(now, 10*time.Second))
	assert.True(t, Credential{ExpiresAt: now.Add(-time.Second)}.ExpiresWithin(now, 0))
}

func TestErrorsUnwrap(t *testing.T) {
	credErr := &CredentialError{Exchange: ExchangeCoinbase, Err: ErrKeyMaterial}
	assert.True(t, errors.Is(credErr, ErrKeyMaterial))

	protoErr := NewUnknownMessageError(ExchangeCoinbase, "candles")
	assert.True(t, errors.Is(protoErr, ErrUnknownMessage))
	assert.Contains(t, protoErr.Error(), "candles")

	var target *TransportError
	wrapped := error(&TransportError{Exchange: ExchangeFiri, Op: "dial", Err: errors.New("refused")})
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "dial", target.Op)
}
