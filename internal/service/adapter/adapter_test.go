package adapter

import (
	"testing"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		protocol string
		want     any
	}{
		{protocol: "coinbase", want: &CoinbaseAdapter{}},
		{protocol: "FIRI", want: &FiriAdapter{}},
		{protocol: " tokocrypto ", want: &TokocryptoAdapter{}},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			a, err := New(entity.ExchangeName("venue"), tt.protocol, Options{})
			require.NoError(t, err)
			assert.IsType(t, tt.want, a)
			assert.Equal(t, entity.ExchangeName("venue"), a.Exchange())
		})
	}

	_, err := New(entity.ExchangeCoinbase, "kraken", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestMergeSymbols(t *testing.T) {
	mapping := entity.ExchangeSymbolMapping{
		"tokocrypto": {"BTC-USDT": "BTC_USDT", "ETH-USDT": "ETH_USDT"},
		"firi":       {"BTC-NOK": "BTCNOK"},
	}

	got := MergeSymbols(entity.ExchangeTokoCrypto, mapping, map[string]string{"ETH-USDT": "ETHUSDT"})
	assert.Equal(t, map[string]string{"BTC-USDT": "BTC_USDT", "ETH-USDT": "ETHUSDT"}, got)
}

func TestSymbolTable(t *testing.T) {
	table := newSymbolTable(entity.ExchangeTokoCrypto, concatSymbol, map[string]string{
		"BTC-IDR": "btc_bidr",
		"bad":     "IGNORED",
	})

	btcIDR := entity.NewInstrument(entity.ExchangeTokoCrypto, "BTC", "IDR")
	assert.Equal(t, "BTC_BIDR", table.ExchangeSymbol(btcIDR))

	inst, ok := table.Instrument("btc_bidr")
	require.True(t, ok)
	assert.Equal(t, btcIDR, inst)

	ethUSDT := entity.NewInstrument(entity.ExchangeTokoCrypto, "eth", "usdt")
	assert.Equal(t, "ETHUSDT", table.ExchangeSymbol(ethUSDT))
	inst, ok = table.Instrument("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, ethUSDT, inst)

	inst, ok = table.Instrument("SOLUSDC")
	require.True(t, ok)
	assert.Equal(t, entity.NewInstrument(entity.ExchangeTokoCrypto, "SOL", "USDC"), inst)

	_, ok = table.Instrument("XYZ")
	assert.False(t, ok)
	_, ok = table.Instrument("")
	assert.False(t, ok)
}
