package adapter

import (
	"strings"
	"sync"

	"github.com/krobus00/market-collector/internal/entity"
)

// quoteAssets are tried longest first when a concatenated symbol such as
// BTCUSDT has no explicit mapping.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "BIDR", "IDRT", "NOK", "SEK", "DKK", "EUR", "USD", "IDR", "BTC", "ETH", "BNB"}

type symbolFormat func(entity.Instrument) string

func dashSymbol(i entity.Instrument) string {
	return i.Base + "-" + i.Quote
}

func concatSymbol(i entity.Instrument) string {
	return i.Base + i.Quote
}

// symbolTable maps instruments to exchange symbols and back. Overrides are
// keyed by instrument symbol (BTC-USDT) and hold the exchange symbol.
type symbolTable struct {
	exchange entity.ExchangeName
	format   symbolFormat

	mu           sync.RWMutex
	toExchange   map[string]string
	fromExchange map[string]entity.Instrument
}

func newSymbolTable(exchange entity.ExchangeName, format symbolFormat, overrides map[string]string) *symbolTable {
	t := &symbolTable{
		exchange:     exchange,
		format:       format,
		toExchange:   make(map[string]string),
		fromExchange: make(map[string]entity.Instrument),
	}

	for symbol, exchangeSymbol := range overrides {
		instrument, err := entity.ParseInstrument(exchange, symbol)
		if err != nil || strings.TrimSpace(exchangeSymbol) == "" {
			continue
		}
		t.register(instrument, strings.ToUpper(strings.TrimSpace(exchangeSymbol)))
	}

	return t
}

func (t *symbolTable) register(instrument entity.Instrument, exchangeSymbol string) {
	t.toExchange[instrument.Symbol()] = exchangeSymbol
	t.fromExchange[exchangeSymbol] = instrument
}

// ExchangeSymbol returns the wire symbol of an instrument and remembers the
// reverse mapping for parsing.
func (t *symbolTable) ExchangeSymbol(instrument entity.Instrument) string {
	t.mu.RLock()
	exchangeSymbol, ok := t.toExchange[instrument.Symbol()]
	t.mu.RUnlock()
	if ok {
		return exchangeSymbol
	}

	exchangeSymbol = strings.ToUpper(t.format(instrument))

	t.mu.Lock()
	t.register(entity.NewInstrument(t.exchange, instrument.Base, instrument.Quote), exchangeSymbol)
	t.mu.Unlock()

	return exchangeSymbol
}

func (t *symbolTable) Instrument(symbol string) (entity.Instrument, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return entity.Instrument{}, false
	}

	t.mu.RLock()
	instrument, ok := t.fromExchange[normalized]
	t.mu.RUnlock()
	if ok {
		return instrument, true
	}

	if instrument, err := entity.ParseInstrument(t.exchange, normalized); err == nil {
		return instrument, true
	}

	for _, quote := range quoteAssets {
		base, found := strings.CutSuffix(normalized, quote)
		if found && base != "" {
			return entity.NewInstrument(t.exchange, base, quote), true
		}
	}

	return entity.Instrument{}, false
}
