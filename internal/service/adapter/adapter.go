package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/krobus00/market-collector/internal/client/firi"
	"github.com/krobus00/market-collector/internal/entity"
)

const (
	ProtocolCoinbase   = "coinbase"
	ProtocolFiri       = "firi"
	ProtocolTokocrypto = "tokocrypto"
)

var ErrUnsupportedProtocol = errors.New("unsupported exchange protocol")

type Options struct {
	// Endpoint overrides the default websocket or REST base url.
	Endpoint string
	// Symbols maps instrument symbols (BTC-USD) to exchange symbols.
	Symbols map[string]string
	// Authenticated makes the adapter attach credentials to its frames.
	Authenticated bool
	// FiriClient is used by the firi adapter; a default client is built when nil.
	FiriClient *firi.APIClient
}

// New returns the adapter of a supported protocol for the given exchange.
func New(exchange entity.ExchangeName, protocol string, opts Options) (entity.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case ProtocolCoinbase:
		return NewCoinbaseAdapter(exchange, opts), nil
	case ProtocolFiri:
		return NewFiriAdapter(exchange, opts), nil
	case ProtocolTokocrypto:
		return NewTokocryptoAdapter(exchange, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
}

// MergeSymbols layers configured overrides on top of database mappings.
func MergeSymbols(exchange entity.ExchangeName, mapping entity.ExchangeSymbolMapping, configured map[string]string) map[string]string {
	out := make(map[string]string)
	for symbol, exchangeSymbol := range mapping[string(exchange)] {
		out[symbol] = exchangeSymbol
	}
	for symbol, exchangeSymbol := range configured {
		out[symbol] = exchangeSymbol
	}

	return out
}

func malformed(exchange entity.ExchangeName, messageType string, err error) error {
	return &entity.ProtocolError{Exchange: exchange, MessageType: messageType, Err: err}
}

// rawLevels converts [price, size] string pairs, ignoring trailing fields.
func rawLevels(pairs [][]string) ([]entity.RawLevel, error) {
	levels := make([]entity.RawLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			return nil, fmt.Errorf("book level %v has no size", pair)
		}
		levels = append(levels, entity.RawLevel{Price: pair[0], Size: pair[1]})
	}

	return levels, nil
}
