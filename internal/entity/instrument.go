package entity

import (
	"fmt"
	"strings"
)

// Instrument is a tradable pair on one exchange. Treat it as immutable.
type Instrument struct {
	Exchange ExchangeName `json:"exchange"`
	Base     string       `json:"base"`
	Quote    string       `json:"quote"`
}

func NewInstrument(exchange ExchangeName, base, quote string) Instrument {
	return Instrument{
		Exchange: exchange,
		Base:     strings.ToUpper(strings.TrimSpace(base)),
		Quote:    strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParseInstrument accepts BASE-QUOTE, BASE/QUOTE or BASE_QUOTE.
func ParseInstrument(exchange ExchangeName, symbol string) (Instrument, error) {
	normalized := strings.TrimSpace(symbol)
	for _, sep := range []string{"-", "/", "_"} {
		parts := strings.Split(normalized, sep)
		if len(parts) != 2 {
			continue
		}

		base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if base == "" || quote == "" {
			break
		}

		return NewInstrument(exchange, base, quote), nil
	}

	return Instrument{}, fmt.Errorf("invalid instrument %q: expected BASE-QUOTE", symbol)
}

// LinkInstrument identifies an exchange link rather than a pair.
func LinkInstrument(exchange ExchangeName) Instrument {
	return Instrument{Exchange: exchange}
}

func (i Instrument) Symbol() string {
	if i.IsLink() {
		return ""
	}

	return i.Base + "-" + i.Quote
}

func (i Instrument) Key() string {
	return string(i.Exchange) + ":" + i.Symbol()
}

func (i Instrument) IsZero() bool {
	return i == Instrument{}
}

func (i Instrument) IsLink() bool {
	return i.Base == "" && i.Quote == ""
}

func (i Instrument) String() string {
	return i.Key()
}
