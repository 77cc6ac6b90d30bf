package entity

import (
	"context"
)

type ExchangeName string

const (
	ExchangeCoinbase   ExchangeName = "coinbase"
	ExchangeFiri       ExchangeName = "firi"
	ExchangeTokoCrypto ExchangeName = "tokocrypto"
)

// Adapter translates one exchange's wire protocol to and from AdapterMessage.
// Implementations may keep state between frames when a logical update is split.
type Adapter interface {
	Exchange() ExchangeName
	Endpoint() string
	RequiresAuth() bool
	// BuildAuthFrame returns nil when the exchange carries auth inline in subscribe frames.
	BuildAuthFrame(cred Credential) ([]byte, error)
	SubscribeFrames(instruments []Instrument, cred Credential) ([][]byte, error)
	ParseFrame(raw []byte) ([]AdapterMessage, error)
	Instrument(symbol string) (Instrument, bool)
}

// Poller is implemented by adapters whose exchange is pulled over REST.
type Poller interface {
	Poll(ctx context.Context, topic string) ([]byte, error)
}
