package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

type MessageKind string

const (
	MessageKindBook       MessageKind = "book"
	MessageKindTrade      MessageKind = "trade"
	MessageKindTicker     MessageKind = "ticker"
	MessageKindHeartbeat  MessageKind = "heartbeat"
	MessageKindSubscribed MessageKind = "subscribed"
	MessageKindError      MessageKind = "error"
)

// RawLevel keeps price and size exactly as the exchange sent them.
type RawLevel struct {
	Price string
	Size  string
}

// AdapterMessage is the intermediate form between a wire frame and a MarketEvent.
// Numeric fields stay strings until the normalizer validates them.
type AdapterMessage struct {
	Kind      MessageKind
	Symbol    string
	Sequence  null.Int
	EventTime time.Time

	Snapshot bool
	Bids     []RawLevel
	Asks     []RawLevel

	TradeID string
	Price   string
	Size    string
	Side    Side

	Volume24h   string
	BestBid     string
	BestBidSize string
	BestAsk     string
	BestAskSize string

	// IntermediateRate is the USDC price in the quote currency, when the
	// exchange quotes in fiat other than dollars.
	IntermediateRate string

	Reason      string
	AuthFailure bool
}
