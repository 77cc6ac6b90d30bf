package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventKindBookUpdate       EventKind = "book_update"
	EventKindTrade            EventKind = "trade"
	EventKindTicker           EventKind = "ticker"
	EventKindHeartbeat        EventKind = "heartbeat"
	EventKindConnectionStatus EventKind = "connection_status"
)

type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = ""
)

// MarketEvent is the canonical, exchange-agnostic record emitted by the collector.
// Exactly one of Book, Trade, Ticker or Status is set, matching Kind.
type MarketEvent struct {
	ID         string       `json:"id"`
	Kind       EventKind    `json:"kind"`
	Exchange   ExchangeName `json:"exchange"`
	Instrument Instrument   `json:"instrument"`
	Generation uint64       `json:"generation"`
	Sequence   null.Int     `json:"sequence"`
	EventTime  time.Time    `json:"event_time"`
	ReceivedAt time.Time    `json:"received_at"`

	Book   *BookUpdate       `json:"book,omitempty"`
	Trade  *Trade            `json:"trade,omitempty"`
	Ticker *Ticker           `json:"ticker,omitempty"`
	Status *ConnectionStatus `json:"status,omitempty"`
}

type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type BookUpdate struct {
	Snapshot bool         `json:"snapshot"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}

type Trade struct {
	TradeID string          `json:"trade_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    Side            `json:"side"`
}

type Ticker struct {
	Price       decimal.Decimal `json:"price"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestBidSize decimal.Decimal `json:"best_bid_size"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	BestAskSize decimal.Decimal `json:"best_ask_size"`

	// IntermediateRate is zero unless the exchange supplies one.
	IntermediateRate decimal.Decimal `json:"intermediate_rate"`
}

type ConnectionStatus struct {
	State   SessionState `json:"state"`
	Fatal   bool         `json:"fatal"`
	Reason  string       `json:"reason,omitempty"`
	Attempt int          `json:"attempt"`
}

// MarketEventMessage wraps an event on the jetstream subject with its redelivery count.
type MarketEventMessage struct {
	RetryCount int         `json:"retry"`
	Data       MarketEvent `json:"data"`
}
