package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/client/firi"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/service/transport"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	firiTopicDepth  = "depth"
	firiTopicMarket = "market"

	// firiRateMarket prices USDC in NOK so NOK tickers can be read in dollars.
	firiRateMarket   = "USDCNOK"
	firiRateRefresh  = 5 * time.Minute
	firiRateMaxStale = 30 * time.Minute
)

// FiriAdapter pulls the Firi REST API. Each poll is wrapped in a frame so the
// session treats it like a pushed message.
type FiriAdapter struct {
	exchange entity.ExchangeName
	client   *firi.APIClient
	symbols  *symbolTable
	now      func() time.Time

	mu            sync.Mutex
	lastBook      map[string]firiTop
	rate          string
	rateFetchedAt time.Time
}

type firiTop struct {
	bid, bidSize string
	ask, askSize string
}

type firiFrame struct {
	Topic    string       `json:"topic"`
	PolledAt time.Time    `json:"polled_at"`
	Depth    *firi.Depth  `json:"depth,omitempty"`
	Market   *firi.Market `json:"market,omitempty"`

	IntermediateRate string    `json:"intermediate_rate,omitempty"`
	RateFetchedAt    time.Time `json:"rate_fetched_at,omitempty"`
}

func NewFiriAdapter(exchange entity.ExchangeName, opts Options) *FiriAdapter {
	client := opts.FiriClient
	if client == nil {
		cfg := firi.NewConfiguration()
		if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
			cfg.BaseURL = endpoint
		}
		client = firi.NewAPIClient(cfg)
	}

	return &FiriAdapter{
		exchange: exchange,
		client:   client,
		symbols:  newSymbolTable(exchange, concatSymbol, opts.Symbols),
		now:      time.Now,
		lastBook: make(map[string]firiTop),
	}
}

func (a *FiriAdapter) Exchange() entity.ExchangeName {
	return a.exchange
}

func (a *FiriAdapter) Endpoint() string {
	return a.client.GetConfig().BaseURL
}

func (a *FiriAdapter) RequiresAuth() bool {
	return false
}

func (a *FiriAdapter) BuildAuthFrame(entity.Credential) ([]byte, error) {
	return nil, nil
}

func (a *FiriAdapter) SubscribeFrames(instruments []entity.Instrument, _ entity.Credential) ([][]byte, error) {
	if len(instruments) == 0 {
		return nil, nil
	}

	topics := make([]string, 0, len(instruments)*2)
	for _, instrument := range instruments {
		market := a.symbols.ExchangeSymbol(instrument)
		topics = append(topics, firiTopicDepth+":"+market, firiTopicMarket+":"+market)
	}

	frame, err := transport.PollSubscribeFrame(topics...)
	if err != nil {
		return nil, err
	}

	return [][]byte{frame}, nil
}

func (a *FiriAdapter) Instrument(symbol string) (entity.Instrument, bool) {
	return a.symbols.Instrument(symbol)
}

// Poll fetches one topic and returns it as a frame for ParseFrame.
func (a *FiriAdapter) Poll(ctx context.Context, topic string) ([]byte, error) {
	kind, market, ok := strings.Cut(topic, ":")
	if !ok || market == "" {
		return nil, fmt.Errorf("invalid firi topic %q", topic)
	}

	frame := firiFrame{Topic: topic}
	switch kind {
	case firiTopicDepth:
		depth, _, err := a.client.MarketAPI.GetMarketDepth(ctx, market).Execute()
		if err != nil {
			return nil, err
		}
		frame.Depth = depth
	case firiTopicMarket:
		m, _, err := a.client.MarketAPI.GetMarket(ctx, market).Execute()
		if err != nil {
			return nil, err
		}
		frame.Market = m
		frame.IntermediateRate, frame.RateFetchedAt = a.intermediateRate(ctx)
	default:
		return nil, fmt.Errorf("invalid firi topic %q", topic)
	}
	frame.PolledAt = a.now().UTC()

	return json.Marshal(frame)
}

// ParseFrame turns a depth poll into a book snapshot and joins a market poll
// with the last seen top of book into one ticker.
func (a *FiriAdapter) ParseFrame(raw []byte) ([]entity.AdapterMessage, error) {
	var frame firiFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, malformed(a.exchange, "", err)
	}

	kind, market, _ := strings.Cut(frame.Topic, ":")
	switch {
	case kind == firiTopicDepth && frame.Depth != nil:
		return a.parseDepth(market, frame)
	case kind == firiTopicMarket && frame.Market != nil:
		return a.parseMarket(market, frame), nil
	case kind == firiTopicDepth || kind == firiTopicMarket:
		return nil, malformed(a.exchange, kind, fmt.Errorf("frame for %q has no payload", frame.Topic))
	default:
		return nil, entity.NewUnknownMessageError(a.exchange, kind)
	}
}

// intermediateRate returns the USDC-NOK rate, fetching it again once it is
// older than firiRateRefresh. A failed fetch keeps the previous rate.
func (a *FiriAdapter) intermediateRate(ctx context.Context) (string, time.Time) {
	a.mu.Lock()
	rate, fetchedAt := a.rate, a.rateFetchedAt
	a.mu.Unlock()

	now := a.now().UTC()
	if rate != "" && now.Sub(fetchedAt) < firiRateRefresh {
		return rate, fetchedAt
	}

	logger := logrus.WithFields(logrus.Fields{"exchange": a.exchange, "market": firiRateMarket})
	m, _, err := a.client.MarketAPI.GetMarket(ctx, firiRateMarket).Execute()
	if err != nil {
		logger.Warn(fmt.Sprintf("failed to refresh intermediate rate: %s", err.Error()))
		return rate, fetchedAt
	}
	last, err := decimal.NewFromString(m.Last)
	if err != nil || !last.IsPositive() {
		logger.Warn(fmt.Sprintf("invalid intermediate rate %q", m.Last))
		return rate, fetchedAt
	}

	a.mu.Lock()
	a.rate, a.rateFetchedAt = m.Last, now
	a.mu.Unlock()

	return m.Last, now
}

func (a *FiriAdapter) parseDepth(market string, frame firiFrame) ([]entity.AdapterMessage, error) {
	bids, err := rawLevels(frame.Depth.Bids)
	if err != nil {
		return nil, malformed(a.exchange, firiTopicDepth, err)
	}
	asks, err := rawLevels(frame.Depth.Asks)
	if err != nil {
		return nil, malformed(a.exchange, firiTopicDepth, err)
	}

	top := firiTop{}
	if len(bids) > 0 {
		top.bid, top.bidSize = bids[0].Price, bids[0].Size
	}
	if len(asks) > 0 {
		top.ask, top.askSize = asks[0].Price, asks[0].Size
	}

	a.mu.Lock()
	a.lastBook[market] = top
	a.mu.Unlock()

	return []entity.AdapterMessage{{
		Kind:      entity.MessageKindBook,
		Symbol:    market,
		EventTime: frame.PolledAt,
		Snapshot:  true,
		Bids:      bids,
		Asks:      asks,
	}}, nil
}

func (a *FiriAdapter) parseMarket(market string, frame firiFrame) []entity.AdapterMessage {
	a.mu.Lock()
	top, ok := a.lastBook[market]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	symbol := frame.Market.ID
	if symbol == "" {
		symbol = market
	}

	if frame.IntermediateRate != "" && frame.PolledAt.Sub(frame.RateFetchedAt) > firiRateMaxStale {
		logrus.WithFields(logrus.Fields{
			"exchange":   a.exchange,
			"market":     firiRateMarket,
			"fetched_at": frame.RateFetchedAt,
		}).Warn("intermediate rate is stale")
	}

	return []entity.AdapterMessage{{
		Kind:        entity.MessageKindTicker,
		Symbol:      symbol,
		EventTime:   frame.PolledAt,
		Price:       frame.Market.Last,
		Volume24h:   frame.Market.Volume,
		BestBid:     top.bid,
		BestBidSize: top.bidSize,
		BestAsk:     top.ask,
		BestAskSize: top.askSize,

		IntermediateRate: frame.IntermediateRate,
	}}
}
