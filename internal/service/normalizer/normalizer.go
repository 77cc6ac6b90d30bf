package normalizer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/metrics"
	"github.com/shopspring/decimal"
)

type Stats struct {
	Accepted uint64
	Rejected map[entity.RejectReason]uint64
}

// sequenceKey separates the counters of one instrument's streams; exchanges
// number trades and book updates independently.
type sequenceKey struct {
	instrument string
	kind       entity.MessageKind
}

type sequenceState struct {
	generation uint64
	last       int64
	seen       bool
}

// Normalizer maps adapter messages of one exchange to MarketEvents. It keeps
// the newest generation per instrument and the last accepted sequence per
// instrument stream.
type Normalizer struct {
	exchange entity.ExchangeName
	now      func() time.Time

	mu          sync.Mutex
	generations map[string]uint64
	sequences   map[sequenceKey]sequenceState
	accepted    uint64
	rejected    map[entity.RejectReason]uint64
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

func New(exchange entity.ExchangeName, opts ...Option) *Normalizer {
	n := &Normalizer{
		exchange:    exchange,
		now:         time.Now,
		generations: make(map[string]uint64),
		sequences:   make(map[sequenceKey]sequenceState),
		rejected:    make(map[entity.RejectReason]uint64),
	}
	for _, opt := range opts {
		opt(n)
	}

	return n
}

func (n *Normalizer) Normalize(msg entity.AdapterMessage, instrument entity.Instrument, generation uint64) (entity.MarketEvent, error) {
	return n.NormalizeAt(msg, instrument, generation, n.now())
}

// NormalizeAt is Normalize with the local receive time of the frame. The error
// is always a *entity.NormalizationRejection.
func (n *Normalizer) NormalizeAt(msg entity.AdapterMessage, instrument entity.Instrument, generation uint64, receivedAt time.Time) (entity.MarketEvent, error) {
	event, err := n.build(msg, instrument, generation, receivedAt)
	if err != nil {
		n.reject(err)
		return entity.MarketEvent{}, err
	}

	return event, nil
}

func (n *Normalizer) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	rejected := make(map[entity.RejectReason]uint64, len(n.rejected))
	for reason, count := range n.rejected {
		rejected[reason] = count
	}

	return Stats{Accepted: n.accepted, Rejected: rejected}
}

func (n *Normalizer) build(msg entity.AdapterMessage, instrument entity.Instrument, generation uint64, receivedAt time.Time) (entity.MarketEvent, error) {
	if instrument.IsZero() || (instrument.IsLink() && msg.Kind != entity.MessageKindHeartbeat) {
		return entity.MarketEvent{}, rejection(entity.RejectUnknownInstrument, msg.Symbol, "no instrument for symbol")
	}

	event := entity.MarketEvent{
		ID:         uuid.NewString(),
		Exchange:   instrument.Exchange,
		Instrument: instrument,
		Generation: generation,
		Sequence:   msg.Sequence,
		EventTime:  msg.EventTime.UTC(),
		ReceivedAt: receivedAt.UTC(),
	}
	if msg.EventTime.IsZero() {
		event.EventTime = event.ReceivedAt
	}

	var err error
	switch msg.Kind {
	case entity.MessageKindBook:
		event.Kind = entity.EventKindBookUpdate
		event.Book, err = bookUpdate(msg)
	case entity.MessageKindTrade:
		event.Kind = entity.EventKindTrade
		event.Trade, err = trade(msg)
	case entity.MessageKindTicker:
		event.Kind = entity.EventKindTicker
		event.Ticker, err = ticker(msg)
	case entity.MessageKindHeartbeat:
		event.Kind = entity.EventKindHeartbeat
	default:
		err = rejection(entity.RejectUnsupportedMessage, msg.Symbol, fmt.Sprintf("message kind %q", msg.Kind))
	}
	if err != nil {
		return entity.MarketEvent{}, err
	}

	if err := n.advance(msg, instrument, generation); err != nil {
		return entity.MarketEvent{}, err
	}

	return event, nil
}

// advance checks ordering and records the accepted position. A newer
// generation resets every stream of the instrument.
func (n *Normalizer) advance(msg entity.AdapterMessage, instrument entity.Instrument, generation uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if newest, ok := n.generations[instrument.Key()]; ok && generation < newest {
		return rejection(entity.RejectStaleGeneration, msg.Symbol,
			fmt.Sprintf("generation %d is older than %d", generation, newest))
	}

	key := sequenceKey{instrument: instrument.Key(), kind: msg.Kind}
	state, ok := n.sequences[key]
	if !ok || state.generation != generation {
		state = sequenceState{generation: generation}
	}

	if msg.Sequence.Valid {
		if state.seen && msg.Sequence.Int64 < state.last {
			return rejection(entity.RejectOutOfOrder, msg.Symbol,
				fmt.Sprintf("sequence %d after %d", msg.Sequence.Int64, state.last))
		}
		state.last = msg.Sequence.Int64
		state.seen = true
	}

	n.generations[instrument.Key()] = generation
	n.sequences[key] = state
	n.accepted++

	return nil
}

func (n *Normalizer) reject(err error) {
	rej, ok := err.(*entity.NormalizationRejection)
	if !ok {
		return
	}

	n.mu.Lock()
	n.rejected[rej.Reason]++
	n.mu.Unlock()

	metrics.IncRejection(string(n.exchange), string(rej.Reason))
}

func rejection(reason entity.RejectReason, symbol, detail string) *entity.NormalizationRejection {
	return &entity.NormalizationRejection{Reason: reason, Symbol: symbol, Detail: detail}
}

func bookUpdate(msg entity.AdapterMessage) (*entity.BookUpdate, error) {
	bids, err := levels(msg, msg.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := levels(msg, msg.Asks)
	if err != nil {
		return nil, err
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return &entity.BookUpdate{Snapshot: msg.Snapshot, Bids: bids, Asks: asks}, nil
}

// levels validates one side of the book and collapses duplicate prices,
// keeping the last occurrence. A zero size deletes a level, which only
// incremental updates may carry.
func levels(msg entity.AdapterMessage, raw []entity.RawLevel) ([]entity.PriceLevel, error) {
	out := make([]entity.PriceLevel, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, level := range raw {
		price, err := positive(level.Price)
		if err != nil {
			return nil, rejection(entity.RejectMalformedPrice, msg.Symbol, err.Error())
		}

		size, err := decimal.NewFromString(level.Size)
		if err != nil {
			return nil, rejection(entity.RejectMalformedSize, msg.Symbol, err.Error())
		}
		if size.IsNegative() || (msg.Snapshot && size.IsZero()) {
			return nil, rejection(entity.RejectMalformedSize, msg.Symbol, fmt.Sprintf("level size %s", level.Size))
		}

		key := price.String()
		if i, ok := index[key]; ok {
			out[i].Size = size
			continue
		}
		index[key] = len(out)
		out = append(out, entity.PriceLevel{Price: price, Size: size})
	}

	return out, nil
}

func trade(msg entity.AdapterMessage) (*entity.Trade, error) {
	price, err := positive(msg.Price)
	if err != nil {
		return nil, rejection(entity.RejectMalformedPrice, msg.Symbol, err.Error())
	}

	size, err := positive(msg.Size)
	if err != nil {
		return nil, rejection(entity.RejectMalformedSize, msg.Symbol, err.Error())
	}

	return &entity.Trade{TradeID: msg.TradeID, Price: price, Size: size, Side: msg.Side}, nil
}

func ticker(msg entity.AdapterMessage) (*entity.Ticker, error) {
	price, err := positive(msg.Price)
	if err != nil {
		return nil, rejection(entity.RejectMalformedPrice, msg.Symbol, err.Error())
	}

	out := &entity.Ticker{Price: price}
	for _, field := range []struct {
		raw    string
		dst    *decimal.Decimal
		reason entity.RejectReason
	}{
		{msg.BestBid, &out.BestBid, entity.RejectMalformedPrice},
		{msg.BestAsk, &out.BestAsk, entity.RejectMalformedPrice},
		{msg.Volume24h, &out.Volume24h, entity.RejectMalformedSize},
		{msg.BestBidSize, &out.BestBidSize, entity.RejectMalformedSize},
		{msg.BestAskSize, &out.BestAskSize, entity.RejectMalformedSize},
		{msg.IntermediateRate, &out.IntermediateRate, entity.RejectMalformedPrice},
	} {
		value, err := optional(field.raw)
		if err != nil {
			return nil, rejection(field.reason, msg.Symbol, err.Error())
		}
		*field.dst = value
	}

	return out, nil
}

func positive(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s is not positive", raw)
	}

	return value, nil
}

// optional accepts an empty string as zero.
func optional(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s is negative", raw)
	}

	return value, nil
}
