package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name   string
	err    error
	mu     sync.Mutex
	events []entity.MarketEvent
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, event entity.MarketEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func ethEvent(kind entity.EventKind) entity.MarketEvent {
	return entity.MarketEvent{
		ID:         "c0ffee00-0000-4000-8000-000000000001",
		Kind:       kind,
		Exchange:   entity.ExchangeCoinbase,
		Instrument: entity.NewInstrument(entity.ExchangeCoinbase, "ETH", "USD"),
		Generation: 3,
		EventTime:  time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func TestParseNames(t *testing.T) {
	names, err := ParseNames([]string{" Redis", "log", "redis", "KAFKA"})
	require.NoError(t, err)
	assert.Equal(t, []string{"redis", "log", "kafka"}, names)

	names, err = ParseNames(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"log"}, names)

	_, err = ParseNames([]string{"s3"})
	assert.ErrorIs(t, err, ErrUnknownSink)
}

func TestDispatcher_ContinuesPastFailingSink(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("down")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(failing, healthy)

	events := make(chan entity.MarketEvent, 3)
	events <- ethEvent(entity.EventKindTrade)
	events <- ethEvent(entity.EventKindTicker)
	events <- ethEvent(entity.EventKindHeartbeat)
	close(events)

	require.NoError(t, d.Run(context.Background(), events))
	assert.Len(t, failing.events, 3)
	assert.Len(t, healthy.events, 3)

	err := d.Close()
	assert.ErrorContains(t, err, "close broken sink")
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

func TestDispatcher_StopsOnContext(t *testing.T) {
	d := NewDispatcher(&recordingSink{name: "healthy"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, make(chan entity.MarketEvent))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewLogSink(logger)

	trade := ethEvent(entity.EventKindTrade)
	trade.Trade = &entity.Trade{TradeID: "1", Price: decimal.NewFromInt(3000), Size: decimal.NewFromInt(1), Side: entity.SideBuy}
	require.NoError(t, s.Write(context.Background(), trade))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "3000", hook.LastEntry().Data["price"])
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)

	status := ethEvent(entity.EventKindConnectionStatus)
	status.Status = &entity.ConnectionStatus{State: entity.SessionStateClosed, Fatal: true, Reason: "reconnect attempts exhausted"}
	require.NoError(t, s.Write(context.Background(), status))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "reconnect attempts exhausted", hook.LastEntry().Message)
}

type fakePublisher struct {
	events []entity.MarketEvent
}

func (f *fakePublisher) Publish(_ context.Context, event entity.MarketEvent) error {
	f.events = append(f.events, event)
	return nil
}

func TestJetstreamSink_SkipsHeartbeats(t *testing.T) {
	pub := &fakePublisher{}
	s := NewJetstreamSink(pub)

	require.NoError(t, s.Write(context.Background(), ethEvent(entity.EventKindHeartbeat)))
	require.NoError(t, s.Write(context.Background(), ethEvent(entity.EventKindTrade)))
	require.Len(t, pub.events, 1)
	assert.Equal(t, entity.EventKindTrade, pub.events[0].Kind)
}

type fakeRedis struct {
	sets   map[string]string
	ttls   map[string]time.Duration
	hashes map[string]map[string]string
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string]string{}, ttls: map[string]time.Duration{}, hashes: map[string]map[string]string{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.sets[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.hashes[key][values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSink(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisSink(client, 30*time.Second)
	ctx := context.Background()

	ticker := ethEvent(entity.EventKindTicker)
	ticker.Ticker = &entity.Ticker{Price: decimal.NewFromInt(3100)}
	require.NoError(t, s.Write(ctx, ticker))

	book := ethEvent(entity.EventKindBookUpdate)
	book.Book = &entity.BookUpdate{
		Snapshot: true,
		Bids:     []entity.PriceLevel{{Price: decimal.NewFromInt(3099), Size: decimal.NewFromInt(2)}, {Price: decimal.NewFromInt(3098), Size: decimal.NewFromInt(1)}},
	}
	require.NoError(t, s.Write(ctx, book))

	status := ethEvent(entity.EventKindConnectionStatus)
	status.Instrument = entity.LinkInstrument(entity.ExchangeCoinbase)
	status.Status = &entity.ConnectionStatus{State: entity.SessionStateSubscribed}
	require.NoError(t, s.Write(ctx, status))

	require.NoError(t, s.Write(ctx, ethEvent(entity.EventKindTrade)))

	assert.Len(t, client.sets, 2)
	assert.Equal(t, 30*time.Second, client.ttls["market:ticker:coinbase:ETH-USD"])

	var stored entity.Ticker
	require.NoError(t, json.Unmarshal([]byte(client.sets["market:ticker:coinbase:ETH-USD"]), &stored))
	assert.True(t, stored.Price.Equal(decimal.NewFromInt(3100)))

	var top bookTop
	require.NoError(t, json.Unmarshal([]byte(client.sets["market:book:coinbase:ETH-USD"]), &top))
	require.NotNil(t, top.BestBid)
	assert.True(t, top.BestBid.Price.Equal(decimal.NewFromInt(3099)))
	assert.Nil(t, top.BestAsk)

	assert.Contains(t, client.hashes["collector:status"]["coinbase"], `"state":"subscribed"`)

	require.NoError(t, s.Close())
	assert.True(t, client.closed)
}

type fakeKafka struct {
	msgs []kafka.Message
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	return nil
}

func TestKafkaSink(t *testing.T) {
	writer := &fakeKafka{}
	s := NewKafkaSink(writer)

	require.NoError(t, s.Write(context.Background(), ethEvent(entity.EventKindHeartbeat)))
	require.NoError(t, s.Write(context.Background(), ethEvent(entity.EventKindTrade)))

	require.Len(t, writer.msgs, 1)
	assert.Equal(t, "coinbase:ETH-USD", string(writer.msgs[0].Key))
	assert.Equal(t, "trade", string(writer.msgs[0].Headers[0].Value))

	var event entity.MarketEvent
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &event))
	assert.Equal(t, uint64(3), event.Generation)
}
