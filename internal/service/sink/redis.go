package sink

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/constant"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = time.Minute

type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Close() error
}

// RedisSink keeps the latest ticker and book top per instrument and the last
// status per exchange link.
type RedisSink struct {
	client redisClient
	ttl    time.Duration
}

type bookTop struct {
	Snapshot   bool               `json:"snapshot"`
	BestBid    *entity.PriceLevel `json:"best_bid,omitempty"`
	BestAsk    *entity.PriceLevel `json:"best_ask,omitempty"`
	Generation uint64             `json:"generation"`
	EventTime  time.Time          `json:"event_time"`
}

type linkStatus struct {
	entity.ConnectionStatus
	Generation uint64    `json:"generation"`
	EventTime  time.Time `json:"event_time"`
}

func NewRedisSink(client redisClient, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}

	return &RedisSink{client: client, ttl: ttl}
}

func (s *RedisSink) Name() string {
	return NameRedis
}

func (s *RedisSink) Write(ctx context.Context, event entity.MarketEvent) error {
	exchange := string(event.Exchange)
	symbol := event.Instrument.Symbol()

	switch event.Kind {
	case entity.EventKindTicker:
		if event.Ticker == nil {
			return nil
		}
		return s.set(ctx, constant.GetTickerRedisKey(exchange, symbol), event.Ticker)
	case entity.EventKindBookUpdate:
		if event.Book == nil {
			return nil
		}
		top := bookTop{
			Snapshot:   event.Book.Snapshot,
			Generation: event.Generation,
			EventTime:  event.EventTime,
		}
		if len(event.Book.Bids) > 0 {
			top.BestBid = &event.Book.Bids[0]
		}
		if len(event.Book.Asks) > 0 {
			top.BestAsk = &event.Book.Asks[0]
		}
		return s.set(ctx, constant.GetBookTopRedisKey(exchange, symbol), top)
	case entity.EventKindConnectionStatus:
		if event.Status == nil {
			return nil
		}
		payload, err := json.Marshal(linkStatus{
			ConnectionStatus: *event.Status,
			Generation:       event.Generation,
			EventTime:        event.EventTime,
		})
		if err != nil {
			return err
		}
		return s.client.HSet(ctx, constant.CollectorStatusRedisKey, exchange, string(payload)).Err()
	default:
		return nil
	}
}

func (s *RedisSink) set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, string(payload), s.ttl).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
