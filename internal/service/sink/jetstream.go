package sink

import (
	"context"

	"github.com/krobus00/market-collector/internal/entity"
)

type eventPublisher interface {
	Publish(ctx context.Context, event entity.MarketEvent) error
}

// JetstreamSink forwards events to the market_event stream. Heartbeats stay local.
type JetstreamSink struct {
	publisher eventPublisher
}

func NewJetstreamSink(publisher eventPublisher) *JetstreamSink {
	return &JetstreamSink{publisher: publisher}
}

func (s *JetstreamSink) Name() string {
	return NameJetstream
}

func (s *JetstreamSink) Write(ctx context.Context, event entity.MarketEvent) error {
	if event.Kind == entity.EventKindHeartbeat {
		return nil
	}

	return s.publisher.Publish(ctx, event)
}

// Close is a no-op; the nats connection is owned by the caller.
func (s *JetstreamSink) Close() error {
	return nil
}
