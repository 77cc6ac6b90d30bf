package entity

import "context"

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type Subscriber interface {
	JetstreamEventSubscribe(ctx context.Context) error
}

// EventSink receives every normalized event leaving the collector.
type EventSink interface {
	Name() string
	Write(ctx context.Context, event MarketEvent) error
	Close() error
}
