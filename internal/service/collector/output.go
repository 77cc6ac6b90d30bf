package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/metrics"
)

type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

var ErrOutputClosed = errors.New("collector output is closed")

func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch policy := OverflowPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", raw)
	}
}

// Output is the bounded stream every link publishes to. With OverflowBlock a
// full buffer pushes back on the session; with OverflowDropOldest the oldest
// buffered market data event is evicted. Connection status events are never
// evicted.
type Output struct {
	policy  OverflowPolicy
	events  chan entity.MarketEvent
	dropped atomic.Uint64

	mu     sync.RWMutex
	dropMu sync.Mutex
	closed bool
}

func NewOutput(size int, policy OverflowPolicy) *Output {
	if size <= 0 {
		size = 1
	}
	if policy == "" {
		policy = OverflowBlock
	}

	return &Output{
		policy: policy,
		events: make(chan entity.MarketEvent, size),
	}
}

func (o *Output) Events() <-chan entity.MarketEvent {
	return o.events
}

func (o *Output) Dropped() uint64 {
	return o.dropped.Load()
}

func (o *Output) Publish(ctx context.Context, event entity.MarketEvent) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return ErrOutputClosed
	}

	if o.policy == OverflowDropOldest {
		return o.publishDropOldest(ctx, event)
	}

	select {
	case o.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Output) publishDropOldest(ctx context.Context, event entity.MarketEvent) error {
	o.dropMu.Lock()
	defer o.dropMu.Unlock()

	for {
		select {
		case o.events <- event:
			return nil
		default:
		}

		select {
		case oldest := <-o.events:
			if !evictable(oldest) {
				victim, ok := o.evictBehind(oldest)
				if !ok {
					return o.publishOverStatuses(ctx, event)
				}
				oldest = victim
			}
			o.drop(oldest)
		default:
		}
	}
}

// evictBehind drains the buffer, removes its oldest evictable event and puts
// the rest back in order. head has already been taken off the buffer. Only
// readers touch the buffer meanwhile, so the refill never blocks.
func (o *Output) evictBehind(head entity.MarketEvent) (entity.MarketEvent, bool) {
	kept := []entity.MarketEvent{head}
	var (
		victim entity.MarketEvent
		found  bool
	)
	for drained := false; !drained; {
		select {
		case next := <-o.events:
			if !found && evictable(next) {
				victim, found = next, true
				continue
			}
			kept = append(kept, next)
		default:
			drained = true
		}
	}

	for _, event := range kept {
		o.events <- event
	}

	return victim, found
}

// publishOverStatuses handles a buffer holding only status events: a new
// market data event is dropped and a new status waits for room.
func (o *Output) publishOverStatuses(ctx context.Context, event entity.MarketEvent) error {
	select {
	case o.events <- event:
		return nil
	default:
	}

	if evictable(event) {
		o.drop(event)
		return nil
	}

	select {
	case o.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Output) drop(event entity.MarketEvent) {
	o.dropped.Add(1)
	metrics.IncEventDropped(string(event.Exchange))
}

func evictable(event entity.MarketEvent) bool {
	return event.Kind != entity.EventKindConnectionStatus
}

// Close must only be called once every publisher has returned.
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.events)
}
