package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	NameLog       = "log"
	NameJetstream = "jetstream"
	NameRedis     = "redis"
	NameKafka     = "kafka"
)

var ErrUnknownSink = errors.New("unknown sink")

// ParseNames lowercases and dedupes the configured sink list. An empty list
// means log only.
func ParseNames(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	parsed := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case NameLog, NameJetstream, NameRedis, NameKafka:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSink, name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		parsed = append(parsed, name)
	}

	if len(parsed) == 0 {
		parsed = append(parsed, NameLog)
	}

	return parsed, nil
}

// Dispatcher fans every event out to all sinks in order.
type Dispatcher struct {
	sinks []entity.EventSink
}

func NewDispatcher(sinks ...entity.EventSink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// Run drains events until the channel is closed or ctx is done. A failing sink
// does not stop the event from reaching the others.
func (d *Dispatcher) Run(ctx context.Context, events <-chan entity.MarketEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			d.dispatch(ctx, event)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event entity.MarketEvent) {
	for _, s := range d.sinks {
		err := s.Write(ctx, event)
		if err == nil {
			continue
		}

		metrics.IncSinkError(s.Name())
		logrus.WithError(err).WithFields(logrus.Fields{
			"sink":     s.Name(),
			"exchange": event.Exchange,
			"kind":     event.Kind,
		}).Warn("sink write failed")
	}
}

func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}

	return errors.Join(errs...)
}
