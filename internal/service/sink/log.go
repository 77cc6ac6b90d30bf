package sink

import (
	"context"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/sirupsen/logrus"
)

type LogSink struct {
	logger logrus.FieldLogger
}

func NewLogSink(logger logrus.FieldLogger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return NameLog
}

func (s *LogSink) Write(_ context.Context, event entity.MarketEvent) error {
	fields := logrus.Fields{
		"exchange":   event.Exchange,
		"kind":       event.Kind,
		"symbol":     event.Instrument.Symbol(),
		"generation": event.Generation,
	}
	if event.Sequence.Valid {
		fields["sequence"] = event.Sequence.Int64
	}

	switch {
	case event.Trade != nil:
		fields["price"] = event.Trade.Price.String()
		fields["size"] = event.Trade.Size.String()
		fields["side"] = event.Trade.Side
	case event.Ticker != nil:
		fields["price"] = event.Ticker.Price.String()
	case event.Book != nil:
		fields["snapshot"] = event.Book.Snapshot
		fields["bids"] = len(event.Book.Bids)
		fields["asks"] = len(event.Book.Asks)
	case event.Status != nil:
		fields["state"] = event.Status.State
		fields["fatal"] = event.Status.Fatal
		s.logger.WithFields(fields).Info(event.Status.Reason)
		return nil
	}

	s.logger.WithFields(fields).Debug("market event")
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
