package sink

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each event keyed by instrument so one instrument stays on
// one partition.
type KafkaSink struct {
	writer kafkaWriter
}

func NewKafkaSink(writer kafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string {
	return NameKafka
}

func (s *KafkaSink) Write(ctx context.Context, event entity.MarketEvent) error {
	if event.Kind == entity.EventKindHeartbeat {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Instrument.Key()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
		Time: event.EventTime,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
