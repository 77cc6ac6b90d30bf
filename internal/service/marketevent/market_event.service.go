package marketevent

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/constant"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	streamMaxAge      = 24 * time.Hour
	insertHandlerName = "insert_market_event"
	defaultMaxRetries = 3
)

var (
	_ entity.Publisher  = (*MarketEventService)(nil)
	_ entity.Subscriber = (*MarketEventService)(nil)
)

// EventStore persists canonical events consumed from the stream.
type EventStore interface {
	Create(ctx context.Context, event entity.MarketEvent) error
}

type MarketEventService struct {
	js         nats.JetStreamContext
	publisher  util.JetstreamPublisher
	store      EventStore
	maxRetries int
	timeout    time.Duration
}

// NewMarketEventService builds the stream publisher. store may be nil when the
// caller only publishes.
func NewMarketEventService(js nats.JetStreamContext, store EventStore) *MarketEventService {
	s := &MarketEventService{
		js:         js,
		publisher:  js,
		store:      store,
		maxRetries: defaultMaxRetries,
	}

	if config.Env != nil {
		if config.Env.NatsJetstream.MaxRetries > 0 {
			s.maxRetries = config.Env.NatsJetstream.MaxRetries
		}
		s.timeout = config.Env.NatsJetstream.TimeoutHandler[insertHandlerName]
	}

	return s
}

func (s *MarketEventService) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.MarketEventStreamName,
		Subjects:  []string{constant.MarketEventStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}

	stream, err := s.js.StreamInfo(constant.MarketEventStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.MarketEventStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.MarketEventStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.MarketEventStreamName)

	return nil
}

// Publish sends an event to market_event.<exchange>.<kind>. The event ID is the
// jetstream message ID so duplicate publishes inside the dedupe window collapse.
func (s *MarketEventService) Publish(ctx context.Context, event entity.MarketEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return s.publish(entity.MarketEventMessage{Data: event}, nats.MsgId(event.ID))
}

func (s *MarketEventService) JetstreamEventSubscribe(ctx context.Context) error {
	if s.store == nil {
		return errors.New("market event subscriber requires a store")
	}

	err := s.JetstreamEventInit(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	_, err = s.js.QueueSubscribe(
		constant.MarketEventStreamSubjectAll,
		constant.GetMarketEventInsertQueueGroup(),
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(s.timeout, msg, s.handleMarketEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.Durable(constant.MarketEventQueueGroup),
	)
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// handleMarketEvent stores one event. A failed insert is republished with an
// incremented retry count and the original is acked once the copy is accepted.
func (s *MarketEventService) handleMarketEvent(ctx context.Context, msg *nats.Msg) error {
	logger := logrus.WithField("subject", msg.Subject)

	var req entity.MarketEventMessage
	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Errorf("dropping undecodable market event: %v", err)
		return nil
	}

	logger = logger.WithFields(logrus.Fields{
		"id":       req.Data.ID,
		"exchange": req.Data.Exchange,
		"kind":     req.Data.Kind,
		"retry":    req.RetryCount,
	})

	err = s.store.Create(ctx, req.Data)
	if err == nil {
		return nil
	}
	logger.Error(err)

	req.RetryCount++
	if req.RetryCount >= s.maxRetries {
		logger.Warn("market event retries exhausted, dropping")
		return nil
	}

	return s.publish(req)
}

func (s *MarketEventService) publish(req entity.MarketEventMessage, opts ...nats.PubOpt) error {
	subject := constant.GetMarketEventStreamSubject(string(req.Data.Exchange), string(req.Data.Kind))
	return util.PublishEvent(s.publisher, subject, req, opts...)
}
