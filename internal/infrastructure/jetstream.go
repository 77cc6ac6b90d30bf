package infrastructure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// natsDefaults fills the zero fields of the nats_jetstream block.
var natsDefaults = config.NatsJetstreamConfig{
	MaxRetries:      10,
	ReconnectFactor: 2,
	MinJitter:       100 * time.Millisecond,
	MaxJitter:       2 * time.Second,
}

// NewJetstream connects to nats_jetstream.url. The connection keeps retrying in
// the background, so a collector started before nats still comes up.
func NewJetstream() (*nats.Conn, nats.JetStreamContext, error) {
	cfg := withNatsDefaults(config.Env.NatsJetstream)
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil, errors.New("nats_jetstream.url is required")
	}

	rng := util.NewRand()
	logger := logrus.WithField("nats", cfg.URL)
	nc, err := nats.Connect(cfg.URL,
		nats.Name(config.ServiceName),
		nats.Timeout(5*time.Second),
		nats.DrainTimeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxRetries),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return util.BackoffWithJitter(attempts, cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter, 0, rng)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.WithField("connected_url", conn.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			logger.WithError(conn.LastError()).Warn("nats connection closed")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256), nats.MaxWait(5*time.Second))
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	logger.Info("nats jetstream connection established")

	return nc, js, nil
}

func withNatsDefaults(cfg config.NatsJetstreamConfig) config.NatsJetstreamConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = natsDefaults.MaxRetries
	}
	if cfg.ReconnectFactor < 1 {
		cfg.ReconnectFactor = natsDefaults.ReconnectFactor
	}
	if cfg.MinJitter <= 0 {
		cfg.MinJitter = natsDefaults.MinJitter
	}
	if cfg.MaxJitter < cfg.MinJitter {
		cfg.MaxJitter = max(natsDefaults.MaxJitter, cfg.MinJitter)
	}

	return cfg
}

// CloseJetstream drains pending publishes before closing. nc may be nil.
func CloseJetstream(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}
	defer nc.Close()

	if err := nc.Drain(); err != nil {
		return fmt.Errorf("drain nats connection: %w", err)
	}

	return nil
}
