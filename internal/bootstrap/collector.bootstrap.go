package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/entity"
	grpcHandler "github.com/krobus00/market-collector/internal/handler/collector/grpc"
	httpHandler "github.com/krobus00/market-collector/internal/handler/collector/http"
	"github.com/krobus00/market-collector/internal/infrastructure"
	"github.com/krobus00/market-collector/internal/repository"
	"github.com/krobus00/market-collector/internal/service/adapter"
	"github.com/krobus00/market-collector/internal/service/collector"
	"github.com/krobus00/market-collector/internal/service/credential"
	"github.com/krobus00/market-collector/internal/service/marketevent"
	"github.com/krobus00/market-collector/internal/service/sink"
	"github.com/krobus00/market-collector/internal/service/transport"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	marketDataDatabase   = "market_data"
	collectorRedis       = "collector"
	defaultCollectorHTTP = ":8080"
	defaultCollectorGRPC = ":9090"
)

func StartCollector(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinkNames, err := sink.ParseNames(config.Env.Collector.Sinks)
	util.ContinueOrFatal(err)
	policy, err := collector.ParseOverflowPolicy(config.Env.Collector.OverflowPolicy)
	util.ContinueOrFatal(err)

	provider := credential.NewProvider()
	links, err := buildLinkConfigs(provider, config.Env.Exchanges, loadSymbolMapping(ctx, enabledExchanges(config.Env.Exchanges)))
	util.ContinueOrFatal(err)
	if len(links) == 0 {
		util.ContinueOrFatal(errors.New("no exchange is enabled"))
	}

	grpcServer, err := infrastructure.NewGRPCServer(portAddr("grpc", defaultCollectorGRPC))
	util.ContinueOrFatal(err)
	healthReporter := grpcHandler.NewHealthReporter(grpcServer.Health())
	for _, link := range links {
		healthReporter.Register(link.Exchange)
	}

	sinks, nc, err := buildSinks(ctx, sinkNames)
	util.ContinueOrFatal(err)
	dispatcher := sink.NewDispatcher(sinks...)

	output := collector.NewOutput(config.Env.Collector.OutputBufferOrDefault(), policy)
	supervisor := collector.NewSupervisor(provider, output,
		collector.WithStatusListener(healthReporter.Listener()),
		collector.WithGenerationSource(transport.NewGenerationSource(uint64(time.Now().UnixMicro()))),
	)

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		// drains until the supervisor closes its output on shutdown
		if err := dispatcher.Run(context.Background(), supervisor.Events()); err != nil {
			logrus.Error(err)
		}
	}()

	err = supervisor.Start(ctx, links)
	util.ContinueOrFatal(err)
	logrus.WithField("sinks", sinkNames).Infof("collector started with %d links", len(links))

	go func() {
		if err := grpcServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()

	httpMux := infrastructure.NewOpsMux(collectorReadiness(supervisor.Health))
	httpHandler.NewCollectorHTTPHandler(supervisor).Register(httpMux)
	httpServer := infrastructure.NewOpsServer(portAddr("http", defaultCollectorHTTP), config.Env.GracefulShutdownTimeout, httpMux)

	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"collector": func(ctx context.Context) error {
			supervisor.Stop()
			<-dispatched
			err := dispatcher.Close()
			if nc != nil {
				err = errors.Join(err, infrastructure.CloseJetstream(nc))
			}
			return err
		},
		"http server": func(ctx context.Context) error {
			return httpServer.Shutdown(context.Background())
		},
		"grpc server": func(ctx context.Context) error {
			grpcServer.Stop()
			return nil
		},
	})

	<-wait
}

// buildLinkConfigs turns enabled exchange sections into supervisor links and
// registers a signer per exchange. Exchanges are ordered by name.
func buildLinkConfigs(provider *credential.Provider, exchanges map[string]config.ExchangeConfig, mapping entity.ExchangeSymbolMapping) ([]collector.LinkConfig, error) {
	names := make([]string, 0, len(exchanges))
	for name := range exchanges {
		names = append(names, name)
	}
	sort.Strings(names)

	links := make([]collector.LinkConfig, 0, len(names))
	for _, name := range names {
		cfg := exchanges[name]
		if !cfg.Enabled {
			continue
		}

		exchange := entity.ExchangeName(strings.ToLower(strings.TrimSpace(name)))
		protocol := cfg.ProtocolName(name)

		signer, err := credential.NewSigner(exchange, cfg.Credential)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", exchange, err)
		}
		provider.Register(exchange, signer, cfg.Credential.RefreshMargin)

		instruments := make([]entity.Instrument, 0, len(cfg.Instruments))
		for _, symbol := range cfg.Instruments {
			instrument, err := entity.ParseInstrument(exchange, symbol)
			if err != nil {
				return nil, fmt.Errorf("exchange %s: %w", exchange, err)
			}
			instruments = append(instruments, instrument)
		}
		if len(instruments) == 0 {
			return nil, fmt.Errorf("exchange %s: no instruments configured", exchange)
		}

		endpoint := cfg.WSURL
		if protocol == adapter.ProtocolFiri {
			endpoint = cfg.RestURL
		}

		ad, err := adapter.New(exchange, protocol, adapter.Options{
			Endpoint:      endpoint,
			Symbols:       adapter.MergeSymbols(exchange, mapping, cfg.Symbols),
			Authenticated: isAuthenticated(cfg.Credential),
		})
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", exchange, err)
		}

		var dialer transport.Dialer = &transport.WebsocketDialer{}
		if poller, ok := ad.(entity.Poller); ok {
			dialer = transport.NewPollDialer(poller, cfg.PollIntervalOrDefault(), cfg.RateLimitOrDefault())
		}

		reconnect := cfg.ReconnectPolicy()
		links = append(links, collector.LinkConfig{
			Exchange:    exchange,
			Adapter:     ad,
			Dialer:      dialer,
			Instruments: instruments,
			Session: transport.SessionConfig{
				HeartbeatTimeout: cfg.HeartbeatTimeoutOrDefault(),
				PingInterval:     cfg.PingIntervalOrDefault(),
				Reconnect: transport.ReconnectPolicy{
					MaxAttempts: reconnect.MaxAttempts,
					Factor:      reconnect.Factor,
					MinDelay:    reconnect.MinDelay,
					MaxDelay:    reconnect.MaxDelay,
					Jitter:      reconnect.Jitter,
				},
				MaxAuthFailures: cfg.MaxAuthFailuresOrDefault(),
			},
			MaxRestarts: cfg.MaxSessionRestarts,
		})
	}

	return links, nil
}

func isAuthenticated(cfg config.CredentialConfig) bool {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", credential.SignerTypeNone:
		return false
	default:
		return true
	}
}

// enabledExchanges returns the sorted lower case names of the enabled exchanges.
func enabledExchanges(exchanges map[string]config.ExchangeConfig) []string {
	names := make([]string, 0, len(exchanges))
	for name, cfg := range exchanges {
		if cfg.Enabled {
			names = append(names, strings.ToLower(strings.TrimSpace(name)))
		}
	}
	sort.Strings(names)

	return names
}

// loadSymbolMapping reads symbol overrides from the market data database when
// one is configured. The collector still runs on config symbols alone.
func loadSymbolMapping(ctx context.Context, exchanges []string) entity.ExchangeSymbolMapping {
	if len(exchanges) == 0 {
		return nil
	}
	if _, ok := config.Env.Database[marketDataDatabase]; !ok {
		return nil
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := infrastructure.ConnectDatabase(loadCtx, marketDataDatabase)
	if err != nil {
		logrus.WithError(err).Warn("symbol mappings unavailable, using configured symbols")
		return nil
	}
	defer db.Close()

	mapping, err := repository.NewSymbolMappingRepository(db).GetByExchanges(loadCtx, exchanges...)
	if err != nil {
		logrus.WithError(err).Warn("failed to load symbol mappings, using configured symbols")
		return nil
	}

	return mapping
}

// buildSinks connects the backing stores of the named sinks. The returned nats
// connection is nil unless the jetstream sink is enabled.
func buildSinks(ctx context.Context, names []string) ([]entity.EventSink, *nats.Conn, error) {
	var (
		sinks []entity.EventSink
		nc    *nats.Conn
	)

	for _, name := range names {
		switch name {
		case sink.NameLog:
			sinks = append(sinks, sink.NewLogSink(nil))
		case sink.NameJetstream:
			conn, js, err := infrastructure.NewJetstream()
			if err != nil {
				return nil, nil, err
			}
			nc = conn

			marketEventService := marketevent.NewMarketEventService(js, nil)
			if err := marketEventService.JetstreamEventInit(ctx); err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, sink.NewJetstreamSink(marketEventService))
		case sink.NameRedis:
			cfg := config.Env.Redis[collectorRedis]
			client, err := infrastructure.NewRedisClient(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, sink.NewRedisSink(client, cfg.TTL))
		case sink.NameKafka:
			writer, err := infrastructure.NewKafkaWriter(config.Env.Kafka)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, sink.NewKafkaSink(writer))
		}
	}

	return sinks, nc, nil
}

// collectorReadiness is ready while no link has failed and at least one is
// subscribed.
func collectorReadiness(health func() []collector.LinkHealth) func() error {
	return func() error {
		subscribed := 0
		for _, link := range health() {
			if link.Failed {
				return fmt.Errorf("link %s failed: %s", link.Exchange, link.LastError)
			}
			if link.State == entity.SessionStateSubscribed {
				subscribed++
			}
		}
		if subscribed == 0 {
			return errors.New("no link is subscribed")
		}

		return nil
	}
}
