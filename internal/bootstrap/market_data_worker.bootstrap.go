package bootstrap

import (
	"context"

	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/infrastructure"
	"github.com/krobus00/market-collector/internal/repository"
	"github.com/krobus00/market-collector/internal/service/marketevent"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultWorkerHTTP = ":8081"

func StartMarketDataWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.ConnectDatabase(ctx, marketDataDatabase)
	util.ContinueOrFatal(err)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	marketEventRepo := repository.NewMarketEventRepository(db)
	marketEventService := marketevent.NewMarketEventService(js, marketEventRepo)

	subscribers := []entity.Subscriber{marketEventService}
	for _, subscriber := range subscribers {
		err := subscriber.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

	opsMux := infrastructure.NewOpsMux(func() error {
		return db.PingContext(ctx)
	})
	httpServer := infrastructure.NewOpsServer(portAddr("worker_http", defaultWorkerHTTP), config.Env.GracefulShutdownTimeout, opsMux)

	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
		"http server": func(ctx context.Context) error {
			return httpServer.Shutdown(context.Background())
		},
	})

	<-wait
}
