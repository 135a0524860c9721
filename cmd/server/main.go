// @title           Order Tracking API
// @version         1.0
// @description     Location ingestion and live order tracking for delivery partners and customers.
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wear60/tracking-service/internal/api"
	"github.com/wear60/tracking-service/internal/api/handler"
	"github.com/wear60/tracking-service/internal/core/ports"
	"github.com/wear60/tracking-service/internal/core/service"
	"github.com/wear60/tracking-service/internal/core/tracking"
	mongodb "github.com/wear60/tracking-service/internal/infrastructure/db/mongo"
	redisdb "github.com/wear60/tracking-service/internal/infrastructure/db/redis"
	"github.com/wear60/tracking-service/internal/infrastructure/queue"
	"github.com/wear60/tracking-service/internal/pkg/config"
	"github.com/wear60/tracking-service/pkg/logger"
)

const (
	serviceName     = "tracking"
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Init(logger.Options{})
		l := logger.Get()
		l.Fatal().Err(err).Msg("load config")
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: serviceName,
		Env:     cfg.Env,
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	useMongoFeed := cfg.Tracking.FeedDriver == config.FeedMongo

	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:                  cfg.Mongo.URI,
		Database:             cfg.Mongo.Database,
		AppName:              serviceName,
		RequireChangeStreams: useMongoFeed,
	})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	orders := mongodb.NewOrderRepository(db)
	if err := orders.EnsureIndexes(ctx); err != nil {
		return err
	}

	// With change streams the database itself emits change events; the
	// Redis driver needs the write path to publish rows.
	var (
		feed      ports.ChangeFeed
		publisher ports.ChangePublisher
	)
	if useMongoFeed {
		feed = mongodb.NewChangeStreamFeed(orders.Collection(), logger.Component("feed"))
	} else {
		feed = redisdb.NewPubSubFeed(rdb, logger.Component("feed"))
		publisher = redisdb.NewPublisher(rdb)
	}
	log.Info().Str("driver", cfg.Tracking.FeedDriver).Msg("change feed configured")

	orderService := service.NewOrderService(orders, publisher, logger.Component("orders"))
	locationService := service.NewLocationService(orders, publisher, redisdb.NewPingDedup(rdb, cfg.Ingest.DedupWindow), logger.Component("location"))
	dispatcher := queue.NewDispatcher(cfg.Ingest.Workers, locationService, logger.Component("dispatcher"))
	tracker := tracking.NewTracker(orders, feed, logger.Component("tracker")).
		WithDetachTimeout(cfg.Tracking.DetachTimeout)

	e := api.NewRouter(api.Deps{
		Log:        log,
		JWTSecret:  cfg.JWTSecret,
		Orders:     orderService,
		Dispatcher: dispatcher,
		Tracker:    tracker,
		Retry: handler.RetryPolicy{
			Initial:  cfg.Tracking.RetryInitial,
			Max:      cfg.Tracking.RetryMax,
			Attempts: cfg.Tracking.RetryAttempts,
		},
		Heartbeat: cfg.Tracking.Heartbeat,
		Mongo:     db,
		Redis:     rdb,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	// Open event streams would otherwise hold Shutdown until its deadline.
	handler.CancelStreamsOnShutdown(e.Server)

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	return g.Wait()
}
