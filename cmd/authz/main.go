/*
Package main is the entry point of the decision process.

It consumes authorization requests from the bus, decides them against the eligibility read model
and the room registry in Postgres, and leaves each result in the result store.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fanchat/internal/app/db"
	"fanchat/internal/app/eligibility"
	"fanchat/internal/app/engine"
	"fanchat/internal/app/registry"
	"fanchat/internal/bootstrap"
	"fanchat/internal/configs"
	"fanchat/internal/handler"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/telemetry"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fanchat-authz"
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.ServiceName)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("bus_driver", cfg.BusDriver).
		Str("consumer_group", cfg.ConsumerGroup).
		Int("concurrency", cfg.EngineConcurrency).
		Dur("result_ttl", cfg.ResultTTL()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logx.Fatal(err, "Failed to set up tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN, db.PoolOptions{Migrate: true})
	if err != nil {
		logx.Fatal(err, "Failed to connect to database")
	}
	defer pool.Close()

	transport, err := bootstrap.OpenTransport(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open bridge transport")
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logx.Error(err, "Failed to close bridge transport")
		}
	}()

	rules := eligibility.Rules{
		GeofenceRadiusMeters: float64(cfg.GeofenceRadiusM),
		OpensBefore:          time.Duration(cfg.WatchOpensBeforeMin) * time.Minute,
		ClosesAfter:          time.Duration(cfg.WatchClosesAfterMin) * time.Minute,
	}

	instance, _ := os.Hostname()

	e := engine.New(engine.Config{
		Topics:      bootstrap.Topics(cfg),
		Group:       cfg.ConsumerGroup,
		Instance:    instance,
		Concurrency: cfg.EngineConcurrency,
		ResultTTL:   cfg.ResultTTL(),
	}, transport.Bus, transport.Store, eligibility.NewPostgresOracle(pool, rules), registry.NewPostgresRegistry(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(gctx)
	})
	g.Go(func() error {
		return bootstrap.Serve(gctx, bootstrap.NewServer(cfg.Port, handler.OpsRouter(cfg.ServiceName)))
	})

	if err := g.Wait(); err != nil {
		logx.Error(err, "Decision process stopped with error")
		return
	}

	logx.Info("Decision process gracefully stopped.")
}
